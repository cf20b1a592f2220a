package handlers

import (
	"cargolink/internal/core/domain"
	"net/http"
)

const (
	CodeUnauthenticated = "unauthenticated"
	CodeForbidden       = "forbidden"
	CodeNotFound        = "not_found"
	CodeBadRequest      = "bad_request"
	CodeConflict        = "conflict"
	CodeInternal        = "internal_error"
)

const internalMessage = "internal server error"

// classify maps a domain error to its wire code, HTTP status and the message
// safe to show to clients.
func classify(err error) (code string, status int, msg string) {
	switch domain.Kind(err) {
	case domain.ErrAuthentication:
		return CodeUnauthenticated, http.StatusUnauthorized, err.Error()
	case domain.ErrAuthorization:
		return CodeForbidden, http.StatusForbidden, err.Error()
	case domain.ErrNotFound:
		return CodeNotFound, http.StatusNotFound, err.Error()
	case domain.ErrValidation:
		return CodeBadRequest, http.StatusBadRequest, err.Error()
	case domain.ErrConflict:
		return CodeConflict, http.StatusConflict, err.Error()
	}
	return CodeInternal, http.StatusInternalServerError, internalMessage
}

// ErrorEvent builds the outbound error frame for a failed client event.
func ErrorEvent(err error, requestType domain.EventType) domain.Event {
	code, _, msg := classify(err)
	return domain.NewEvent(domain.TypeError, domain.ErrorPayload{
		Code:        code,
		Message:     msg,
		RequestType: requestType,
	})
}

// HTTPStatus returns the status code for err.
func HTTPStatus(err error) int {
	_, status, _ := classify(err)
	return status
}

func isInternal(err error) bool {
	return err != nil && domain.Kind(err) == nil
}
