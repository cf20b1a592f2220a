package handlers

import (
	"cargolink/internal/core/domain"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		code   string
		status int
	}{
		{domain.ErrInvalidCredential, CodeUnauthenticated, http.StatusUnauthorized},
		{domain.ErrViewerCannotSend, CodeForbidden, http.StatusForbidden},
		{fmt.Errorf("wrapped: %w", domain.ErrCallNotFound), CodeNotFound, http.StatusNotFound},
		{domain.ErrUnknownEvent, CodeBadRequest, http.StatusBadRequest},
		{domain.ErrCallInProgress, CodeConflict, http.StatusConflict},
		{errors.New("pq: connection reset"), CodeInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		ev := ErrorEvent(tc.err, domain.TypeSendMessage)
		assert.Equal(t, domain.TypeError, ev.Type)
		payload := ev.Data.(domain.ErrorPayload)
		assert.Equal(t, tc.code, payload.Code, tc.err.Error())
		assert.Equal(t, domain.TypeSendMessage, payload.RequestType)
		assert.Equal(t, tc.status, HTTPStatus(tc.err))
	}
}

func TestInternalErrorsAreMasked(t *testing.T) {
	ev := ErrorEvent(errors.New("dial tcp 10.0.0.3:5432: refused"), "")
	payload := ev.Data.(domain.ErrorPayload)
	assert.Equal(t, internalMessage, payload.Message)
	assert.True(t, isInternal(errors.New("boom")))
	assert.False(t, isInternal(domain.ErrNotParticipant))
}
