package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every concrete error below wraps exactly one of them.
var (
	ErrAuthentication = errors.New("authentication failed")
	ErrAuthorization  = errors.New("not authorized")
	ErrNotFound       = errors.New("not found")
	ErrValidation     = errors.New("validation failed")
	ErrConflict       = errors.New("conflict")
)

var (
	ErrMissingCredential = fmt.Errorf("%w: missing credential", ErrAuthentication)
	ErrInvalidCredential = fmt.Errorf("%w: invalid or expired credential", ErrAuthentication)

	ErrNotParticipant   = fmt.Errorf("%w: user is not an active participant", ErrAuthorization)
	ErrViewerCannotSend = fmt.Errorf("%w: viewers cannot send messages", ErrAuthorization)
	ErrNotMessageSender = fmt.Errorf("%w: only the sender may modify a message", ErrAuthorization)
	ErrNotCallMember    = fmt.Errorf("%w: user is not a call participant", ErrAuthorization)

	ErrUserNotFound         = fmt.Errorf("%w: user", ErrNotFound)
	ErrConversationNotFound = fmt.Errorf("%w: conversation", ErrNotFound)
	ErrParticipantNotFound  = fmt.Errorf("%w: participant", ErrNotFound)
	ErrMessageNotFound      = fmt.Errorf("%w: message", ErrNotFound)
	ErrCallNotFound         = fmt.Errorf("%w: call session", ErrNotFound)

	ErrInvalidID           = fmt.Errorf("%w: invalid identifier", ErrValidation)
	ErrUnknownEvent        = fmt.Errorf("%w: unknown event type", ErrValidation)
	ErrMalformedPayload    = fmt.Errorf("%w: malformed payload", ErrValidation)
	ErrEmptyMessage        = fmt.Errorf("%w: message has no content", ErrValidation)
	ErrInvalidMessageType  = fmt.Errorf("%w: invalid message type", ErrValidation)
	ErrReplyOutside        = fmt.Errorf("%w: reply target belongs to another conversation", ErrValidation)
	ErrMessageDeleted      = fmt.Errorf("%w: message is deleted", ErrValidation)
	ErrTooFewParticipants  = fmt.Errorf("%w: a call needs at least two participants", ErrValidation)
	ErrInvalidCallType     = fmt.Errorf("%w: invalid call type", ErrValidation)
	ErrCallNotPending      = fmt.Errorf("%w: call is not pending", ErrValidation)
	ErrCallNotActive       = fmt.Errorf("%w: call is not connected", ErrValidation)
	ErrNotGroupCall        = fmt.Errorf("%w: call is not a group call", ErrValidation)
	ErrCallFinished        = fmt.Errorf("%w: call already finished", ErrValidation)
	ErrInvalidSignal       = fmt.Errorf("%w: invalid signaling payload", ErrValidation)
	ErrSignalTargetMissing = fmt.Errorf("%w: signaling target is required", ErrValidation)

	ErrAlreadyInCall  = fmt.Errorf("%w: user already joined the call", ErrConflict)
	ErrCallInProgress = fmt.Errorf("%w: conversation already has an active call", ErrConflict)
)

// Kind returns the error kind err belongs to, or nil for internal errors.
func Kind(err error) error {
	for _, k := range []error{ErrAuthentication, ErrAuthorization, ErrNotFound, ErrValidation, ErrConflict} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
