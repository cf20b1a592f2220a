package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UserRepository reads marketplace profiles.
type UserRepository interface {
	GetUserByID(ctx context.Context, id string) (*User, error)
}

// ConversationRepository reads conversations and moves the last message pointer.
type ConversationRepository interface {
	GetConversationByID(ctx context.Context, convID uuid.UUID) (*Conversation, error)
	UpdateLastMessage(ctx context.Context, convID, msgID uuid.UUID, at time.Time) error
}

// ParticipantRepository handles conversation membership.
type ParticipantRepository interface {
	// GetParticipant returns the membership row, left or not.
	GetParticipant(ctx context.Context, convID uuid.UUID, userID string) (*Participant, error)
	// ListActive returns participants whose left_at is null.
	ListActive(ctx context.Context, convID uuid.UUID) ([]Participant, error)
	// ListConversationIDs returns every conversation the user has not left.
	ListConversationIDs(ctx context.Context, userID string) ([]uuid.UUID, error)
}

// MessageRepository persists messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg *Message) error
	GetMessageByID(ctx context.Context, id uuid.UUID) (*Message, error)
	// LockMessage reads the message and holds it for the enclosing transaction.
	LockMessage(ctx context.Context, id uuid.UUID) (*Message, error)
	UpdateMessage(ctx context.Context, msg *Message) error
	// ListMessages pages backwards from before (exclusive), newest first.
	ListMessages(ctx context.Context, convID uuid.UUID, before *time.Time, limit int) ([]Message, error)
}

// MessageStatusRepository keeps delivery and read bookkeeping.
type MessageStatusRepository interface {
	// UpsertStatuses is idempotent: delivered and read flags never regress.
	UpsertStatuses(ctx context.Context, rows []MessageStatus) error
	GetStatus(ctx context.Context, msgID uuid.UUID, userID string) (*MessageStatus, error)
	ListStatuses(ctx context.Context, msgID uuid.UUID) ([]MessageStatus, error)
	// ConfirmPending flips every undelivered row of the user to delivered.
	ConfirmPending(ctx context.Context, userID string, at time.Time) ([]Delivery, error)
	// MarkRead flips unread rows of the user in the conversation, skipping the
	// user's own messages, and returns the affected message ids.
	MarkRead(ctx context.Context, convID uuid.UUID, userID string, at time.Time) ([]uuid.UUID, error)
}

// CallRepository persists call sessions and their participants.
type CallRepository interface {
	CreateCall(ctx context.Context, call *CallSession) error
	GetCallByID(ctx context.Context, id uuid.UUID) (*CallSession, error)
	// LockCall reads the session and holds it for the enclosing transaction.
	LockCall(ctx context.Context, id uuid.UUID) (*CallSession, error)
	// FindActiveCall returns the non terminal session of a conversation or nil.
	FindActiveCall(ctx context.Context, convID uuid.UUID) (*CallSession, error)
	UpdateCall(ctx context.Context, call *CallSession) error
	AddCallParticipant(ctx context.Context, p *CallParticipant) error
	// GetCallParticipant returns nil when the user never joined.
	GetCallParticipant(ctx context.Context, callID uuid.UUID, userID string) (*CallParticipant, error)
	ListCallParticipants(ctx context.Context, callID uuid.UUID) ([]CallParticipant, error)
	// IsUserInCall reports whether the user holds an open participant row in
	// any non terminal call.
	IsUserInCall(ctx context.Context, userID string) (bool, error)
	UpdateCallParticipant(ctx context.Context, p *CallParticipant) error
}
