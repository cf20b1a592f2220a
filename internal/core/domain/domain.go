package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// User is the profile of a marketplace member (shipper, carrier or driver).
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	AvatarURL   string    `json:"avatarUrl,omitempty"`
	Role        string    `json:"role,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ProfileSummary is what presence broadcasts carry for each online user.
type ProfileSummary struct {
	UserID      string     `json:"userId"`
	DisplayName string     `json:"displayName"`
	AvatarURL   string     `json:"avatarUrl,omitempty"`
	Role        string     `json:"role,omitempty"`
	IsOnline    bool       `json:"isOnline"`
	LastOnline  *time.Time `json:"lastOnline,omitempty"`
}

func (u User) Summary() ProfileSummary {
	return ProfileSummary{
		UserID:      u.ID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
		Role:        u.Role,
	}
}

type ChatType string

const (
	ChatTypeDirect ChatType = "direct"
	ChatTypeGroup  ChatType = "group"
	ChatTypeJob    ChatType = "job"
)

// Conversation is created by the conversation collaborator; the realtime
// core only reads it and moves the last message pointer.
type Conversation struct {
	ID            uuid.UUID  `json:"id"`
	ChatType      ChatType   `json:"chatType"`
	JobID         *string    `json:"jobId,omitempty"`
	LastMessageID *uuid.UUID `json:"lastMessageId,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

type ParticipantRole string

const (
	RoleOwner  ParticipantRole = "owner"
	RoleAdmin  ParticipantRole = "admin"
	RoleMember ParticipantRole = "member"
	RoleViewer ParticipantRole = "viewer"
)

// Participant binds a user to a conversation. LeftAt marks the membership
// inactive while keeping history.
type Participant struct {
	ConversationID uuid.UUID       `json:"conversationId"`
	UserID         string          `json:"userId"`
	Role           ParticipantRole `json:"role"`
	JoinedAt       time.Time       `json:"joinedAt"`
	LeftAt         *time.Time      `json:"leftAt,omitempty"`
	ArchivedAt     *time.Time      `json:"archivedAt,omitempty"`
}

func (p Participant) IsActive() bool { return p.LeftAt == nil }

// CanSend reports whether the participant may post into the conversation.
func (p Participant) CanSend() bool {
	return p.IsActive() && p.Role != RoleViewer
}

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeFile   MessageType = "file"
	MessageTypeImage  MessageType = "image"
	MessageTypeSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeFile, MessageTypeImage, MessageTypeSystem:
		return true
	}
	return false
}

// FileFields describe an attachment uploaded out of band.
type FileFields struct {
	URL      string `json:"fileUrl"`
	Name     string `json:"fileName,omitempty"`
	Size     int64  `json:"fileSize,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

type Message struct {
	ID               uuid.UUID   `json:"id"`
	ConversationID   uuid.UUID   `json:"conversationId"`
	SenderID         string      `json:"senderId"`
	Content          string      `json:"content"`
	Type             MessageType `json:"type"`
	File             *FileFields `json:"file,omitempty"`
	ReplyToMessageID *uuid.UUID  `json:"replyToMessageId,omitempty"`
	SentAt           time.Time   `json:"sentAt"`
	IsEdited         bool        `json:"isEdited"`
	EditedAt         *time.Time  `json:"editedAt,omitempty"`
	IsDeleted        bool        `json:"isDeleted"`
	DeletedAt        *time.Time  `json:"deletedAt,omitempty"`
}

// MessageStatus is the per (message, participant) delivery and read row.
type MessageStatus struct {
	MessageID   uuid.UUID  `json:"messageId"`
	UserID      string     `json:"userId"`
	IsDelivered bool       `json:"isDelivered"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	IsRead      bool       `json:"isRead"`
	ReadAt      *time.Time `json:"readAt,omitempty"`
}

// Delivery identifies a message that was just confirmed delivered to a user.
type Delivery struct {
	MessageID      uuid.UUID
	ConversationID uuid.UUID
	SenderID       string
}

// Session is one live connection owned by a user. A user may hold several.
type Session struct {
	ID            string    `json:"connectionId"`
	UserID        string    `json:"userId"`
	EstablishedAt time.Time `json:"establishedAt"`
}

func NewSession(userID string) *Session {
	return &Session{
		ID:            uuid.NewString(),
		UserID:        userID,
		EstablishedAt: time.Now().UTC(),
	}
}

// TypingIndicator lives only in process memory.
type TypingIndicator struct {
	ConversationID uuid.UUID
	UserID         string
	UserName       string
	StartedAt      time.Time
	ExpiresAt      time.Time
}

// PushNotification is handed to the push outbox for offline recipients.
type PushNotification struct {
	UserIDs        []string          `json:"userIds"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	ConversationID string            `json:"conversationId,omitempty"`
	Data           map[string]string `json:"data,omitempty"`
}

// ProfileChanged is published by the profile owner when a user's display
// fields change.
type ProfileChanged struct {
	UserID string `json:"userId"`
}

func UserRoom(userID string) string {
	return "user:" + userID
}

func ConversationRoom(convID uuid.UUID) string {
	return fmt.Sprintf("conversation:%s", convID)
}
