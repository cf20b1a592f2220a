package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventType string

// Client to server.
const (
	TypeJoinConversation  EventType = "join_conversation"
	TypeLeaveConversation EventType = "leave_conversation"
	TypeTypingStart       EventType = "typing_start"
	TypeTypingStop        EventType = "typing_stop"
	TypeSendMessage       EventType = "send_message"
	TypeEditMessage       EventType = "edit_message"
	TypeDeleteMessage     EventType = "delete_message"
	TypeMarkRead          EventType = "mark_read"
	TypeCallInitiate      EventType = "call_initiate"
	TypeCallAccept        EventType = "call_accept"
	TypeCallDecline       EventType = "call_decline"
	TypeCallEnd           EventType = "call_end"
	TypeCallJoin          EventType = "call_join"
	TypeCallSignal        EventType = "webrtc_signal"
	TypeCallMediaState    EventType = "call_media_state"
)

// Server to client.
const (
	TypeConnected          EventType = "connected"
	TypeUserTypingStart    EventType = "user_typing_start"
	TypeUserTypingStop     EventType = "user_typing_stop"
	TypeNewMessage         EventType = "new_message"
	TypeMessageUpdated     EventType = "message_updated"
	TypeMessageDeleted     EventType = "message_deleted"
	TypeMessagesRead       EventType = "messages_read"
	TypeMessageDelivered   EventType = "message_delivered"
	TypeSystemMessage      EventType = "system_message"
	TypeUserStatusUpdate   EventType = "user_status_update"
	TypeOnlineUsersList    EventType = "online_users_list"
	TypeOnlineUsersUpdated EventType = "online_users_updated"
	TypeCallIncoming       EventType = "call_incoming"
	TypeCallAccepted       EventType = "call_accepted"
	TypeCallDeclined       EventType = "call_declined"
	TypeCallEnded          EventType = "call_ended"
	TypeCallJoined         EventType = "call_joined"
	TypeCallMissed         EventType = "call_missed"
	TypeCallBusy           EventType = "call_busy"
	TypeCallMediaUpdated   EventType = "call_media_updated"
	TypeWebRTCSignaling    EventType = "webrtc_signaling"
	TypeError              EventType = "error"
)

// Event is the outbound envelope written to rooms.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data,omitempty"`
}

func NewEvent(t EventType, data any) Event {
	return Event{Type: t, Data: data}
}

// Command is an inbound frame decoded into its concrete payload.
type Command interface {
	EventType() EventType
}

type inboundFrame struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

type ConversationRef struct {
	ConversationID uuid.UUID `json:"conversationId"`
	kind           EventType
}

func (c ConversationRef) EventType() EventType { return c.kind }

type SendMessage struct {
	ConversationID   uuid.UUID   `json:"conversationId"`
	Content          string      `json:"content"`
	Type             MessageType `json:"type"`
	File             *FileFields `json:"file,omitempty"`
	ReplyToMessageID *uuid.UUID  `json:"replyToMessageId,omitempty"`
}

func (SendMessage) EventType() EventType { return TypeSendMessage }

type EditMessage struct {
	MessageID uuid.UUID    `json:"messageId"`
	Content   *string      `json:"content,omitempty"`
	Type      *MessageType `json:"type,omitempty"`
	File      *FileFields  `json:"file,omitempty"`
}

func (EditMessage) EventType() EventType { return TypeEditMessage }

type DeleteMessage struct {
	MessageID uuid.UUID `json:"messageId"`
}

func (DeleteMessage) EventType() EventType { return TypeDeleteMessage }

type CallInitiate struct {
	ConversationID uuid.UUID `json:"conversationId"`
	CallType       CallType  `json:"callType"`
	IsGroupCall    *bool     `json:"isGroupCall,omitempty"`
}

func (CallInitiate) EventType() EventType { return TypeCallInitiate }

// CallAction carries accept, end and join requests.
type CallAction struct {
	CallSessionID uuid.UUID `json:"callSessionId"`
	kind          EventType
}

func (c CallAction) EventType() EventType { return c.kind }

type CallDecline struct {
	CallSessionID uuid.UUID `json:"callSessionId"`
	Reason        string    `json:"reason,omitempty"`
}

func (CallDecline) EventType() EventType { return TypeCallDecline }

type WebRTCSignal struct {
	CallSessionID uuid.UUID       `json:"callSessionId"`
	ToUserID      string          `json:"toUserId"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
}

func (WebRTCSignal) EventType() EventType { return TypeCallSignal }

type MediaState struct {
	CallSessionID   uuid.UUID `json:"callSessionId"`
	IsMuted         *bool     `json:"isMuted,omitempty"`
	IsVideoEnabled  *bool     `json:"isVideoEnabled,omitempty"`
	IsScreenSharing *bool     `json:"isScreenSharing,omitempty"`
}

func (MediaState) EventType() EventType { return TypeCallMediaState }

// DecodeInbound validates the frame type against the closed set of client
// events and decodes its payload.
func DecodeInbound(raw []byte) (Command, error) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	var cmd Command
	var err error
	switch frame.Type {
	case TypeJoinConversation, TypeLeaveConversation, TypeTypingStart, TypeTypingStop, TypeMarkRead:
		var c ConversationRef
		err = decodeData(frame.Data, &c)
		c.kind = frame.Type
		if err == nil && c.ConversationID == uuid.Nil {
			err = fmt.Errorf("%w: conversationId is required", ErrMalformedPayload)
		}
		cmd = c
	case TypeSendMessage:
		var c SendMessage
		err = decodeData(frame.Data, &c)
		cmd = c
	case TypeEditMessage:
		var c EditMessage
		err = decodeData(frame.Data, &c)
		cmd = c
	case TypeDeleteMessage:
		var c DeleteMessage
		err = decodeData(frame.Data, &c)
		cmd = c
	case TypeCallInitiate:
		var c CallInitiate
		err = decodeData(frame.Data, &c)
		cmd = c
	case TypeCallAccept, TypeCallEnd, TypeCallJoin:
		var c CallAction
		err = decodeData(frame.Data, &c)
		c.kind = frame.Type
		if err == nil && c.CallSessionID == uuid.Nil {
			err = fmt.Errorf("%w: callSessionId is required", ErrMalformedPayload)
		}
		cmd = c
	case TypeCallDecline:
		var c CallDecline
		err = decodeData(frame.Data, &c)
		cmd = c
	case TypeCallSignal:
		var c WebRTCSignal
		err = decodeData(frame.Data, &c)
		cmd = c
	case TypeCallMediaState:
		var c MediaState
		err = decodeData(frame.Data, &c)
		cmd = c
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, frame.Type)
	}
	if err != nil {
		return nil, err
	}
	return cmd, nil
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: data is required", ErrMalformedPayload)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

// Outbound payloads.

type ConnectedPayload struct {
	ConnectionID string    `json:"connectionId"`
	UserID       string    `json:"userId"`
	Timestamp    time.Time `json:"timestamp"`
}

type TypingPayload struct {
	UserID         string    `json:"userId"`
	UserName       string    `json:"userName"`
	ConversationID uuid.UUID `json:"conversationId"`
	Timestamp      time.Time `json:"timestamp"`
}

type MessagesReadPayload struct {
	ConversationID uuid.UUID   `json:"conversationId"`
	ReadByUserID   string      `json:"readByUserId"`
	ReadAt         time.Time   `json:"readAt"`
	MessageIDs     []uuid.UUID `json:"messageIds"`
}

type MessageDeliveredPayload struct {
	ConversationID    uuid.UUID `json:"conversationId"`
	MessageID         uuid.UUID `json:"messageId"`
	DeliveredToUserID string    `json:"deliveredToUserId"`
	DeliveredAt       time.Time `json:"deliveredAt"`
}

type SystemMessagePayload struct {
	ConversationID uuid.UUID      `json:"conversationId"`
	Message        Message        `json:"message"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type UserStatusPayload struct {
	UserID     string     `json:"userId"`
	IsOnline   bool       `json:"isOnline"`
	LastOnline *time.Time `json:"lastOnline,omitempty"`
}

type OnlineUsersPayload struct {
	Users []ProfileSummary `json:"users"`
	Count int              `json:"count"`
}

type CallPayload struct {
	CallSession  CallSession       `json:"callSession"`
	Participants []CallParticipant `json:"participants,omitempty"`
	UserID       string            `json:"userId,omitempty"`
	Caller       *ProfileSummary   `json:"caller,omitempty"`
	Reason       string            `json:"reason,omitempty"`
}

type SignalingPayload struct {
	CallSessionID uuid.UUID       `json:"callSessionId"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	FromUserID    string          `json:"fromUserId"`
	Timestamp     time.Time       `json:"timestamp"`
}

type ErrorPayload struct {
	Code        string    `json:"code"`
	Message     string    `json:"message"`
	RequestType EventType `json:"requestType,omitempty"`
}
