package domain

import (
	"time"

	"github.com/google/uuid"
)

type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

type CallStatus string

const (
	CallStatusInitiating CallStatus = "initiating"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusConnected  CallStatus = "connected"
	CallStatusEnded      CallStatus = "ended"
	CallStatusDeclined   CallStatus = "declined"
	CallStatusMissed     CallStatus = "missed"
	CallStatusBusy       CallStatus = "busy"
)

// IsPending reports whether the call can still be accepted.
func (s CallStatus) IsPending() bool {
	return s == CallStatusInitiating || s == CallStatusRinging
}

func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusEnded, CallStatusDeclined, CallStatusMissed, CallStatusBusy:
		return true
	}
	return false
}

// CallSession is the lifecycle object of one voice or video call.
type CallSession struct {
	ID             uuid.UUID  `json:"id"`
	ConversationID uuid.UUID  `json:"conversationId"`
	CallerID       string     `json:"callerId"`
	CallType       CallType   `json:"callType"`
	IsGroupCall    bool       `json:"isGroupCall"`
	Status         CallStatus `json:"status"`
	StartTime      *time.Time `json:"startTime,omitempty"`
	EndTime        *time.Time `json:"endTime,omitempty"`
	Duration       *int64     `json:"duration,omitempty"` // seconds
	CreatedAt      time.Time  `json:"createdAt"`
}

func NewCallSession(convID uuid.UUID, callerID string, callType CallType, group bool) *CallSession {
	return &CallSession{
		ID:             uuid.New(),
		ConversationID: convID,
		CallerID:       callerID,
		CallType:       callType,
		IsGroupCall:    group,
		Status:         CallStatusInitiating,
		CreatedAt:      time.Now().UTC(),
	}
}

// Finish moves the session into a terminal status and stamps the end time
// and duration. Duration is zero when the call never connected.
func (c *CallSession) Finish(status CallStatus, at time.Time) {
	c.Status = status
	c.EndTime = &at
	var d int64
	if c.StartTime != nil && at.After(*c.StartTime) {
		d = int64(at.Sub(*c.StartTime).Seconds())
	}
	c.Duration = &d
}

type CallParticipant struct {
	CallSessionID   uuid.UUID  `json:"callSessionId"`
	UserID          string     `json:"userId"`
	JoinedAt        time.Time  `json:"joinedAt"`
	LeftAt          *time.Time `json:"leftAt,omitempty"`
	IsMuted         bool       `json:"isMuted"`
	IsVideoEnabled  bool       `json:"isVideoEnabled"`
	IsScreenSharing bool       `json:"isScreenSharing"`
}

func NewCallParticipant(callID uuid.UUID, userID string, callType CallType) *CallParticipant {
	return &CallParticipant{
		CallSessionID:  callID,
		UserID:         userID,
		JoinedAt:       time.Now().UTC(),
		IsVideoEnabled: callType == CallTypeVideo,
	}
}
