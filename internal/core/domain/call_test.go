package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallSessionFinish(t *testing.T) {
	call := NewCallSession(uuid.New(), "u1", CallTypeVideo, false)
	assert.Equal(t, CallStatusInitiating, call.Status)
	assert.True(t, call.Status.IsPending())

	start := time.Now().UTC()
	call.StartTime = &start
	call.Finish(CallStatusEnded, start.Add(90*time.Second))

	assert.True(t, call.Status.IsTerminal())
	require.NotNil(t, call.Duration)
	assert.Equal(t, int64(90), *call.Duration)
}

func TestCallSessionFinishNeverConnected(t *testing.T) {
	call := NewCallSession(uuid.New(), "u1", CallTypeAudio, false)
	call.Finish(CallStatusMissed, time.Now())
	require.NotNil(t, call.Duration)
	assert.Zero(t, *call.Duration)
	assert.NotNil(t, call.EndTime)
}

func TestNewCallParticipantVideoDefault(t *testing.T) {
	id := uuid.New()
	assert.True(t, NewCallParticipant(id, "u1", CallTypeVideo).IsVideoEnabled)
	assert.False(t, NewCallParticipant(id, "u1", CallTypeAudio).IsVideoEnabled)
}

func TestParticipantCanSend(t *testing.T) {
	left := time.Now()
	assert.True(t, Participant{Role: RoleMember}.CanSend())
	assert.False(t, Participant{Role: RoleViewer}.CanSend())
	assert.False(t, Participant{Role: RoleOwner, LeftAt: &left}.CanSend())
}

func TestValidateSignal(t *testing.T) {
	cases := []struct {
		name    string
		kind    string
		payload string
		wantErr bool
	}{
		{"offer", SignalOffer, `{"type":"offer","sdp":"v=0"}`, false},
		{"answer", SignalAnswer, `{"type":"answer","sdp":"v=0"}`, false},
		{"mismatched sdp type", SignalOffer, `{"type":"answer","sdp":"v=0"}`, true},
		{"empty sdp", SignalAnswer, `{"type":"answer","sdp":""}`, true},
		{"candidate", SignalICECandidate, `{"candidate":"candidate:1 1 UDP 2122252543 10.0.0.1 54321 typ host","sdpMid":"0"}`, false},
		{"end of candidates", SignalICECandidate, `{"candidate":""}`, false},
		{"unknown type", "renegotiate", `{}`, true},
		{"empty payload", SignalOffer, ``, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSignal(tc.kind, json.RawMessage(tc.payload))
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSignal)
				return
			}
			assert.NoError(t, err)
		})
	}
}
