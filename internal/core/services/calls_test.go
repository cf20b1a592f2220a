package services

import (
	"cargolink/internal/core/domain"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectCallAccept(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.conversation(domain.ChatTypeDirect, "shipper", "carrier")
	shipper := h.connect(t, "shipper")
	carrier := h.connect(t, "carrier")

	call, err := h.calls.Initiate(ctx, "shipper", domain.CallInitiate{ConversationID: conv, CallType: domain.CallTypeVideo})
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, call.Status)
	assert.False(t, call.IsGroupCall)

	var incoming domain.CallPayload
	carrier.last(t, domain.TypeCallIncoming, &incoming)
	require.NotNil(t, incoming.Caller)
	assert.Equal(t, "User shipper", incoming.Caller.DisplayName)
	assert.Zero(t, shipper.count(domain.TypeCallIncoming))

	_, err = h.calls.Initiate(ctx, "carrier", domain.CallInitiate{ConversationID: conv, CallType: domain.CallTypeAudio})
	assert.ErrorIs(t, err, domain.ErrCallInProgress)

	accepted, err := h.calls.Accept(ctx, "carrier", call.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusConnected, accepted.Status)
	assert.NotNil(t, accepted.StartTime)
	assert.Equal(t, 1, shipper.count(domain.TypeCallAccepted))

	_, err = h.calls.Accept(ctx, "carrier", call.ID)
	assert.ErrorIs(t, err, domain.ErrCallNotPending)

	ended, err := h.calls.End(ctx, "shipper", call.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusEnded, ended.Status)
	require.NotNil(t, ended.Duration)
	assert.Equal(t, 1, shipper.count(domain.TypeCallEnded))
	assert.Equal(t, 1, carrier.count(domain.TypeCallEnded))

	parts, err := h.store.ListCallParticipants(ctx, call.ID)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	for _, p := range parts {
		assert.NotNil(t, p.LeftAt, "%s still in call", p.UserID)
	}

	_, err = h.calls.End(ctx, "carrier", call.ID)
	assert.ErrorIs(t, err, domain.ErrCallFinished)

	// The conversation is free again.
	_, err = h.calls.Initiate(ctx, "carrier", domain.CallInitiate{ConversationID: conv, CallType: domain.CallTypeAudio})
	assert.NoError(t, err)
}

func TestDirectCallDecline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.conversation(domain.ChatTypeDirect, "shipper", "carrier")
	shipper := h.connect(t, "shipper")

	call, err := h.calls.Initiate(ctx, "shipper", domain.CallInitiate{ConversationID: conv, CallType: domain.CallTypeAudio})
	require.NoError(t, err)

	declined, err := h.calls.Decline(ctx, "carrier", domain.CallDecline{CallSessionID: call.ID, Reason: "driving"})
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusDeclined, declined.Status)
	require.NotNil(t, declined.Duration)
	assert.Zero(t, *declined.Duration)

	var p domain.CallPayload
	shipper.last(t, domain.TypeCallDeclined, &p)
	assert.Equal(t, "driving", p.Reason)
	assert.Equal(t, "carrier", p.UserID)

	_, err = h.calls.Accept(ctx, "carrier", call.ID)
	assert.ErrorIs(t, err, domain.ErrCallNotPending)
}

func TestGroupCallFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.conversation(domain.ChatTypeGroup, "dispatcher", "driver1", "driver2")
	dispatcher := h.connect(t, "dispatcher")
	driver1 := h.connect(t, "driver1")
	driver2 := h.connect(t, "driver2")

	call, err := h.calls.Initiate(ctx, "dispatcher", domain.CallInitiate{ConversationID: conv, CallType: domain.CallTypeAudio})
	require.NoError(t, err)
	assert.True(t, call.IsGroupCall, "more than two participants defaults to group")
	assert.Equal(t, 1, driver1.count(domain.TypeCallIncoming))
	assert.Equal(t, 1, driver2.count(domain.TypeCallIncoming))

	// Declining a group call leaves it open for the others.
	declined, err := h.calls.Decline(ctx, "driver2", domain.CallDecline{CallSessionID: call.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, declined.Status)
	assert.Zero(t, dispatcher.count(domain.TypeCallDeclined))
	assert.GreaterOrEqual(t, dispatcher.count(domain.TypeSystemMessage), 1)

	_, err = h.calls.JoinGroupCall(ctx, "driver2", call.ID)
	assert.ErrorIs(t, err, domain.ErrCallNotActive)

	_, err = h.calls.Accept(ctx, "driver1", call.ID)
	require.NoError(t, err)

	joined, err := h.calls.JoinGroupCall(ctx, "driver2", call.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusConnected, joined.Status)
	assert.Equal(t, 1, dispatcher.count(domain.TypeCallJoined))

	_, err = h.calls.JoinGroupCall(ctx, "driver2", call.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyInCall)

	parts, err := h.store.ListCallParticipants(ctx, call.ID)
	require.NoError(t, err)
	assert.Len(t, parts, 3)

	_, err = h.calls.End(ctx, "driver2", call.ID)
	require.NoError(t, err)
	for _, c := range []*fakeClient{dispatcher, driver1, driver2} {
		assert.Equal(t, 1, c.count(domain.TypeCallEnded))
	}
}

func TestJoinRejectsDirectCall(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.conversation(domain.ChatTypeDirect, "shipper", "carrier")
	call, err := h.calls.Initiate(ctx, "shipper", domain.CallInitiate{ConversationID: conv, CallType: domain.CallTypeAudio})
	require.NoError(t, err)
	_, err = h.calls.JoinGroupCall(ctx, "carrier", call.ID)
	assert.ErrorIs(t, err, domain.ErrNotGroupCall)
}

func TestInitiateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	solo := h.conversation(domain.ChatTypeGroup, "lonely")
	conv := h.conversation(domain.ChatTypeDirect, "shipper", "carrier")

	_, err := h.calls.Initiate(ctx, "shipper", domain.CallInitiate{ConversationID: conv, CallType: "hologram"})
	assert.ErrorIs(t, err, domain.ErrInvalidCallType)

	_, err = h.calls.Initiate(ctx, "stranger", domain.CallInitiate{ConversationID: conv, CallType: domain.CallTypeAudio})
	assert.ErrorIs(t, err, domain.ErrNotParticipant)

	_, err = h.calls.Initiate(ctx, "lonely", domain.CallInitiate{ConversationID: solo, CallType: domain.CallTypeAudio})
	assert.ErrorIs(t, err, domain.ErrTooFewParticipants)
}

func TestRingTimeoutMissesCall(t *testing.T) {
	h := newHarness(t, withRingTimeout(50*time.Millisecond))
	ctx := context.Background()
	conv := h.conversation(domain.ChatTypeDirect, "shipper", "carrier")
	shipper := h.connect(t, "shipper")

	call, err := h.calls.Initiate(ctx, "shipper", domain.CallInitiate{ConversationID: conv, CallType: domain.CallTypeAudio})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return shipper.count(domain.TypeCallMissed) == 1
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := h.store.GetCallByID(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusMissed, stored.Status)
	assert.NotNil(t, stored.EndTime)
}

func TestAcceptStopsRingTimer(t *testing.T) {
	h := newHarness(t, withRingTimeout(50*time.Millisecond))
	ctx := context.Background()
	conv := h.conversation(domain.ChatTypeDirect, "shipper", "carrier")
	shipper := h.connect(t, "shipper")

	call, err := h.calls.Initiate(ctx, "shipper", domain.CallInitiate{ConversationID: conv, CallType: domain.CallTypeAudio})
	require.NoError(t, err)
	_, err = h.calls.Accept(ctx, "carrier", call.ID)
	require.NoError(t, err)

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, shipper.count(domain.TypeCallMissed))
	stored, err := h.store.GetCallByID(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusConnected, stored.Status)
}

func TestRelaySignalingIsPointToPoint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.conversation(domain.ChatTypeGroup, "dispatcher", "driver1", "driver2")
	h.connect(t, "dispatcher")
	driver1 := h.connect(t, "driver1")
	driver2 := h.connect(t, "driver2")

	call, err := h.calls.Initiate(ctx, "dispatcher", domain.CallInitiate{ConversationID: conv, CallType: domain.CallTypeVideo})
	require.NoError(t, err)

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0\r\n"}`)
	err = h.calls.RelaySignaling(ctx, "dispatcher", domain.WebRTCSignal{
		CallSessionID: call.ID, ToUserID: "driver1", Type: domain.SignalOffer, Payload: offer,
	})
	require.NoError(t, err)

	var sig domain.SignalingPayload
	driver1.last(t, domain.TypeWebRTCSignaling, &sig)
	assert.Equal(t, "dispatcher", sig.FromUserID)
	assert.JSONEq(t, string(offer), string(sig.Payload))
	assert.Zero(t, driver2.count(domain.TypeWebRTCSignaling))

	err = h.calls.RelaySignaling(ctx, "driver2", domain.WebRTCSignal{
		CallSessionID: call.ID, ToUserID: "dispatcher", Type: domain.SignalAnswer, Payload: json.RawMessage(`{"type":"answer","sdp":"v=0"}`),
	})
	assert.ErrorIs(t, err, domain.ErrNotCallMember)

	err = h.calls.RelaySignaling(ctx, "dispatcher", domain.WebRTCSignal{
		CallSessionID: call.ID, Type: domain.SignalOffer, Payload: offer,
	})
	assert.ErrorIs(t, err, domain.ErrSignalTargetMissing)

	// Users outside the call's conversation never receive its signaling.
	h.conversation(domain.ChatTypeDirect, "broker", "outsider")
	outsider := h.connect(t, "outsider")
	err = h.calls.RelaySignaling(ctx, "dispatcher", domain.WebRTCSignal{
		CallSessionID: call.ID, ToUserID: "outsider", Type: domain.SignalOffer, Payload: offer,
	})
	assert.ErrorIs(t, err, domain.ErrNotCallMember)
	assert.Zero(t, outsider.count(domain.TypeWebRTCSignaling))

	err = h.calls.RelaySignaling(ctx, "dispatcher", domain.WebRTCSignal{
		CallSessionID: call.ID, ToUserID: "driver1", Type: domain.SignalOffer, Payload: json.RawMessage(`{"type":"answer","sdp":"v=0"}`),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidSignal)
}

func TestUpdateMediaState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.conversation(domain.ChatTypeDirect, "shipper", "carrier")
	shipper := h.connect(t, "shipper")

	call, err := h.calls.Initiate(ctx, "shipper", domain.CallInitiate{ConversationID: conv, CallType: domain.CallTypeVideo})
	require.NoError(t, err)
	_, err = h.calls.Accept(ctx, "carrier", call.ID)
	require.NoError(t, err)

	muted, off := true, false
	part, err := h.calls.UpdateMediaState(ctx, "carrier", domain.MediaState{CallSessionID: call.ID, IsMuted: &muted, IsVideoEnabled: &off})
	require.NoError(t, err)
	assert.True(t, part.IsMuted)
	assert.False(t, part.IsVideoEnabled)
	assert.False(t, part.IsScreenSharing)

	var p domain.CallPayload
	shipper.last(t, domain.TypeCallMediaUpdated, &p)
	assert.Equal(t, "carrier", p.UserID)
	require.Len(t, p.Participants, 1)
	assert.True(t, p.Participants[0].IsMuted)

	_, err = h.calls.UpdateMediaState(ctx, "stranger", domain.MediaState{CallSessionID: call.ID, IsMuted: &muted})
	assert.ErrorIs(t, err, domain.ErrNotCallMember)
}

func TestDirectCallToBusyCallee(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.conversation(domain.ChatTypeDirect, "shipper", "carrier")
	second := h.conversation(domain.ChatTypeDirect, "broker", "carrier")
	broker := h.connect(t, "broker")
	carrier := h.connect(t, "carrier")

	live, err := h.calls.Initiate(ctx, "shipper", domain.CallInitiate{ConversationID: first, CallType: domain.CallTypeAudio})
	require.NoError(t, err)
	_, err = h.calls.Accept(ctx, "carrier", live.ID)
	require.NoError(t, err)
	incoming := carrier.count(domain.TypeCallIncoming)

	busy, err := h.calls.Initiate(ctx, "broker", domain.CallInitiate{ConversationID: second, CallType: domain.CallTypeAudio})
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusBusy, busy.Status)
	assert.NotNil(t, busy.EndTime)

	var payload domain.CallPayload
	broker.last(t, domain.TypeCallBusy, &payload)
	assert.Equal(t, busy.ID, payload.CallSession.ID)
	assert.Equal(t, incoming, carrier.count(domain.TypeCallIncoming), "a busy callee is not rung")

	// The busy session is terminal, so the conversation stays free.
	_, err = h.calls.End(ctx, "shipper", live.ID)
	require.NoError(t, err)
	again, err := h.calls.Initiate(ctx, "broker", domain.CallInitiate{ConversationID: second, CallType: domain.CallTypeAudio})
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, again.Status)
}

func TestMediaStateTogglesFromTwoDevices(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.conversation(domain.ChatTypeDirect, "shipper", "carrier")
	call, err := h.calls.Initiate(ctx, "shipper", domain.CallInitiate{ConversationID: conv, CallType: domain.CallTypeVideo})
	require.NoError(t, err)
	_, err = h.calls.Accept(ctx, "carrier", call.ID)
	require.NoError(t, err)

	on := true
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := h.calls.UpdateMediaState(ctx, "carrier", domain.MediaState{CallSessionID: call.ID, IsMuted: &on})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := h.calls.UpdateMediaState(ctx, "carrier", domain.MediaState{CallSessionID: call.ID, IsScreenSharing: &on})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	part, err := h.store.GetCallParticipant(ctx, call.ID, "carrier")
	require.NoError(t, err)
	assert.True(t, part.IsMuted)
	assert.True(t, part.IsScreenSharing)
	assert.True(t, part.IsVideoEnabled)
}
