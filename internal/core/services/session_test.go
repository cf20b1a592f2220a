package services

import (
	"cargolink/internal/core/domain"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	token, err := h.tokens.GenerateToken("carrier", time.Minute)
	require.NoError(t, err)
	session, err := h.sessions.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "carrier", session.UserID)
	assert.NotEmpty(t, session.ID)

	_, err = h.sessions.Authenticate(ctx, "")
	assert.ErrorIs(t, err, domain.ErrMissingCredential)

	_, err = h.sessions.Authenticate(ctx, "not-a-jwt")
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)

	expired, err := h.tokens.GenerateToken("carrier", -time.Minute)
	require.NoError(t, err)
	_, err = h.sessions.Authenticate(ctx, expired)
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)

	foreign, err := NewTokenService("other-secret").GenerateToken("carrier", time.Minute)
	require.NoError(t, err)
	_, err = h.sessions.Authenticate(ctx, foreign)
	assert.ErrorIs(t, err, domain.ErrInvalidCredential)
}

func TestConnectSendsWelcomeFrames(t *testing.T) {
	h := newHarness(t)
	conv := h.conversation(domain.ChatTypeDirect, "shipper", "carrier")
	h.connect(t, "shipper")
	carrier := h.connect(t, "carrier")

	var connected domain.ConnectedPayload
	carrier.last(t, domain.TypeConnected, &connected)
	assert.Equal(t, carrier.ID(), connected.ConnectionID)
	assert.Equal(t, "carrier", connected.UserID)

	var list domain.OnlineUsersPayload
	carrier.last(t, domain.TypeOnlineUsersList, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "shipper", list.Users[0].UserID)
	assert.Equal(t, "User shipper", list.Users[0].DisplayName)

	assert.True(t, h.registry.InRoom(carrier.ID(), domain.UserRoom("carrier")))
	assert.True(t, h.registry.InRoom(carrier.ID(), domain.ConversationRoom(conv)))
}

func TestPresenceAcrossSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	observer := h.connect(t, "observer")
	observer.reset()

	first := h.connect(t, "carrier")
	assert.True(t, h.presence.IsOnline(ctx, "carrier"))
	assert.Equal(t, 1, observer.count(domain.TypeUserStatusUpdate))

	second := h.connect(t, "carrier")
	assert.Equal(t, 1, observer.count(domain.TypeUserStatusUpdate), "second session is not a transition")

	h.sessions.Disconnect(ctx, first)
	assert.True(t, h.presence.IsOnline(ctx, "carrier"), "still online through the second session")
	assert.Equal(t, 1, observer.count(domain.TypeUserStatusUpdate))

	h.sessions.Disconnect(ctx, second)
	assert.False(t, h.presence.IsOnline(ctx, "carrier"))
	require.Equal(t, 2, observer.count(domain.TypeUserStatusUpdate))

	var status domain.UserStatusPayload
	observer.last(t, domain.TypeUserStatusUpdate, &status)
	assert.Equal(t, "carrier", status.UserID)
	assert.False(t, status.IsOnline)
	assert.NotNil(t, status.LastOnline)

	var snap domain.OnlineUsersPayload
	observer.last(t, domain.TypeOnlineUsersUpdated, &snap)
	assert.Equal(t, 1, snap.Count)
}

func TestTwoSessionsBothReceive(t *testing.T) {
	h := newHarness(t)
	conv := h.conversation(domain.ChatTypeDirect, "shipper", "carrier")
	phone := h.connect(t, "carrier")
	laptop := h.connect(t, "carrier")

	_, err := h.messages.Send(context.Background(), "shipper", domain.SendMessage{ConversationID: conv, Content: "eta?"})
	require.NoError(t, err)

	assert.Equal(t, 1, phone.count(domain.TypeNewMessage))
	assert.Equal(t, 1, laptop.count(domain.TypeNewMessage))
}

func TestJoinConversationRequiresMembership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.conversation(domain.ChatTypeDirect, "shipper", "carrier")
	stranger := h.connect(t, "stranger")

	err := h.rooms.Join(ctx, stranger.ID(), "stranger", conv)
	assert.ErrorIs(t, err, domain.ErrNotParticipant)
	assert.False(t, h.registry.InRoom(stranger.ID(), domain.ConversationRoom(conv)))

	carrier := h.connect(t, "carrier")
	h.rooms.Leave(ctx, carrier.ID(), conv)
	assert.False(t, h.registry.InRoom(carrier.ID(), domain.ConversationRoom(conv)))
	require.NoError(t, h.rooms.Join(ctx, carrier.ID(), "carrier", conv))
	assert.True(t, h.registry.InRoom(carrier.ID(), domain.ConversationRoom(conv)))
}

func TestTypingFanOut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.conversation(domain.ChatTypeDirect, "shipper", "carrier")
	shipper := h.connect(t, "shipper")
	carrier := h.connect(t, "carrier")

	require.NoError(t, h.rooms.TypingStart(ctx, "shipper", conv))
	_, active := h.typing.Active(conv, "shipper")
	assert.True(t, active)

	var typing domain.TypingPayload
	carrier.last(t, domain.TypeUserTypingStart, &typing)
	assert.Equal(t, "User shipper", typing.UserName)
	// The typist only hears its own echo through the conversation room.
	assert.Equal(t, 1, shipper.count(domain.TypeUserTypingStart))

	require.NoError(t, h.rooms.TypingStop(ctx, "shipper", conv))
	_, active = h.typing.Active(conv, "shipper")
	assert.False(t, active)
	assert.GreaterOrEqual(t, carrier.count(domain.TypeUserTypingStop), 1)

	assert.ErrorIs(t, h.rooms.TypingStart(ctx, "stranger", conv), domain.ErrNotParticipant)
}

func TestHandleMessageDispatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv := h.conversation(domain.ChatTypeDirect, "shipper", "carrier")
	shipper := h.connect(t, "shipper")
	carrier := h.connect(t, "carrier")

	typ, err := h.manager.HandleMessage(ctx, shipper, []byte(`{"type":"send_message","data":{"conversationId":"`+conv.String()+`","content":"hi"}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.TypeSendMessage, typ)
	assert.Equal(t, 1, carrier.count(domain.TypeNewMessage))

	typ, err = h.manager.HandleMessage(ctx, shipper, []byte(`{"type":"launch","data":{}}`))
	assert.ErrorIs(t, err, domain.ErrUnknownEvent)
	assert.Empty(t, typ)

	typ, err = h.manager.HandleMessage(ctx, shipper, []byte(`{"type":"mark_read","data":{"conversationId":"`+conv.String()+`"}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.TypeMarkRead, typ)
}
