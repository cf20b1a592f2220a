package services

import (
	"cargolink/internal/app/registry"
	"cargolink/internal/core/contracts"
	"cargolink/internal/core/domain"
	"cargolink/internal/plugins/memory"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Type domain.EventType `json:"type"`
	Data json.RawMessage  `json:"data"`
}

// fakeClient records every frame the registry writes to it.
type fakeClient struct {
	id     string
	user   string
	mu     sync.Mutex
	frames []frame
}

func newFakeClient(userID string) *fakeClient {
	return &fakeClient{id: uuid.NewString(), user: userID}
}

func (c *fakeClient) ID() string     { return c.id }
func (c *fakeClient) UserID() string { return c.user }
func (c *fakeClient) Close()         {}

func (c *fakeClient) Send(_ context.Context, data []byte) error {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeClient) all(t domain.EventType) []frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []frame
	for _, f := range c.frames {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

func (c *fakeClient) count(t domain.EventType) int {
	return len(c.all(t))
}

func (c *fakeClient) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

// last decodes the newest frame of type t into v.
func (c *fakeClient) last(tb testing.TB, t domain.EventType, v any) {
	tb.Helper()
	frames := c.all(t)
	require.NotEmpty(tb, frames, "no %s frame", t)
	require.NoError(tb, json.Unmarshal(frames[len(frames)-1].Data, v))
}

const statusRetry = 3

type harness struct {
	store    *memory.Store
	registry *registry.Registry
	tasks    *memory.TaskQueue
	outbox   *memory.MessageQueue
	typing   *TypingTracker

	tokens   *TokenService
	profiles *ProfileService
	presence *PresenceService
	rooms    *RoomService
	messages *MessageService
	calls    *CallService
	sessions *SessionService
	manager  *ManagerService
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	ringTimeout time.Duration
	typingTTL   time.Duration
	tasks       contracts.TaskClient
}

func withRingTimeout(d time.Duration) harnessOption {
	return func(c *harnessConfig) { c.ringTimeout = d }
}

func withTypingTTL(d time.Duration) harnessOption {
	return func(c *harnessConfig) { c.typingTTL = d }
}

func withTaskClient(tc contracts.TaskClient) harnessOption {
	return func(c *harnessConfig) { c.tasks = tc }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{ringTimeout: time.Minute, typingTTL: time.Minute}
	for _, o := range opts {
		o(&cfg)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		store:    memory.NewStore(),
		registry: registry.NewRegistry(),
		tasks:    memory.NewTaskQueue(2, 64, 3),
		outbox:   memory.NewMessageQueue(),
		typing:   NewTypingTracker(cfg.typingTTL),
	}
	repos := Repositories{
		Users:         h.store,
		Conversations: h.store,
		Participants:  h.store,
		Messages:      h.store,
		Statuses:      h.store,
		Calls:         h.store,
	}
	var tasks contracts.TaskClient = h.tasks
	if cfg.tasks != nil {
		tasks = cfg.tasks
	}
	h.tokens = NewTokenService("test-secret")
	h.profiles = NewProfileService(log, h.store, memory.NewCache(), time.Minute)
	h.presence = NewPresenceService(log, memory.NewPresenceStore(), h.registry, h.profiles)
	h.rooms = NewRoomService(log, h.store, h.registry, h.profiles, h.typing)
	h.messages = NewMessageService(log, h.store, repos, h.presence, h.profiles, h.registry, tasks, h.outbox, "push", statusRetry)
	h.calls = NewCallService(log, h.store, repos, h.registry, h.messages, h.profiles, cfg.ringTimeout)
	h.sessions = NewSessionService(log, h.tokens, h.registry, h.presence, h.rooms, h.messages)
	h.manager = NewManagerService(log, h.rooms, h.messages, h.calls)

	h.tasks.Register(TaskStatusFanout, func(ctx context.Context, task contracts.Task) error {
		var sf StatusFanout
		if err := json.Unmarshal(task.Payload, &sf); err != nil {
			return nil
		}
		return h.messages.ApplyStatusFanout(ctx, sf)
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.tasks.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		h.calls.Close()
		h.typing.Close()
		h.registry.Close()
	})
	return h
}

// conversation seeds a conversation whose members join in the given order.
// The first member is the owner.
func (h *harness) conversation(chatType domain.ChatType, members ...string) uuid.UUID {
	id := uuid.New()
	h.store.PutConversation(domain.Conversation{ID: id, ChatType: chatType, CreatedAt: time.Now().UTC()})
	base := time.Now().UTC().Add(-time.Hour)
	for i, m := range members {
		h.store.PutUser(domain.User{ID: m, DisplayName: "User " + m})
		role := domain.RoleMember
		if i == 0 {
			role = domain.RoleOwner
		}
		h.store.PutParticipant(domain.Participant{
			ConversationID: id,
			UserID:         m,
			Role:           role,
			JoinedAt:       base.Add(time.Duration(i) * time.Second),
		})
	}
	return id
}

// connect opens a session for userID through the session service.
func (h *harness) connect(t *testing.T, userID string) *fakeClient {
	t.Helper()
	c := newFakeClient(userID)
	require.NoError(t, h.sessions.Connect(context.Background(), c))
	return c
}

func (h *harness) status(t *testing.T, msgID uuid.UUID, userID string) *domain.MessageStatus {
	t.Helper()
	st, err := h.store.GetStatus(context.Background(), msgID, userID)
	require.NoError(t, err)
	return st
}

// waitStatus waits for the background fan-out to write the row.
func (h *harness) waitStatus(t *testing.T, msgID uuid.UUID, userID string) *domain.MessageStatus {
	t.Helper()
	var st *domain.MessageStatus
	require.Eventually(t, func() bool {
		var err error
		st, err = h.store.GetStatus(context.Background(), msgID, userID)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	return st
}
