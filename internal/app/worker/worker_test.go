package worker

import (
	"cargolink/internal/core/contracts"
	"cargolink/internal/core/domain"
	"cargolink/internal/core/services"
	"cargolink/internal/plugins/memory"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPusher struct {
	mu   sync.Mutex
	got  []domain.PushNotification
	fail bool
}

func (p *recordingPusher) Push(_ context.Context, n domain.PushNotification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, n)
	if p.fail {
		return errors.New("gateway down")
	}
	return nil
}

func (p *recordingPusher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.got)
}

type ackQueue struct {
	*memory.MessageQueue
	mu    sync.Mutex
	acked []string
}

func (q *ackQueue) AcknowledgeMessage(_ context.Context, _, _, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, id)
	return nil
}

var _ contracts.MessageQueue = (*ackQueue)(nil)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPushWorkerDelivers(t *testing.T) {
	q := &ackQueue{MessageQueue: memory.NewMessageQueue()}
	pusher := &recordingPusher{}
	w := NewPushWorker(discard(), q, pusher, "push", "workers")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Run(ctx))

	raw, err := json.Marshal(domain.PushNotification{UserIDs: []string{"u1"}, Title: "t"})
	require.NoError(t, err)
	require.NoError(t, q.PublishToStream(ctx, "push", raw))

	require.Eventually(t, func() bool { return pusher.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestPushWorkerAcksFailures(t *testing.T) {
	q := &ackQueue{MessageQueue: memory.NewMessageQueue()}
	w := NewPushWorker(discard(), q, &recordingPusher{fail: true}, "push", "workers")

	require.NoError(t, w.ProcessMessage(context.Background(), "1-0", []byte(`{"userIds":["u1"]}`)))
	require.NoError(t, w.ProcessMessage(context.Background(), "2-0", []byte(`not json`)))
	assert.Equal(t, []string{"1-0", "2-0"}, q.acked)
}

func TestStatusWorkerSkipsMalformedPayload(t *testing.T) {
	w := NewStatusWorker(discard(), nil)
	assert.NoError(t, w.Process(context.Background(), contracts.Task{Type: "x", Payload: []byte("{")}))
}

func TestProfileWorkerInvalidatesCache(t *testing.T) {
	store := memory.NewStore()
	store.PutUser(domain.User{ID: "carrier", DisplayName: "Old Name"})
	profiles := services.NewProfileService(discard(), store, memory.NewCache(), time.Hour)
	ctx := context.Background()
	assert.Equal(t, "Old Name", profiles.DisplayName(ctx, "carrier"))

	store.PutUser(domain.User{ID: "carrier", DisplayName: "New Name"})
	assert.Equal(t, "Old Name", profiles.DisplayName(ctx, "carrier"), "served from cache")

	q := &ackQueue{MessageQueue: memory.NewMessageQueue()}
	w := NewProfileWorker(discard(), q, profiles, "profiles", "cache")
	require.NoError(t, w.ProcessMessage(ctx, "1-0", []byte(`{"userId":"carrier"}`)))
	require.NoError(t, w.ProcessMessage(ctx, "2-0", []byte(`{}`)))

	assert.Equal(t, "New Name", profiles.DisplayName(ctx, "carrier"))
	assert.Equal(t, []string{"1-0", "2-0"}, q.acked)
}

func TestProfileWorkerLeavesFailedInvalidationPending(t *testing.T) {
	profiles := services.NewProfileService(discard(), memory.NewStore(), brokenCache{}, time.Hour)
	q := &ackQueue{MessageQueue: memory.NewMessageQueue()}
	w := NewProfileWorker(discard(), q, profiles, "profiles", "cache")

	assert.Error(t, w.ProcessMessage(context.Background(), "1-0", []byte(`{"userId":"carrier"}`)))
	assert.Empty(t, q.acked)
}

type brokenCache struct{ *memory.Cache }

func (brokenCache) Del(context.Context, ...string) (int64, error) {
	return 0, errors.New("cache unreachable")
}
