package registry

import (
	"cargolink/internal/core/domain"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	id, user string
	fail     bool

	mu     sync.Mutex
	got    []domain.EventType
	closed bool
}

func (c *stubClient) ID() string     { return c.id }
func (c *stubClient) UserID() string { return c.user }

func (c *stubClient) Send(_ context.Context, data []byte) error {
	if c.fail {
		return errors.New("buffer full")
	}
	var ev struct {
		Type domain.EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, ev.Type)
	return nil
}

func (c *stubClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *stubClient) received() []domain.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.EventType(nil), c.got...)
}

func TestEmitReachesEveryConnectionInRoom(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()
	phone := &stubClient{id: "c1", user: "carrier"}
	laptop := &stubClient{id: "c2", user: "carrier"}
	other := &stubClient{id: "c3", user: "shipper"}
	for _, c := range []*stubClient{phone, laptop, other} {
		r.Register(c)
		r.Join(c.id, domain.UserRoom(c.user))
	}

	r.Emit(ctx, domain.UserRoom("carrier"), domain.NewEvent(domain.TypeCallIncoming, nil))

	assert.Equal(t, []domain.EventType{domain.TypeCallIncoming}, phone.received())
	assert.Equal(t, []domain.EventType{domain.TypeCallIncoming}, laptop.received())
	assert.Empty(t, other.received())
	assert.Equal(t, 3, r.Count())
}

func TestJoinIgnoresUnknownConnection(t *testing.T) {
	r := NewRegistry()
	r.Join("ghost", "room")
	assert.False(t, r.InRoom("ghost", "room"))
}

func TestLeaveAndUnregister(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()
	c := &stubClient{id: "c1", user: "carrier"}
	r.Register(c)
	r.Join("c1", "a")
	r.Join("c1", "b")

	r.Leave("c1", "a")
	assert.False(t, r.InRoom("c1", "a"))
	assert.True(t, r.InRoom("c1", "b"))

	r.Unregister(c)
	assert.False(t, r.InRoom("c1", "b"))
	assert.Zero(t, r.Count())

	r.Emit(ctx, "b", domain.NewEvent(domain.TypeNewMessage, nil))
	assert.Empty(t, c.received())

	// A second unregister is a no-op.
	r.Unregister(c)
}

func TestEmitAllSkipsFailingClients(t *testing.T) {
	r := NewRegistry()
	ok := &stubClient{id: "c1", user: "a"}
	bad := &stubClient{id: "c2", user: "b", fail: true}
	r.Register(ok)
	r.Register(bad)

	r.EmitAll(context.Background(), domain.NewEvent(domain.TypeOnlineUsersUpdated, nil))

	require.Len(t, ok.received(), 1)
	assert.Empty(t, bad.received())
}

func TestCloseDropsEverything(t *testing.T) {
	r := NewRegistry()
	c := &stubClient{id: "c1", user: "a"}
	r.Register(c)
	r.Join("c1", "room")

	r.Close()

	assert.True(t, c.closed)
	assert.Zero(t, r.Count())
	assert.False(t, r.InRoom("c1", "room"))
}
