package redis

import (
	"cargolink/internal/config"
	"cargolink/internal/core/contracts"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := NewRedisClient(context.Background(), config.RedisConfig{
		URL:         "redis://" + mr.Addr(),
		DialTimeout: time.Second,
		PoolSize:    4,
		PingTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestNewRedisClientFailsFast(t *testing.T) {
	_, err := NewRedisClient(context.Background(), config.RedisConfig{URL: "://bad"})
	assert.Error(t, err)
}

func TestPresenceSessions(t *testing.T) {
	_, rdb := newTestClient(t)
	ctx := context.Background()
	p := NewRedisPresenceStore(rdb)

	became, err := p.AddSession(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.True(t, became)

	became, err = p.AddSession(ctx, "u1", "s2")
	require.NoError(t, err)
	assert.False(t, became, "second session")

	became, err = p.AddSession(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.False(t, became, "re-adding is not a transition")

	online, err := p.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, online)

	became, err = p.RemoveSession(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.False(t, became)

	became, err = p.RemoveSession(ctx, "u1", "s2")
	require.NoError(t, err)
	assert.True(t, became)

	became, err = p.RemoveSession(ctx, "u1", "s2")
	require.NoError(t, err)
	assert.False(t, became, "unknown session")

	online, err = p.IsOnline(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, online)

	last, err := p.LastOnline(ctx, "u1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), last, 5*time.Second)

	never, err := p.LastOnline(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, never.IsZero())
}

func TestPresenceOnlineUserIDs(t *testing.T) {
	_, rdb := newTestClient(t)
	ctx := context.Background()
	p := NewRedisPresenceStore(rdb)
	for _, u := range []string{"a", "b", "c"} {
		_, err := p.AddSession(ctx, u, u+"-conn")
		require.NoError(t, err)
	}
	ids, err := p.OnlineUserIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids)
}

func TestCache(t *testing.T) {
	mr, rdb := newTestClient(t)
	ctx := context.Background()
	c := NewRedisCache(rdb)

	_, err := c.Get(ctx, "profile:u1")
	assert.ErrorIs(t, err, contracts.ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "profile:u1", `{"id":"u1"}`, time.Minute))
	v, err := c.Get(ctx, "profile:u1")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"u1"}`, v)

	mr.FastForward(2 * time.Minute)
	_, err = c.Get(ctx, "profile:u1")
	assert.ErrorIs(t, err, contracts.ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	n, err := c.Del(ctx, "k", "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.Del(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, c.Ping(ctx))
}

func TestStreamQueue(t *testing.T) {
	mr, rdb := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewRedisMessageQueue(rdb)

	type entry struct {
		id   string
		data string
	}
	got := make(chan entry, 4)
	require.NoError(t, q.SubscribeToStream(ctx, "push", "workers", func(ctx context.Context, id string, data []byte) error {
		got <- entry{id, string(data)}
		return q.AcknowledgeMessage(ctx, "push", "workers", id)
	}))

	require.NoError(t, q.PublishToStream(ctx, "push", []byte(`{"userIds":["u1"]}`)))

	select {
	case e := <-got:
		assert.Equal(t, `{"userIds":["u1"]}`, e.data)
		require.NoError(t, q.DeleteMessage(ctx, "push", e.id))
	case <-time.After(5 * time.Second):
		t.Fatal("stream entry not consumed")
	}
	assert.True(t, mr.Exists("stream:push"))

	require.NoError(t, q.DeleteStream(ctx, "push"))
	assert.False(t, mr.Exists("stream:push"))
}
