package redis

import (
	"cargolink/internal/core/contracts"
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	onlineKey     = "presence:online"
	lastOnlineKey = "presence:last_online"
)

func sessionsKey(userID string) string {
	return "presence:sessions:" + userID
}

// Both scripts keep the session set and the online set consistent across
// replicas sharing one Redis.
var addSessionScript = redis.NewScript(`
local added = redis.call('SADD', KEYS[1], ARGV[1])
local n = redis.call('SCARD', KEYS[1])
redis.call('SADD', KEYS[2], ARGV[2])
if added == 1 and n == 1 then
	return 1
end
return 0
`)

var removeSessionScript = redis.NewScript(`
local removed = redis.call('SREM', KEYS[1], ARGV[1])
if removed == 0 then
	return 0
end
if redis.call('SCARD', KEYS[1]) == 0 then
	redis.call('SREM', KEYS[2], ARGV[2])
	redis.call('HSET', KEYS[3], ARGV[2], ARGV[3])
	return 1
end
return 0
`)

type RedisPresenceStore struct {
	rdb *redis.Client
}

func NewRedisPresenceStore(rdb *redis.Client) *RedisPresenceStore {
	return &RedisPresenceStore{
		rdb: rdb,
	}
}

var _ contracts.PresenceStore = (*RedisPresenceStore)(nil)

func (p *RedisPresenceStore) AddSession(ctx context.Context, userID, sessionID string) (bool, error) {
	n, err := addSessionScript.Run(ctx, p.rdb,
		[]string{sessionsKey(userID), onlineKey},
		sessionID, userID,
	).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *RedisPresenceStore) RemoveSession(ctx context.Context, userID, sessionID string) (bool, error) {
	now := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	n, err := removeSessionScript.Run(ctx, p.rdb,
		[]string{sessionsKey(userID), onlineKey, lastOnlineKey},
		sessionID, userID, now,
	).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *RedisPresenceStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	return p.rdb.SIsMember(ctx, onlineKey, userID).Result()
}

func (p *RedisPresenceStore) OnlineUserIDs(ctx context.Context) ([]string, error) {
	return p.rdb.SMembers(ctx, onlineKey).Result()
}

func (p *RedisPresenceStore) LastOnline(ctx context.Context, userID string) (time.Time, error) {
	raw, err := p.rdb.HGet(ctx, lastOnlineKey, userID).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
