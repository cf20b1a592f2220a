package redis

import (
	"cargolink/internal/core/contracts"
	"cargolink/pkg/logging"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisMessageQueue is a Redis streams outbox with consumer groups.
type RedisMessageQueue struct {
	rdb *redis.Client
}

func NewRedisMessageQueue(rdb *redis.Client) *RedisMessageQueue {
	return &RedisMessageQueue{rdb: rdb}
}

var _ contracts.MessageQueue = (*RedisMessageQueue)(nil)

func (q *RedisMessageQueue) streamKey(topic string) string {
	return "stream:" + topic
}

func (q *RedisMessageQueue) PublishToStream(ctx context.Context, topic string, payload []byte) error {
	return q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.streamKey(topic),
		MaxLen: 1000,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{"data": payload},
	}).Err()
}

func (q *RedisMessageQueue) SubscribeToStream(
	ctx context.Context,
	topic string,
	conGroup string,
	handler func(ctx context.Context, messageID string, data []byte) error,
) error {
	stream := q.streamKey(topic)
	// Create group if not exists
	err := q.rdb.XGroupCreateMkStream(ctx, stream, conGroup, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	consumerName := uuid.NewString()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				// Read new messages (">")
				res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
					Group:    conGroup,
					Consumer: consumerName,
					Streams:  []string{stream, ">"},
					Count:    10,
					Block:    2 * time.Second,
				}).Result()
				if err != nil {
					if errors.Is(err, redis.Nil) || ctx.Err() != nil {
						continue
					}
					slog.Error("Queue - SubscribeToStream - read failed",
						slog.String("topic", topic),
						logging.Err(err),
					)
					time.Sleep(time.Second)
					continue
				}
				for _, s := range res {
					for _, msg := range s.Messages {
						raw, ok := msg.Values["data"].(string)
						if !ok {
							continue
						}
						if err := handler(ctx, msg.ID, []byte(raw)); err != nil {
							slog.Warn("Queue - SubscribeToStream - handler failed",
								slog.String("topic", topic),
								slog.String("stream_id", msg.ID),
								logging.Err(err),
							)
						}
					}
				}
			}
		}
	}()
	return nil
}

func (q *RedisMessageQueue) AcknowledgeMessage(ctx context.Context, topic, conGroup, mesgID string) error {
	return q.rdb.XAck(ctx, q.streamKey(topic), conGroup, mesgID).Err()
}

func (q *RedisMessageQueue) DeleteMessage(ctx context.Context, topic, mesgID string) error {
	return q.rdb.XDel(ctx, q.streamKey(topic), mesgID).Err()
}

func (q *RedisMessageQueue) DeleteStream(ctx context.Context, topic string) error {
	return q.rdb.Del(ctx, q.streamKey(topic)).Err()
}
