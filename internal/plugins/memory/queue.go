package memory

import (
	"cargolink/internal/core/contracts"
	"cargolink/pkg/logging"
	"context"
	"log/slog"
	"strconv"
	"sync"
)

// MessageQueue is a channel backed stand-in for the Redis stream outbox.
// Each topic delivers every entry to one consumer per group.
type MessageQueue struct {
	mu     sync.Mutex
	seq    int64
	topics map[string]chan streamEntry
}

type streamEntry struct {
	id   string
	data []byte
}

func NewMessageQueue() *MessageQueue {
	return &MessageQueue{topics: make(map[string]chan streamEntry)}
}

var _ contracts.MessageQueue = (*MessageQueue)(nil)

func (q *MessageQueue) topic(name string) chan streamEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.topics[name]
	if !ok {
		ch = make(chan streamEntry, 1024)
		q.topics[name] = ch
	}
	return ch
}

func (q *MessageQueue) PublishToStream(ctx context.Context, topic string, payload []byte) error {
	q.mu.Lock()
	q.seq++
	id := strconv.FormatInt(q.seq, 10) + "-0"
	q.mu.Unlock()
	select {
	case q.topic(topic) <- streamEntry{id: id, data: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MessageQueue) SubscribeToStream(
	ctx context.Context,
	topic string,
	conGroup string,
	handler func(ctx context.Context, messageID string, data []byte) error,
) error {
	ch := q.topic(topic)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-ch:
				if err := handler(ctx, e.id, e.data); err != nil {
					slog.Warn("MemoryQueue - SubscribeToStream - handler failed",
						slog.String("topic", topic),
						slog.String("stream_id", e.id),
						logging.Err(err),
					)
				}
			}
		}
	}()
	return nil
}

func (q *MessageQueue) AcknowledgeMessage(ctx context.Context, topic, conGroup, mesgID string) error {
	return nil
}

func (q *MessageQueue) DeleteMessage(ctx context.Context, topic, mesgID string) error {
	return nil
}

func (q *MessageQueue) DeleteStream(ctx context.Context, topic string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.topics, topic)
	return nil
}
