package contracts

import (
	"context"
	"time"
)

// MessageQueue is a stream-backed outbox with consumer groups.
type MessageQueue interface {
	// PublishToStream appends payload to the topic stream.
	PublishToStream(ctx context.Context, topic string, payload []byte) error
	// SubscribeToStream reads the topic with the consumer group until ctx is done.
	SubscribeToStream(ctx context.Context, topic string, conGroup string, handler func(ctx context.Context, messageID string, data []byte) error) error
	// AcknowledgeMessage removes the entry from the group's pending list.
	AcknowledgeMessage(ctx context.Context, topic, conGroup, mesgID string) error
	DeleteStream(ctx context.Context, topic string) error
	DeleteMessage(ctx context.Context, topic, mesgID string) error
}

// Task is a background job with a stable type name and an opaque payload.
type Task struct {
	Type    string
	Payload []byte
}

// TaskHandler processes a Task. A non-nil error schedules a retry, so
// handlers must be idempotent.
type TaskHandler func(ctx context.Context, task Task) error

// EnqueueOption controls enqueue behaviour. Zero values mean unspecified.
type EnqueueOption struct {
	Queue     string
	ProcessIn time.Duration
	MaxRetry  int
	// TaskID deduplicates enqueues of the same logical job.
	TaskID string
}

// TaskClient enqueues tasks for background processing.
type TaskClient interface {
	Enqueue(ctx context.Context, t Task, opts ...EnqueueOption) (id string, err error)
	Close() error
}

// TaskServer runs the handlers. Run blocks until ctx is done.
type TaskServer interface {
	Register(taskType string, h TaskHandler)
	Run(ctx context.Context) error
}
