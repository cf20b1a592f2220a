package memory

import (
	"cargolink/internal/core/contracts"
	"cargolink/pkg/logging"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskQueue is an in-process TaskClient and TaskServer pair: a buffered
// channel drained by a fixed worker pool with bounded retries.
type TaskQueue struct {
	mu       sync.RWMutex
	handlers map[string]contracts.TaskHandler
	jobs     chan job
	workers  int
	maxRetry int
	backoff  time.Duration
	wg       sync.WaitGroup
	done     chan struct{}
	once     sync.Once
}

type job struct {
	id      string
	task    contracts.Task
	attempt int
	retries int
}

func NewTaskQueue(workers, buffer, maxRetry int) *TaskQueue {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = 1024
	}
	return &TaskQueue{
		handlers: make(map[string]contracts.TaskHandler),
		jobs:     make(chan job, buffer),
		workers:  workers,
		maxRetry: maxRetry,
		backoff:  200 * time.Millisecond,
		done:     make(chan struct{}),
	}
}

var (
	_ contracts.TaskClient = (*TaskQueue)(nil)
	_ contracts.TaskServer = (*TaskQueue)(nil)
)

var (
	ErrQueueClosed = errors.New("memory: task queue closed")
	ErrQueueFull   = errors.New("memory: task queue full")
)

// Enqueue never blocks: a full buffer fails fast with ErrQueueFull so the
// caller can fall back.

func (q *TaskQueue) Enqueue(ctx context.Context, t contracts.Task, opts ...contracts.EnqueueOption) (string, error) {
	if t.Type == "" {
		return "", errors.New("memory: task type is required")
	}
	j := job{id: uuid.NewString(), task: t, retries: q.maxRetry}
	var delay time.Duration
	for _, op := range opts {
		if op.TaskID != "" {
			j.id = op.TaskID
		}
		if op.MaxRetry > 0 {
			j.retries = op.MaxRetry
		}
		if op.ProcessIn > 0 {
			delay = op.ProcessIn
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	select {
	case <-q.done:
		return "", ErrQueueClosed
	default:
	}
	if delay > 0 {
		time.AfterFunc(delay, func() { q.push(j) })
		return j.id, nil
	}
	select {
	case q.jobs <- j:
		return j.id, nil
	default:
		return "", ErrQueueFull
	}
}

// push waits for buffer space so accepted tasks are never dropped. It runs
// on a timer goroutine and gives up only when the queue closes.
func (q *TaskQueue) push(j job) {
	select {
	case q.jobs <- j:
	case <-q.done:
		slog.Warn("TaskQueue - push - queue closed, task abandoned",
			slog.String("task_type", j.task.Type),
			slog.String("task_id", j.id),
		)
	}
}

func (q *TaskQueue) Register(taskType string, h contracts.TaskHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[taskType] = h
}

// Run starts the worker pool and blocks until ctx is done and in flight
// tasks finish.
func (q *TaskQueue) Run(ctx context.Context) error {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(ctx)
	}
	<-ctx.Done()
	q.wg.Wait()
	return nil
}

func (q *TaskQueue) work(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-q.jobs:
			q.process(ctx, j)
		}
	}
}

func (q *TaskQueue) process(ctx context.Context, j job) {
	q.mu.RLock()
	h, ok := q.handlers[j.task.Type]
	q.mu.RUnlock()
	if !ok {
		slog.Error("TaskQueue - process - no handler", slog.String("task_type", j.task.Type))
		return
	}
	err := h(ctx, j.task)
	if err == nil {
		return
	}
	if j.attempt >= j.retries {
		slog.Error("TaskQueue - process - retries exhausted",
			slog.String("task_type", j.task.Type),
			slog.String("task_id", j.id),
			logging.Err(err),
		)
		return
	}
	j.attempt++
	slog.Warn("TaskQueue - process - retrying",
		slog.String("task_type", j.task.Type),
		slog.Int("attempt", j.attempt),
		logging.Err(err),
	)
	time.AfterFunc(q.backoff*time.Duration(j.attempt), func() { q.push(j) })
}

// Close rejects new tasks. Pending ones are dropped when Run returns.
func (q *TaskQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}
