package tasks

import (
	"cargolink/internal/config"
	"cargolink/internal/core/contracts"
	"cargolink/pkg/logging"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// AsynqClient enqueues tasks into Redis through asynq.
type AsynqClient struct {
	client *asynq.Client
}

func NewAsynqClient(redisURL string) (*AsynqClient, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	return &AsynqClient{client: asynq.NewClient(opt)}, nil
}

var _ contracts.TaskClient = (*AsynqClient)(nil)

func (a *AsynqClient) Enqueue(ctx context.Context, t contracts.Task, opts ...contracts.EnqueueOption) (string, error) {
	if t.Type == "" {
		return "", errors.New("asynq: task type is required")
	}
	var asynqOpts []asynq.Option
	for _, op := range opts {
		if op.Queue != "" {
			asynqOpts = append(asynqOpts, asynq.Queue(op.Queue))
		}
		if op.ProcessIn > 0 {
			asynqOpts = append(asynqOpts, asynq.ProcessIn(op.ProcessIn))
		}
		if op.MaxRetry > 0 {
			asynqOpts = append(asynqOpts, asynq.MaxRetry(op.MaxRetry))
		}
		if op.TaskID != "" {
			asynqOpts = append(asynqOpts, asynq.TaskID(op.TaskID))
		}
	}
	info, err := a.client.EnqueueContext(ctx, asynq.NewTask(t.Type, t.Payload), asynqOpts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		// Already queued under the same id.
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

func (a *AsynqClient) Close() error {
	return a.client.Close()
}

// AsynqServer runs registered handlers on asynq workers.
type AsynqServer struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewAsynqServer(redisURL string, cfg config.AsynqConfig) (*AsynqServer, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	queues := cfg.Queues
	if len(queues) == 0 {
		queues = map[string]int{"default": 1}
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      queues,
		Logger:      slogAdapter{},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			slog.Warn("Asynq - task failed",
				slog.String("task_type", task.Type()),
				logging.Err(err),
			)
		}),
	})
	return &AsynqServer{server: srv, mux: asynq.NewServeMux()}, nil
}

var _ contracts.TaskServer = (*AsynqServer)(nil)

func (s *AsynqServer) Register(taskType string, h contracts.TaskHandler) {
	s.mux.HandleFunc(taskType, func(ctx context.Context, t *asynq.Task) error {
		return h(ctx, contracts.Task{Type: t.Type(), Payload: t.Payload()})
	})
}

// Run starts the workers and blocks until ctx is canceled.
func (s *AsynqServer) Run(ctx context.Context) error {
	if err := s.server.Start(s.mux); err != nil {
		return err
	}
	<-ctx.Done()
	s.server.Shutdown()
	return nil
}

// slogAdapter routes asynq's internal logging through slog.
type slogAdapter struct{}

func (slogAdapter) Debug(args ...any) { slog.Debug(fmt.Sprint(args...), slog.String("component", "asynq")) }
func (slogAdapter) Info(args ...any)  { slog.Info(fmt.Sprint(args...), slog.String("component", "asynq")) }
func (slogAdapter) Warn(args ...any)  { slog.Warn(fmt.Sprint(args...), slog.String("component", "asynq")) }
func (slogAdapter) Error(args ...any) { slog.Error(fmt.Sprint(args...), slog.String("component", "asynq")) }
func (slogAdapter) Fatal(args ...any) { slog.Error(fmt.Sprint(args...), slog.String("component", "asynq")) }
