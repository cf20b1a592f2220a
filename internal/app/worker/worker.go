package worker

import (
	"cargolink/internal/core/contracts"
	"cargolink/internal/core/domain"
	"cargolink/internal/core/services"
	"cargolink/pkg/logging"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// StatusWorker creates MessageStatus rows off the request path.
type StatusWorker struct {
	log      *slog.Logger
	messages *services.MessageService
}

func NewStatusWorker(log *slog.Logger, messages *services.MessageService) *StatusWorker {
	return &StatusWorker{log: log, messages: messages}
}

// Register binds the handler to the task server.
func (w *StatusWorker) Register(srv contracts.TaskServer) {
	srv.Register(services.TaskStatusFanout, w.Process)
}

func (w *StatusWorker) Process(ctx context.Context, task contracts.Task) error {
	var payload services.StatusFanout
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		w.log.ErrorContext(ctx, "worker - status fanout - wrong payload", "err", err)
		// Retrying a malformed payload cannot succeed.
		return nil
	}
	if err := w.messages.ApplyStatusFanout(ctx, payload); err != nil {
		w.log.ErrorContext(ctx, "worker - status fanout - apply failed", logging.Message(payload.MessageID.String()), logging.Err(err))
		return err
	}
	w.log.DebugContext(ctx, "worker - status fanout - applied", logging.Message(payload.MessageID.String()), "rows", len(payload.Recipients))
	return nil
}

// PushWorker drains the push outbox stream into the device push provider.
type PushWorker struct {
	log      *slog.Logger
	queue    contracts.MessageQueue
	pusher   contracts.Pusher
	topic    string
	conGroup string
}

func NewPushWorker(
	log *slog.Logger,
	queue contracts.MessageQueue,
	pusher contracts.Pusher,
	topic, conGroup string,
) *PushWorker {
	return &PushWorker{
		log:      log,
		queue:    queue,
		pusher:   pusher,
		topic:    topic,
		conGroup: conGroup,
	}
}

func (w *PushWorker) Run(ctx context.Context) error {
	if err := w.queue.SubscribeToStream(ctx, w.topic, w.conGroup, w.ProcessMessage); err != nil {
		w.log.ErrorContext(ctx, "worker - push - subscribe failed", "topic", w.topic, "err", err)
		return err
	}
	w.log.InfoContext(ctx, "worker - push - subscribe to stream success", "topic", w.topic, "group", w.conGroup)
	return nil
}

// ProcessMessage delivers one notification. Push is best-effort: a failed
// delivery is logged and the entry is still acknowledged.
func (w *PushWorker) ProcessMessage(ctx context.Context, messageID string, raw []byte) error {
	var n domain.PushNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		w.log.ErrorContext(ctx, "worker - push - wrong payload", "stream_id", messageID, "err", err)
	} else if err := w.pusher.Push(ctx, n); err != nil {
		w.log.WarnContext(ctx, "worker - push - delivery failed", "stream_id", messageID, "conv_id", n.ConversationID, logging.Err(err))
	}
	if err := w.queue.AcknowledgeMessage(ctx, w.topic, w.conGroup, messageID); err != nil {
		return fmt.Errorf("acknowledge %s: %w", messageID, err)
	}
	// The entry is already acknowledged; a failed delete only costs memory.
	if err := w.queue.DeleteMessage(ctx, w.topic, messageID); err != nil {
		w.log.WarnContext(ctx, "worker - push - delete message failed", "stream_id", messageID, "err", err)
	}
	return nil
}

// ProfileWorker drops cached profile summaries when the profile owner
// announces a change, so presence snapshots do not wait for the TTL.
type ProfileWorker struct {
	log      *slog.Logger
	queue    contracts.MessageQueue
	profiles *services.ProfileService
	topic    string
	conGroup string
}

func NewProfileWorker(
	log *slog.Logger,
	queue contracts.MessageQueue,
	profiles *services.ProfileService,
	topic, conGroup string,
) *ProfileWorker {
	return &ProfileWorker{
		log:      log,
		queue:    queue,
		profiles: profiles,
		topic:    topic,
		conGroup: conGroup,
	}
}

func (w *ProfileWorker) Run(ctx context.Context) error {
	if err := w.queue.SubscribeToStream(ctx, w.topic, w.conGroup, w.ProcessMessage); err != nil {
		w.log.ErrorContext(ctx, "worker - profile - subscribe failed", "topic", w.topic, logging.Err(err))
		return err
	}
	w.log.InfoContext(ctx, "worker - profile - subscribe to stream success", "topic", w.topic, "group", w.conGroup)
	return nil
}

// ProcessMessage invalidates one user's cache entry. A failed invalidation
// stays unacknowledged in the group's pending list; the TTL still bounds
// how long the stale entry lives.
func (w *ProfileWorker) ProcessMessage(ctx context.Context, messageID string, raw []byte) error {
	var ev domain.ProfileChanged
	if err := json.Unmarshal(raw, &ev); err != nil || ev.UserID == "" {
		w.log.ErrorContext(ctx, "worker - profile - wrong payload", "stream_id", messageID, logging.Err(err))
	} else if err := w.profiles.Invalidate(ctx, ev.UserID); err != nil {
		w.log.WarnContext(ctx, "worker - profile - invalidate failed", "stream_id", messageID, logging.User(ev.UserID), logging.Err(err))
		return err
	}
	if err := w.queue.AcknowledgeMessage(ctx, w.topic, w.conGroup, messageID); err != nil {
		return fmt.Errorf("acknowledge %s: %w", messageID, err)
	}
	return nil
}
