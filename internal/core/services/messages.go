package services

import (
	"cargolink/internal/core/contracts"
	"cargolink/internal/core/domain"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	TaskStatusFanout = "message:status_fanout"
	StatusQueue      = "status"

	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// StatusFanout is the background task that creates the non-sender status
// rows of one message.
type StatusFanout struct {
	MessageID      uuid.UUID         `json:"messageId"`
	ConversationID uuid.UUID         `json:"conversationId"`
	Recipients     []StatusRecipient `json:"recipients"`
	At             time.Time         `json:"at"`
}

type StatusRecipient struct {
	UserID    string `json:"userId"`
	Delivered bool   `json:"delivered"`
}

type MessageService struct {
	tx          contracts.Transactor
	repos       Repositories
	presence    *PresenceService
	profiles    *ProfileService
	registry    contracts.Registry
	tasks       contracts.TaskClient
	outbox      contracts.MessageQueue
	pushTopic   string
	statusRetry int // redeliveries of a status fan-out task
	counters    *counters
	log         *slog.Logger
}

func NewMessageService(
	log *slog.Logger,
	tx contracts.Transactor,
	repos Repositories,
	presence *PresenceService,
	profiles *ProfileService,
	registry contracts.Registry,
	tasks contracts.TaskClient,
	outbox contracts.MessageQueue,
	pushTopic string,
	statusRetry int,
) *MessageService {
	return &MessageService{
		log:         log,
		tx:          tx,
		repos:       repos,
		presence:    presence,
		profiles:    profiles,
		registry:    registry,
		tasks:       tasks,
		outbox:      outbox,
		pushTopic:   pushTopic,
		statusRetry: statusRetry,
		counters:    newCounters(),
	}
}

func validateContent(t domain.MessageType, content string, file *domain.FileFields) error {
	if !t.Valid() || t == domain.MessageTypeSystem {
		return domain.ErrInvalidMessageType
	}
	switch t {
	case domain.MessageTypeText:
		if strings.TrimSpace(content) == "" {
			return domain.ErrEmptyMessage
		}
	case domain.MessageTypeFile, domain.MessageTypeImage:
		if file == nil || file.URL == "" {
			return fmt.Errorf("%w: %s message needs a file url", domain.ErrEmptyMessage, t)
		}
	}
	return nil
}

// Send persists a message, fans it out to every active participant and
// schedules the status rows of the other participants.
func (m *MessageService) Send(ctx context.Context, senderID string, in domain.SendMessage) (*domain.Message, error) {
	ctx, span := tracer.Start(ctx, "MessageService.Send", trace.WithAttributes(
		attribute.String("user_id", senderID),
		attribute.String("conv_id", in.ConversationID.String()),
	))
	defer span.End()
	if in.Type == "" {
		in.Type = domain.MessageTypeText
	}
	if err := validateContent(in.Type, in.Content, in.File); err != nil {
		fail(span, err, "invalid message")
		return nil, err
	}
	sender, err := m.repos.Participants.GetParticipant(ctx, in.ConversationID, senderID)
	if err != nil {
		if errors.Is(err, domain.ErrParticipantNotFound) {
			err = domain.ErrNotParticipant
		}
		fail(span, err, "participant check failed")
		return nil, err
	}
	if !sender.IsActive() {
		fail(span, domain.ErrNotParticipant, "participant left")
		return nil, domain.ErrNotParticipant
	}
	if !sender.CanSend() {
		fail(span, domain.ErrViewerCannotSend, "viewer")
		return nil, domain.ErrViewerCannotSend
	}
	if in.ReplyToMessageID != nil {
		target, err := m.repos.Messages.GetMessageByID(ctx, *in.ReplyToMessageID)
		if err != nil && !errors.Is(err, domain.ErrMessageNotFound) {
			fail(span, err, "reply lookup failed")
			return nil, err
		}
		if target == nil || target.ConversationID != in.ConversationID {
			fail(span, domain.ErrReplyOutside, "reply outside conversation")
			return nil, domain.ErrReplyOutside
		}
	}
	now := time.Now().UTC()
	msg := &domain.Message{
		ID:               uuid.New(),
		ConversationID:   in.ConversationID,
		SenderID:         senderID,
		Content:          in.Content,
		Type:             in.Type,
		File:             in.File,
		ReplyToMessageID: in.ReplyToMessageID,
		SentAt:           now,
	}
	if err := m.tx.WithTx(ctx, func(txCtx context.Context) error {
		if err := m.repos.Messages.CreateMessage(txCtx, msg); err != nil {
			return err
		}
		if err := m.repos.Conversations.UpdateLastMessage(txCtx, msg.ConversationID, msg.ID, msg.SentAt); err != nil {
			return err
		}
		return m.repos.Statuses.UpsertStatuses(txCtx, []domain.MessageStatus{{
			MessageID:   msg.ID,
			UserID:      senderID,
			IsDelivered: true,
			DeliveredAt: &now,
			IsRead:      true,
			ReadAt:      &now,
		}})
	}); err != nil {
		fail(span, err, "transaction failed")
		m.log.ErrorContext(ctx, "messages - send - persist failed", "conv_id", msg.ConversationID.String(), "user_id", senderID, "err", err)
		return nil, err
	}
	m.log.InfoContext(ctx, "messages - send - persisted", "conv_id", msg.ConversationID.String(), "message_id", msg.ID.String())
	add(ctx, m.counters.messagesSent, 1, attribute.String("type", string(msg.Type)))

	active, err := m.repos.Participants.ListActive(ctx, msg.ConversationID)
	if err != nil {
		// The message is committed; the sender still gets it back.
		fail(span, err, "list participants failed")
		m.log.ErrorContext(ctx, "messages - send - list participants failed", "conv_id", msg.ConversationID.String(), "err", err)
		return msg, nil
	}
	ev := domain.NewEvent(domain.TypeNewMessage, msg)
	task := StatusFanout{MessageID: msg.ID, ConversationID: msg.ConversationID, At: now}
	var online, offline []string
	for _, p := range active {
		m.registry.Emit(ctx, domain.UserRoom(p.UserID), ev)
		if p.UserID == senderID {
			continue
		}
		isOnline := m.presence.IsOnline(ctx, p.UserID)
		task.Recipients = append(task.Recipients, StatusRecipient{UserID: p.UserID, Delivered: isOnline})
		if isOnline {
			online = append(online, p.UserID)
		} else {
			offline = append(offline, p.UserID)
		}
	}
	m.scheduleStatuses(ctx, task)
	for _, uid := range online {
		m.registry.Emit(ctx, domain.UserRoom(senderID), domain.NewEvent(domain.TypeMessageDelivered, domain.MessageDeliveredPayload{
			ConversationID:    msg.ConversationID,
			MessageID:         msg.ID,
			DeliveredToUserID: uid,
			DeliveredAt:       now,
		}))
	}
	m.notifyOffline(ctx, msg, offline)
	span.SetAttributes(attribute.Int("recipients", len(task.Recipients)), attribute.Int("online", len(online)))
	return msg, nil
}

// scheduleStatuses hands the status rows to the task queue. When enqueueing
// fails the rows are written in-line so that none is lost.
func (m *MessageService) scheduleStatuses(ctx context.Context, task StatusFanout) {
	if len(task.Recipients) == 0 {
		return
	}
	payload, err := json.Marshal(task)
	if err == nil {
		_, err = m.tasks.Enqueue(ctx, contracts.Task{Type: TaskStatusFanout, Payload: payload}, contracts.EnqueueOption{
			Queue:    StatusQueue,
			TaskID:   "status:" + task.MessageID.String(),
			MaxRetry: m.statusRetry,
		})
	}
	if err == nil {
		return
	}
	m.log.WarnContext(ctx, "messages - schedule statuses - enqueue failed, writing in-line", "message_id", task.MessageID.String(), "err", err)
	if err := m.ApplyStatusFanout(context.WithoutCancel(ctx), task); err != nil {
		m.log.ErrorContext(ctx, "messages - schedule statuses - in-line write failed", "message_id", task.MessageID.String(), "err", err)
	}
}

// ApplyStatusFanout upserts the rows of task. Safe to retry.
func (m *MessageService) ApplyStatusFanout(ctx context.Context, task StatusFanout) error {
	ctx, span := tracer.Start(ctx, "MessageService.ApplyStatusFanout", trace.WithAttributes(
		attribute.String("message_id", task.MessageID.String()),
	))
	defer span.End()
	rows := make([]domain.MessageStatus, 0, len(task.Recipients))
	for _, r := range task.Recipients {
		row := domain.MessageStatus{MessageID: task.MessageID, UserID: r.UserID}
		if r.Delivered {
			at := task.At
			row.IsDelivered = true
			row.DeliveredAt = &at
		}
		rows = append(rows, row)
	}
	if err := m.tx.WithTx(ctx, func(txCtx context.Context) error {
		return m.repos.Statuses.UpsertStatuses(txCtx, rows)
	}); err != nil {
		fail(span, err, "upsert failed")
		return err
	}
	return nil
}

func (m *MessageService) notifyOffline(ctx context.Context, msg *domain.Message, userIDs []string) {
	if len(userIDs) == 0 || m.outbox == nil {
		return
	}
	body := msg.Content
	if msg.Type != domain.MessageTypeText {
		body = "Sent a " + string(msg.Type)
	}
	n := domain.PushNotification{
		UserIDs:        userIDs,
		Title:          m.profiles.DisplayName(ctx, msg.SenderID),
		Body:           body,
		ConversationID: msg.ConversationID.String(),
		Data: map[string]string{
			"type":      string(domain.TypeNewMessage),
			"messageId": msg.ID.String(),
		},
	}
	m.enqueuePush(ctx, n)
}

// enqueuePush is best-effort.
func (m *MessageService) enqueuePush(ctx context.Context, n domain.PushNotification) {
	if m.outbox == nil {
		return
	}
	raw, err := json.Marshal(n)
	if err != nil {
		return
	}
	if err := m.outbox.PublishToStream(ctx, m.pushTopic, raw); err != nil {
		m.log.WarnContext(ctx, "messages - push - publish failed", "conv_id", n.ConversationID, "err", err)
	}
}

// ConfirmPendingDeliveries flips the user's undelivered rows and tells each
// sender. Runs on every (re)connect.
func (m *MessageService) ConfirmPendingDeliveries(ctx context.Context, userID string) (int, error) {
	ctx, span := tracer.Start(ctx, "MessageService.ConfirmPendingDeliveries", trace.WithAttributes(
		attribute.String("user_id", userID),
	))
	defer span.End()
	now := time.Now().UTC()
	var deliveries []domain.Delivery
	if err := m.tx.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		deliveries, err = m.repos.Statuses.ConfirmPending(txCtx, userID, now)
		return err
	}); err != nil {
		fail(span, err, "confirm pending failed")
		m.log.ErrorContext(ctx, "messages - confirm pending - failed", "user_id", userID, "err", err)
		return 0, err
	}
	for _, d := range deliveries {
		m.registry.Emit(ctx, domain.UserRoom(d.SenderID), domain.NewEvent(domain.TypeMessageDelivered, domain.MessageDeliveredPayload{
			ConversationID:    d.ConversationID,
			MessageID:         d.MessageID,
			DeliveredToUserID: userID,
			DeliveredAt:       now,
		}))
	}
	if len(deliveries) > 0 {
		m.log.InfoContext(ctx, "messages - confirm pending - delivered", "user_id", userID, "count", len(deliveries))
	}
	return len(deliveries), nil
}

// MarkRead flips the user's unread rows in the conversation. Nothing is
// emitted when there is nothing to read.
func (m *MessageService) MarkRead(ctx context.Context, convID uuid.UUID, userID string) ([]uuid.UUID, error) {
	ctx, span := tracer.Start(ctx, "MessageService.MarkRead", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("conv_id", convID.String()),
	))
	defer span.End()
	if _, err := requireActive(ctx, m.repos.Participants, convID, userID); err != nil {
		fail(span, err, "not a participant")
		return nil, err
	}
	now := time.Now().UTC()
	var ids []uuid.UUID
	if err := m.tx.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		ids, err = m.repos.Statuses.MarkRead(txCtx, convID, userID, now)
		return err
	}); err != nil {
		fail(span, err, "mark read failed")
		m.log.ErrorContext(ctx, "messages - mark read - failed", "conv_id", convID.String(), "user_id", userID, "err", err)
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	add(ctx, m.counters.readReceipts, int64(len(ids)))
	ev := domain.NewEvent(domain.TypeMessagesRead, domain.MessagesReadPayload{
		ConversationID: convID,
		ReadByUserID:   userID,
		ReadAt:         now,
		MessageIDs:     ids,
	})
	m.broadcastConversation(ctx, convID, ev)
	return ids, nil
}

// broadcastConversation emits to the conversation room and to every active
// participant's personal room.
func (m *MessageService) broadcastConversation(ctx context.Context, convID uuid.UUID, ev domain.Event) {
	m.registry.Emit(ctx, domain.ConversationRoom(convID), ev)
	active, err := m.repos.Participants.ListActive(ctx, convID)
	if err != nil {
		m.log.ErrorContext(ctx, "messages - broadcast - list participants failed", "conv_id", convID.String(), "err", err)
		return
	}
	for _, p := range active {
		m.registry.Emit(ctx, domain.UserRoom(p.UserID), ev)
	}
}

// ownMessage locks a message the user is allowed to mutate. Callers run it
// inside a transaction so an edit cannot undo a concurrent delete.
func (m *MessageService) ownMessage(ctx context.Context, msgID uuid.UUID, userID string) (*domain.Message, error) {
	msg, err := m.repos.Messages.LockMessage(ctx, msgID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID {
		return nil, domain.ErrNotMessageSender
	}
	if msg.IsDeleted {
		return nil, domain.ErrMessageDeleted
	}
	return msg, nil
}

func (m *MessageService) Update(ctx context.Context, userID string, in domain.EditMessage) (*domain.Message, error) {
	ctx, span := tracer.Start(ctx, "MessageService.Update", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("message_id", in.MessageID.String()),
	))
	defer span.End()
	var msg *domain.Message
	if err := m.tx.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		if msg, err = m.ownMessage(txCtx, in.MessageID, userID); err != nil {
			return err
		}
		if in.Content != nil {
			msg.Content = *in.Content
		}
		if in.Type != nil {
			msg.Type = *in.Type
		}
		if in.File != nil {
			msg.File = in.File
		}
		if err := validateContent(msg.Type, msg.Content, msg.File); err != nil {
			return err
		}
		now := time.Now().UTC()
		msg.IsEdited = true
		msg.EditedAt = &now
		return m.repos.Messages.UpdateMessage(txCtx, msg)
	}); err != nil {
		fail(span, err, "update failed")
		return nil, err
	}
	m.broadcastConversation(ctx, msg.ConversationID, domain.NewEvent(domain.TypeMessageUpdated, msg))
	return msg, nil
}

// Delete is a soft delete; content is kept for audit.
func (m *MessageService) Delete(ctx context.Context, userID string, msgID uuid.UUID) (*domain.Message, error) {
	ctx, span := tracer.Start(ctx, "MessageService.Delete", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("message_id", msgID.String()),
	))
	defer span.End()
	var msg *domain.Message
	if err := m.tx.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		if msg, err = m.ownMessage(txCtx, msgID, userID); err != nil {
			return err
		}
		now := time.Now().UTC()
		msg.IsDeleted = true
		msg.DeletedAt = &now
		return m.repos.Messages.UpdateMessage(txCtx, msg)
	}); err != nil {
		fail(span, err, "delete failed")
		return nil, err
	}
	m.broadcastConversation(ctx, msg.ConversationID, domain.NewEvent(domain.TypeMessageDeleted, msg))
	return msg, nil
}

// History pages backwards through a conversation, newest first.
func (m *MessageService) History(ctx context.Context, userID string, convID uuid.UUID, before *time.Time, limit int) ([]domain.Message, error) {
	ctx, span := tracer.Start(ctx, "MessageService.History", trace.WithAttributes(
		attribute.String("conv_id", convID.String()),
	))
	defer span.End()
	if _, err := requireActive(ctx, m.repos.Participants, convID, userID); err != nil {
		fail(span, err, "not a participant")
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	msgs, err := m.repos.Messages.ListMessages(ctx, convID, before, limit)
	if err != nil {
		fail(span, err, "db read failed")
		m.log.ErrorContext(ctx, "messages - history - list failed", "conv_id", convID.String(), "err", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("message_count", len(msgs)))
	return msgs, nil
}

// PostSystemMessage appends an audit line to the conversation. Failures are
// logged and never returned.
func (m *MessageService) PostSystemMessage(ctx context.Context, convID uuid.UUID, actorID, content string, metadata map[string]any) {
	now := time.Now().UTC()
	msg := &domain.Message{
		ID:             uuid.New(),
		ConversationID: convID,
		SenderID:       actorID,
		Content:        content,
		Type:           domain.MessageTypeSystem,
		SentAt:         now,
	}
	if err := m.tx.WithTx(ctx, func(txCtx context.Context) error {
		if err := m.repos.Messages.CreateMessage(txCtx, msg); err != nil {
			return err
		}
		return m.repos.Conversations.UpdateLastMessage(txCtx, convID, msg.ID, now)
	}); err != nil {
		m.log.WarnContext(ctx, "messages - system message - persist failed", "conv_id", convID.String(), "err", err)
		return
	}
	m.broadcastConversation(ctx, convID, domain.NewEvent(domain.TypeSystemMessage, domain.SystemMessagePayload{
		ConversationID: convID,
		Message:        *msg,
		Metadata:       metadata,
	}))
}
