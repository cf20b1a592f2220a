package services

import (
	"cargolink/internal/core/contracts"
	"cargolink/internal/core/domain"
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ManagerService dispatches decoded client events to the core services.
type ManagerService struct {
	rooms    *RoomService
	messages *MessageService
	calls    *CallService
	log      *slog.Logger
}

func NewManagerService(
	log *slog.Logger,
	rooms *RoomService,
	messages *MessageService,
	calls *CallService,
) *ManagerService {
	return &ManagerService{
		log:      log,
		rooms:    rooms,
		messages: messages,
		calls:    calls,
	}
}

// HandleMessage decodes one inbound frame and runs it. The returned event
// type is empty when the frame could not be decoded.
func (m *ManagerService) HandleMessage(
	ctx context.Context,
	client contracts.Client,
	raw []byte,
) (domain.EventType, error) {
	ctx, span := tracer.Start(ctx, "ManagerService.HandleMessage", trace.WithAttributes(
		attribute.String("user_id", client.UserID()),
		attribute.String("conn_id", client.ID()),
		attribute.Int("payload_size", len(raw)),
	))
	defer span.End()
	cmd, err := domain.DecodeInbound(raw)
	if err != nil {
		fail(span, err, "decode failed")
		m.log.WarnContext(ctx, "manager - handle message - decode failed", "user_id", client.UserID(), "err", err)
		return "", err
	}
	span.SetAttributes(attribute.String("event", string(cmd.EventType())))
	if err := m.dispatch(ctx, client, cmd); err != nil {
		fail(span, err, "handler failed")
		if domain.Kind(err) == nil {
			m.log.ErrorContext(ctx, "manager - handle message - internal error", "event", string(cmd.EventType()), "user_id", client.UserID(), "err", err)
		} else {
			m.log.InfoContext(ctx, "manager - handle message - rejected", "event", string(cmd.EventType()), "user_id", client.UserID(), "err", err)
		}
		return cmd.EventType(), err
	}
	return cmd.EventType(), nil
}

func (m *ManagerService) dispatch(ctx context.Context, client contracts.Client, cmd domain.Command) error {
	userID := client.UserID()
	switch c := cmd.(type) {
	case domain.ConversationRef:
		switch c.EventType() {
		case domain.TypeJoinConversation:
			return m.rooms.Join(ctx, client.ID(), userID, c.ConversationID)
		case domain.TypeLeaveConversation:
			m.rooms.Leave(ctx, client.ID(), c.ConversationID)
			return nil
		case domain.TypeTypingStart:
			return m.rooms.TypingStart(ctx, userID, c.ConversationID)
		case domain.TypeTypingStop:
			return m.rooms.TypingStop(ctx, userID, c.ConversationID)
		case domain.TypeMarkRead:
			_, err := m.messages.MarkRead(ctx, c.ConversationID, userID)
			return err
		}
	case domain.SendMessage:
		_, err := m.messages.Send(ctx, userID, c)
		return err
	case domain.EditMessage:
		_, err := m.messages.Update(ctx, userID, c)
		return err
	case domain.DeleteMessage:
		_, err := m.messages.Delete(ctx, userID, c.MessageID)
		return err
	case domain.CallInitiate:
		_, err := m.calls.Initiate(ctx, userID, c)
		return err
	case domain.CallAction:
		var err error
		switch c.EventType() {
		case domain.TypeCallAccept:
			_, err = m.calls.Accept(ctx, userID, c.CallSessionID)
		case domain.TypeCallEnd:
			_, err = m.calls.End(ctx, userID, c.CallSessionID)
		case domain.TypeCallJoin:
			_, err = m.calls.JoinGroupCall(ctx, userID, c.CallSessionID)
		}
		return err
	case domain.CallDecline:
		_, err := m.calls.Decline(ctx, userID, c)
		return err
	case domain.WebRTCSignal:
		return m.calls.RelaySignaling(ctx, userID, c)
	case domain.MediaState:
		_, err := m.calls.UpdateMediaState(ctx, userID, c)
		return err
	}
	return domain.ErrUnknownEvent
}
