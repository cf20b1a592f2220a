package services

import (
	"cargolink/internal/core/contracts"
	"cargolink/internal/core/domain"
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SessionService owns the connect and disconnect lifecycle of a connection.
type SessionService struct {
	tokens   *TokenService
	registry contracts.Registry
	presence *PresenceService
	rooms    *RoomService
	messages *MessageService
	log      *slog.Logger
}

func NewSessionService(
	log *slog.Logger,
	tokens *TokenService,
	registry contracts.Registry,
	presence *PresenceService,
	rooms *RoomService,
	messages *MessageService,
) *SessionService {
	return &SessionService{
		log:      log,
		tokens:   tokens,
		registry: registry,
		presence: presence,
		rooms:    rooms,
		messages: messages,
	}
}

// Authenticate verifies the handshake credential and opens a session.
func (s *SessionService) Authenticate(ctx context.Context, credential string) (*domain.Session, error) {
	userID, err := s.tokens.ValidateToken(credential)
	if err != nil {
		s.log.WarnContext(ctx, "session - authenticate - rejected", "err", err)
		return nil, err
	}
	return domain.NewSession(userID), nil
}

// Connect registers the client, joins its rooms, flips presence and
// confirms deliveries that waited for the user.
func (s *SessionService) Connect(ctx context.Context, client contracts.Client) error {
	ctx, span := tracer.Start(ctx, "SessionService.Connect", trace.WithAttributes(
		attribute.String("user_id", client.UserID()),
		attribute.String("conn_id", client.ID()),
	))
	defer span.End()
	userID := client.UserID()
	s.registry.Register(client)
	s.registry.Join(client.ID(), domain.UserRoom(userID))
	if _, err := s.rooms.JoinAllForUser(ctx, client.ID(), userID); err != nil {
		// Personal room delivery still works; conversation rooms can be
		// joined explicitly.
		span.RecordError(err)
	}
	s.send(ctx, client, domain.NewEvent(domain.TypeConnected, domain.ConnectedPayload{
		ConnectionID: client.ID(),
		UserID:       userID,
		Timestamp:    time.Now().UTC(),
	}))
	if _, err := s.presence.SetOnline(ctx, userID, client.ID()); err != nil {
		fail(span, err, "presence failed")
		s.registry.Unregister(client)
		return err
	}
	if snap, err := s.presence.Snapshot(ctx, userID); err == nil {
		s.send(ctx, client, domain.NewEvent(domain.TypeOnlineUsersList, snap))
	}
	if _, err := s.messages.ConfirmPendingDeliveries(ctx, userID); err != nil {
		span.RecordError(err)
	}
	s.log.InfoContext(ctx, "session - connect - established", "user_id", userID, "conn_id", client.ID())
	return nil
}

// Disconnect removes the client; the user goes offline with the last one.
func (s *SessionService) Disconnect(ctx context.Context, client contracts.Client) {
	ctx, span := tracer.Start(ctx, "SessionService.Disconnect", trace.WithAttributes(
		attribute.String("user_id", client.UserID()),
		attribute.String("conn_id", client.ID()),
	))
	defer span.End()
	s.registry.Unregister(client)
	if _, err := s.presence.SetOffline(ctx, client.UserID(), client.ID()); err != nil {
		span.RecordError(err)
	}
	s.log.InfoContext(ctx, "session - disconnect - closed", "user_id", client.UserID(), "conn_id", client.ID())
}

func (s *SessionService) send(ctx context.Context, client contracts.Client, ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := client.Send(ctx, data); err != nil {
		s.log.DebugContext(ctx, "session - send - dropped", "conn_id", client.ID(), "event", string(ev.Type), "err", err)
	}
}
