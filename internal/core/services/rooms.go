package services

import (
	"cargolink/internal/core/contracts"
	"cargolink/internal/core/domain"
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RoomService joins connections to conversation rooms and relays typing.
type RoomService struct {
	participants domain.ParticipantRepository
	registry     contracts.Registry
	profiles     *ProfileService
	typing       *TypingTracker
	log          *slog.Logger
}

func NewRoomService(
	log *slog.Logger,
	participants domain.ParticipantRepository,
	registry contracts.Registry,
	profiles *ProfileService,
	typing *TypingTracker,
) *RoomService {
	return &RoomService{
		log:          log,
		participants: participants,
		registry:     registry,
		profiles:     profiles,
		typing:       typing,
	}
}

// requireActive returns the caller's membership or ErrNotParticipant.
func requireActive(ctx context.Context, repo domain.ParticipantRepository, convID uuid.UUID, userID string) (*domain.Participant, error) {
	p, err := repo.GetParticipant(ctx, convID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrParticipantNotFound) {
			return nil, domain.ErrNotParticipant
		}
		return nil, err
	}
	if !p.IsActive() {
		return nil, domain.ErrNotParticipant
	}
	return p, nil
}

func (r *RoomService) Join(ctx context.Context, connID, userID string, convID uuid.UUID) error {
	if _, err := requireActive(ctx, r.participants, convID, userID); err != nil {
		r.log.WarnContext(ctx, "rooms - join - rejected", "conv_id", convID.String(), "user_id", userID, "err", err)
		return err
	}
	r.registry.Join(connID, domain.ConversationRoom(convID))
	r.log.DebugContext(ctx, "rooms - join - joined", "conv_id", convID.String(), "conn_id", connID)
	return nil
}

func (r *RoomService) Leave(ctx context.Context, connID string, convID uuid.UUID) {
	r.registry.Leave(connID, domain.ConversationRoom(convID))
	r.log.DebugContext(ctx, "rooms - leave - left", "conv_id", convID.String(), "conn_id", connID)
}

// JoinAllForUser joins the connection to every conversation the user has
// not left.
func (r *RoomService) JoinAllForUser(ctx context.Context, connID, userID string) (int, error) {
	ctx, span := tracer.Start(ctx, "RoomService.JoinAllForUser", trace.WithAttributes(
		attribute.String("user_id", userID),
	))
	defer span.End()
	ids, err := r.participants.ListConversationIDs(ctx, userID)
	if err != nil {
		fail(span, err, "list conversations failed")
		r.log.ErrorContext(ctx, "rooms - join all - list conversations failed", "user_id", userID, "err", err)
		return 0, err
	}
	for _, id := range ids {
		r.registry.Join(connID, domain.ConversationRoom(id))
	}
	span.SetAttributes(attribute.Int("rooms", len(ids)))
	return len(ids), nil
}

func (r *RoomService) TypingStart(ctx context.Context, userID string, convID uuid.UUID) error {
	return r.typingSignal(ctx, userID, convID, true)
}

func (r *RoomService) TypingStop(ctx context.Context, userID string, convID uuid.UUID) error {
	return r.typingSignal(ctx, userID, convID, false)
}

func (r *RoomService) typingSignal(ctx context.Context, userID string, convID uuid.UUID, start bool) error {
	if _, err := requireActive(ctx, r.participants, convID, userID); err != nil {
		return err
	}
	active, err := r.participants.ListActive(ctx, convID)
	if err != nil {
		r.log.ErrorContext(ctx, "rooms - typing - list participants failed", "conv_id", convID.String(), "err", err)
		return err
	}
	var others []string
	for _, p := range active {
		if p.UserID != userID {
			others = append(others, p.UserID)
		}
	}
	if len(others) == 0 {
		return nil
	}
	now := time.Now().UTC()
	name := r.profiles.DisplayName(ctx, userID)
	evType := domain.TypeUserTypingStop
	if start {
		r.typing.Start(convID, userID, name, now)
		evType = domain.TypeUserTypingStart
	} else {
		r.typing.Stop(convID, userID)
	}
	ev := domain.NewEvent(evType, domain.TypingPayload{
		UserID:         userID,
		UserName:       name,
		ConversationID: convID,
		Timestamp:      now,
	})
	for _, id := range others {
		r.registry.Emit(ctx, domain.UserRoom(id), ev)
	}
	r.registry.Emit(ctx, domain.ConversationRoom(convID), ev)
	return nil
}
