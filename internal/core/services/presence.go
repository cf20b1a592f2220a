package services

import (
	"cargolink/internal/core/contracts"
	"cargolink/internal/core/domain"
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type PresenceService struct {
	store    contracts.PresenceStore
	registry contracts.Registry
	profiles *ProfileService
	log      *slog.Logger
}

func NewPresenceService(
	log *slog.Logger,
	store contracts.PresenceStore,
	registry contracts.Registry,
	profiles *ProfileService,
) *PresenceService {
	return &PresenceService{
		log:      log,
		store:    store,
		registry: registry,
		profiles: profiles,
	}
}

// SetOnline records the session and broadcasts when it is the user's first.
func (p *PresenceService) SetOnline(ctx context.Context, userID, sessionID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "PresenceService.SetOnline", trace.WithAttributes(
		attribute.String("user_id", userID),
	))
	defer span.End()
	became, err := p.store.AddSession(ctx, userID, sessionID)
	if err != nil {
		fail(span, err, "presence store failed")
		p.log.ErrorContext(ctx, "presence - set online - add session failed", "user_id", userID, "err", err)
		return false, err
	}
	if became {
		p.broadcast(ctx, domain.UserStatusPayload{UserID: userID, IsOnline: true})
		p.log.InfoContext(ctx, "presence - set online - user online", "user_id", userID)
	}
	return became, nil
}

// SetOffline drops the session and broadcasts when it was the user's last.
func (p *PresenceService) SetOffline(ctx context.Context, userID, sessionID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "PresenceService.SetOffline", trace.WithAttributes(
		attribute.String("user_id", userID),
	))
	defer span.End()
	became, err := p.store.RemoveSession(ctx, userID, sessionID)
	if err != nil {
		fail(span, err, "presence store failed")
		p.log.ErrorContext(ctx, "presence - set offline - remove session failed", "user_id", userID, "err", err)
		return false, err
	}
	if became {
		now := time.Now().UTC()
		if last, err := p.store.LastOnline(ctx, userID); err == nil && !last.IsZero() {
			now = last
		}
		p.broadcast(ctx, domain.UserStatusPayload{UserID: userID, IsOnline: false, LastOnline: &now})
		p.log.InfoContext(ctx, "presence - set offline - user offline", "user_id", userID)
	}
	return became, nil
}

func (p *PresenceService) broadcast(ctx context.Context, status domain.UserStatusPayload) {
	ev := domain.NewEvent(domain.TypeUserStatusUpdate, status)
	p.registry.Emit(ctx, domain.UserRoom(status.UserID), ev)
	p.registry.EmitAll(ctx, ev)
	snap, err := p.Snapshot(ctx, "")
	if err != nil {
		p.log.ErrorContext(ctx, "presence - broadcast - snapshot failed", "err", err)
		return
	}
	p.registry.EmitAll(ctx, domain.NewEvent(domain.TypeOnlineUsersUpdated, snap))
}

// Snapshot lists online users enriched with their profiles. exclude may be empty.
func (p *PresenceService) Snapshot(ctx context.Context, exclude string) (domain.OnlineUsersPayload, error) {
	ids, err := p.store.OnlineUserIDs(ctx)
	if err != nil {
		return domain.OnlineUsersPayload{}, err
	}
	users := make([]domain.ProfileSummary, 0, len(ids))
	for _, id := range ids {
		if id == exclude {
			continue
		}
		s := p.profiles.Summary(ctx, id)
		s.IsOnline = true
		users = append(users, s)
	}
	return domain.OnlineUsersPayload{Users: users, Count: len(users)}, nil
}

// IsOnline treats store failures as offline.
func (p *PresenceService) IsOnline(ctx context.Context, userID string) bool {
	ok, err := p.store.IsOnline(ctx, userID)
	if err != nil {
		p.log.WarnContext(ctx, "presence - is online - store failed", "user_id", userID, "err", err)
		return false
	}
	return ok
}

func (p *PresenceService) OnlineUserIDs(ctx context.Context) ([]string, error) {
	return p.store.OnlineUserIDs(ctx)
}
