package services

import (
	"cargolink/internal/core/contracts"
	"cargolink/internal/core/domain"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

// ProfileService resolves user profiles through the cache, falling back to
// storage and populating the cache on a miss.
type ProfileService struct {
	users domain.UserRepository
	cache contracts.Cache
	ttl   time.Duration
	log   *slog.Logger
}

func NewProfileService(
	log *slog.Logger,
	users domain.UserRepository,
	cache contracts.Cache,
	ttl time.Duration,
) *ProfileService {
	return &ProfileService{
		log:   log,
		users: users,
		cache: cache,
		ttl:   ttl,
	}
}

func profileKey(userID string) string {
	return "profile:" + userID
}

func (p *ProfileService) Get(ctx context.Context, userID string) (*domain.User, error) {
	raw, err := p.cache.Get(ctx, profileKey(userID))
	if err == nil {
		var u domain.User
		if err := json.Unmarshal([]byte(raw), &u); err == nil {
			return &u, nil
		}
		p.log.WarnContext(ctx, "profile - get - corrupt cache entry", "user_id", userID)
	} else if !errors.Is(err, contracts.ErrCacheMiss) {
		p.log.WarnContext(ctx, "profile - get - cache read failed", "user_id", userID, "err", err)
	}
	u, err := p.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(u); err == nil {
		if err := p.cache.Set(ctx, profileKey(userID), string(data), p.ttl); err != nil {
			p.log.WarnContext(ctx, "profile - get - cache write failed", "user_id", userID, "err", err)
		}
	}
	return u, nil
}

// DisplayName never fails; it falls back to the user id.
func (p *ProfileService) DisplayName(ctx context.Context, userID string) string {
	u, err := p.Get(ctx, userID)
	if err != nil || u.DisplayName == "" {
		return userID
	}
	return u.DisplayName
}

func (p *ProfileService) Summary(ctx context.Context, userID string) domain.ProfileSummary {
	u, err := p.Get(ctx, userID)
	if err != nil {
		return domain.ProfileSummary{UserID: userID, DisplayName: userID}
	}
	return u.Summary()
}

func (p *ProfileService) Invalidate(ctx context.Context, userID string) error {
	_, err := p.cache.Del(ctx, profileKey(userID))
	return err
}
