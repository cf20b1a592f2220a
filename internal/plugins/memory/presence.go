package memory

import (
	"cargolink/internal/core/contracts"
	"context"
	"sort"
	"sync"
	"time"
)

type PresenceStore struct {
	mu         sync.Mutex
	sessions   map[string]map[string]struct{}
	lastOnline map[string]time.Time
}

func NewPresenceStore() *PresenceStore {
	return &PresenceStore{
		sessions:   make(map[string]map[string]struct{}),
		lastOnline: make(map[string]time.Time),
	}
}

var _ contracts.PresenceStore = (*PresenceStore)(nil)

func (p *PresenceStore) AddSession(ctx context.Context, userID, sessionID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.sessions[userID]
	if !ok {
		set = make(map[string]struct{})
		p.sessions[userID] = set
	}
	if _, dup := set[sessionID]; dup {
		return false, nil
	}
	set[sessionID] = struct{}{}
	return len(set) == 1, nil
}

func (p *PresenceStore) RemoveSession(ctx context.Context, userID, sessionID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.sessions[userID]
	if !ok {
		return false, nil
	}
	if _, had := set[sessionID]; !had {
		return false, nil
	}
	delete(set, sessionID)
	if len(set) > 0 {
		return false, nil
	}
	delete(p.sessions, userID)
	p.lastOnline[userID] = time.Now().UTC()
	return true, nil
}

func (p *PresenceStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions[userID]) > 0, nil
}

func (p *PresenceStore) OnlineUserIDs(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (p *PresenceStore) LastOnline(ctx context.Context, userID string) (time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastOnline[userID], nil
}
