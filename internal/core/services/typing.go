package services

import (
	"cargolink/internal/core/domain"
	"sync"
	"time"

	"github.com/google/uuid"
)

type typingKey struct {
	conv uuid.UUID
	user string
}

type typingEntry struct {
	ind   domain.TypingIndicator
	timer *time.Timer
}

// TypingTracker holds live typing indicators. Each start arms a timer; a
// later start for the same (conversation, user) replaces the entry and its
// timer, so at most one indicator exists per key.
type TypingTracker struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[typingKey]*typingEntry
}

func NewTypingTracker(ttl time.Duration) *TypingTracker {
	return &TypingTracker{
		ttl:     ttl,
		entries: make(map[typingKey]*typingEntry),
	}
}

func (t *TypingTracker) Start(convID uuid.UUID, userID, userName string, at time.Time) domain.TypingIndicator {
	k := typingKey{convID, userID}
	e := &typingEntry{ind: domain.TypingIndicator{
		ConversationID: convID,
		UserID:         userID,
		UserName:       userName,
		StartedAt:      at,
		ExpiresAt:      at.Add(t.ttl),
	}}
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.entries[k]; ok {
		prev.timer.Stop()
	}
	e.timer = time.AfterFunc(t.ttl, func() { t.expire(k, e) })
	t.entries[k] = e
	return e.ind
}

// expire removes the entry only if it was not superseded meanwhile.
func (t *TypingTracker) expire(k typingKey, e *typingEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.entries[k]; ok && cur == e {
		delete(t.entries, k)
	}
}

// Stop clears the indicator and reports whether one was active.
func (t *TypingTracker) Stop(convID uuid.UUID, userID string) bool {
	k := typingKey{convID, userID}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[k]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(t.entries, k)
	return true
}

func (t *TypingTracker) Active(convID uuid.UUID, userID string) (domain.TypingIndicator, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[typingKey{convID, userID}]
	if !ok {
		return domain.TypingIndicator{}, false
	}
	return e.ind, true
}

func (t *TypingTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Close stops every pending timer.
func (t *TypingTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, k)
	}
}
