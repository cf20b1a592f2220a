package contracts

import (
	"context"
	"time"
)

// PresenceStore keeps the live session set per user. A user is online while
// at least one session is recorded.
type PresenceStore interface {
	// AddSession records a session and reports whether it is the user's first.
	AddSession(ctx context.Context, userID, sessionID string) (becameOnline bool, err error)
	// RemoveSession drops a session and reports whether it was the user's last.
	RemoveSession(ctx context.Context, userID, sessionID string) (becameOffline bool, err error)
	IsOnline(ctx context.Context, userID string) (bool, error)
	OnlineUserIDs(ctx context.Context) ([]string, error)
	// LastOnline returns when the user last went offline; zero when unknown.
	LastOnline(ctx context.Context, userID string) (time.Time, error)
}
