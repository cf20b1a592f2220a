package contracts

import (
	"cargolink/internal/core/domain"
	"context"
)

// Pusher hands a notification to the device push provider.
type Pusher interface {
	Push(ctx context.Context, n domain.PushNotification) error
}
