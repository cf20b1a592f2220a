package push

import (
	"cargolink/internal/core/domain"
	"context"
	"log/slog"
	"strings"
)

// LogPusher only records the notification. Used when no gateway is configured.
type LogPusher struct{}

func (LogPusher) Push(ctx context.Context, n domain.PushNotification) error {
	slog.InfoContext(ctx, "Push - notification",
		slog.String("users", strings.Join(n.UserIDs, ",")),
		slog.String("title", n.Title),
		slog.String("conv_id", n.ConversationID),
	)
	return nil
}
