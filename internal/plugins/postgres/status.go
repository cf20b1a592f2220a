package postgres

import (
	"cargolink/internal/core/domain"
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

type MessageStatusRepo struct {
	db *sql.DB
}

func NewMessageStatusRepo(db *sql.DB) *MessageStatusRepo {
	return &MessageStatusRepo{db: db}
}

// UpsertStatuses writes one row per (message, user). Re-running the same
// batch is harmless: flags are OR-ed and the first timestamps are kept.
func (r *MessageStatusRepo) UpsertStatuses(ctx context.Context, rows []domain.MessageStatus) error {
	exec := GetExecutor(ctx, r.db)
	for _, s := range rows {
		_, err := exec.ExecContext(ctx, `
			INSERT INTO message_status (message_id, user_id, is_delivered, delivered_at, is_read, read_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (message_id, user_id) DO UPDATE SET
				is_delivered = message_status.is_delivered OR EXCLUDED.is_delivered,
				delivered_at = COALESCE(message_status.delivered_at, EXCLUDED.delivered_at),
				is_read      = message_status.is_read OR EXCLUDED.is_read,
				read_at      = COALESCE(message_status.read_at, EXCLUDED.read_at)
		`, s.MessageID, s.UserID, s.IsDelivered, s.DeliveredAt, s.IsRead, s.ReadAt)
		if err != nil {
			return err
		}
	}
	return nil
}

const statusColumns = `message_id, user_id, is_delivered, delivered_at, is_read, read_at`

func scanStatus(row interface{ Scan(...any) error }) (domain.MessageStatus, error) {
	var s domain.MessageStatus
	err := row.Scan(&s.MessageID, &s.UserID, &s.IsDelivered, &s.DeliveredAt, &s.IsRead, &s.ReadAt)
	return s, err
}

func (r *MessageStatusRepo) GetStatus(ctx context.Context, msgID uuid.UUID, userID string) (*domain.MessageStatus, error) {
	exec := GetExecutor(ctx, r.db)
	row := exec.QueryRowContext(ctx, `
		SELECT `+statusColumns+` FROM message_status WHERE message_id = $1 AND user_id = $2
	`, msgID, userID)
	s, err := scanStatus(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *MessageStatusRepo) ListStatuses(ctx context.Context, msgID uuid.UUID) ([]domain.MessageStatus, error) {
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, `
		SELECT `+statusColumns+` FROM message_status WHERE message_id = $1 ORDER BY user_id
	`, msgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.MessageStatus
	for rows.Next() {
		s, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *MessageStatusRepo) ConfirmPending(ctx context.Context, userID string, at time.Time) ([]domain.Delivery, error) {
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, `
		UPDATE message_status ms
		SET is_delivered = true, delivered_at = $2
		FROM messages m
		WHERE ms.message_id = m.id
		  AND ms.user_id = $1
		  AND ms.is_delivered = false
		RETURNING ms.message_id, m.conversation_id, m.sender_id
	`, userID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Delivery
	for rows.Next() {
		var d domain.Delivery
		if err := rows.Scan(&d.MessageID, &d.ConversationID, &d.SenderID); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *MessageStatusRepo) MarkRead(ctx context.Context, convID uuid.UUID, userID string, at time.Time) ([]uuid.UUID, error) {
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, `
		UPDATE message_status ms
		SET is_read = true, read_at = $3,
		    is_delivered = true, delivered_at = COALESCE(ms.delivered_at, $3)
		FROM messages m
		WHERE ms.message_id = m.id
		  AND m.conversation_id = $1
		  AND ms.user_id = $2
		  AND ms.is_read = false
		  AND m.sender_id <> $2
		RETURNING ms.message_id
	`, convID, userID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
