package postgres

import (
	"cargolink/internal/core/domain"
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

func (r *ConversationRepo) GetConversationByID(ctx context.Context, convID uuid.UUID) (*domain.Conversation, error) {
	if convID == uuid.Nil {
		return nil, domain.ErrInvalidID
	}
	c := &domain.Conversation{ID: convID}
	query := `
		SELECT chat_type, job_id, last_message_id, last_message_at, created_at
		FROM conversations WHERE id = $1`
	exec := GetExecutor(ctx, r.db)
	var lastID uuid.NullUUID
	err := exec.QueryRowContext(ctx, query, convID).Scan(
		&c.ChatType,
		&c.JobID,
		&lastID,
		&c.LastMessageAt,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, err
	}
	if lastID.Valid {
		c.LastMessageID = &lastID.UUID
	}
	return c, nil
}

func (r *ConversationRepo) UpdateLastMessage(ctx context.Context, convID, msgID uuid.UUID, at time.Time) error {
	exec := GetExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_id = $2, last_message_at = $3
		WHERE id = $1
	`, convID, msgID, at)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}
