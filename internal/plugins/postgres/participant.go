package postgres

import (
	"cargolink/internal/core/domain"
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

type ParticipantRepo struct {
	db *sql.DB
}

func NewParticipantRepo(db *sql.DB) *ParticipantRepo {
	return &ParticipantRepo{db: db}
}

const participantColumns = `conversation_id, user_id, role, joined_at, left_at, archived_at`

func scanParticipant(row interface{ Scan(...any) error }) (domain.Participant, error) {
	var p domain.Participant
	err := row.Scan(
		&p.ConversationID,
		&p.UserID,
		&p.Role,
		&p.JoinedAt,
		&p.LeftAt,
		&p.ArchivedAt,
	)
	return p, err
}

func (r *ParticipantRepo) GetParticipant(
	ctx context.Context,
	convID uuid.UUID,
	userID string,
) (*domain.Participant, error) {
	if convID == uuid.Nil || userID == "" {
		return nil, domain.ErrInvalidID
	}
	exec := GetExecutor(ctx, r.db)
	row := exec.QueryRowContext(ctx, `
		SELECT `+participantColumns+`
		FROM conversation_participants
		WHERE conversation_id = $1 AND user_id = $2
	`, convID, userID)
	p, err := scanParticipant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrParticipantNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *ParticipantRepo) ListActive(
	ctx context.Context,
	convID uuid.UUID,
) ([]domain.Participant, error) {
	if convID == uuid.Nil {
		return nil, domain.ErrInvalidID
	}
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, `
		SELECT `+participantColumns+`
		FROM conversation_participants
		WHERE conversation_id = $1 AND left_at IS NULL
		ORDER BY joined_at ASC
	`, convID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *ParticipantRepo) ListConversationIDs(
	ctx context.Context,
	userID string,
) ([]uuid.UUID, error) {
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, `
		SELECT conversation_id
		FROM conversation_participants
		WHERE user_id = $1 AND left_at IS NULL
	`, userID)
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
