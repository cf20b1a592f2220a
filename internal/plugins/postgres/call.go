package postgres

import (
	"cargolink/internal/core/domain"
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type CallRepo struct {
	db *sql.DB
}

func NewCallRepo(db *sql.DB) *CallRepo {
	return &CallRepo{db: db}
}

const callColumns = `id, conversation_id, caller_id, call_type, is_group_call,
	status, start_time, end_time, duration, created_at`

func scanCall(row interface{ Scan(...any) error }) (domain.CallSession, error) {
	var c domain.CallSession
	err := row.Scan(
		&c.ID,
		&c.ConversationID,
		&c.CallerID,
		&c.CallType,
		&c.IsGroupCall,
		&c.Status,
		&c.StartTime,
		&c.EndTime,
		&c.Duration,
		&c.CreatedAt,
	)
	return c, err
}

func (r *CallRepo) CreateCall(ctx context.Context, call *domain.CallSession) error {
	exec := GetExecutor(ctx, r.db)
	_, err := exec.ExecContext(ctx, `
		INSERT INTO call_sessions (
			id, conversation_id, caller_id, call_type, is_group_call, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		call.ID,
		call.ConversationID,
		call.CallerID,
		call.CallType,
		call.IsGroupCall,
		call.Status,
		call.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.ErrCallInProgress
	}
	return err
}

func (r *CallRepo) getCall(ctx context.Context, query string, args ...any) (*domain.CallSession, error) {
	exec := GetExecutor(ctx, r.db)
	c, err := scanCall(exec.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCallNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *CallRepo) GetCallByID(ctx context.Context, id uuid.UUID) (*domain.CallSession, error) {
	return r.getCall(ctx, `SELECT `+callColumns+` FROM call_sessions WHERE id = $1`, id)
}

// LockCall only holds the row when ctx carries a transaction.
func (r *CallRepo) LockCall(ctx context.Context, id uuid.UUID) (*domain.CallSession, error) {
	return r.getCall(ctx, `SELECT `+callColumns+` FROM call_sessions WHERE id = $1 FOR UPDATE`, id)
}

func (r *CallRepo) FindActiveCall(ctx context.Context, convID uuid.UUID) (*domain.CallSession, error) {
	c, err := r.getCall(ctx, `
		SELECT `+callColumns+` FROM call_sessions
		WHERE conversation_id = $1 AND status IN ('initiating', 'ringing', 'connected')
		LIMIT 1
	`, convID)
	if errors.Is(err, domain.ErrCallNotFound) {
		return nil, nil
	}
	return c, err
}

func (r *CallRepo) UpdateCall(ctx context.Context, call *domain.CallSession) error {
	exec := GetExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx, `
		UPDATE call_sessions
		SET status = $2, start_time = $3, end_time = $4, duration = $5
		WHERE id = $1
	`, call.ID, call.Status, call.StartTime, call.EndTime, call.Duration)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrCallNotFound
	}
	return nil
}

const callParticipantColumns = `call_session_id, user_id, joined_at, left_at,
	is_muted, is_video_enabled, is_screen_sharing`

func scanCallParticipant(row interface{ Scan(...any) error }) (domain.CallParticipant, error) {
	var p domain.CallParticipant
	err := row.Scan(
		&p.CallSessionID,
		&p.UserID,
		&p.JoinedAt,
		&p.LeftAt,
		&p.IsMuted,
		&p.IsVideoEnabled,
		&p.IsScreenSharing,
	)
	return p, err
}

func (r *CallRepo) AddCallParticipant(ctx context.Context, p *domain.CallParticipant) error {
	exec := GetExecutor(ctx, r.db)
	_, err := exec.ExecContext(ctx, `
		INSERT INTO call_participants (
			call_session_id, user_id, joined_at, left_at,
			is_muted, is_video_enabled, is_screen_sharing
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		p.CallSessionID,
		p.UserID,
		p.JoinedAt,
		p.LeftAt,
		p.IsMuted,
		p.IsVideoEnabled,
		p.IsScreenSharing,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.ErrAlreadyInCall
	}
	return err
}

func (r *CallRepo) GetCallParticipant(
	ctx context.Context,
	callID uuid.UUID,
	userID string,
) (*domain.CallParticipant, error) {
	exec := GetExecutor(ctx, r.db)
	row := exec.QueryRowContext(ctx, `
		SELECT `+callParticipantColumns+` FROM call_participants
		WHERE call_session_id = $1 AND user_id = $2
	`, callID, userID)
	p, err := scanCallParticipant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *CallRepo) ListCallParticipants(ctx context.Context, callID uuid.UUID) ([]domain.CallParticipant, error) {
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, `
		SELECT `+callParticipantColumns+` FROM call_participants
		WHERE call_session_id = $1
		ORDER BY joined_at ASC
	`, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.CallParticipant
	for rows.Next() {
		p, err := scanCallParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *CallRepo) IsUserInCall(ctx context.Context, userID string) (bool, error) {
	exec := GetExecutor(ctx, r.db)
	var busy bool
	err := exec.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM call_participants cp
			JOIN call_sessions cs ON cs.id = cp.call_session_id
			WHERE cp.user_id = $1 AND cp.left_at IS NULL
			  AND cs.status IN ('initiating', 'ringing', 'connected')
		)
	`, userID).Scan(&busy)
	return busy, err
}

func (r *CallRepo) UpdateCallParticipant(ctx context.Context, p *domain.CallParticipant) error {
	exec := GetExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx, `
		UPDATE call_participants
		SET joined_at = $3, left_at = $4, is_muted = $5, is_video_enabled = $6, is_screen_sharing = $7
		WHERE call_session_id = $1 AND user_id = $2
	`,
		p.CallSessionID,
		p.UserID,
		p.JoinedAt,
		p.LeftAt,
		p.IsMuted,
		p.IsVideoEnabled,
		p.IsScreenSharing,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotCallMember
	}
	return nil
}
