package postgres

import (
	"cargolink/internal/core/domain"
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{
		db: db,
	}
}

const messageColumns = `id, conversation_id, sender_id, content, message_type,
	file_url, file_name, file_size, mime_type, reply_to_message_id,
	sent_at, is_edited, edited_at, is_deleted, deleted_at`

func scanMessage(row interface{ Scan(...any) error }) (domain.Message, error) {
	var m domain.Message
	var fileURL, fileName, mimeType sql.NullString
	var fileSize sql.NullInt64
	var replyTo uuid.NullUUID
	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.SenderID,
		&m.Content,
		&m.Type,
		&fileURL,
		&fileName,
		&fileSize,
		&mimeType,
		&replyTo,
		&m.SentAt,
		&m.IsEdited,
		&m.EditedAt,
		&m.IsDeleted,
		&m.DeletedAt,
	)
	if err != nil {
		return m, err
	}
	if fileURL.Valid {
		m.File = &domain.FileFields{
			URL:      fileURL.String,
			Name:     fileName.String,
			Size:     fileSize.Int64,
			MimeType: mimeType.String,
		}
	}
	if replyTo.Valid {
		m.ReplyToMessageID = &replyTo.UUID
	}
	return m, nil
}

func fileArgs(f *domain.FileFields) (url, name, mime sql.NullString, size sql.NullInt64) {
	if f == nil {
		return
	}
	url = sql.NullString{String: f.URL, Valid: true}
	name = sql.NullString{String: f.Name, Valid: f.Name != ""}
	mime = sql.NullString{String: f.MimeType, Valid: f.MimeType != ""}
	size = sql.NullInt64{Int64: f.Size, Valid: f.Size > 0}
	return
}

func (r *MessageRepo) CreateMessage(ctx context.Context, msg *domain.Message) error {
	if msg.ConversationID == uuid.Nil {
		return domain.ErrInvalidID
	}
	url, name, mime, size := fileArgs(msg.File)
	exec := GetExecutor(ctx, r.db)
	_, err := exec.ExecContext(ctx, `
		INSERT INTO messages (
			id, conversation_id, sender_id, content, message_type,
			file_url, file_name, file_size, mime_type, reply_to_message_id, sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.Content,
		msg.Type,
		url,
		name,
		size,
		mime,
		msg.ReplyToMessageID,
		msg.SentAt,
	)
	return err
}

func (r *MessageRepo) GetMessageByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	return r.getMessage(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
}

// LockMessage only holds the row when ctx carries a transaction.
func (r *MessageRepo) LockMessage(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	return r.getMessage(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1 FOR UPDATE`, id)
}

func (r *MessageRepo) getMessage(ctx context.Context, query string, id uuid.UUID) (*domain.Message, error) {
	exec := GetExecutor(ctx, r.db)
	row := exec.QueryRowContext(ctx, query, id)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *MessageRepo) UpdateMessage(ctx context.Context, msg *domain.Message) error {
	url, name, mime, size := fileArgs(msg.File)
	exec := GetExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx, `
		UPDATE messages SET
			content = $2, message_type = $3,
			file_url = $4, file_name = $5, file_size = $6, mime_type = $7,
			is_edited = $8, edited_at = $9, is_deleted = $10, deleted_at = $11
		WHERE id = $1
	`,
		msg.ID,
		msg.Content,
		msg.Type,
		url,
		name,
		size,
		mime,
		msg.IsEdited,
		msg.EditedAt,
		msg.IsDeleted,
		msg.DeletedAt,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func (r *MessageRepo) ListMessages(
	ctx context.Context,
	convID uuid.UUID,
	before *time.Time,
	limit int,
) ([]domain.Message, error) {
	if convID == uuid.Nil {
		return nil, domain.ErrInvalidID
	}
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1
		AND ($2::timestamptz IS NULL OR sent_at < $2)
		ORDER BY sent_at DESC
		LIMIT $3
	`, convID, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
