package messages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxPool is the subset of pgxpool.Pool used by Store.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Querier
}

// Store persists messages in Postgres.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

const messageColumns = `id, account_id, conversation_id, inbox_id, sender_id, message_type, content,
	content_type, content_attributes, status, translations, private, created_at, updated_at`

// InTx runs fn inside a transaction, committing when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("messages: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("messages: commit tx: %w", err)
	}
	return nil
}

func (s *Store) InsertMessage(ctx context.Context, q Querier, msg *Message) error {
	if q == nil {
		q = s.pool
	}
	attrs, err := json.Marshal(nonNilAttrs(msg.ContentAttributes))
	if err != nil {
		return fmt.Errorf("messages: marshal content attributes: %w", err)
	}
	translations, err := json.Marshal(nonNilTranslations(msg.Translations))
	if err != nil {
		return fmt.Errorf("messages: marshal translations: %w", err)
	}
	query := `
		INSERT INTO messages (id, account_id, conversation_id, inbox_id, sender_id, message_type, content,
			content_type, content_attributes, status, translations, private)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`
	err = q.QueryRow(ctx, query,
		msg.ID, msg.AccountID, msg.ConversationID, msg.InboxID, msg.SenderID, string(msg.MessageType), msg.Content,
		msg.ContentType, attrs, string(msg.Status), translations, msg.Private,
	).Scan(&msg.CreatedAt, &msg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("messages: insert message: %w", err)
	}
	return nil
}

func (s *Store) InsertAttachment(ctx context.Context, q Querier, rec AttachmentRecord) error {
	if q == nil {
		q = s.pool
	}
	query := `
		INSERT INTO message_attachments (id, message_id, file_name, content_type, storage_key, size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := q.Exec(ctx, query, rec.ID, rec.MessageID, rec.FileName, rec.ContentType, rec.StorageKey, rec.Size); err != nil {
		return fmt.Errorf("messages: insert attachment: %w", err)
	}
	return nil
}

// GetMessage loads a message and its attachments. It returns ErrNotFound
// when the message does not belong to the conversation.
func (s *Store) GetMessage(ctx context.Context, conversationID, messageID uuid.UUID) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1 AND conversation_id = $2`
	msg, err := scanMessage(s.pool.QueryRow(ctx, query, messageID, conversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("messages: get message: %w", err)
	}
	atts, err := s.ListAttachments(ctx, nil, messageID)
	if err != nil {
		return nil, err
	}
	msg.Attachments = atts
	return msg, nil
}

func (s *Store) ListAttachments(ctx context.Context, q Querier, messageID uuid.UUID) ([]AttachmentRecord, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		SELECT id, message_id, file_name, content_type, storage_key, size_bytes
		FROM message_attachments
		WHERE message_id = $1
		ORDER BY created_at, id
	`
	rows, err := q.Query(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("messages: list attachments: %w", err)
	}
	defer rows.Close()

	var out []AttachmentRecord
	for rows.Next() {
		var rec AttachmentRecord
		if err := rows.Scan(&rec.ID, &rec.MessageID, &rec.FileName, &rec.ContentType, &rec.StorageKey, &rec.Size); err != nil {
			return nil, fmt.Errorf("messages: scan attachment: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) GetConversation(ctx context.Context, accountID, conversationID uuid.UUID) (*Conversation, error) {
	query := `SELECT id, account_id, inbox_id, status FROM conversations WHERE id = $1 AND account_id = $2`
	var conv Conversation
	err := s.pool.QueryRow(ctx, query, conversationID, accountID).Scan(&conv.ID, &conv.AccountID, &conv.InboxID, &conv.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("messages: get conversation: %w", err)
	}
	return &conv, nil
}

// ResetForRetry marks the message sent again and clears failure attributes.
// The deleted flag survives so a retried tombstone stays deleted.
func (s *Store) ResetForRetry(ctx context.Context, q Querier, messageID uuid.UUID) (*Message, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE messages
		SET status = $2,
		    content_attributes = jsonb_strip_nulls(jsonb_build_object('deleted', content_attributes->'deleted')),
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + messageColumns
	msg, err := scanMessage(q.QueryRow(ctx, query, messageID, string(StatusSent)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("messages: reset for retry: %w", err)
	}
	return msg, nil
}

// SoftDelete replaces the content with placeholder and flags the message deleted.
func (s *Store) SoftDelete(ctx context.Context, q Querier, messageID uuid.UUID, placeholder string) (*Message, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE messages
		SET content = $2, content_type = $3, content_attributes = '{"deleted": true}'::jsonb, updated_at = now()
		WHERE id = $1
		RETURNING ` + messageColumns
	msg, err := scanMessage(q.QueryRow(ctx, query, messageID, placeholder, ContentTypeText))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("messages: soft delete: %w", err)
	}
	return msg, nil
}

// DeleteAttachments removes attachment rows and returns their storage keys.
func (s *Store) DeleteAttachments(ctx context.Context, q Querier, messageID uuid.UUID) ([]string, error) {
	if q == nil {
		q = s.pool
	}
	rows, err := q.Query(ctx, `DELETE FROM message_attachments WHERE message_id = $1 RETURNING storage_key`, messageID)
	if err != nil {
		return nil, fmt.Errorf("messages: delete attachments: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("messages: scan attachment key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// MergeTranslation adds one language to the stored translations in a single
// statement, so concurrent merges of different languages keep each other.
func (s *Store) MergeTranslation(ctx context.Context, q Querier, messageID uuid.UUID, language, text string) (map[string]string, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE messages
		SET translations = COALESCE(translations, '{}'::jsonb) || jsonb_build_object($2::text, $3::text),
			updated_at = now()
		WHERE id = $1
		RETURNING translations
	`
	var raw []byte
	if err := q.QueryRow(ctx, query, messageID, language, text).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("messages: merge translation: %w", err)
	}
	out := map[string]string{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("messages: decode translations: %w", err)
		}
	}
	return out, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var (
		msg          Message
		messageType  string
		status       string
		attrs        []byte
		translations []byte
	)
	if err := row.Scan(
		&msg.ID, &msg.AccountID, &msg.ConversationID, &msg.InboxID, &msg.SenderID, &messageType, &msg.Content,
		&msg.ContentType, &attrs, &status, &translations, &msg.Private, &msg.CreatedAt, &msg.UpdatedAt,
	); err != nil {
		return nil, err
	}
	msg.MessageType = MessageType(messageType)
	msg.Status = Status(status)
	msg.ContentAttributes = map[string]any{}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &msg.ContentAttributes); err != nil {
			return nil, fmt.Errorf("decode content attributes: %w", err)
		}
	}
	msg.Translations = map[string]string{}
	if len(translations) > 0 {
		if err := json.Unmarshal(translations, &msg.Translations); err != nil {
			return nil, fmt.Errorf("decode translations: %w", err)
		}
	}
	msg.ContentAttributes = nonNilAttrs(msg.ContentAttributes)
	msg.Translations = nonNilTranslations(msg.Translations)
	return &msg, nil
}

func nonNilAttrs(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilTranslations(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
