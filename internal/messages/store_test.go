package messages

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var messageColumnNames = []string{
	"id", "account_id", "conversation_id", "inbox_id", "sender_id", "message_type", "content",
	"content_type", "content_attributes", "status", "translations", "private", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewStore(mock), mock
}

func messageRow(msg *Message, attrs, translations string) *pgxmock.Rows {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return pgxmock.NewRows(messageColumnNames).AddRow(
		msg.ID, msg.AccountID, msg.ConversationID, msg.InboxID, msg.SenderID, string(msg.MessageType), msg.Content,
		msg.ContentType, []byte(attrs), string(msg.Status), []byte(translations), msg.Private, now, now,
	)
}

func sampleMessage() *Message {
	return &Message{
		ID:             uuid.New(),
		AccountID:      uuid.New(),
		ConversationID: uuid.New(),
		InboxID:        uuid.New(),
		SenderID:       "user-1",
		MessageType:    TypeOutgoing,
		Content:        "hello",
		ContentType:    ContentTypeText,
		Status:         StatusSent,
	}
}

func TestStoreInsertInTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	msg := sampleMessage()
	att := AttachmentRecord{ID: uuid.New(), MessageID: msg.ID, FileName: "a.png", ContentType: "image/png", StorageKey: "attachments/a.png", Size: 3}
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO messages").
		WithArgs(msg.ID, msg.AccountID, msg.ConversationID, msg.InboxID, "user-1", "outgoing", "hello",
			"text", []byte("{}"), "sent", []byte("{}"), false).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec("INSERT INTO message_attachments").
		WithArgs(att.ID, msg.ID, "a.png", "image/png", "attachments/a.png", int64(3)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := store.InTx(context.Background(), func(q Querier) error {
		if err := store.InsertMessage(context.Background(), q, msg); err != nil {
			return err
		}
		return store.InsertAttachment(context.Background(), q, att)
	})
	require.NoError(t, err)
	assert.Equal(t, now, msg.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreInTxRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := store.InTx(context.Background(), func(Querier) error { return boom })

	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreGetMessage(t *testing.T) {
	store, mock := newMockStore(t)
	msg := sampleMessage()

	mock.ExpectQuery("SELECT id, account_id").
		WithArgs(msg.ID, msg.ConversationID).
		WillReturnRows(messageRow(msg, `{"external_error":"x"}`, `{"fr":"bonjour"}`))
	mock.ExpectQuery("FROM message_attachments").
		WithArgs(msg.ID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "message_id", "file_name", "content_type", "storage_key", "size_bytes"}).
			AddRow(uuid.New(), msg.ID, "a.mp3", "audio/mpeg", "attachments/a.mp3", int64(10)))

	got, err := store.GetMessage(context.Background(), msg.ConversationID, msg.ID)
	require.NoError(t, err)

	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, map[string]string{"fr": "bonjour"}, got.Translations)
	assert.Equal(t, "x", got.ContentAttributes["external_error"])
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "attachments/a.mp3", got.Attachments[0].StorageKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreGetMessageNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	id, conv := uuid.New(), uuid.New()
	mock.ExpectQuery("SELECT id, account_id").WithArgs(id, conv).WillReturnError(pgx.ErrNoRows)

	_, err := store.GetMessage(context.Background(), conv, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreGetConversation(t *testing.T) {
	store, mock := newMockStore(t)
	account, conv, inbox := uuid.New(), uuid.New(), uuid.New()

	mock.ExpectQuery("FROM conversations").WithArgs(conv, account).
		WillReturnRows(pgxmock.NewRows([]string{"id", "account_id", "inbox_id", "status"}).AddRow(conv, account, inbox, "open"))
	got, err := store.GetConversation(context.Background(), account, conv)
	require.NoError(t, err)
	assert.Equal(t, inbox, got.InboxID)

	mock.ExpectQuery("FROM conversations").WithArgs(conv, account).WillReturnError(pgx.ErrNoRows)
	_, err = store.GetConversation(context.Background(), account, conv)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreResetForRetry(t *testing.T) {
	store, mock := newMockStore(t)
	msg := sampleMessage()

	mock.ExpectQuery("UPDATE messages\\s+SET status").
		WithArgs(msg.ID, "sent").
		WillReturnRows(messageRow(msg, `{}`, `{}`))

	got, err := store.ResetForRetry(context.Background(), nil, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, got.Status)
	assert.Empty(t, got.ContentAttributes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreResetForRetryKeepsDeletedFlag(t *testing.T) {
	store, mock := newMockStore(t)
	msg := sampleMessage()

	mock.ExpectQuery(`content_attributes = jsonb_strip_nulls\(jsonb_build_object\('deleted', content_attributes->'deleted'\)\)`).
		WithArgs(msg.ID, "sent").
		WillReturnRows(messageRow(msg, `{"deleted":true}`, `{}`))

	got, err := store.ResetForRetry(context.Background(), nil, msg.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted())
	assert.Equal(t, map[string]any{"deleted": true}, got.ContentAttributes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreSoftDeleteAndAttachments(t *testing.T) {
	store, mock := newMockStore(t)
	msg := sampleMessage()
	msg.Content = "This message was deleted"

	mock.ExpectQuery("UPDATE messages\\s+SET content").
		WithArgs(msg.ID, "This message was deleted", "text").
		WillReturnRows(messageRow(msg, `{"deleted":true}`, `{}`))
	mock.ExpectQuery("DELETE FROM message_attachments").
		WithArgs(msg.ID).
		WillReturnRows(pgxmock.NewRows([]string{"storage_key"}).AddRow("k1").AddRow("k2"))

	got, err := store.SoftDelete(context.Background(), nil, msg.ID, "This message was deleted")
	require.NoError(t, err)
	assert.True(t, got.Deleted())

	keys, err := store.DeleteAttachments(context.Background(), nil, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2"}, keys)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreMergeTranslation(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery("SET translations = COALESCE").
		WithArgs(id, "es", "hola").
		WillReturnRows(pgxmock.NewRows([]string{"translations"}).AddRow([]byte(`{"fr":"bonjour","es":"hola"}`)))

	got, err := store.MergeTranslation(context.Background(), nil, id, "es", "hola")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"fr": "bonjour", "es": "hola"}, got)

	mock.ExpectQuery("SET translations = COALESCE").WithArgs(id, "de", "hallo").WillReturnError(pgx.ErrNoRows)
	_, err = store.MergeTranslation(context.Background(), nil, id, "de", "hallo")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
