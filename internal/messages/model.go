package messages

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/conversation-relay/internal/events"
	"github.com/wolfman30/conversation-relay/internal/staging"
)

// Status is the delivery state of a message.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// MessageType says who produced a message.
type MessageType string

const (
	TypeIncoming MessageType = "incoming"
	TypeOutgoing MessageType = "outgoing"
	TypeActivity MessageType = "activity"
	TypeTemplate MessageType = "template"
)

func (t MessageType) valid() bool {
	switch t {
	case TypeIncoming, TypeOutgoing, TypeActivity, TypeTemplate:
		return true
	}
	return false
}

const (
	ContentTypeText = "text"

	attrDeleted = "deleted"
)

// Message is a persisted conversation message.
type Message struct {
	ID                uuid.UUID
	AccountID         uuid.UUID
	ConversationID    uuid.UUID
	InboxID           uuid.UUID
	SenderID          string
	MessageType       MessageType
	Content           string
	ContentType       string
	ContentAttributes map[string]any
	Status            Status
	Translations      map[string]string
	Private           bool
	Attachments       []AttachmentRecord
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Deleted reports whether the message was soft deleted.
func (m *Message) Deleted() bool {
	if m == nil {
		return false
	}
	deleted, _ := m.ContentAttributes[attrDeleted].(bool)
	return deleted
}

// Snapshot converts the message into its event payload form.
func (m *Message) Snapshot() events.MessageSnapshot {
	return events.MessageSnapshot{
		ID:                m.ID,
		AccountID:         m.AccountID,
		ConversationID:    m.ConversationID,
		InboxID:           m.InboxID,
		SenderID:          m.SenderID,
		MessageType:       string(m.MessageType),
		Content:           m.Content,
		ContentType:       m.ContentType,
		ContentAttributes: m.ContentAttributes,
		Status:            string(m.Status),
		Translations:      m.Translations,
		Private:           m.Private,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

// AttachmentRecord is the stored metadata for an uploaded attachment.
type AttachmentRecord struct {
	ID          uuid.UUID `json:"id"`
	MessageID   uuid.UUID `json:"message_id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	StorageKey  string    `json:"-"`
	Size        int64     `json:"size"`
}

// Conversation is the minimal conversation view this package needs.
type Conversation struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	InboxID   uuid.UUID
	Status    string
}

// Sender identifies who is creating a message.
type Sender struct {
	ID   string
	Type string
}

// CreateParams are the caller-supplied fields of a new message.
type CreateParams struct {
	Content           string
	MessageType       MessageType
	ContentType       string
	ContentAttributes map[string]any
	Private           bool
	Attachments       []staging.Attachment
}

// TranslateResult is returned by Service.Translate.
type TranslateResult struct {
	Content           string
	Translations      map[string]string
	AlreadyTranslated bool
}

func normalizeLanguage(lang string) string {
	return strings.TrimSpace(lang)
}
