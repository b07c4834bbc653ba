package events

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	TypeMessageCreated = "message_created"
	TypeMessageUpdated = "message_updated"

	// conversationPrefix marks conversation_* events written by other services.
	conversationPrefix = "conversation_"
)

var errNilEvent = errors.New("events: event required")

// Event is a typed payload that knows its outbox type.
type Event interface {
	EventType() string
}

// IsConversationEvent reports whether eventType is a conversation_* event.
func IsConversationEvent(eventType string) bool {
	return strings.HasPrefix(eventType, conversationPrefix)
}

// MessageSnapshot is the webhook-facing view of a message.
type MessageSnapshot struct {
	ID                uuid.UUID         `json:"id"`
	AccountID         uuid.UUID         `json:"account_id"`
	ConversationID    uuid.UUID         `json:"conversation_id"`
	InboxID           uuid.UUID         `json:"inbox_id"`
	SenderID          string            `json:"sender_id,omitempty"`
	MessageType       string            `json:"message_type"`
	Content           string            `json:"content"`
	ContentType       string            `json:"content_type"`
	ContentAttributes map[string]any    `json:"content_attributes"`
	Status            string            `json:"status"`
	Translations      map[string]string `json:"translations,omitempty"`
	Private           bool              `json:"private"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

type MessageCreatedV1 struct {
	MessageSnapshot
}

func (MessageCreatedV1) EventType() string {
	return TypeMessageCreated
}

type MessageUpdatedV1 struct {
	MessageSnapshot
	// Change names the mutation: "retry", "deleted" or "translated".
	Change string `json:"change,omitempty"`
}

func (MessageUpdatedV1) EventType() string {
	return TypeMessageUpdated
}
