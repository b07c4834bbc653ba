package messages

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfman30/conversation-relay/internal/enrichment"
	"github.com/wolfman30/conversation-relay/internal/events"
	"github.com/wolfman30/conversation-relay/internal/staging"
	"github.com/wolfman30/conversation-relay/pkg/logging"
)

const (
	defaultDeletedText = "This message was deleted"
	createFailedText   = "could not create message"
	retryFailedText    = "could not retry message"
)

// Repository is the persistence surface the service needs. *Store satisfies it.
type Repository interface {
	InTx(ctx context.Context, fn func(q Querier) error) error
	InsertMessage(ctx context.Context, q Querier, msg *Message) error
	InsertAttachment(ctx context.Context, q Querier, rec AttachmentRecord) error
	GetMessage(ctx context.Context, conversationID, messageID uuid.UUID) (*Message, error)
	ResetForRetry(ctx context.Context, q Querier, messageID uuid.UUID) (*Message, error)
	SoftDelete(ctx context.Context, q Querier, messageID uuid.UUID, placeholder string) (*Message, error)
	DeleteAttachments(ctx context.Context, q Querier, messageID uuid.UUID) ([]string, error)
	MergeTranslation(ctx context.Context, q Querier, messageID uuid.UUID, language, text string) (map[string]string, error)
}

// Enricher folds audio transcripts into message content.
type Enricher interface {
	Enrich(ctx context.Context, original string, attachments []staging.Attachment) string
}

// Translator renders text in another language.
type Translator interface {
	Translate(ctx context.Context, text, targetLanguage string) (string, error)
}

// BlobStore keeps attachment bytes.
type BlobStore interface {
	Upload(ctx context.Context, key string, att staging.Attachment) error
	Remove(ctx context.Context, keys ...string) error
}

// ReplyEnqueuer schedules the outbound send of a message.
type ReplyEnqueuer interface {
	EnqueueSendReply(ctx context.Context, msg *Message) error
}

// OutboxWriter records events inside the caller's transaction.
type OutboxWriter interface {
	Append(ctx context.Context, exec events.Execer, accountID uuid.UUID, aggregate string, evt events.Event) (uuid.UUID, error)
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Repo              Repository
	Enricher          Enricher
	Translator        Translator
	Blobs             BlobStore
	Replies           ReplyEnqueuer
	Outbox            OutboxWriter
	AttachmentsPrefix string
	DeletedText       string
	Logger            *logging.Logger
}

// Service implements message create, retry, translate and delete.
type Service struct {
	repo              Repository
	enricher          Enricher
	translator        Translator
	blobs             BlobStore
	replies           ReplyEnqueuer
	outbox            OutboxWriter
	attachmentsPrefix string
	deletedText       string
	logger            *logging.Logger
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Repo == nil {
		panic("messages: repository cannot be nil")
	}
	if cfg.Outbox == nil {
		panic("messages: outbox cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	deletedText := strings.TrimSpace(cfg.DeletedText)
	if deletedText == "" {
		deletedText = defaultDeletedText
	}
	return &Service{
		repo:              cfg.Repo,
		enricher:          cfg.Enricher,
		translator:        cfg.Translator,
		blobs:             cfg.Blobs,
		replies:           cfg.Replies,
		outbox:            cfg.Outbox,
		attachmentsPrefix: cfg.AttachmentsPrefix,
		deletedText:       deletedText,
		logger:            cfg.Logger,
	}
}

// Create builds and persists a message. Audio attachments are transcribed
// first and their text is appended to the content. Every failure comes back
// as *CreationError.
func (s *Service) Create(ctx context.Context, sender Sender, conv *Conversation, params CreateParams) (*Message, error) {
	if conv == nil {
		return nil, newCreationError("conversation is required", nil)
	}

	content := params.Content
	if s.enricher != nil && enrichment.HasAudio(params.Attachments) {
		content = s.enricher.Enrich(ctx, content, params.Attachments)
	}

	msg, err := s.build(sender, conv, params, content)
	if err != nil {
		s.logger.Warn("message rejected", "error", err, "conversation_id", conv.ID)
		return nil, err
	}

	keys, err := s.uploadAttachments(ctx, msg, params.Attachments)
	if err != nil {
		s.logger.Error("attachment upload failed", "error", err, "message_id", msg.ID)
		return nil, newCreationError(createFailedText, err)
	}

	err = s.repo.InTx(ctx, func(q Querier) error {
		if err := s.repo.InsertMessage(ctx, q, msg); err != nil {
			return err
		}
		for _, rec := range msg.Attachments {
			if err := s.repo.InsertAttachment(ctx, q, rec); err != nil {
				return err
			}
		}
		_, err := s.outbox.Append(ctx, q, msg.AccountID, aggregateFor(msg.ID), events.MessageCreatedV1{MessageSnapshot: msg.Snapshot()})
		return err
	})
	if err != nil {
		s.logger.Error("message create failed", "error", err, "message_id", msg.ID, "conversation_id", conv.ID)
		s.removeBlobs(ctx, msg.ID, keys)
		return nil, newCreationError(createFailedText, err)
	}

	s.logger.Info("message created", "message_id", msg.ID, "conversation_id", conv.ID, "attachments", len(msg.Attachments))
	return msg, nil
}

func (s *Service) build(sender Sender, conv *Conversation, params CreateParams, content string) (*Message, error) {
	messageType := params.MessageType
	if messageType == "" {
		messageType = TypeOutgoing
	}
	if !messageType.valid() {
		return nil, newCreationError(fmt.Sprintf("invalid message_type %q", messageType), nil)
	}
	if strings.TrimSpace(content) == "" && len(params.Attachments) == 0 {
		return nil, newCreationError("content or attachments required", nil)
	}
	contentType := strings.TrimSpace(params.ContentType)
	if contentType == "" {
		contentType = ContentTypeText
	}
	attrs := map[string]any{}
	for k, v := range params.ContentAttributes {
		attrs[k] = v
	}

	msg := &Message{
		ID:                uuid.New(),
		AccountID:         conv.AccountID,
		ConversationID:    conv.ID,
		InboxID:           conv.InboxID,
		SenderID:          sender.ID,
		MessageType:       messageType,
		Content:           content,
		ContentType:       contentType,
		ContentAttributes: attrs,
		Status:            StatusSent,
		Translations:      map[string]string{},
		Private:           params.Private,
	}
	for i, att := range params.Attachments {
		msg.Attachments = append(msg.Attachments, AttachmentRecord{
			ID:          uuid.New(),
			MessageID:   msg.ID,
			FileName:    att.FileName,
			ContentType: att.ContentType,
			StorageKey:  staging.AttachmentKey(s.attachmentsPrefix, msg.ID, i, att.FileName),
			Size:        int64(len(att.Data)),
		})
	}
	return msg, nil
}

func (s *Service) uploadAttachments(ctx context.Context, msg *Message, atts []staging.Attachment) ([]string, error) {
	if len(atts) == 0 {
		return nil, nil
	}
	if s.blobs == nil {
		return nil, errors.New("messages: attachment storage not configured")
	}
	keys := make([]string, 0, len(atts))
	for i, att := range atts {
		key := msg.Attachments[i].StorageKey
		if err := s.blobs.Upload(ctx, key, att); err != nil {
			s.removeBlobs(ctx, msg.ID, keys)
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *Service) removeBlobs(ctx context.Context, messageID uuid.UUID, keys []string) {
	if s.blobs == nil || len(keys) == 0 {
		return
	}
	if err := s.blobs.Remove(context.WithoutCancel(ctx), keys...); err != nil {
		s.logger.Warn("failed to remove attachment blobs", "error", err, "message_id", messageID)
	}
}

// Retry resets a message to sent and enqueues its send again. A missing
// message is a no-op.
func (s *Service) Retry(ctx context.Context, conversationID, messageID uuid.UUID) error {
	msg, err := s.repo.GetMessage(ctx, conversationID, messageID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Debug("retry skipped: message not found", "message_id", messageID)
			return nil
		}
		s.logger.Error("retry lookup failed", "error", err, "message_id", messageID)
		return newCreationError(retryFailedText, err)
	}

	var updated *Message
	err = s.repo.InTx(ctx, func(q Querier) error {
		var err error
		updated, err = s.repo.ResetForRetry(ctx, q, msg.ID)
		if err != nil {
			return err
		}
		_, err = s.outbox.Append(ctx, q, updated.AccountID, aggregateFor(updated.ID), events.MessageUpdatedV1{
			MessageSnapshot: updated.Snapshot(),
			Change:          "retry",
		})
		return err
	})
	if err != nil {
		s.logger.Error("retry update failed", "error", err, "message_id", messageID)
		return newCreationError(retryFailedText, err)
	}

	if s.replies != nil {
		if err := s.replies.EnqueueSendReply(ctx, updated); err != nil {
			s.logger.Error("retry enqueue failed", "error", err, "message_id", messageID)
			return newCreationError(retryFailedText, err)
		}
	}
	s.logger.Info("message retry enqueued", "message_id", messageID)
	return nil
}

// Translate returns the message content in targetLanguage, calling the
// translator only when no stored translation exists for that language.
func (s *Service) Translate(ctx context.Context, conversationID, messageID uuid.UUID, targetLanguage string) (TranslateResult, error) {
	lang := normalizeLanguage(targetLanguage)
	if lang == "" {
		return TranslateResult{}, &TranslationError{Language: targetLanguage, Err: errors.New("target language required")}
	}

	msg, err := s.repo.GetMessage(ctx, conversationID, messageID)
	if err != nil {
		return TranslateResult{}, err
	}
	if existing, ok := msg.Translations[lang]; ok {
		return TranslateResult{Content: existing, Translations: msg.Translations, AlreadyTranslated: true}, nil
	}
	if s.translator == nil {
		return TranslateResult{}, &TranslationError{Language: lang, Err: errors.New("translator not configured")}
	}

	text, err := s.translator.Translate(ctx, msg.Content, lang)
	if err != nil {
		s.logger.Warn("translation failed", "error", err, "message_id", messageID, "language", lang)
		return TranslateResult{}, &TranslationError{Language: lang, Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return TranslateResult{Content: text, Translations: msg.Translations}, nil
	}

	var merged map[string]string
	err = s.repo.InTx(ctx, func(q Querier) error {
		var err error
		merged, err = s.repo.MergeTranslation(ctx, q, msg.ID, lang, text)
		if err != nil {
			return err
		}
		snapshot := msg.Snapshot()
		snapshot.Translations = merged
		_, err = s.outbox.Append(ctx, q, msg.AccountID, aggregateFor(msg.ID), events.MessageUpdatedV1{
			MessageSnapshot: snapshot,
			Change:          "translated",
		})
		return err
	})
	if err != nil {
		s.logger.Error("translation merge failed", "error", err, "message_id", messageID, "language", lang)
		return TranslateResult{}, &TranslationError{Language: lang, Err: err}
	}
	return TranslateResult{Content: text, Translations: merged}, nil
}

// Destroy soft deletes a message and drops its attachments.
func (s *Service) Destroy(ctx context.Context, conversationID, messageID uuid.UUID) (*Message, error) {
	msg, err := s.repo.GetMessage(ctx, conversationID, messageID)
	if err != nil {
		return nil, err
	}

	var (
		deleted *Message
		keys    []string
	)
	err = s.repo.InTx(ctx, func(q Querier) error {
		var err error
		deleted, err = s.repo.SoftDelete(ctx, q, msg.ID, s.deletedText)
		if err != nil {
			return err
		}
		keys, err = s.repo.DeleteAttachments(ctx, q, msg.ID)
		if err != nil {
			return err
		}
		_, err = s.outbox.Append(ctx, q, deleted.AccountID, aggregateFor(deleted.ID), events.MessageUpdatedV1{
			MessageSnapshot: deleted.Snapshot(),
			Change:          "deleted",
		})
		return err
	})
	if err != nil {
		s.logger.Error("message delete failed", "error", err, "message_id", messageID)
		return nil, fmt.Errorf("messages: destroy: %w", err)
	}

	s.removeBlobs(ctx, deleted.ID, keys)
	return deleted, nil
}

func aggregateFor(messageID uuid.UUID) string {
	return "message:" + messageID.String()
}
