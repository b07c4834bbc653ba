package messages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/conversation-relay/internal/staging"
	"github.com/wolfman30/conversation-relay/pkg/logging"
)

const (
	defaultMaxUploadBytes = 32 << 20
	multipartMemoryBytes  = 8 << 20
	userHeader            = "X-User-ID"
)

var errUploadTooLarge = errors.New("request body too large")

type messageService interface {
	Create(ctx context.Context, sender Sender, conv *Conversation, params CreateParams) (*Message, error)
	Retry(ctx context.Context, conversationID, messageID uuid.UUID) error
	Translate(ctx context.Context, conversationID, messageID uuid.UUID, targetLanguage string) (TranslateResult, error)
	Destroy(ctx context.Context, conversationID, messageID uuid.UUID) (*Message, error)
}

type conversationLookup interface {
	GetConversation(ctx context.Context, accountID, conversationID uuid.UUID) (*Conversation, error)
}

// HandlerConfig wires a Handler.
type HandlerConfig struct {
	Service       messageService
	Conversations conversationLookup
	Logger        *logging.Logger
	// MaxUploadBytes caps a create request body, attachments included.
	MaxUploadBytes int64
}

// Handler serves the conversation messages API.
type Handler struct {
	service        messageService
	conversations  conversationLookup
	logger         *logging.Logger
	maxUploadBytes int64
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{
		service:        cfg.Service,
		conversations:  cfg.Conversations,
		logger:         cfg.Logger,
		maxUploadBytes: cfg.MaxUploadBytes,
	}
}

// Routes mounts the message endpoints on r. r is expected to be scoped to
// /accounts/{accountID}/conversations/{conversationID}/messages.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Create)
	r.Delete("/{messageID}", h.Destroy)
	r.Post("/{messageID}/retry", h.Retry)
	r.Post("/{messageID}/translate", h.Translate)
}

type createMessageRequest struct {
	Content           string         `json:"content"`
	MessageType       string         `json:"message_type"`
	ContentType       string         `json:"content_type"`
	ContentAttributes map[string]any `json:"content_attributes"`
	Private           bool           `json:"private"`
}

type translateRequest struct {
	TargetLanguage string `json:"target_language"`
}

type messageResponse struct {
	ID                uuid.UUID          `json:"id"`
	ConversationID    uuid.UUID          `json:"conversation_id"`
	InboxID           uuid.UUID          `json:"inbox_id"`
	SenderID          string             `json:"sender_id,omitempty"`
	MessageType       string             `json:"message_type"`
	Content           string             `json:"content"`
	ContentType       string             `json:"content_type"`
	ContentAttributes map[string]any     `json:"content_attributes"`
	Status            string             `json:"status"`
	Translations      map[string]string  `json:"translations"`
	Private           bool               `json:"private"`
	Attachments       []AttachmentRecord `json:"attachments"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

func toResponse(msg *Message) messageResponse {
	atts := msg.Attachments
	if atts == nil {
		atts = []AttachmentRecord{}
	}
	return messageResponse{
		ID:                msg.ID,
		ConversationID:    msg.ConversationID,
		InboxID:           msg.InboxID,
		SenderID:          msg.SenderID,
		MessageType:       string(msg.MessageType),
		Content:           msg.Content,
		ContentType:       msg.ContentType,
		ContentAttributes: nonNilAttrs(msg.ContentAttributes),
		Status:            string(msg.Status),
		Translations:      nonNilTranslations(msg.Translations),
		Private:           msg.Private,
		Attachments:       atts,
		CreatedAt:         msg.CreatedAt,
		UpdatedAt:         msg.UpdatedAt,
	}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	accountID, conversationID, ok := h.scope(w, r)
	if !ok {
		return
	}
	conv, err := h.conversations.GetConversation(r.Context(), accountID, conversationID)
	if err != nil {
		h.writeLookupError(w, err, "conversation")
		return
	}

	if r.ContentLength > h.maxUploadBytes {
		http.Error(w, errUploadTooLarge.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	params, err := parseCreateParams(r)
	if err != nil {
		if errors.Is(err, errUploadTooLarge) {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sender := Sender{ID: strings.TrimSpace(r.Header.Get(userHeader)), Type: "user"}
	msg, err := h.service.Create(r.Context(), sender, conv, params)
	if err != nil {
		h.writeCreationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(msg))
}

func (h *Handler) Destroy(w http.ResponseWriter, r *http.Request) {
	_, conversationID, ok := h.scope(w, r)
	if !ok {
		return
	}
	messageID, ok := parseID(w, r, "messageID")
	if !ok {
		return
	}
	msg, err := h.service.Destroy(r.Context(), conversationID, messageID)
	if err != nil {
		h.writeLookupError(w, err, "message")
		return
	}
	writeJSON(w, http.StatusOK, toResponse(msg))
}

func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	_, conversationID, ok := h.scope(w, r)
	if !ok {
		return
	}
	messageID, ok := parseID(w, r, "messageID")
	if !ok {
		return
	}
	if err := h.service.Retry(r.Context(), conversationID, messageID); err != nil {
		h.writeCreationError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) Translate(w http.ResponseWriter, r *http.Request) {
	_, conversationID, ok := h.scope(w, r)
	if !ok {
		return
	}
	messageID, ok := parseID(w, r, "messageID")
	if !ok {
		return
	}
	var req translateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.TargetLanguage) == "" {
		http.Error(w, "target_language required", http.StatusBadRequest)
		return
	}

	res, err := h.service.Translate(r.Context(), conversationID, messageID, req.TargetLanguage)
	if err != nil {
		var terr *TranslationError
		switch {
		case errors.Is(err, ErrNotFound):
			http.Error(w, "message not found", http.StatusNotFound)
		case errors.As(err, &terr):
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "translation failed"})
		default:
			h.logger.Error("translate failed", "error", err, "message_id", messageID)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"content": res.Content})
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	accountID, ok := parseID(w, r, "accountID")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	conversationID, ok := parseID(w, r, "conversationID")
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return accountID, conversationID, true
}

func (h *Handler) writeCreationError(w http.ResponseWriter, err error) {
	var cerr *CreationError
	if errors.As(err, &cerr) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": cerr.Message})
		return
	}
	h.logger.Error("unexpected message error", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func (h *Handler) writeLookupError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, ErrNotFound) {
		http.Error(w, what+" not found", http.StatusNotFound)
		return
	}
	h.logger.Error("lookup failed", "error", err, "resource", what)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, param)))
	if err != nil {
		http.Error(w, "invalid "+param, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func parseCreateParams(r *http.Request) (CreateParams, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return parseMultipartParams(r)
	}

	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if tooLarge(err) {
			return CreateParams{}, errUploadTooLarge
		}
		return CreateParams{}, errors.New("invalid json")
	}
	return CreateParams{
		Content:           req.Content,
		MessageType:       MessageType(strings.TrimSpace(req.MessageType)),
		ContentType:       req.ContentType,
		ContentAttributes: req.ContentAttributes,
		Private:           req.Private,
	}, nil
}

func parseMultipartParams(r *http.Request) (CreateParams, error) {
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		if tooLarge(err) {
			return CreateParams{}, errUploadTooLarge
		}
		return CreateParams{}, fmt.Errorf("invalid multipart form: %v", err)
	}
	params := CreateParams{
		Content:     r.FormValue("content"),
		MessageType: MessageType(strings.TrimSpace(r.FormValue("message_type"))),
		ContentType: r.FormValue("content_type"),
	}
	if raw := strings.TrimSpace(r.FormValue("private")); raw != "" {
		private, err := strconv.ParseBool(raw)
		if err != nil {
			return CreateParams{}, errors.New("invalid private flag")
		}
		params.Private = private
	}
	if raw := strings.TrimSpace(r.FormValue("content_attributes")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &params.ContentAttributes); err != nil {
			return CreateParams{}, errors.New("invalid content_attributes")
		}
	}

	var headers []*multipart.FileHeader
	if r.MultipartForm != nil {
		headers = append(headers, r.MultipartForm.File["attachments[]"]...)
		headers = append(headers, r.MultipartForm.File["attachments"]...)
	}
	for _, fh := range headers {
		att, err := readAttachment(fh)
		if err != nil {
			return CreateParams{}, err
		}
		params.Attachments = append(params.Attachments, att)
	}
	return params, nil
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func readAttachment(fh *multipart.FileHeader) (staging.Attachment, error) {
	f, err := fh.Open()
	if err != nil {
		return staging.Attachment{}, fmt.Errorf("read attachment %s: %v", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return staging.Attachment{}, fmt.Errorf("read attachment %s: %v", fh.Filename, err)
	}
	return staging.Attachment{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
