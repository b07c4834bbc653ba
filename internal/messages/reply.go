package messages

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/conversation-relay/internal/queue"
	"github.com/wolfman30/conversation-relay/pkg/logging"
)

const jobTypeSendReply = "send_reply"

// SendReplyJob asks the outbound channel worker to (re)send a message.
type SendReplyJob struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	MessageID      uuid.UUID `json:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	AccountID      uuid.UUID `json:"account_id"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

// ReplyPublisher enqueues send-reply jobs on the high priority lane.
type ReplyPublisher struct {
	lanes  queue.Lanes
	logger *logging.Logger
	now    func() time.Time
}

func NewReplyPublisher(lanes queue.Lanes, logger *logging.Logger) *ReplyPublisher {
	if lanes == nil {
		panic("messages: queue lanes cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ReplyPublisher{lanes: lanes, logger: logger, now: time.Now}
}

// EnqueueSendReply publishes the job and returns without waiting for delivery.
func (p *ReplyPublisher) EnqueueSendReply(ctx context.Context, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("messages: message required")
	}
	job := SendReplyJob{
		ID:             uuid.NewString(),
		Kind:           jobTypeSendReply,
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		AccountID:      msg.AccountID,
		EnqueuedAt:     p.now().UTC(),
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("messages: marshal send reply job: %w", err)
	}
	if err := p.lanes.Send(ctx, queue.LaneHigh, string(body), 0); err != nil {
		return fmt.Errorf("messages: failed to enqueue send reply: %w", err)
	}
	p.logger.Debug("send reply job enqueued", "job_id", job.ID, "message_id", msg.ID)
	return nil
}
