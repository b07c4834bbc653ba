package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/conversation-relay/pkg/logging"
)

const ledgerTTL = 7 * 24 * time.Hour

// Outcome is the state recorded after an attempt.
type Outcome string

const (
	OutcomeRetrying  Outcome = "retrying"
	OutcomeDelivered Outcome = "delivered"
	OutcomeExhausted Outcome = "exhausted"
)

// ErrAttemptNotFound indicates the ledger has no record for a task.
var ErrAttemptNotFound = errors.New("webhooks: attempt record not found")

// Ledger records the latest delivery state of each task.
type Ledger interface {
	Record(ctx context.Context, task Task, outcome Outcome, cause error) error
}

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// AttemptRecord is the persisted ledger row, keyed by task id.
type AttemptRecord struct {
	TaskID      string  `dynamodbav:"taskId" json:"taskId"`
	URL         string  `dynamodbav:"url" json:"url"`
	WebhookType Type    `dynamodbav:"webhookType" json:"webhookType"`
	Attempts    int     `dynamodbav:"attempts" json:"attempts"`
	Outcome     Outcome `dynamodbav:"outcome" json:"outcome"`
	LastError   string  `dynamodbav:"lastError,omitempty" json:"lastError,omitempty"`
	UpdatedAt   string  `dynamodbav:"updatedAt" json:"updatedAt"`
	ExpiresAt   int64   `dynamodbav:"expiresAt,omitempty" json:"-"`
}

// AttemptLedger stores AttemptRecords in DynamoDB.
type AttemptLedger struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
	now       func() time.Time
}

func NewAttemptLedger(client dynamoAPI, tableName string, logger *logging.Logger) *AttemptLedger {
	if client == nil {
		panic("webhooks: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("webhooks: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AttemptLedger{client: client, tableName: tableName, logger: logger, now: time.Now}
}

// Record overwrites the task's row with its latest attempt.
func (l *AttemptLedger) Record(ctx context.Context, task Task, outcome Outcome, cause error) error {
	now := l.now().UTC()
	rec := AttemptRecord{
		TaskID:      task.ID,
		URL:         task.URL,
		WebhookType: task.WebhookType,
		Attempts:    task.Attempt,
		Outcome:     outcome,
		UpdatedAt:   now.Format(time.RFC3339Nano),
		ExpiresAt:   now.Add(ledgerTTL).Unix(),
	}
	if cause != nil {
		rec.LastError = cause.Error()
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("webhooks: failed to marshal attempt record: %w", err)
	}
	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("webhooks: failed to persist attempt record: %w", err)
	}
	return nil
}

// Get fetches the latest record for taskID.
func (l *AttemptLedger) Get(ctx context.Context, taskID string) (*AttemptRecord, error) {
	if taskID == "" {
		return nil, errors.New("webhooks: taskID required")
	}
	out, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(l.tableName),
		Key: map[string]types.AttributeValue{
			"taskId": &types.AttributeValueMemberS{Value: taskID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("webhooks: failed to fetch attempt record: %w", err)
	}
	if out.Item == nil {
		return nil, ErrAttemptNotFound
	}
	var rec AttemptRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("webhooks: failed to decode attempt record: %w", err)
	}
	return &rec, nil
}
