package webhooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/conversation-relay/pkg/logging"
)

type mockDynamo struct {
	putInput  *dynamodb.PutItemInput
	putErr    error
	getInput  *dynamodb.GetItemInput
	getOutput *dynamodb.GetItemOutput
	getErr    error
}

func (m *mockDynamo) PutItem(ctx context.Context, input *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putInput = input
	return &dynamodb.PutItemOutput{}, m.putErr
}

func (m *mockDynamo) GetItem(ctx context.Context, input *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.getInput = input
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.getOutput == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return m.getOutput, nil
}

func TestAttemptLedger_RecordPersistsAttempt(t *testing.T) {
	mock := &mockDynamo{}
	ledger := NewAttemptLedger(mock, "webhook_attempts", logging.Discard())
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return fixed }

	task := Task{ID: "task-1", URL: "https://hooks.example.com", WebhookType: TypeAccount, Attempt: 3}
	if err := ledger.Record(context.Background(), task, OutcomeExhausted, errors.New("502")); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if mock.putInput == nil {
		t.Fatal("expected PutItem to be called")
	}
	if got := *mock.putInput.TableName; got != "webhook_attempts" {
		t.Fatalf("expected table webhook_attempts, got %s", got)
	}

	var stored AttemptRecord
	if err := attributevalue.UnmarshalMap(mock.putInput.Item, &stored); err != nil {
		t.Fatalf("failed to unmarshal stored record: %v", err)
	}
	if stored.TaskID != "task-1" || stored.Attempts != 3 {
		t.Fatalf("unexpected record %+v", stored)
	}
	if stored.Outcome != OutcomeExhausted {
		t.Fatalf("expected exhausted outcome, got %s", stored.Outcome)
	}
	if stored.LastError != "502" {
		t.Fatalf("expected last error 502, got %q", stored.LastError)
	}
	if stored.ExpiresAt != fixed.Add(ledgerTTL).Unix() {
		t.Fatalf("unexpected TTL %d", stored.ExpiresAt)
	}
}

func TestAttemptLedger_RecordError(t *testing.T) {
	mock := &mockDynamo{putErr: errors.New("throttled")}
	ledger := NewAttemptLedger(mock, "webhook_attempts", nil)
	if err := ledger.Record(context.Background(), Task{ID: "t"}, OutcomeDelivered, nil); err == nil {
		t.Fatal("expected error when PutItem fails")
	}
}

func TestAttemptLedger_Get(t *testing.T) {
	item, err := attributevalue.MarshalMap(AttemptRecord{TaskID: "task-9", Attempts: 2, Outcome: OutcomeRetrying})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	mock := &mockDynamo{getOutput: &dynamodb.GetItemOutput{Item: item}}
	ledger := NewAttemptLedger(mock, "webhook_attempts", nil)

	rec, err := ledger.Get(context.Background(), "task-9")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if rec.Attempts != 2 || rec.Outcome != OutcomeRetrying {
		t.Fatalf("unexpected record %+v", rec)
	}
	key, ok := mock.getInput.Key["taskId"].(*types.AttributeValueMemberS)
	if !ok || key.Value != "task-9" {
		t.Fatalf("expected taskId key, got %#v", mock.getInput.Key)
	}
}

func TestAttemptLedger_GetMissing(t *testing.T) {
	ledger := NewAttemptLedger(&mockDynamo{}, "webhook_attempts", nil)
	if _, err := ledger.Get(context.Background(), "missing"); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("expected ErrAttemptNotFound, got %v", err)
	}
	if _, err := ledger.Get(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty task id")
	}
}

func TestNewAttemptLedgerPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for empty table name")
		}
	}()
	NewAttemptLedger(&mockDynamo{}, "", nil)
}
