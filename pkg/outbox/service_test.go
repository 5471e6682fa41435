package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/afm-storefront/pkg/db/models"
	"github.com/angelmondragon/afm-storefront/pkg/enums"
	"github.com/angelmondragon/afm-storefront/pkg/logger"
)

func newOutboxDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.OutboxEvent{}, &models.OutboxDLQ{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func TestEmitWritesEnvelope(t *testing.T) {
	conn := newOutboxDB(t)
	repo := NewRepository(conn)
	svc := NewService(repo, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))

	orderID := uuid.New()
	customerID := uuid.New()
	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &Actor{CustomerID: &customerID, Role: enums.CustomerRoleShopper},
			Data:          map[string]string{"number": "AFM-240301-ABC123"},
		})
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	rows, err := repo.FetchUnpublishedForPublish(conn, 10, 0)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	var envelope Envelope
	if err := json.Unmarshal(rows[0].Payload, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Version != EnvelopeVersion || envelope.EventID != rows[0].ID {
		t.Fatalf("unexpected envelope %+v", envelope)
	}
	if envelope.EventType != enums.EventOrderCreated || envelope.Aggregate.ID != orderID {
		t.Fatalf("envelope does not describe the event: %+v", envelope)
	}
	if envelope.Actor == nil || *envelope.Actor.CustomerID != customerID {
		t.Fatalf("actor not carried: %+v", envelope.Actor)
	}
	if string(envelope.Data) != `{"number":"AFM-240301-ABC123"}` {
		t.Fatalf("unexpected data %s", envelope.Data)
	}
}

func TestEmitRejectsUnknownEventAndMissingTx(t *testing.T) {
	svc := NewService(NewRepository(nil), nil)
	if err := svc.Emit(context.Background(), nil, DomainEvent{EventType: enums.EventOrderPaid}); err == nil {
		t.Fatal("expected missing tx to fail")
	}
	conn := newOutboxDB(t)
	err := svc.Emit(context.Background(), conn, DomainEvent{EventType: "order_teleported"})
	if err == nil {
		t.Fatal("expected unknown event type to fail")
	}
}

func TestEmitIfNotExistsDeduplicates(t *testing.T) {
	conn := newOutboxDB(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)

	event := DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Data:          map[string]any{},
	}
	for i := 0; i < 3; i++ {
		if err := svc.EmitIfNotExists(context.Background(), conn, event); err != nil {
			t.Fatalf("emit %d: %v", i, err)
		}
	}
	var count int64
	conn.Model(&models.OutboxEvent{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected one row, got %d", count)
	}
}

func TestRepositoryLifecycle(t *testing.T) {
	conn := newOutboxDB(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)

	for i := 0; i < 2; i++ {
		if err := svc.Emit(context.Background(), conn, DomainEvent{
			EventType:     enums.EventCartConverted,
			AggregateType: enums.AggregateCart,
			AggregateID:   uuid.New(),
			Data:          map[string]int{"i": i},
		}); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}
	rows, err := repo.FetchUnpublishedForPublish(conn, 10, 3)
	if err != nil || len(rows) != 2 {
		t.Fatalf("fetch: %v (%d rows)", err, len(rows))
	}

	if err := repo.MarkPublishedTx(conn, rows[0].ID); err != nil {
		t.Fatalf("mark published: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := repo.MarkFailedTx(conn, rows[1].ID, errors.New("pubsub unavailable")); err != nil {
			t.Fatalf("mark failed: %v", err)
		}
	}

	pending, err := repo.FetchUnpublishedForPublish(conn, 10, 3)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected exhausted row to be skipped, got %d", len(pending))
	}

	deleted, err := repo.DeletePublishedBefore(conn, time.Now().Add(time.Minute), 10)
	if err != nil || deleted != 1 {
		t.Fatalf("prune: %v (%d deleted)", err, deleted)
	}
}

func deadLetter(eventID uuid.UUID, reason enums.OutboxDLQErrorReason, message string) models.OutboxDLQ {
	return models.OutboxDLQ{
		EventID:       eventID,
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1}`),
		ErrorReason:   reason,
		ErrorMessage:  &message,
		AttemptCount:  10,
	}
}

func TestDLQInsertTruncatesAndValidates(t *testing.T) {
	conn := newOutboxDB(t)
	dlq := NewDLQRepository(conn)

	if err := dlq.InsertTx(conn, deadLetter(uuid.New(), enums.OutboxDLQReasonMaxAttempts, strings.Repeat("x", 2000))); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := dlq.InsertTx(conn, deadLetter(uuid.New(), "gave_up", "boom")); err == nil {
		t.Fatal("expected unknown reason to be rejected")
	}
	if err := dlq.InsertTx(nil, deadLetter(uuid.New(), enums.OutboxDLQReasonMaxAttempts, "boom")); err == nil {
		t.Fatal("expected a transaction to be required")
	}

	rows, err := dlq.List(context.Background(), DLQFilter{})
	if err != nil || len(rows) != 1 {
		t.Fatalf("list: %v (%d rows)", err, len(rows))
	}
	if len(*rows[0].ErrorMessage) != maxErrorLen {
		t.Fatalf("expected truncated message, got %d bytes", len(*rows[0].ErrorMessage))
	}
}

func TestDLQListFiltersByReason(t *testing.T) {
	conn := newOutboxDB(t)
	dlq := NewDLQRepository(conn)

	for _, reason := range []enums.OutboxDLQErrorReason{
		enums.OutboxDLQReasonMaxAttempts,
		enums.OutboxDLQReasonNonRetryable,
		enums.OutboxDLQReasonNonRetryable,
	} {
		if err := dlq.InsertTx(conn, deadLetter(uuid.New(), reason, "boom")); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	rows, err := dlq.List(context.Background(), DLQFilter{Reason: enums.OutboxDLQReasonNonRetryable})
	if err != nil || len(rows) != 2 {
		t.Fatalf("expected two non-retryable rows, got %d (%v)", len(rows), err)
	}
	rows, err = dlq.List(context.Background(), DLQFilter{Limit: 1})
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected limit to apply, got %d (%v)", len(rows), err)
	}
}

func TestDLQRequeueResetsOutboxRow(t *testing.T) {
	conn := newOutboxDB(t)
	repo := NewRepository(conn)
	dlq := NewDLQRepository(conn)

	event := models.OutboxEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1}`),
	}
	if err := repo.Insert(conn, event); err != nil {
		t.Fatalf("insert event: %v", err)
	}
	var stored models.OutboxEvent
	if err := conn.First(&stored).Error; err != nil {
		t.Fatalf("load event: %v", err)
	}
	if err := repo.MarkTerminalTx(conn, stored.ID, errors.New("schema mismatch"), 10); err != nil {
		t.Fatalf("terminal: %v", err)
	}
	if err := dlq.InsertTx(conn, deadLetter(stored.ID, enums.OutboxDLQReasonNonRetryable, "schema mismatch")); err != nil {
		t.Fatalf("dead letter: %v", err)
	}

	requeued, err := dlq.Requeue(context.Background(), stored.ID)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if requeued.Published() || requeued.AttemptCount != 0 || requeued.LastError != nil {
		t.Fatalf("expected a fresh outbox row, got %+v", requeued)
	}
	pending, err := repo.FetchUnpublishedForPublish(conn, 10, 10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected the event to be publishable again, got %d (%v)", len(pending), err)
	}
	rows, _ := dlq.List(context.Background(), DLQFilter{})
	if len(rows) != 0 {
		t.Fatalf("expected dead letter to be removed, got %d", len(rows))
	}

	if _, err := dlq.Requeue(context.Background(), stored.ID); !errors.Is(err, ErrDeadLetterNotFound) {
		t.Fatalf("expected ErrDeadLetterNotFound on second requeue, got %v", err)
	}
}

func TestDLQRequeueRecreatesPrunedEvent(t *testing.T) {
	conn := newOutboxDB(t)
	dlq := NewDLQRepository(conn)

	eventID := uuid.New()
	if err := dlq.InsertTx(conn, deadLetter(eventID, enums.OutboxDLQReasonMaxAttempts, "timeout")); err != nil {
		t.Fatalf("dead letter: %v", err)
	}

	requeued, err := dlq.Requeue(context.Background(), eventID)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if requeued.ID != eventID || string(requeued.Payload) != `{"version":1}` {
		t.Fatalf("expected original id and payload, got %s %s", requeued.ID, requeued.Payload)
	}
}

func TestDLQDeleteFailedBeforeHonoursLimit(t *testing.T) {
	conn := newOutboxDB(t)
	dlq := NewDLQRepository(conn)

	old := time.Now().UTC().Add(-100 * 24 * time.Hour)
	for i := range 3 {
		entry := deadLetter(uuid.New(), enums.OutboxDLQReasonMaxAttempts, "boom")
		entry.FailedAt = old.Add(time.Duration(i) * time.Minute)
		if err := dlq.InsertTx(conn, entry); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := dlq.InsertTx(conn, deadLetter(uuid.New(), enums.OutboxDLQReasonMaxAttempts, "recent")); err != nil {
		t.Fatalf("insert recent: %v", err)
	}

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	deleted, err := dlq.DeleteFailedBefore(conn, cutoff, 2)
	if err != nil || deleted != 2 {
		t.Fatalf("first chunk: %v (%d deleted)", err, deleted)
	}
	deleted, err = dlq.DeleteFailedBefore(conn, cutoff, 2)
	if err != nil || deleted != 1 {
		t.Fatalf("second chunk: %v (%d deleted)", err, deleted)
	}

	rows, err := dlq.List(context.Background(), DLQFilter{})
	if err != nil || len(rows) != 1 || *rows[0].ErrorMessage != "recent" {
		t.Fatalf("expected only the recent dead letter to survive, got %d (%v)", len(rows), err)
	}
}
