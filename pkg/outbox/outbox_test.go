package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

func openOutboxDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, conn.Exec(`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		next_attempt_at TIMESTAMP,
		published_at TIMESTAMP,
		created_at TIMESTAMP
	)`).Error)
	require.NoError(t, conn.Exec(`CREATE TABLE outbox_dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload_json BLOB NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT,
		attempt_count INTEGER NOT NULL,
		failed_at TIMESTAMP
	)`).Error)
	return conn
}

func TestEmitWritesEnvelopeInsideTransaction(t *testing.T) {
	conn := openOutboxDB(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)
	orderID := uuid.New()
	userID := uuid.New()

	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &ActorRef{UserID: &userID, Role: string(enums.ActorRoleCustomer)},
			Data:          map[string]any{"order_id": orderID.String()},
		})
	})
	require.NoError(t, err)

	rows, err := repo.FetchUnpublishedForPublish(conn, 10, 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.Equal(t, rows[0].ID.String(), envelope.EventID)
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, "customer", envelope.Actor.Role)
	assert.JSONEq(t, fmt.Sprintf(`{"order_id":%q}`, orderID.String()), string(envelope.Data))
}

func TestEmitRollsBackWithCaller(t *testing.T) {
	conn := openOutboxDB(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)

	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Data:          map[string]any{},
		}); err != nil {
			return err
		}
		return errors.New("state change failed")
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEmitRejectsUnknownTypesAndMissingTx(t *testing.T) {
	svc := NewService(NewRepository(nil), nil)
	err := svc.Emit(context.Background(), nil, DomainEvent{})

	require.ErrorIs(t, err, ErrTxRequired)

	conn := openOutboxDB(t)
	err = svc.Emit(context.Background(), conn, DomainEvent{EventType: "bogus", AggregateType: enums.AggregateOrder, AggregateID: uuid.New()})
	require.ErrorIs(t, err, ErrInvalidEvent)

	err = svc.Emit(context.Background(), conn, DomainEvent{EventType: enums.EventOrderCreated, AggregateType: enums.AggregateOrder})
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestRepositoryRetryAndPublishLifecycle(t *testing.T) {
	conn := openOutboxDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := NewRepository(conn)
	repo.now = func() time.Time { return now }

	row := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPaymentSucceeded,
		AggregateType: enums.AggregatePayment,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
	}
	require.NoError(t, repo.Insert(conn, row))

	require.NoError(t, repo.MarkFailedTx(conn, row.ID, errors.New("unavailable"), now.Add(time.Minute)))
	due, err := repo.FetchUnpublishedForPublish(conn, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, due, "row deferred until next_attempt_at")

	now = now.Add(2 * time.Minute)
	due, err = repo.FetchUnpublishedForPublish(conn, 10, 5)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].AttemptCount)
	require.NotNil(t, due[0].LastError)

	require.NoError(t, repo.MarkPublishedTx(conn, row.ID))
	due, err = repo.FetchUnpublishedForPublish(conn, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, due)

	deleted, err := repo.DeletePublishedBefore(conn, now.Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
}

func TestTerminalRowsAreNotFetchedAndLandInDLQ(t *testing.T) {
	conn := openOutboxDB(t)
	repo := NewRepository(conn)
	dlq := NewDLQRepository(conn)

	row := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
	}
	require.NoError(t, repo.Insert(conn, row))

	long := make([]byte, maxDLQErrorLen+50)
	for i := range long {
		long[i] = 'x'
	}
	msg := string(long)
	require.NoError(t, dlq.InsertTx(conn, models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
		ErrorMessage:  &msg,
		AttemptCount:  5,
		FailedAt:      time.Now().UTC(),
	}))
	require.NoError(t, repo.MarkTerminalTx(conn, row.ID, errors.New("gave up"), 5))

	due, err := repo.FetchUnpublishedForPublish(conn, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, due)

	stored, err := dlq.FindByEventID(context.Background(), row.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.NotNil(t, stored.ErrorMessage)
	assert.Len(t, *stored.ErrorMessage, maxDLQErrorLen)

	missing, err := dlq.FindByEventID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDLQReplayResetsOutboxRow(t *testing.T) {
	conn := openOutboxDB(t)
	repo := NewRepository(conn)
	dlq := NewDLQRepository(conn)
	ctx := context.Background()

	row := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
	}
	require.NoError(t, repo.Insert(conn, row))
	require.NoError(t, repo.MarkTerminalTx(conn, row.ID, errors.New("topic missing"), 5))
	require.NoError(t, dlq.InsertTx(conn, models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   enums.OutboxDLQReasonNonRetryable,
		AttemptCount:  5,
		FailedAt:      time.Now().UTC(),
	}))

	counts, err := dlq.CountByReason(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[enums.OutboxDLQReasonNonRetryable])

	listed, err := dlq.List(ctx, DLQFilter{Reason: enums.OutboxDLQReasonMaxAttempts})
	require.NoError(t, err)
	assert.Empty(t, listed)
	listed, err = dlq.List(ctx, DLQFilter{Reason: enums.OutboxDLQReasonNonRetryable})
	require.NoError(t, err)
	require.Len(t, listed, 1)

	require.NoError(t, dlq.Replay(ctx, row.ID))

	due, err := repo.FetchUnpublishedForPublish(conn, 10, 5)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 0, due[0].AttemptCount)
	assert.Nil(t, due[0].LastError)

	assert.ErrorIs(t, dlq.Replay(ctx, row.ID), ErrDLQEntryNotFound)
}

func TestDecodeEnvelopeVersions(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"eventId":"e1","data":{"order_id":"x"}}`))
	require.NoError(t, err)
	assert.Equal(t, 1, env.Version)

	var data struct {
		OrderID string `json:"order_id"`
	}
	require.NoError(t, env.DecodeData(&data))
	assert.Equal(t, "x", data.OrderID)

	_, err = DecodeEnvelope([]byte(`{"version":99,"data":{}}`))
	assert.Error(t, err)

	empty, err := DecodeEnvelope([]byte(`{"version":1,"data":null}`))
	require.NoError(t, err)
	assert.ErrorIs(t, empty.DecodeData(&data), ErrEmptyPayload)
}
