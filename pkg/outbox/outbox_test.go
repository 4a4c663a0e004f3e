package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

func newTestService(t *testing.T) (*Service, *Repository, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	logg := logger.New(logger.Options{ServiceName: "outbox-test", Output: io.Discard})
	return NewService(repo, logg), repo, conn
}

func queueRow(t *testing.T, repo *Repository, conn *gorm.DB, orderID uuid.UUID, eventType enums.OutboxEventType) models.OutboxEvent {
	t.Helper()
	row := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Payload:       json.RawMessage(`{"data":{"order_id":"` + orderID.String() + `"}}`),
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, repo.Insert(conn, row))
	return row
}

func TestEmitWritesEnvelope(t *testing.T) {
	svc, _, conn := newTestService(t)
	orderID := uuid.New()
	actor := &ActorRef{UserID: uuid.New(), Role: "customer"}

	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         actor,
			Data:          map[string]string{"total_price": "25.00"},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, orderID, rows[0].AggregateID)
	assert.Nil(t, rows[0].PublishedAt)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, actor.UserID, envelope.Actor.UserID)
	assert.JSONEq(t, `{"total_price":"25.00"}`, string(envelope.Data))
}

func TestEmitRollsBackWithTransaction(t *testing.T) {
	svc, _, conn := newTestService(t)
	boom := errors.New("boom")

	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Data:          struct{}{},
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEmitRejectsInvalidEvents(t *testing.T) {
	svc, _, conn := newTestService(t)

	assert.Error(t, svc.Emit(context.Background(), nil, DomainEvent{}))
	assert.Error(t, svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     enums.OutboxEventType("unknown"),
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
	}))
	assert.Error(t, svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
	}))
}

func TestEmitIfNotExistsDeduplicates(t *testing.T) {
	svc, _, conn := newTestService(t)
	orderID := uuid.New()
	event := DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Data:          map[string]string{"amount": "10.00"},
	}

	for i := 0; i < 2; i++ {
		require.NoError(t, svc.EmitIfNotExists(context.Background(), conn, event))
	}

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("aggregate_id = ?", orderID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	_, repo, conn := newTestService(t)
	base := time.Now().Add(-time.Minute).UTC()

	first := models.OutboxEvent{ID: uuid.New(), EventType: enums.EventOrderCreated, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), CreatedAt: base}
	second := models.OutboxEvent{ID: uuid.New(), EventType: enums.EventOrderPaid, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), CreatedAt: base.Add(time.Second)}
	exhausted := models.OutboxEvent{ID: uuid.New(), EventType: enums.EventOrderPaid, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), CreatedAt: base.Add(2 * time.Second), AttemptCount: 3}
	for _, row := range []models.OutboxEvent{first, second, exhausted} {
		require.NoError(t, repo.Insert(conn, row))
	}

	rows, err := repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, first.ID, rows[0].ID)
	assert.Equal(t, second.ID, rows[1].ID)

	require.NoError(t, repo.MarkPublishedTx(conn, first.ID))
	require.NoError(t, repo.MarkFailedTx(conn, second.ID, errors.New("topic unavailable")))

	var failed models.OutboxEvent
	require.NoError(t, conn.First(&failed, "id = ?", second.ID).Error)
	assert.Equal(t, 1, failed.AttemptCount)
	require.NotNil(t, failed.LastError)
	assert.Equal(t, "topic unavailable", *failed.LastError)

	require.NoError(t, repo.MarkTerminalTx(conn, second.ID, errors.New("gave up"), 3))
	rows, err = repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDLQRepositoryBuriesEventUnderItsOrder(t *testing.T) {
	_, repo, conn := newTestService(t)
	dlq := NewDLQRepository(conn)
	orderID := uuid.New()
	otherOrder := uuid.New()

	paid := queueRow(t, repo, conn, orderID, enums.EventOrderPaid)
	paid.AttemptCount = 4
	unrelated := queueRow(t, repo, conn, otherOrder, enums.EventOrderCreated)

	// "đơn hàng" pushes a multi-byte rune across the cut.
	cause := errors.New(strings.Repeat("x", maxDLQErrorLen-1) + "đơn hàng")
	failedAt := time.Date(2025, 6, 1, 8, 0, 0, 0, time.FixedZone("ICT", 7*3600))
	require.NoError(t, dlq.BuryTx(conn, paid, enums.OutboxDLQReasonMaxAttempts, cause, failedAt))
	require.NoError(t, dlq.BuryTx(conn, unrelated, enums.OutboxDLQReasonNonRetryable, nil, failedAt))

	rows, err := dlq.ForOrder(context.Background(), orderID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	entry := rows[0]
	assert.Equal(t, paid.ID, entry.EventID)
	assert.Equal(t, enums.EventOrderPaid, entry.EventType)
	assert.Equal(t, 4, entry.AttemptCount)
	assert.JSONEq(t, string(paid.Payload), string(entry.Payload))
	assert.True(t, entry.FailedAt.Equal(failedAt))
	require.NotNil(t, entry.ErrorMessage)
	assert.Len(t, *entry.ErrorMessage, maxDLQErrorLen-1)
	assert.True(t, utf8.ValidString(*entry.ErrorMessage))

	others, err := dlq.ForOrder(context.Background(), otherOrder)
	require.NoError(t, err)
	require.Len(t, others, 1)
	assert.Nil(t, others[0].ErrorMessage)

	assert.Error(t, dlq.BuryTx(conn, paid, enums.OutboxDLQErrorReason("lost"), cause, failedAt))
	assert.Error(t, dlq.BuryTx(nil, paid, enums.OutboxDLQReasonMaxAttempts, cause, failedAt))
}

func TestDeletePublishedBeforeKeepsPendingAndRecentRows(t *testing.T) {
	_, repo, conn := newTestService(t)
	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	old := cutoff.Add(-time.Hour)
	recent := cutoff.Add(time.Hour)

	oldPublished := models.OutboxEvent{ID: uuid.New(), EventType: enums.EventOrderPaid, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), CreatedAt: old, PublishedAt: &old}
	recentPublished := models.OutboxEvent{ID: uuid.New(), EventType: enums.EventOrderPaid, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), CreatedAt: old, PublishedAt: &recent}
	oldPending := models.OutboxEvent{ID: uuid.New(), EventType: enums.EventOrderCreated, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), CreatedAt: old, AttemptCount: 1}
	oldExhausted := models.OutboxEvent{ID: uuid.New(), EventType: enums.EventOrderCreated, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), CreatedAt: old, AttemptCount: 5}
	for _, row := range []models.OutboxEvent{oldPublished, recentPublished, oldPending, oldExhausted} {
		require.NoError(t, repo.Insert(conn, row))
	}

	deleted, err := repo.DeletePublishedBefore(context.Background(), conn, cutoff, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	var remaining []models.OutboxEvent
	require.NoError(t, conn.Order("attempt_count ASC").Find(&remaining).Error)
	require.Len(t, remaining, 2)
	assert.Equal(t, recentPublished.ID, remaining[0].ID)
	assert.Equal(t, oldPending.ID, remaining[1].ID)
}
