// Package delivery tracks the staff-driven fulfillment status of orders and
// its append-only history.
package delivery

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
)

const (
	backfillComment      = "Auto-migrated status"
	defaultBackfillBatch = 200
	maxCommentLength     = 500
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type Service interface {
	UpdateStatus(ctx context.Context, input UpdateStatusInput) (*models.Order, error)
	MarkDelivered(ctx context.Context, orderID, actorID uuid.UUID) (*models.Order, error)
	Backfill(ctx context.Context, batchSize int) (int, error)
}

// UpdateStatusInput is a staff request to move an order to Status.
type UpdateStatusInput struct {
	OrderID uuid.UUID
	Status  enums.DeliveryStatus
	Comment string
	ActorID uuid.UUID
}

type service struct {
	repo    orders.Repository
	tx      txRunner
	outbox  outboxPublisher
	metrics *metrics.SettlementMetrics
	machine Machine
	now     func() time.Time
}

func NewService(repo orders.Repository, tx txRunner, outbox outboxPublisher, m *metrics.SettlementMetrics) (Service, error) {
	if repo == nil {
		return nil, errors.New("orders repository required")
	}
	if tx == nil {
		return nil, errors.New("transaction runner required")
	}
	if outbox == nil {
		return nil, errors.New("outbox publisher required")
	}
	return &service{
		repo:    repo,
		tx:      tx,
		outbox:  outbox,
		metrics: m,
		now:     time.Now,
	}, nil
}

// UpdateStatus applies one transition, appends the history row and queues
// order_delivery_status_changed in a single transaction.
func (s *service) UpdateStatus(ctx context.Context, input UpdateStatusInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	comment := strings.TrimSpace(input.Comment)
	if len(comment) > maxCommentLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "comment too long")
	}

	now := s.now().UTC()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByID(ctx, input.OrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}

		current := SnapshotOf(order)
		next, err := s.machine.Apply(current, input.Status, now)
		if err != nil {
			return err
		}

		ok, err := repo.UpdateDelivery(ctx, order.ID, current.Status, orders.DeliveryUpdate{
			Status:      next.Status,
			IsDelivered: next.IsDelivered,
			DeliveredAt: next.DeliveredAt,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update delivery status")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "delivery status changed concurrently")
		}

		entry := &models.OrderStatusEntry{
			OrderID:   order.ID,
			Status:    next.Status,
			Comment:   comment,
			CreatedAt: now,
		}
		if input.ActorID != uuid.Nil {
			actorID := input.ActorID
			entry.ActorID = &actorID
		}
		if err := repo.AppendHistory(ctx, entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append status history")
		}

		var actor *outbox.ActorRef
		if input.ActorID != uuid.Nil {
			actor = &outbox.ActorRef{UserID: input.ActorID, Role: string(enums.UserRoleAdmin)}
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderDeliveryStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actor,
			OccurredAt:    now,
			Data: payloads.OrderDeliveryStatusChangedEvent{
				OrderID:   order.ID,
				From:      current.Status,
				To:        next.Status,
				Comment:   comment,
				ChangedAt: now,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncDeliveryTransition(string(input.Status))
	return s.load(ctx, input.OrderID)
}

// MarkDelivered backs the legacy deliver endpoint.
func (s *service) MarkDelivered(ctx context.Context, orderID, actorID uuid.UUID) (*models.Order, error) {
	return s.UpdateStatus(ctx, UpdateStatusInput{
		OrderID: orderID,
		Status:  enums.DeliveryStatusDelivered,
		ActorID: actorID,
	})
}

// Backfill gives every order without history a status derived from
// is_delivered and a first history entry. It returns the number of orders
// touched. Orders placed through the orders service start with a history
// entry and are never selected.
func (s *service) Backfill(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = defaultBackfillBatch
	}
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n := 0
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			pending, err := repo.ListWithoutHistory(ctx, batchSize)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders without history")
			}
			for i := range pending {
				if err := s.backfillOne(ctx, repo, &pending[i]); err != nil {
					return err
				}
			}
			n = len(pending)
			return nil
		})
		if err != nil {
			return total, err
		}
		total += n
		if n < batchSize {
			return total, nil
		}
	}
}

func (s *service) backfillOne(ctx context.Context, repo orders.Repository, order *models.Order) error {
	status := SnapshotOf(order).Status
	if order.IsDelivered {
		status = enums.DeliveryStatusDelivered
	}
	delivered := status == enums.DeliveryStatusDelivered

	var deliveredAt *time.Time
	if delivered {
		deliveredAt = order.DeliveredAt
		if deliveredAt == nil {
			at := order.UpdatedAt.UTC()
			deliveredAt = &at
		}
	}
	if _, err := repo.UpdateDelivery(ctx, order.ID, order.DeliveryStatus, orders.DeliveryUpdate{
		Status:      status,
		IsDelivered: delivered,
		DeliveredAt: deliveredAt,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "backfill delivery status")
	}

	recordedAt := order.CreatedAt
	if deliveredAt != nil {
		recordedAt = *deliveredAt
	}
	if recordedAt.IsZero() {
		recordedAt = s.now().UTC()
	}
	entry := &models.OrderStatusEntry{
		OrderID:   order.ID,
		Status:    status,
		Comment:   backfillComment,
		CreatedAt: recordedAt,
	}
	if err := repo.AppendHistory(ctx, entry); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append backfill history")
	}
	return nil
}

func (s *service) load(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}
