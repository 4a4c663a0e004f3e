package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// Repository defines persistence operations for orders and their history.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Order, error)
	List(ctx context.Context, params pagination.Params) (*OrderList, error)
	ExistsOtherWithPaymentResult(ctx context.Context, paymentResultID string, orderID uuid.UUID) (bool, error)
	MarkPaid(ctx context.Context, orderID uuid.UUID, update PaidUpdate) (bool, error)
	UpdateDelivery(ctx context.Context, orderID uuid.UUID, from enums.DeliveryStatus, update DeliveryUpdate) (bool, error)
	AppendHistory(ctx context.Context, entry *models.OrderStatusEntry) error
	ListWithoutHistory(ctx context.Context, limit int) ([]models.Order, error)
}

// PaidUpdate carries the columns written when an order flips to paid.
type PaidUpdate struct {
	PaymentChannel enums.PaymentChannel
	PaidAt         time.Time
	PaymentResult  *types.PaymentResult
}

// DeliveryUpdate carries the delivery columns, always written together.
type DeliveryUpdate struct {
	Status      enums.DeliveryStatus
	IsDelivered bool
	DeliveredAt *time.Time
}

// OrderList wraps a page of orders plus the next page cursor.
type OrderList struct {
	Orders     []models.Order `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}
