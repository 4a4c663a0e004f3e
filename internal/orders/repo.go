package orders

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create inserts the order and its line items.
func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Preload("StatusHistory", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// List pages through every order, newest first.
func (r *repository) List(ctx context.Context, params pagination.Params) (*OrderList, error) {
	cursor, err := pagination.Decode(params.Cursor)
	if err != nil {
		return nil, err
	}

	query := r.db.WithContext(ctx).Preload("Items")
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Order
	err = query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(params.Fetch()).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	page, more := pagination.Split(rows, params)
	list := &OrderList{Orders: page}
	if more {
		last := page[len(page)-1]
		list.NextCursor = pagination.After(last.CreatedAt, last.ID).Encode()
	}
	return list, nil
}

// ExistsOtherWithPaymentResult reports whether paymentResultID is already
// recorded on an order other than orderID.
func (r *repository) ExistsOtherWithPaymentResult(ctx context.Context, paymentResultID string, orderID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("payment_result_id = ? AND id <> ?", paymentResultID, orderID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkPaid flips an unpaid order to paid. It returns false when the row was
// already paid or missing, leaving the caller to reload and decide.
func (r *repository) MarkPaid(ctx context.Context, orderID uuid.UUID, update PaidUpdate) (bool, error) {
	updates := map[string]any{
		"is_paid":         true,
		"paid_at":         update.PaidAt,
		"payment_channel": update.PaymentChannel,
	}
	if update.PaymentResult != nil {
		updates["payment_result"] = *update.PaymentResult
		if update.PaymentResult.ID != "" {
			updates["payment_result_id"] = update.PaymentResult.ID
		}
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND is_paid = ?", orderID, false).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateDelivery writes the delivery columns only if the stored status still equals from.
func (r *repository) UpdateDelivery(ctx context.Context, orderID uuid.UUID, from enums.DeliveryStatus, update DeliveryUpdate) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND delivery_status = ?", orderID, from).
		Updates(map[string]any{
			"delivery_status": update.Status,
			"is_delivered":    update.IsDelivered,
			"delivered_at":    update.DeliveredAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) AppendHistory(ctx context.Context, entry *models.OrderStatusEntry) error {
	if entry == nil {
		return fmt.Errorf("history entry required")
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// ListWithoutHistory returns orders that predate delivery tracking.
func (r *repository) ListWithoutHistory(ctx context.Context, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("NOT EXISTS (SELECT 1 FROM order_status_history h WHERE h.order_id = orders.id)").
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}
