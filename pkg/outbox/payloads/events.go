package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// OrderCreatedEvent is queued when an order row and its line items commit.
type OrderCreatedEvent struct {
	OrderID        uuid.UUID            `json:"order_id"`
	UserID         uuid.UUID            `json:"user_id"`
	PaymentChannel enums.PaymentChannel `json:"payment_channel"`
	TotalPrice     string               `json:"total_price"`
	ItemCount      int                  `json:"item_count"`
}

// OrderPaidEvent is queued once per order when settlement flips it to paid.
type OrderPaidEvent struct {
	OrderID         uuid.UUID            `json:"order_id"`
	UserID          uuid.UUID            `json:"user_id"`
	PaymentChannel  enums.PaymentChannel `json:"payment_channel"`
	PaymentResultID string               `json:"payment_result_id,omitempty"`
	Amount          string               `json:"amount"`
	PaidAt          time.Time            `json:"paid_at"`
}

// OrderDeliveryStatusChangedEvent mirrors one appended history entry.
type OrderDeliveryStatusChangedEvent struct {
	OrderID   uuid.UUID            `json:"order_id"`
	From      enums.DeliveryStatus `json:"from"`
	To        enums.DeliveryStatus `json:"to"`
	Comment   string               `json:"comment,omitempty"`
	ChangedAt time.Time            `json:"changed_at"`
}
