package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// Order is a customer purchase. Payment and delivery progress independently.
type Order struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID          uuid.UUID             `gorm:"column:user_id;type:uuid;not null"`
	Items           []OrderLineItem       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	ShippingAddress types.ShippingAddress `gorm:"column:shipping_address;type:jsonb;not null"`
	PaymentChannel  enums.PaymentChannel  `gorm:"column:payment_channel;type:text;not null"`
	ItemsPrice      decimal.Decimal       `gorm:"column:items_price;type:numeric(14,2);not null"`
	TaxPrice        decimal.Decimal       `gorm:"column:tax_price;type:numeric(14,2);not null"`
	ShippingPrice   decimal.Decimal       `gorm:"column:shipping_price;type:numeric(14,2);not null"`
	TotalPrice      decimal.Decimal       `gorm:"column:total_price;type:numeric(14,2);not null"`
	IsPaid          bool                  `gorm:"column:is_paid;not null;default:false"`
	PaidAt          *time.Time            `gorm:"column:paid_at"`
	PaymentResult   *types.PaymentResult  `gorm:"column:payment_result;type:jsonb"`
	PaymentResultID *string               `gorm:"column:payment_result_id"`
	IsDelivered     bool                  `gorm:"column:is_delivered;not null;default:false"`
	DeliveredAt     *time.Time            `gorm:"column:delivered_at"`
	DeliveryStatus  enums.DeliveryStatus  `gorm:"column:delivery_status;type:text;not null;default:'Not Processed'"`
	StatusHistory   []OrderStatusEntry    `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.DeliveryStatus == "" {
		o.DeliveryStatus = enums.DeliveryStatusNotProcessed
	}
	return nil
}
