package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// OrderStatusEntry is an append-only record of a delivery status change.
type OrderStatusEntry struct {
	ID        uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID   uuid.UUID            `gorm:"column:order_id;type:uuid;not null"`
	Status    enums.DeliveryStatus `gorm:"column:status;type:text;not null"`
	Comment   string               `gorm:"column:comment;not null;default:''"`
	ActorID   *uuid.UUID           `gorm:"column:actor_id;type:uuid"`
	CreatedAt time.Time            `gorm:"column:created_at;autoCreateTime"`
}

func (OrderStatusEntry) TableName() string {
	return "order_status_history"
}

func (e *OrderStatusEntry) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
