package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is owned by the catalog service. Orders only move the stock and
// sales counters.
type Product struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name         string          `gorm:"column:name;not null"`
	Price        decimal.Decimal `gorm:"column:price;type:numeric(14,2);not null"`
	Image        string          `gorm:"column:image;not null;default:''"`
	CountInStock int             `gorm:"column:count_in_stock;not null;default:0"`
	NumSales     int             `gorm:"column:num_sales;not null;default:0"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
