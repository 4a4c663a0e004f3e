// Package inventory moves product stock and sales counters when orders are placed.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// Adjustment is one purchased line: Qty units of ProductID.
type Adjustment struct {
	ProductID uuid.UUID
	Qty       int
}

// Adjuster decrements stock and increments sales inside the caller's transaction.
type Adjuster struct {
	allowOversell bool
}

func NewAdjuster(cfg config.InventoryConfig) *Adjuster {
	return &Adjuster{allowOversell: cfg.AllowOversell}
}

// Apply runs one conditional UPDATE per adjustment. The first failure is
// returned and the caller's transaction must roll back every earlier line.
func (a *Adjuster) Apply(ctx context.Context, tx *gorm.DB, adjustments []Adjustment) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	for _, adj := range adjustments {
		if adj.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
		}
		if adj.Qty <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
		}
		if err := a.apply(ctx, tx, adj); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adjuster) apply(ctx context.Context, tx *gorm.DB, adj Adjustment) error {
	query := tx.WithContext(ctx).Model(&models.Product{}).Where("id = ?", adj.ProductID)
	if !a.allowOversell {
		query = query.Where("count_in_stock >= ?", adj.Qty)
	}
	res := query.Updates(map[string]any{
		"count_in_stock": gorm.Expr("count_in_stock - ?", adj.Qty),
		"num_sales":      gorm.Expr("num_sales + ?", adj.Qty),
	})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "adjust product stock")
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := tx.WithContext(ctx).Model(&models.Product{}).Where("id = ?", adj.ProductID).Count(&count).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	if count == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %s not found", adj.ProductID)).
			WithDetails(map[string]any{"product_id": adj.ProductID})
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock").
		WithDetails(map[string]any{"product_id": adj.ProductID, "requested": adj.Qty})
}
