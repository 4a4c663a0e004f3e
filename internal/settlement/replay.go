package settlement

import (
	"context"
	"strings"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

type paymentResultLookup interface {
	ExistsOtherWithPaymentResult(ctx context.Context, paymentResultID string, orderID uuid.UUID) (bool, error)
}

// ReplayGuard rejects an external transaction id already recorded on another order.
type ReplayGuard struct {
	lookup paymentResultLookup
}

func NewReplayGuard(lookup paymentResultLookup) *ReplayGuard {
	return &ReplayGuard{lookup: lookup}
}

// IsFirstUse reports whether txID is not yet attached to any order other than orderID.
func (g *ReplayGuard) IsFirstUse(ctx context.Context, txID string, orderID uuid.UUID) (bool, error) {
	if strings.TrimSpace(txID) == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	exists, err := g.lookup.ExistsOtherWithPaymentResult(ctx, txID, orderID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check payment reuse")
	}
	return !exists, nil
}
