package delivery

import (
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// Snapshot is the delivery axis of an order.
type Snapshot struct {
	Status      enums.DeliveryStatus
	IsDelivered bool
	DeliveredAt *time.Time
}

// SnapshotOf copies the delivery columns from order.
func SnapshotOf(order *models.Order) Snapshot {
	status := order.DeliveryStatus
	if status == "" {
		status = enums.DeliveryStatusNotProcessed
	}
	return Snapshot{
		Status:      status,
		IsDelivered: order.IsDelivered,
		DeliveredAt: order.DeliveredAt,
	}
}

// Machine validates delivery transitions and keeps IsDelivered in step with
// the status. It holds no state.
type Machine struct{}

// Apply returns the snapshot after moving current to next.
func (Machine) Apply(current Snapshot, next enums.DeliveryStatus, now time.Time) (Snapshot, error) {
	if !next.IsValid() {
		return current, pkgerrors.New(pkgerrors.CodeValidation, "unknown delivery status").
			WithDetails(map[string]string{"deliveryStatus": string(next)})
	}
	if current.Status.IsTerminal() && next != current.Status {
		return current, pkgerrors.New(pkgerrors.CodeStateConflict, "cancelled orders cannot change delivery status")
	}
	if current.Status == enums.DeliveryStatusDelivered && next == enums.DeliveryStatusCancelled {
		return current, pkgerrors.New(pkgerrors.CodeStateConflict, "delivered orders cannot be cancelled")
	}

	out := Snapshot{Status: next}
	if next == enums.DeliveryStatusDelivered {
		out.IsDelivered = true
		out.DeliveredAt = current.DeliveredAt
		if !current.IsDelivered || out.DeliveredAt == nil {
			at := now.UTC()
			out.DeliveredAt = &at
		}
	}
	return out, nil
}
