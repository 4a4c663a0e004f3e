package enums

import "fmt"

// DeliveryStatus is the staff-driven fulfillment axis of an order.
type DeliveryStatus string

const (
	DeliveryStatusNotProcessed DeliveryStatus = "Not Processed"
	DeliveryStatusProcessing   DeliveryStatus = "Processing"
	DeliveryStatusShipped      DeliveryStatus = "Shipped"
	DeliveryStatusDelivered    DeliveryStatus = "Delivered"
	DeliveryStatusCancelled    DeliveryStatus = "Cancelled"
)

var validDeliveryStatuses = []DeliveryStatus{
	DeliveryStatusNotProcessed,
	DeliveryStatusProcessing,
	DeliveryStatusShipped,
	DeliveryStatusDelivered,
	DeliveryStatusCancelled,
}

// String implements fmt.Stringer.
func (d DeliveryStatus) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DeliveryStatus.
func (d DeliveryStatus) IsValid() bool {
	for _, candidate := range validDeliveryStatuses {
		if candidate == d {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are accepted.
func (d DeliveryStatus) IsTerminal() bool {
	return d == DeliveryStatusCancelled
}

// ParseDeliveryStatus converts raw input into a DeliveryStatus.
func ParseDeliveryStatus(value string) (DeliveryStatus, error) {
	for _, candidate := range validDeliveryStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid delivery status %q", value)
}
