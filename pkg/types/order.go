package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// ShippingAddress is stored as jsonb on the order row.
type ShippingAddress struct {
	Address    string `json:"address" validate:"required"`
	City       string `json:"city" validate:"required"`
	PostalCode string `json:"postalCode" validate:"required"`
	Country    string `json:"country" validate:"required"`
}

// IsComplete reports whether every field carries a non-blank value.
func (a ShippingAddress) IsComplete() bool {
	for _, v := range []string{a.Address, a.City, a.PostalCode, a.Country} {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}

// PaymentResult is the provider evidence recorded when an order becomes paid.
// Raw keeps the provider fields verbatim for audit.
type PaymentResult struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	UpdateTime   string            `json:"update_time,omitempty"`
	EmailAddress string            `json:"email_address,omitempty"`
	Raw          map[string]string `json:"raw,omitempty"`
}

// Value stores the address as a JSON document.
func (a ShippingAddress) Value() (driver.Value, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan decodes the JSON document written by Value.
func (a *ShippingAddress) Scan(value interface{}) error {
	return scanJSON(value, a)
}

// Value stores the result as a JSON document.
func (r PaymentResult) Value() (driver.Value, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan decodes the JSON document written by Value.
func (r *PaymentResult) Scan(value interface{}) error {
	return scanJSON(value, r)
}

func scanJSON(value interface{}, dest interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported json column type %T", value)
	}
}
