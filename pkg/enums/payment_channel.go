package enums

import (
	"fmt"
	"strings"
)

// PaymentChannel identifies how an order is settled.
type PaymentChannel string

const (
	PaymentChannelGateway PaymentChannel = "vnpay"
	PaymentChannelWallet  PaymentChannel = "wallet"
	PaymentChannelCash    PaymentChannel = "cod"
)

var validPaymentChannels = []PaymentChannel{
	PaymentChannelGateway,
	PaymentChannelWallet,
	PaymentChannelCash,
}

// String implements fmt.Stringer.
func (p PaymentChannel) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentChannel.
func (p PaymentChannel) IsValid() bool {
	for _, candidate := range validPaymentChannels {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentChannel converts raw input into a PaymentChannel. Matching is
// case-insensitive.
func ParsePaymentChannel(value string) (PaymentChannel, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validPaymentChannels {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment channel %q", value)
}
