package validators

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

type cartLine struct {
	Product string          `json:"product" validate:"required,uuid"`
	Qty     int             `json:"qty" validate:"required,min=1"`
	Price   decimal.Decimal `json:"price" validate:"money"`
}

type cartRequest struct {
	Lines         []cartLine      `json:"orderItems" validate:"required,min=1,dive"`
	PaymentMethod string          `json:"paymentMethod" validate:"required,payment_channel"`
	TotalPrice    decimal.Decimal `json:"totalPrice" validate:"money"`
}

type statusRequest struct {
	DeliveryStatus string `json:"deliveryStatus" validate:"required,delivery_status"`
}

func decode(t *testing.T, body string, dest any) *pkgerrors.Error {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/orders", strings.NewReader(body))
	err := DecodeJSONBody(req, dest)
	if err == nil {
		return nil
	}
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected typed error, got %v", err)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	return typed
}

func TestDecodeJSONBodyAcceptsCart(t *testing.T) {
	var req cartRequest
	err := decode(t, `{"orderItems":[{"product":"8f0c6a9e-7f43-4c3e-9a51-0f4c2a1b7d10","qty":2,"price":"5.00"}],"paymentMethod":"COD","totalPrice":"10.00"}`, &req)
	require.Nil(t, err)
	assert.True(t, req.TotalPrice.Equal(decimal.RequireFromString("10")))
	assert.Equal(t, "COD", req.PaymentMethod)
}

func TestDecodeJSONBodyReportsNestedFieldPaths(t *testing.T) {
	var req cartRequest
	err := decode(t, `{"orderItems":[{"product":"nope","qty":0,"price":"5.001"}],"paymentMethod":"bitcoin","totalPrice":"-1"}`, &req)
	require.NotNil(t, err)

	details, ok := err.Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must be a UUID", details["orderItems[0].product"])
	assert.Equal(t, "is required", details["orderItems[0].qty"])
	assert.Equal(t, "must be a non-negative amount with at most 2 decimals", details["orderItems[0].price"])
	assert.Equal(t, "must be one of vnpay, wallet, cod", details["paymentMethod"])
	assert.Contains(t, details, "totalPrice")
}

func TestDecodeJSONBodyRejectsUnknownDeliveryStatus(t *testing.T) {
	var req statusRequest
	err := decode(t, `{"deliveryStatus":"Teleported"}`, &req)
	require.NotNil(t, err)
	assert.Equal(t, map[string]string{"deliveryStatus": "is not a known delivery status"}, err.Details())

	require.Nil(t, decode(t, `{"deliveryStatus":"Shipped"}`, &req))
}

func TestDecodeJSONBodyRejectsMalformedEnvelopes(t *testing.T) {
	cases := map[string]string{
		"unknown field": `{"deliveryStatus":"Shipped","extra":true}`,
		"trailing data": `{"deliveryStatus":"Shipped"} {"deliveryStatus":"Delivered"}`,
		"not json":      `deliveryStatus=Shipped`,
		"oversized":     `{"deliveryStatus":"` + strings.Repeat("a", maxBodyBytes) + `"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			var req statusRequest
			assert.NotNil(t, decode(t, body, &req))
		})
	}
}
