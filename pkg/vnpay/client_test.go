package vnpay

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/signing"
)

const testSecret = "SECRETKEY"

func testConfig() config.VNPayConfig {
	return config.VNPayConfig{
		TmnCode:    "TMN01",
		HashSecret: testSecret,
		PaymentURL: "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:  "http://localhost:8080/api/orders/vnpay-return",
		BankCode:   "NCB",
		Locale:     "vn",
		TimeZone:   "UTC",
	}
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	fixed := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c, err := NewClient(testConfig(), nil, WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	return c
}

func signedCallback(fields map[string]string) url.Values {
	params := signing.Params{}
	for k, v := range fields {
		params.Set(k, v)
	}
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	q.Set(signing.FieldSecureHash, signing.Sign(params, testSecret))
	q.Set(signing.FieldSecureHashType, "HmacSHA512")
	return q
}

func TestNewClientValidatesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.HashSecret = ""
	_, err := NewClient(cfg, nil)
	require.Error(t, err)

	cfg = testConfig()
	cfg.TimeZone = "Mars/Olympus"
	_, err = NewClient(cfg, nil)
	require.Error(t, err)
}

func TestBuildRedirectURL(t *testing.T) {
	c := newTestClient(t)

	raw, err := c.BuildRedirectURL(context.Background(), RedirectRequest{
		OrderID:   "ORDER42",
		Amount:    decimal.NewFromInt(250000),
		IPAddr:    "127.0.0.1",
		OrderInfo: "Payment for order ORDER42",
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(raw, "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html?"))

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	q := parsed.Query()

	assert.Equal(t, "2.1.0", q.Get(FieldVersion))
	assert.Equal(t, "pay", q.Get(FieldCommand))
	assert.Equal(t, "TMN01", q.Get(FieldTmnCode))
	assert.Equal(t, "25000000", q.Get(FieldAmount))
	assert.Equal(t, "NCB", q.Get(FieldBankCode))
	assert.Equal(t, "20240101120000", q.Get(FieldCreateDate))
	assert.Equal(t, "VND", q.Get(FieldCurrCode))
	assert.Equal(t, "vn", q.Get(FieldLocale))
	assert.Equal(t, "Payment for order ORDER42", q.Get(FieldOrderInfo))
	assert.Equal(t, "http://localhost:8080/api/orders/vnpay-return", q.Get(FieldReturnURL))
	assert.Equal(t, "ORDER42_20240101120000", q.Get(FieldTxnRef))
	assert.Equal(t, "billpayment", q.Get(FieldOrderType))

	digest := q.Get(signing.FieldSecureHash)
	require.Len(t, digest, 128)
	assert.True(t, signing.Verify(signing.FromValues(q), testSecret, digest))

	// the query string itself is the canonical form
	assert.True(t, strings.Contains(parsed.RawQuery, "vnp_OrderInfo=Payment+for+order+ORDER42"))
}

func TestBuildRedirectURLUsesGatewayTimeZone(t *testing.T) {
	cfg := testConfig()
	cfg.TimeZone = "Asia/Ho_Chi_Minh"
	fixed := time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)
	c, err := NewClient(cfg, nil, WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	raw, err := c.BuildRedirectURL(context.Background(), RedirectRequest{OrderID: "A1", Amount: decimal.NewFromInt(1000)})
	require.NoError(t, err)
	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "20240101120000", parsed.Query().Get(FieldCreateDate))
}

func TestBuildRedirectURLRejectsBadInput(t *testing.T) {
	c := newTestClient(t)

	_, err := c.BuildRedirectURL(context.Background(), RedirectRequest{OrderID: "", Amount: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	_, err = c.BuildRedirectURL(context.Background(), RedirectRequest{OrderID: "A1", Amount: decimal.Zero})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestValidateCallbackSuccess(t *testing.T) {
	c := newTestClient(t)
	q := signedCallback(map[string]string{
		FieldTxnRef:        "ORDER42_20240101120000",
		FieldResponseCode:  "00",
		FieldTransactionNo: "14000001",
		FieldAmount:        "25000000",
		FieldPayDate:       "20240101120500",
		FieldOrderInfo:     "Payment for order ORDER42",
	})

	res := c.ValidateCallback(q)
	require.True(t, res.Valid)
	assert.True(t, res.Succeeded())
	assert.Equal(t, "ORDER42", res.OrderID)
	assert.Equal(t, "14000001", res.TransactionNo)
	assert.Equal(t, "20240101120500", res.PayDate)
	assert.True(t, res.Amount.Equal(decimal.NewFromInt(250000)))
	assert.NotContains(t, res.Raw, signing.FieldSecureHash)
	assert.NotContains(t, res.Raw, signing.FieldSecureHashType)
}

func TestValidateCallbackReportsMalformedAmount(t *testing.T) {
	c := newTestClient(t)
	for _, raw := range []string{"", "25k", "2500.5"} {
		fields := map[string]string{
			FieldTxnRef:       "ORDER42_20240101120000",
			FieldResponseCode: "00",
		}
		if raw != "" {
			fields[FieldAmount] = raw
		}

		res := c.ValidateCallback(signedCallback(fields))
		require.True(t, res.Valid, raw)
		assert.Error(t, res.AmountErr, raw)
		assert.True(t, res.Amount.IsZero(), raw)
	}

	res := c.ValidateCallback(signedCallback(map[string]string{
		FieldTxnRef:       "ORDER42_20240101120000",
		FieldResponseCode: "00",
		FieldAmount:       "25000000",
	}))
	assert.NoError(t, res.AmountErr)
}

func TestValidateCallbackDeclined(t *testing.T) {
	c := newTestClient(t)
	q := signedCallback(map[string]string{
		FieldTxnRef:       "ORDER42_20240101120000",
		FieldResponseCode: "51",
	})

	res := c.ValidateCallback(q)
	require.True(t, res.Valid)
	assert.False(t, res.Succeeded())
	assert.Equal(t, "51", res.ResponseCode)
}

func TestValidateCallbackFailsClosed(t *testing.T) {
	c := newTestClient(t)
	q := signedCallback(map[string]string{
		FieldTxnRef:       "ORDER42_20240101120000",
		FieldResponseCode: "00",
	})
	q.Set(FieldResponseCode, "01")

	res := c.ValidateCallback(q)
	assert.False(t, res.Valid)
	assert.Empty(t, res.OrderID)

	missing := url.Values{FieldTxnRef: {"ORDER42_1"}, FieldResponseCode: {"00"}}
	assert.False(t, c.ValidateCallback(missing).Valid)
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(25000000), MinorUnits(decimal.NewFromInt(250000)))
	assert.Equal(t, int64(1050), MinorUnits(decimal.RequireFromString("10.50")))
}
