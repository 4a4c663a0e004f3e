package vnpay

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/signing"
)

const (
	apiVersion   = "2.1.0"
	commandPay   = "pay"
	currencyCode = "VND"
	orderType    = "billpayment"

	// ResponseCodeSuccess is the gateway's approved transaction code.
	ResponseCodeSuccess = "00"
)

// Field names used on the wire.
const (
	FieldVersion       = "vnp_Version"
	FieldCommand       = "vnp_Command"
	FieldTmnCode       = "vnp_TmnCode"
	FieldAmount        = "vnp_Amount"
	FieldBankCode      = "vnp_BankCode"
	FieldCreateDate    = "vnp_CreateDate"
	FieldCurrCode      = "vnp_CurrCode"
	FieldIPAddr        = "vnp_IpAddr"
	FieldLocale        = "vnp_Locale"
	FieldOrderInfo     = "vnp_OrderInfo"
	FieldReturnURL     = "vnp_ReturnUrl"
	FieldTxnRef        = "vnp_TxnRef"
	FieldOrderType     = "vnp_OrderType"
	FieldResponseCode  = "vnp_ResponseCode"
	FieldTransactionNo = "vnp_TransactionNo"
	FieldPayDate       = "vnp_PayDate"
)

// Client builds signed redirect URLs and validates signed callbacks for the
// redirect gateway. It performs no network I/O.
type Client struct {
	cfg      config.VNPayConfig
	location *time.Location
	now      func() time.Time
	logg     *logger.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithClock overrides the wall clock used for vnp_CreateDate.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg config.VNPayConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.TmnCode) == "" {
		return nil, fmt.Errorf("vnpay tmn code is required")
	}
	if strings.TrimSpace(cfg.HashSecret) == "" {
		return nil, fmt.Errorf("vnpay hash secret is required")
	}
	if _, err := url.Parse(cfg.PaymentURL); err != nil || cfg.PaymentURL == "" {
		return nil, fmt.Errorf("vnpay payment url is invalid")
	}
	if strings.TrimSpace(cfg.ReturnURL) == "" {
		return nil, fmt.Errorf("vnpay return url is required")
	}

	loc := time.UTC
	if cfg.TimeZone != "" {
		l, err := time.LoadLocation(cfg.TimeZone)
		if err != nil {
			return nil, fmt.Errorf("load vnpay timezone: %w", err)
		}
		loc = l
	}
	if cfg.BankCode == "" {
		cfg.BankCode = "NCB"
	}
	if cfg.Locale == "" {
		cfg.Locale = "vn"
	}

	c := &Client{
		cfg:      cfg,
		location: loc,
		now:      time.Now,
		logg:     logg,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RedirectRequest carries what the gateway needs about one order.
type RedirectRequest struct {
	OrderID   string
	Amount    decimal.Decimal
	IPAddr    string
	OrderInfo string
}

// BuildRedirectURL returns the gateway URL the customer is sent to. The
// transaction reference is "{orderId}_{createDate}".
func (c *Client) BuildRedirectURL(ctx context.Context, req RedirectRequest) (string, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if strings.Contains(req.OrderID, "_") {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "order id must not contain '_'")
	}
	if !req.Amount.IsPositive() {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	createDate := c.now().In(c.location).Format(signing.TimestampLayout)
	params := signing.Params{}.
		Set(FieldVersion, apiVersion).
		Set(FieldCommand, commandPay).
		Set(FieldTmnCode, c.cfg.TmnCode).
		SetInt(FieldAmount, MinorUnits(req.Amount)).
		Set(FieldBankCode, c.cfg.BankCode).
		Set(FieldCreateDate, createDate).
		Set(FieldCurrCode, currencyCode).
		Set(FieldIPAddr, req.IPAddr).
		Set(FieldLocale, c.cfg.Locale).
		Set(FieldOrderInfo, req.OrderInfo).
		Set(FieldReturnURL, c.cfg.ReturnURL).
		Set(FieldTxnRef, req.OrderID+"_"+createDate).
		Set(FieldOrderType, orderType)

	params.Set(signing.FieldSecureHash, signing.Sign(params, c.cfg.HashSecret))

	if c.logg != nil {
		logCtx := c.logg.WithFields(ctx, map[string]any{
			"order_id": req.OrderID,
			"txn_ref":  params[FieldTxnRef],
		})
		c.logg.Info(logCtx, "vnpay redirect url built")
	}

	return c.cfg.PaymentURL + "?" + signing.Canonicalize(params), nil
}

// MinorUnits converts an amount to the gateway's integer representation
// (amount x 100).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// CallbackResult is the outcome of validating a gateway callback.
type CallbackResult struct {
	Valid         bool
	OrderID       string
	ResponseCode  string
	TransactionNo string
	PayDate       string
	OrderInfo     string
	Amount        decimal.Decimal
	// AmountErr is set when vnp_Amount is missing or not an integer; Amount
	// is zero in that case.
	AmountErr error
	Raw       map[string]string
}

// Succeeded reports a valid callback with the approved response code.
func (r CallbackResult) Succeeded() bool {
	return r.Valid && r.ResponseCode == ResponseCodeSuccess
}

// ValidateCallback checks the digest on the callback query. Only when the
// digest matches are the remaining fields populated.
func (c *Client) ValidateCallback(query url.Values) CallbackResult {
	params := signing.FromValues(query)
	claimed := params[signing.FieldSecureHash]
	if !signing.Verify(params, c.cfg.HashSecret, claimed) {
		return CallbackResult{Valid: false}
	}

	fields := params.Without(signing.FieldSecureHash, signing.FieldSecureHashType)
	orderID, _, _ := strings.Cut(fields[FieldTxnRef], "_")

	amount, amountErr := parseMinorUnits(fields[FieldAmount])

	return CallbackResult{
		Valid:         true,
		OrderID:       orderID,
		ResponseCode:  fields[FieldResponseCode],
		TransactionNo: fields[FieldTransactionNo],
		PayDate:       fields[FieldPayDate],
		OrderInfo:     fields[FieldOrderInfo],
		Amount:        amount,
		AmountErr:     amountErr,
		Raw:           map[string]string(fields),
	}
}

func parseMinorUnits(raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, fmt.Errorf("%s missing", FieldAmount)
	}
	minor, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s %q: %w", FieldAmount, raw, err)
	}
	if !minor.IsInteger() {
		return decimal.Zero, fmt.Errorf("%s %q is not in minor units", FieldAmount, raw)
	}
	return minor.Shift(-2), nil
}
