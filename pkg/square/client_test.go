package square

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"

	sq "github.com/square/square-go-sdk"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type stubPayments struct {
	resp   *sq.GetPaymentResponse
	err    error
	gotID  string
	called int
}

func (s *stubPayments) Get(_ context.Context, req *sq.GetPaymentsRequest, _ ...sqoption.RequestOption) (*sq.GetPaymentResponse, error) {
	s.called++
	s.gotID = req.PaymentID
	return s.resp, s.err
}

func testClient(api paymentsAPI) *Client {
	return &Client{
		payments:    api,
		environment: sandboxEnv,
		logger:      logger.New(logger.Options{ServiceName: "test", Output: &bytes.Buffer{}}),
	}
}

func payment(status string, cents int64, currency sq.Currency) *sq.Payment {
	id := "pay_123"
	email := "buyer@example.com"
	return &sq.Payment{
		ID:                &id,
		Status:            &status,
		BuyerEmailAddress: &email,
		AmountMoney:       &sq.Money{Amount: &cents, Currency: &currency},
	}
}

func TestVerifyPaymentCompleted(t *testing.T) {
	api := &stubPayments{resp: &sq.GetPaymentResponse{Payment: payment("COMPLETED", 1000, sq.CurrencyUsd)}}
	c := testClient(api)

	got, err := c.VerifyPayment(context.Background(), " pay_123 ")
	require.NoError(t, err)
	assert.Equal(t, "pay_123", api.gotID)
	assert.True(t, got.Verified)
	assert.Equal(t, "10.00", got.Amount.StringFixed(2))
	assert.Equal(t, "USD", got.Currency)
	assert.Equal(t, "buyer@example.com", got.BuyerEmail)
}

func TestVerifyPaymentNotCaptured(t *testing.T) {
	api := &stubPayments{resp: &sq.GetPaymentResponse{Payment: payment("APPROVED", 1000, sq.CurrencyUsd)}}
	got, err := testClient(api).VerifyPayment(context.Background(), "pay_123")
	require.NoError(t, err)
	assert.False(t, got.Verified)
	assert.Equal(t, "APPROVED", got.Status)
}

func TestVerifyPaymentRequiresID(t *testing.T) {
	api := &stubPayments{}
	_, err := testClient(api).VerifyPayment(context.Background(), "  ")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
	assert.Zero(t, api.called)
}

func TestVerifyPaymentTransportFailure(t *testing.T) {
	api := &stubPayments{err: errors.New("dial tcp: i/o timeout")}
	_, err := testClient(api).VerifyPayment(context.Background(), "pay_123")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())
}

func TestVerifyPaymentEmptyResponse(t *testing.T) {
	api := &stubPayments{resp: &sq.GetPaymentResponse{}}
	_, err := testClient(api).VerifyPayment(context.Background(), "pay_123")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.As(err).Code())
}

func TestNewClientValidation(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: &bytes.Buffer{}})

	_, err := NewClient(context.Background(), config.SquareConfig{AccessToken: "tok", Env: "sandbox"}, nil)
	assert.ErrorIs(t, err, errLoggerRequired)

	_, err = NewClient(context.Background(), config.SquareConfig{Env: "sandbox"}, logg)
	assert.ErrorIs(t, err, errAccessTokenRequired)

	_, err = NewClient(context.Background(), config.SquareConfig{AccessToken: "tok", Env: "staging"}, logg)
	assert.ErrorIs(t, err, errInvalidSquareEnv)

	c, err := NewClient(context.Background(), config.SquareConfig{AccessToken: "tok", Env: "PRODUCTION"}, logg)
	require.NoError(t, err)
	assert.Equal(t, productionEnv, c.Environment())
}

func TestRedact(t *testing.T) {
	c := &Client{}
	if out := c.redact("buyer_email", "a@b.c"); out != "[REDACTED]" {
		t.Fatalf("expected redacted value, got %v", out)
	}
	if v := c.redact("status", "ok"); v != "ok" {
		t.Fatalf("unexpected redaction for safe key")
	}
}

func TestDomainCodeForStatus(t *testing.T) {
	tests := []struct {
		status int
		code   pkgerrors.Code
	}{
		{http.StatusUnauthorized, pkgerrors.CodeUnauthorized},
		{http.StatusForbidden, pkgerrors.CodeForbidden},
		{http.StatusNotFound, pkgerrors.CodeNotFound},
		{http.StatusTooManyRequests, pkgerrors.CodeRateLimit},
		{http.StatusBadRequest, pkgerrors.CodeValidation},
		{http.StatusInternalServerError, pkgerrors.CodeDependency},
		{http.StatusBadGateway, pkgerrors.CodeDependency},
	}
	for _, tt := range tests {
		if got := domainCodeForStatus(tt.status); got != tt.code {
			t.Fatalf("status %d expected %s got %s", tt.status, tt.code, got)
		}
	}
}

func TestMapSquareErrorAuthentication(t *testing.T) {
	c := &Client{}
	payload := `{"errors":[{"category":"AUTHENTICATION_ERROR","code":"UNAUTHORIZED"}]}`
	mapped := c.mapSquareError(sqcore.NewAPIError(http.StatusBadRequest, errors.New(payload)), "get payment")
	typed := pkgerrors.As(mapped)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeUnauthorized, typed.Code())
}

func TestExtractSquareErrors(t *testing.T) {
	c := &Client{}
	payload := `{"errors":[{"category":"API_ERROR","code":"BAD_REQUEST","detail":"oops"}]}`
	apiErr := sqcore.NewAPIError(http.StatusBadRequest, errors.New(payload))
	got := c.extractSquareErrors(apiErr)
	if len(got) != 1 {
		t.Fatalf("expected 1 error, got %d", len(got))
	}
	if got[0].GetCode() != sq.ErrorCodeBadRequest {
		t.Fatalf("unexpected error code %s", got[0].GetCode())
	}
}
