// Package settlement moves orders from unpaid to paid for every payment
// channel after the channel-specific proof has been checked.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	dbpkg "github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/storefront-backend/pkg/signing"
	"github.com/angelmondragon/storefront-backend/pkg/square"
	"github.com/angelmondragon/storefront-backend/pkg/telemetry"
	"github.com/angelmondragon/storefront-backend/pkg/types"
	"github.com/angelmondragon/storefront-backend/pkg/vnpay"
)

const (
	cashResultStatus     = "cash_on_delivery"
	gatewaySuccessMsg    = "Payment successful"
	gatewayFailureFormat = "Payment failed with error code: %s"
	orderInfoFormat      = "Payment for order %s"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// PaymentVerifier confirms a wallet payment with the provider.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, paymentID string) (*square.Verification, error)
}

// Gateway builds redirect URLs and validates signed callbacks.
type Gateway interface {
	BuildRedirectURL(ctx context.Context, req vnpay.RedirectRequest) (string, error)
	ValidateCallback(query url.Values) vnpay.CallbackResult
}

// WalletSettlementInput is the client's claim that a wallet payment was captured.
type WalletSettlementInput struct {
	OrderID    uuid.UUID
	Actor      orders.Actor
	PaymentID  string
	Status     string
	UpdateTime string
	PayerEmail string
}

// GatewayPaymentInput asks for a redirect URL for an unpaid order.
type GatewayPaymentInput struct {
	OrderID uuid.UUID
	Actor   orders.Actor
	IPAddr  string
}

// CashSettlementInput marks an order as cash on delivery.
type CashSettlementInput struct {
	OrderID uuid.UUID
	Actor   orders.Actor
}

// GatewayOutcome tells the return handler where to send the customer.
type GatewayOutcome struct {
	OrderID      string
	Success      bool
	ResponseCode string
	Message      string
	RedirectURL  string
	Order        *models.Order
}

// Params groups the Engine dependencies.
type Params struct {
	Repo       orders.Repository
	Tx         txRunner
	Outbox     outboxPublisher
	Locks      lockStore
	Verifier   PaymentVerifier
	Gateway    Gateway
	Metrics    *metrics.SettlementMetrics
	Logger     *logger.Logger
	Wallet     config.WalletConfig
	Settlement config.SettlementConfig
	Frontend   config.FrontendConfig
	Now        func() time.Time
}

// Engine is the only component allowed to flip an order to paid.
type Engine struct {
	repo     orders.Repository
	tx       txRunner
	outbox   outboxPublisher
	locker   *orderLocker
	guard    *ReplayGuard
	verifier PaymentVerifier
	gateway  Gateway
	metrics  *metrics.SettlementMetrics
	logg     *logger.Logger
	wallet   config.WalletConfig
	rate     decimal.Decimal
	frontend config.FrontendConfig
	now      func() time.Time
}

func NewEngine(p Params) (*Engine, error) {
	switch {
	case p.Repo == nil:
		return nil, errors.New("orders repository required")
	case p.Tx == nil:
		return nil, errors.New("transaction runner required")
	case p.Outbox == nil:
		return nil, errors.New("outbox publisher required")
	case p.Verifier == nil:
		return nil, errors.New("payment verifier required")
	case p.Gateway == nil:
		return nil, errors.New("gateway client required")
	case p.Logger == nil:
		return nil, errors.New("logger required")
	}
	locker, err := newOrderLocker(p.Locks, p.Settlement.LockTTL)
	if err != nil {
		return nil, err
	}
	rate := p.Wallet.Rate()
	if !rate.IsPositive() {
		return nil, fmt.Errorf("wallet exchange rate must be positive")
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		repo:     p.Repo,
		tx:       p.Tx,
		outbox:   p.Outbox,
		locker:   locker,
		guard:    NewReplayGuard(p.Repo),
		verifier: p.Verifier,
		gateway:  p.Gateway,
		metrics:  p.Metrics,
		logg:     p.Logger,
		wallet:   p.Wallet,
		rate:     rate,
		frontend: p.Frontend,
		now:      now,
	}, nil
}

// ExpectedWalletAmount converts an order total into the wallet currency,
// rounded half-up to two places.
func (e *Engine) ExpectedWalletAmount(total decimal.Decimal) string {
	return total.Div(e.rate).StringFixed(2)
}

// SettleWallet verifies the payment with the provider, checks the amount and
// the replay guard, then marks the order paid. Every check must pass.
func (e *Engine) SettleWallet(ctx context.Context, input WalletSettlementInput) (order *models.Order, err error) {
	channel := enums.PaymentChannelWallet
	ctx, span := e.startSpan(ctx, "settlement.SettleWallet", channel, input.OrderID.String())
	defer func() { e.finish(ctx, span, channel, order, err) }()

	paymentID := strings.TrimSpace(input.PaymentID)
	if paymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id required")
	}

	release, err := e.locker.Acquire(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	defer e.release(ctx, release)

	current, err := e.loadForActor(ctx, input.OrderID, input.Actor)
	if err != nil {
		return nil, err
	}
	if current.IsPaid {
		return e.alreadyPaid(current, paymentID)
	}

	verification, err := e.verify(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !verification.Verified {
		return nil, pkgerrors.New(pkgerrors.CodePaymentNotVerified, "payment not completed").
			WithDetails(map[string]string{"status": verification.Status})
	}
	if verification.Currency != "" && !strings.EqualFold(verification.Currency, e.wallet.Currency) {
		return nil, pkgerrors.New(pkgerrors.CodeAmountMismatch, "payment currency does not match").
			WithDetails(map[string]string{"expected": e.wallet.Currency, "got": verification.Currency})
	}
	expected := e.ExpectedWalletAmount(current.TotalPrice)
	got := verification.Amount.StringFixed(2)
	if expected != got {
		return nil, pkgerrors.New(pkgerrors.CodeAmountMismatch, "payment amount does not match order total").
			WithDetails(map[string]string{"expected": expected, "got": got})
	}
	if err := e.checkReplay(ctx, paymentID, current.ID); err != nil {
		return nil, err
	}

	result := &types.PaymentResult{
		ID:           paymentID,
		Status:       firstNonEmpty(input.Status, verification.Status),
		UpdateTime:   firstNonEmpty(input.UpdateTime, verification.UpdatedAt),
		EmailAddress: firstNonEmpty(input.PayerEmail, verification.BuyerEmail),
		Raw: map[string]string{
			"provider_status": verification.Status,
			"amount":          got,
			"currency":        verification.Currency,
		},
	}
	return e.commitPaid(ctx, current, channel, result, input.Actor, got)
}

// CreateGatewayPayment returns the signed gateway URL for an unpaid order.
func (e *Engine) CreateGatewayPayment(ctx context.Context, input GatewayPaymentInput) (string, error) {
	ctx, span := e.startSpan(ctx, "settlement.CreateGatewayPayment", enums.PaymentChannelGateway, input.OrderID.String())
	defer span.End()

	order, err := e.loadForActor(ctx, input.OrderID, input.Actor)
	if err != nil {
		recordSpanError(span, err)
		return "", err
	}
	if order.IsPaid {
		err := pkgerrors.New(pkgerrors.CodeStateConflict, "order already paid")
		recordSpanError(span, err)
		return "", err
	}
	redirect, err := e.gateway.BuildRedirectURL(ctx, vnpay.RedirectRequest{
		OrderID:   order.ID.String(),
		Amount:    order.TotalPrice,
		IPAddr:    input.IPAddr,
		OrderInfo: fmt.Sprintf(orderInfoFormat, order.ID),
	})
	if err != nil {
		recordSpanError(span, err)
		return "", err
	}
	return redirect, nil
}

// HandleGatewayCallback applies a gateway return. An invalid signature or an
// unknown order yields no outcome; every other result carries a redirect,
// with err set when the payment was rejected here.
func (e *Engine) HandleGatewayCallback(ctx context.Context, query url.Values) (outcome *GatewayOutcome, err error) {
	channel := enums.PaymentChannelGateway
	ctx, span := e.startSpan(ctx, "settlement.HandleGatewayCallback", channel, "")
	var paid *models.Order
	defer func() { e.finish(ctx, span, channel, paid, err) }()

	result := e.gateway.ValidateCallback(query)
	if !result.Valid {
		return nil, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "invalid gateway signature")
	}
	span.SetAttributes(attribute.String("order.id", result.OrderID), attribute.String("gateway.response_code", result.ResponseCode))

	if !result.Succeeded() {
		e.metrics.IncAttempt(string(channel), metrics.OutcomeDeclined)
		return e.failureOutcome(result, fmt.Sprintf(gatewayFailureFormat, result.ResponseCode)), nil
	}

	orderID, parseErr := uuid.Parse(result.OrderID)
	if parseErr != nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if result.AmountErr != nil {
		err = pkgerrors.Wrap(pkgerrors.CodeValidation, result.AmountErr, "malformed gateway amount").
			WithDetails(map[string]string{vnpay.FieldAmount: result.Raw[vnpay.FieldAmount]})
		return e.failureOutcome(result, publicMessage(err)), err
	}

	paid, err = e.settleGateway(ctx, orderID, result)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
			return nil, err
		}
		return e.failureOutcome(result, publicMessage(err)), err
	}
	return &GatewayOutcome{
		OrderID:      result.OrderID,
		Success:      true,
		ResponseCode: result.ResponseCode,
		Message:      gatewaySuccessMsg,
		RedirectURL:  e.redirectURL(result.OrderID, true, gatewaySuccessMsg),
		Order:        paid,
	}, nil
}

func (e *Engine) settleGateway(ctx context.Context, orderID uuid.UUID, result vnpay.CallbackResult) (*models.Order, error) {
	release, err := e.locker.Acquire(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer e.release(ctx, release)

	current, err := e.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	txID := firstNonEmpty(result.TransactionNo, result.Raw[vnpay.FieldTxnRef])
	if current.IsPaid {
		return e.alreadyPaid(current, txID)
	}
	if !result.Amount.Equal(current.TotalPrice) {
		return nil, pkgerrors.New(pkgerrors.CodeAmountMismatch, "gateway amount does not match order total").
			WithDetails(map[string]string{"expected": current.TotalPrice.StringFixed(2), "got": result.Amount.StringFixed(2)})
	}
	if err := e.checkReplay(ctx, txID, current.ID); err != nil {
		return nil, err
	}

	paymentResult := &types.PaymentResult{
		ID:         txID,
		Status:     result.ResponseCode,
		UpdateTime: result.PayDate,
		Raw:        result.Raw,
	}
	return e.commitPaid(ctx, current, enums.PaymentChannelGateway, paymentResult, orders.Actor{}, result.Amount.StringFixed(2))
}

// SettleCash switches the order to cash on delivery and marks it paid: the
// customer has accepted the obligation to pay at the door.
func (e *Engine) SettleCash(ctx context.Context, input CashSettlementInput) (order *models.Order, err error) {
	channel := enums.PaymentChannelCash
	ctx, span := e.startSpan(ctx, "settlement.SettleCash", channel, input.OrderID.String())
	defer func() { e.finish(ctx, span, channel, order, err) }()

	release, err := e.locker.Acquire(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	defer e.release(ctx, release)

	current, err := e.loadForActor(ctx, input.OrderID, input.Actor)
	if err != nil {
		return nil, err
	}
	if current.IsPaid {
		if current.PaymentChannel == enums.PaymentChannelCash {
			return current, nil
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order already paid")
	}

	result := &types.PaymentResult{
		Status:     cashResultStatus,
		UpdateTime: e.now().UTC().Format(time.RFC3339),
	}
	return e.commitPaid(ctx, current, channel, result, input.Actor, current.TotalPrice.StringFixed(2))
}

// commitPaid performs the unpaid->paid compare-and-swap and queues order_paid
// in the same transaction.
func (e *Engine) commitPaid(ctx context.Context, current *models.Order, channel enums.PaymentChannel, result *types.PaymentResult, actor orders.Actor, amount string) (*models.Order, error) {
	paidAt := e.now().UTC()
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.repo.WithTx(tx)
		ok, err := repo.MarkPaid(ctx, current.ID, orders.PaidUpdate{
			PaymentChannel: channel,
			PaidAt:         paidAt,
			PaymentResult:  result,
		})
		if err != nil {
			if isPaymentResultConflict(err) {
				return pkgerrors.New(pkgerrors.CodeReplayDetected, "payment already applied to another order")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order already paid")
		}
		return e.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   current.ID,
			Actor:         actor.OutboxActor(),
			OccurredAt:    paidAt,
			Data: payloads.OrderPaidEvent{
				OrderID:         current.ID,
				UserID:          current.UserID,
				PaymentChannel:  channel,
				PaymentResultID: result.ID,
				Amount:          amount,
				PaidAt:          paidAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	paid, err := e.load(ctx, current.ID)
	if err != nil {
		return nil, err
	}
	logCtx := e.logg.WithField(e.logg.WithPayment(ctx, current.ID, string(channel)), "amount", amount)
	e.logg.Info(logCtx, "order settled")
	return paid, nil
}

// alreadyPaid makes a repeat of the recorded transaction a no-op.
func (e *Engine) alreadyPaid(order *models.Order, txID string) (*models.Order, error) {
	if txID != "" && order.PaymentResultID != nil && *order.PaymentResultID == txID {
		return order, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order already paid")
}

func (e *Engine) verify(ctx context.Context, paymentID string) (*square.Verification, error) {
	timeout := e.wallet.VerifyTimeout
	verifyCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		verifyCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	started := time.Now()
	verification, err := e.verifier.VerifyPayment(verifyCtx, paymentID)
	e.metrics.ObserveVerification(string(enums.PaymentChannelWallet), time.Since(started))
	if err == nil && verifyCtx.Err() != nil {
		err = verifyCtx.Err()
	}
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			switch typed.Code() {
			case pkgerrors.CodeNotFound, pkgerrors.CodeValidation:
				return nil, pkgerrors.Wrap(pkgerrors.CodePaymentNotVerified, err, "payment not found at provider")
			}
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeVerificationUnavailable, err, "payment verification unavailable")
	}
	if verification == nil {
		return nil, pkgerrors.New(pkgerrors.CodeVerificationUnavailable, "payment verification returned no result")
	}
	return verification, nil
}

func (e *Engine) checkReplay(ctx context.Context, txID string, orderID uuid.UUID) error {
	first, err := e.guard.IsFirstUse(ctx, txID, orderID)
	if err != nil {
		return err
	}
	if !first {
		return pkgerrors.New(pkgerrors.CodeReplayDetected, "payment already applied to another order")
	}
	return nil
}

func (e *Engine) loadForActor(ctx context.Context, orderID uuid.UUID, actor orders.Actor) (*models.Order, error) {
	order, err := e.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := orders.CheckAccess(order, actor); err != nil {
		return nil, err
	}
	return order, nil
}

func (e *Engine) load(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := e.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (e *Engine) release(ctx context.Context, release func(context.Context) error) {
	// the request context may already be done; the owner check still needs to run
	if err := release(context.WithoutCancel(ctx)); err != nil {
		e.logg.Warn(e.logg.WithField(ctx, "error", err.Error()), "settlement lock release failed")
	}
}

func (e *Engine) failureOutcome(result vnpay.CallbackResult, message string) *GatewayOutcome {
	return &GatewayOutcome{
		OrderID:      result.OrderID,
		Success:      false,
		ResponseCode: result.ResponseCode,
		Message:      message,
		RedirectURL:  e.redirectURL(result.OrderID, false, message),
	}
}

func (e *Engine) redirectURL(orderID string, success bool, message string) string {
	flag := "false"
	if success {
		flag = "true"
	}
	return e.frontend.OrderURL(orderID) + "?success=" + flag + "&message=" + signing.EscapeComponent(message)
}

func (e *Engine) startSpan(ctx context.Context, name string, channel enums.PaymentChannel, orderID string) (context.Context, oteltrace.Span) {
	attrs := []attribute.KeyValue{attribute.String("payment.channel", string(channel))}
	if orderID != "" {
		attrs = append(attrs, attribute.String("order.id", orderID))
	}
	return telemetry.Tracer().Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

// finish ends the span and counts the attempt under its outcome.
func (e *Engine) finish(ctx context.Context, span oteltrace.Span, channel enums.PaymentChannel, order *models.Order, err error) {
	defer span.End()
	if err != nil {
		recordSpanError(span, err)
		e.metrics.IncAttempt(string(channel), outcomeFor(err))
		logCtx := e.logg.WithFields(ctx, map[string]any{"channel": channel, "error": err.Error()})
		e.logg.Warn(logCtx, "settlement rejected")
		return
	}
	if order != nil {
		e.metrics.IncAttempt(string(channel), metrics.OutcomePaid)
	}
}

func recordSpanError(span oteltrace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func outcomeFor(err error) string {
	typed := pkgerrors.As(err)
	if typed == nil {
		return metrics.OutcomeError
	}
	switch typed.Code() {
	case pkgerrors.CodeSignatureInvalid:
		return metrics.OutcomeSignatureInvalid
	case pkgerrors.CodeAmountMismatch:
		return metrics.OutcomeAmountMismatch
	case pkgerrors.CodeReplayDetected:
		return metrics.OutcomeReplayDetected
	case pkgerrors.CodePaymentNotVerified:
		return metrics.OutcomeNotVerified
	case pkgerrors.CodeVerificationUnavailable:
		return metrics.OutcomeVerificationUnavailable
	default:
		return metrics.OutcomeError
	}
}

func publicMessage(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		return pkgerrors.MetadataFor(typed.Code()).PublicMessage
	}
	return "Payment could not be applied"
}

func isPaymentResultConflict(err error) bool {
	return dbpkg.IsUniqueViolation(err, "ux_orders_payment_result_id") ||
		dbpkg.IsUniqueViolation(err, "orders.payment_result_id")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
