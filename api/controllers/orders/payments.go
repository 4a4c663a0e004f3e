package orders

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/internal/settlement"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// Settler is the settlement surface the payment endpoints call.
type Settler interface {
	SettleWallet(ctx context.Context, input settlement.WalletSettlementInput) (*models.Order, error)
	CreateGatewayPayment(ctx context.Context, input settlement.GatewayPaymentInput) (string, error)
	HandleGatewayCallback(ctx context.Context, query url.Values) (*settlement.GatewayOutcome, error)
	SettleCash(ctx context.Context, input settlement.CashSettlementInput) (*models.Order, error)
}

// PayWallet settles an order with a wallet payment id after provider verification.
func PayWallet(svc Settler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req payRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.SettleWallet(r.Context(), settlement.WalletSettlementInput{
			OrderID:    orderID,
			Actor:      actor,
			PaymentID:  strings.TrimSpace(req.ID),
			Status:     req.Status,
			UpdateTime: req.UpdateTime,
			PayerEmail: req.Payer.EmailAddress,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

// CreateGatewayPayment returns the signed redirect URL for the gateway.
func CreateGatewayPayment(svc Settler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		paymentURL, err := svc.CreateGatewayPayment(r.Context(), settlement.GatewayPaymentInput{
			OrderID: orderID,
			Actor:   actor,
			IPAddr:  clientIP(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, gatewayPaymentResponse{PaymentURL: paymentURL})
	}
}

// GatewayReturn handles the customer's browser coming back from the gateway.
// Anything with an outcome is answered with a redirect to the storefront.
func GatewayReturn(svc Settler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		outcome, err := svc.HandleGatewayCallback(r.Context(), r.URL.Query())
		if outcome == nil {
			if err == nil {
				err = pkgerrors.New(pkgerrors.CodeInternal, "gateway callback produced no outcome")
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err != nil && logg != nil {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"order_id":      outcome.OrderID,
				"response_code": outcome.ResponseCode,
				"error":         err.Error(),
			})
			logg.Warn(ctx, "gateway payment rejected")
		}
		http.Redirect(w, r, outcome.RedirectURL, http.StatusFound)
	}
}

// PayCash commits the order to cash on delivery.
func PayCash(svc Settler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.SettleCash(r.Context(), settlement.CashSettlementInput{OrderID: orderID, Actor: actor})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
