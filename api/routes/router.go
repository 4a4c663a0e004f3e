package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/storefront-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/storefront-backend/api/controllers/orders"
	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/internal/delivery"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/telemetry"
)

// Cache is the redis surface the router needs for readiness and idempotency.
type Cache interface {
	middleware.IdempotencyStore
	controllers.Pinger
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	cache Cache,
	ordersSvc orders.Service,
	settler ordercontrollers.Settler,
	deliverySvc delivery.Service,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.Frontend.BaseURL, cfg.App.IsDev()),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, cache))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	// The gateway sends the customer's browser back here without a bearer token.
	r.Get("/api/orders/vnpay-return", ordercontrollers.GatewayReturn(settler, logg))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		idempotent := middleware.Idempotency(cache, logg)

		r.With(idempotent).Post("/api/orders", ordercontrollers.Create(ordersSvc, logg))
		r.Get("/api/orders/mine", ordercontrollers.Mine(ordersSvc, logg))
		r.Get("/api/orders/{orderId}", ordercontrollers.Detail(ordersSvc, logg))
		r.With(idempotent).Put("/api/orders/{orderId}/pay", ordercontrollers.PayWallet(settler, logg))
		r.Post("/api/orders/{orderId}/vnpay", ordercontrollers.CreateGatewayPayment(settler, logg))
		r.Put("/api/orders/{orderId}/cod", ordercontrollers.PayCash(settler, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(enums.UserRoleAdmin, logg))
			r.Get("/api/orders", ordercontrollers.List(ordersSvc, logg))
			r.Put("/api/orders/{orderId}/deliver", ordercontrollers.Deliver(deliverySvc, logg))
			r.Put("/api/orders/{orderId}/delivery-status", ordercontrollers.UpdateDeliveryStatus(deliverySvc, logg))
		})
	})

	return telemetry.HTTPHandler(r, "storefront-api")
}
