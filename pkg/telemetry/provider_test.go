package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/config"
)

func TestInitTracerProviderDisabled(t *testing.T) {
	shutdown, err := InitTracerProvider(context.Background(), config.TelemetryConfig{Enabled: false}, "test")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestHTTPHandlerPassesThrough(t *testing.T) {
	h := HTTPHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), "test")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestTracerStartsSpans(t *testing.T) {
	ctx, span := Tracer().Start(context.Background(), "unit")
	defer span.End()
	assert.NotNil(t, ctx)
}
