package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

const devOrigin = "http://localhost:3000"

// CORS allows the storefront frontend to call the API with credentials.
func CORS(frontendURL string, allowDev bool) func(http.Handler) http.Handler {
	origins := []string{}
	if origin := strings.TrimRight(strings.TrimSpace(frontendURL), "/"); origin != "" {
		origins = append(origins, origin)
	}
	if allowDev {
		origins = append(origins, devOrigin)
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler
}
