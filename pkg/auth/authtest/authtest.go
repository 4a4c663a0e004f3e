// Package authtest signs access tokens for tests, standing in for the
// identity service.
package authtest

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/auth"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Config returns the JWT settings used by Token.
func Config() config.JWTConfig {
	return config.JWTConfig{Secret: "test-secret", Issuer: "storefront-test"}
}

// Token signs a token for userID valid from issuedAt for ttl.
func Token(t testing.TB, cfg config.JWTConfig, userID uuid.UUID, role enums.UserRole, issuedAt time.Time, ttl time.Duration) string {
	t.Helper()
	claims := auth.AccessTokenClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(auth.SigningMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// Bearer returns a valid Authorization header value.
func Bearer(t testing.TB, userID uuid.UUID, role enums.UserRole) string {
	t.Helper()
	return "Bearer " + Token(t, Config(), userID, role, time.Now(), time.Hour)
}
