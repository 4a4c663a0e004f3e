package auth_test

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/auth"
	"github.com/angelmondragon/storefront-backend/pkg/auth/authtest"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

func TestParseAccessToken(t *testing.T) {
	cfg := authtest.Config()
	userID := uuid.New()
	now := time.Now().UTC()

	token := authtest.Token(t, cfg, userID, enums.UserRoleAdmin, now, 30*time.Minute)

	claims, err := auth.ParseAccessToken(cfg, token)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.UserID != userID {
		t.Fatalf("expected user_id %s, got %s", userID, claims.UserID)
	}
	if !claims.IsAdmin() {
		t.Fatalf("expected admin role, got %s", claims.Role)
	}
	if claims.Issuer != cfg.Issuer {
		t.Fatalf("expected issuer %s, got %s", cfg.Issuer, claims.Issuer)
	}
}

func TestParseAccessTokenInvalidSignature(t *testing.T) {
	cfg := authtest.Config()
	token := authtest.Token(t, cfg, uuid.New(), enums.UserRoleCustomer, time.Now(), 10*time.Minute)

	if _, err := auth.ParseAccessToken(cfg, token+"x"); err == nil {
		t.Fatal("expected invalid signature error")
	}
}

func TestParseAccessTokenWrongIssuer(t *testing.T) {
	cfg := authtest.Config()
	token := authtest.Token(t, cfg, uuid.New(), enums.UserRoleCustomer, time.Now(), 10*time.Minute)

	other := config.JWTConfig{Secret: cfg.Secret, Issuer: "someone-else"}
	if _, err := auth.ParseAccessToken(other, token); err == nil {
		t.Fatal("expected issuer mismatch error")
	}
}

func TestParseAccessTokenExpired(t *testing.T) {
	cfg := authtest.Config()
	token := authtest.Token(t, cfg, uuid.New(), enums.UserRoleCustomer, time.Now().Add(-time.Hour), 15*time.Minute)

	_, err := auth.ParseAccessToken(cfg, token)
	if err == nil {
		t.Fatal("expected expiration error")
	}
	if !strings.Contains(err.Error(), "expired") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseAccessTokenRejectsUnknownRole(t *testing.T) {
	cfg := authtest.Config()
	claims := auth.AccessTokenClaims{
		UserID: uuid.New(),
		Role:   "superuser",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(auth.SigningMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := auth.ParseAccessToken(cfg, token); err == nil {
		t.Fatal("expected invalid role error")
	}
}

func TestParseAccessTokenRequiresSecret(t *testing.T) {
	if _, err := auth.ParseAccessToken(config.JWTConfig{}, "abc"); err == nil {
		t.Fatal("expected missing secret error")
	}
}
