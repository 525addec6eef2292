package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/keypad-relay/keypad-relay-server/internal/config"
	"github.com/keypad-relay/keypad-relay-server/pkg/crypto"
)

func newManager(t *testing.T, ttl time.Duration) *JWTManager {
	t.Helper()
	hash, err := crypto.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	return NewJWTManager(
		&config.JWTConfig{Secret: "test-secret", AccessTokenTTL: ttl, RefreshTokenTTL: time.Hour},
		config.AuthConfig{Username: "operator", PasswordHash: hash},
	)
}

func TestLogin_IssuesValidTokens(t *testing.T) {
	t.Parallel()

	m := newManager(t, time.Minute)
	access, refresh, err := m.Login("operator", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	claims, err := m.ValidateToken(access)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Username != "operator" || !claims.IsAdmin {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, _, err := m.RefreshToken(refresh); err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if _, err := m.ValidateToken(refresh); err == nil {
		t.Fatal("refresh token must not validate as an access token")
	}
}

func TestLogin_RejectsBadPassword(t *testing.T) {
	t.Parallel()

	m := newManager(t, time.Minute)
	if _, _, err := m.Login("operator", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := m.Login("someone", "s3cret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestValidateToken_ExpiredAndForeign(t *testing.T) {
	t.Parallel()

	m := newManager(t, -time.Minute)
	access, _, err := m.Login("operator", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := m.ValidateToken(access); err == nil {
		t.Fatal("expired token accepted")
	}

	other := newManager(t, time.Minute)
	other.config.Secret = "other-secret"
	token, _, err := other.Login("operator", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := m.ValidateToken(token); err == nil {
		t.Fatal("token signed with another secret accepted")
	}
}

func TestNewJWTManager_GeneratesSecret(t *testing.T) {
	t.Parallel()

	cfg := &config.JWTConfig{AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour}
	NewJWTManager(cfg, config.AuthConfig{})
	if len(cfg.Secret) == 0 {
		t.Fatal("expected a generated secret")
	}
}
