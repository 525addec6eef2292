package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/keypad-relay/keypad-relay-server/internal/config"
	"github.com/keypad-relay/keypad-relay-server/internal/models"
	"github.com/keypad-relay/keypad-relay-server/pkg/crypto"
)

const issuer = "keypad-relay"

// ErrInvalidCredentials is returned by Login for a wrong username or password
var ErrInvalidCredentials = errors.New("invalid credentials")

// JWTManager manages JWT tokens
type JWTManager struct {
	config   *config.JWTConfig
	operator models.Operator
}

// NewJWTManager creates a new JWT manager for the configured operator. An
// empty secret is replaced with a random one, invalidating tokens on restart.
func NewJWTManager(cfg *config.JWTConfig, account config.AuthConfig) *JWTManager {
	if cfg.Secret == "" {
		secret, err := crypto.RandomSecret(32)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to generate JWT secret")
		}
		cfg.Secret = secret
		log.Warn().Msg("jwt.secret not set, using a random secret")
	}

	return &JWTManager{
		config: cfg,
		operator: models.Operator{
			Username:     account.Username,
			PasswordHash: account.PasswordHash,
			IsAdmin:      true,
		},
	}
}

// Claims represents JWT claims
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// Login checks the operator credentials and issues a token pair
func (m *JWTManager) Login(username, password string) (string, string, error) {
	if m.operator.Username == "" || m.operator.PasswordHash == "" {
		return "", "", fmt.Errorf("no operator account configured: %w", ErrInvalidCredentials)
	}
	if username != m.operator.Username || !m.VerifyPassword(password, m.operator.PasswordHash) {
		return "", "", ErrInvalidCredentials
	}
	return m.GenerateTokenPair(&m.operator)
}

// GenerateTokenPair generates access and refresh tokens
func (m *JWTManager) GenerateTokenPair(op *models.Operator) (string, string, error) {
	now := time.Now()

	accessClaims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   op.Username,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
		Username: op.Username,
		IsAdmin:  op.IsAdmin,
	}

	accessToken := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims)
	accessTokenString, err := accessToken.SignedString([]byte(m.config.Secret))
	if err != nil {
		return "", "", fmt.Errorf("sign access token: %w", err)
	}

	refreshClaims := jwt.RegisteredClaims{
		Subject:   op.Username,
		ExpiresAt: jwt.NewNumericDate(now.Add(m.config.RefreshTokenTTL)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Issuer:    issuer,
		ID:        uuid.New().String(),
	}

	refreshToken := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims)
	refreshTokenString, err := refreshToken.SignedString([]byte(m.config.Secret))
	if err != nil {
		return "", "", fmt.Errorf("sign refresh token: %w", err)
	}

	return accessTokenString, refreshTokenString, nil
}

func (m *JWTManager) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return []byte(m.config.Secret), nil
}

// ValidateToken validates an access token
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, m.keyFunc, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Username == "" {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

// RefreshToken issues a new pair for a valid refresh token
func (m *JWTManager) RefreshToken(refreshTokenString string) (string, string, error) {
	token, err := jwt.ParseWithClaims(refreshTokenString, &jwt.RegisteredClaims{}, m.keyFunc, jwt.WithIssuer(issuer))
	if err != nil {
		return "", "", err
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return "", "", fmt.Errorf("invalid refresh token")
	}
	if claims.Subject != m.operator.Username {
		return "", "", fmt.Errorf("unknown subject in refresh token")
	}

	return m.GenerateTokenPair(&m.operator)
}

// VerifyPassword verifies a password against a hash
func (m *JWTManager) VerifyPassword(password, hash string) bool {
	return crypto.VerifyPassword(password, hash)
}
