package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bhargava562/vyapar-ai/internal/config"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrWrongType    = errors.New("wrong token type")
)

// Claims carries the subject (vendor id), token type, issued-at, expiry, and
// a unique token id. The jti keeps tokens minted within the same second from
// colliding; nothing else sensitive is embedded.
type Claims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// Manager mints and verifies the HS256-signed access/refresh token pair. The
// two kinds are never interchangeable; the typ claim is checked on every use.
type Manager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		secret:     []byte(cfg.JWT.Secret),
		accessTTL:  cfg.JWT.AccessTTL,
		refreshTTL: cfg.JWT.RefreshTTL,
		now:        time.Now,
	}
}

func (m *Manager) AccessTTL() time.Duration {
	return m.accessTTL
}

func (m *Manager) RefreshTTL() time.Duration {
	return m.refreshTTL
}

// MintAccess issues a short-lived access token for the vendor.
func (m *Manager) MintAccess(vendorID string) (string, error) {
	return m.mint(vendorID, TypeAccess, m.accessTTL)
}

// MintRefresh issues a long-lived refresh token for the vendor.
func (m *Manager) MintRefresh(vendorID string) (string, error) {
	return m.mint(vendorID, TypeRefresh, m.refreshTTL)
}

func (m *Manager) mint(vendorID, typ string, ttl time.Duration) (string, error) {
	now := m.now().UTC()
	claims := Claims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   vendorID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, expiry, and token type, returning the subject
// (vendor id). Any failure is ErrInvalidToken or ErrWrongType; callers map
// both to an unauthenticated result.
func (m *Manager) Verify(tokenString, expectedType string) (string, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}

	if claims.Type != expectedType {
		return "", ErrWrongType
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
