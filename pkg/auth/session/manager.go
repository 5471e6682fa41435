package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/afm-storefront/pkg/config"
	"github.com/angelmondragon/afm-storefront/pkg/enums"
	redisclient "github.com/angelmondragon/afm-storefront/pkg/redis"
)

const refreshTokenBytes = 32

var ErrInvalidRefreshToken = errors.New("invalid refresh token")

// Session is what a refresh token unlocks. Only a hash of the token is stored.
type Session struct {
	CustomerID uuid.UUID          `json:"customerId"`
	Role       enums.CustomerRole `json:"role"`
	TokenHash  string             `json:"tokenHash"`
}

type sessionStore interface {
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) error
	Del(ctx context.Context, keys ...string) error
	AccessSessionKey(accessID string) string
}

// Manager issues, rotates and revokes refresh sessions keyed by access token id.
type Manager struct {
	store sessionStore
	ttl   time.Duration
}

// NewManager constructs a session manager backed by Redis.
func NewManager(client *redisclient.Client, cfg config.JWTConfig) (*Manager, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return newManager(client, cfg)
}

func newManager(store sessionStore, cfg config.JWTConfig) (*Manager, error) {
	ttl := cfg.RefreshTokenTTL()
	if ttl <= 0 {
		return nil, fmt.Errorf("refresh token ttl must be positive")
	}
	if ttl <= cfg.TTL() {
		return nil, fmt.Errorf("refresh token ttl (%s) must exceed access token ttl (%s)", ttl, cfg.TTL())
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// Generate creates a refresh token for accessID bound to the customer.
func (m *Manager) Generate(ctx context.Context, accessID string, customerID uuid.UUID, role enums.CustomerRole) (string, error) {
	if strings.TrimSpace(accessID) == "" {
		return "", fmt.Errorf("access id is required")
	}
	token, err := generateRefreshToken()
	if err != nil {
		return "", err
	}
	sess := Session{CustomerID: customerID, Role: role, TokenHash: hashToken(token)}
	if err := m.store.SetJSON(ctx, m.store.AccessSessionKey(accessID), sess, m.ttl); err != nil {
		return "", err
	}
	return token, nil
}

// Rotate checks provided against the session of oldAccessID, replaces it with
// a fresh session and returns the new access id and refresh token.
func (m *Manager) Rotate(ctx context.Context, oldAccessID, provided string) (string, string, Session, error) {
	if strings.TrimSpace(oldAccessID) == "" || strings.TrimSpace(provided) == "" {
		return "", "", Session{}, ErrInvalidRefreshToken
	}
	key := m.store.AccessSessionKey(oldAccessID)
	var stored Session
	if err := m.store.GetJSON(ctx, key, &stored); err != nil {
		if errors.Is(err, redisclient.ErrCacheMiss) {
			return "", "", Session{}, ErrInvalidRefreshToken
		}
		return "", "", Session{}, err
	}
	if subtle.ConstantTimeCompare([]byte(stored.TokenHash), []byte(hashToken(provided))) != 1 {
		return "", "", Session{}, ErrInvalidRefreshToken
	}

	newAccessID := NewAccessID()
	newToken, err := m.Generate(ctx, newAccessID, stored.CustomerID, stored.Role)
	if err != nil {
		return "", "", Session{}, err
	}
	if err := m.store.Del(ctx, key); err != nil {
		return "", "", Session{}, err
	}
	return newAccessID, newToken, stored, nil
}

// Revoke deletes the refresh session tied to the access identifier.
func (m *Manager) Revoke(ctx context.Context, accessID string) error {
	if strings.TrimSpace(accessID) == "" {
		return fmt.Errorf("access id is required")
	}
	return m.store.Del(ctx, m.store.AccessSessionKey(accessID))
}

// HasSession reports whether accessID still has a live refresh session.
func (m *Manager) HasSession(ctx context.Context, accessID string) (bool, error) {
	if strings.TrimSpace(accessID) == "" {
		return false, fmt.Errorf("access id is required")
	}
	var stored Session
	if err := m.store.GetJSON(ctx, m.store.AccessSessionKey(accessID), &stored); err != nil {
		if errors.Is(err, redisclient.ErrCacheMiss) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// NewAccessID produces the identifier used as the JWT jti and session key.
func NewAccessID() string {
	return uuid.NewString()
}

func generateRefreshToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
