// Package bearer issues and parses the signed session tokens handed out after
// a completed second-factor check.
package bearer

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTTL is the session lifetime used when Config.TTL is zero.
const DefaultTTL = 24 * time.Hour

var (
	// ErrInvalidToken is returned for any token that fails signature, issuer,
	// expiry, or claim checks.
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Config configures a Manager. SigningKey is required.
type Config struct {
	SigningKey string
	Issuer     string
	TTL        time.Duration
}

// Claims is the payload of a session token.
type Claims struct {
	SID string `json:"sid"`
	jwt.RegisteredClaims
}

// Issued is a freshly minted token with its identifiers.
type Issued struct {
	Token     string
	SessionID string
	ExpiresAt time.Time
}

// Manager signs and verifies HS256 session tokens.
type Manager struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.SigningKey == "" {
		return nil, errors.New("bearer: signing key is required")
	}
	if cfg.TTL < 0 {
		return nil, errors.New("bearer: ttl must not be negative")
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = "stratamind"
	}
	return &Manager{
		key:    []byte(cfg.SigningKey),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// WithClock returns a copy of m that reads time from now.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	cp := *m
	cp.now = now
	return &cp
}

// TTL returns the configured session lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Issue mints a token for subject (the account ID hex).
func (m *Manager) Issue(subject string) (Issued, error) {
	if subject == "" {
		return Issued{}, errors.New("bearer: subject is required")
	}
	now := m.now().UTC()
	exp := now.Add(m.ttl)
	sid := uuid.NewString()

	claims := Claims{
		SID: sid,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return Issued{}, fmt.Errorf("bearer: sign: %w", err)
	}
	// NumericDate truncates to seconds; keep the stored expiry consistent.
	return Issued{Token: signed, SessionID: sid, ExpiresAt: exp.Truncate(time.Second)}, nil
}

// Parse verifies raw and returns its claims.
func (m *Manager) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return m.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.SID == "" || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
