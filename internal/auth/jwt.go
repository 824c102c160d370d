// Package auth verifies the access tokens both services accept. Issuing
// tokens belongs to the login flow; Issue exists for tooling and tests.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dkeye/videoroom/internal/domain"
)

const DefaultCookieName = "at"

var (
	ErrMissingToken = domain.NewReasonError(domain.ErrAuthFailed, domain.ReasonMissingAccessToken)
	ErrInvalidToken = domain.NewReasonError(domain.ErrAuthFailed, domain.ReasonInvalidAccessToken)
)

type Config struct {
	Secret     string
	Issuer     string
	CookieName string
}

// Claims mirror domain.Identity on top of the registered claims.
type Claims struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	jwt.RegisteredClaims
}

// Verifier is what the HTTP and WebSocket layers depend on.
type Verifier interface {
	Verify(token string) (domain.Identity, error)
}

type Manager struct {
	secret     []byte
	issuer     string
	cookieName string
}

func NewManager(cfg Config) *Manager {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	return &Manager{secret: []byte(cfg.Secret), issuer: cfg.Issuer, cookieName: cfg.CookieName}
}

func (m *Manager) CookieName() string { return m.cookieName }

// Issue signs an HS256 token for identity valid for ttl.
func (m *Manager) Issue(identity domain.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		ID:        string(identity.ID),
		Name:      identity.Name,
		Email:     identity.Email,
		AvatarURL: identity.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   string(identity.ID),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Verify checks signature, expiry and issuer and returns the identity.
// Every failure is ErrMissingToken or ErrInvalidToken.
func (m *Manager) Verify(token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, ErrMissingToken
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return domain.Identity{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.ID == "" || len(claims.ID) > domain.MaxUserIDLen {
		return domain.Identity{}, ErrInvalidToken
	}
	name := claims.Name
	if len(name) > domain.MaxUsernameLen {
		name = name[:domain.MaxUsernameLen]
	}
	return domain.Identity{
		ID:        domain.UserID(claims.ID),
		Name:      name,
		Email:     claims.Email,
		AvatarURL: claims.AvatarURL,
	}, nil
}

// TokenFromRequest reads the access token from the cookie, falling back to a
// bearer Authorization header.
func (m *Manager) TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(m.cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// Authenticate is TokenFromRequest followed by Verify.
func (m *Manager) Authenticate(r *http.Request) (domain.Identity, error) {
	return m.Verify(m.TokenFromRequest(r))
}

// IsAuthError reports whether err belongs to the Auth kind.
func IsAuthError(err error) bool {
	return errors.Is(err, domain.ErrAuthFailed)
}
