package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/videoroom/internal/domain"
)

func newManager() *Manager {
	return NewManager(Config{Secret: "test-secret", Issuer: "videoroom"})
}

func TestIssueAndVerify(t *testing.T) {
	m := newManager()
	in := domain.Identity{ID: "u1", Name: "Ada", Email: "ada@example.com", AvatarURL: "https://x/a.png"}

	token, err := m.Issue(in, time.Minute)
	require.NoError(t, err)

	got, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestVerifyFailures(t *testing.T) {
	m := newManager()
	expired, err := m.Issue(domain.Identity{ID: "u1", Email: "a@b"}, -time.Minute)
	require.NoError(t, err)
	foreign, err := NewManager(Config{Secret: "other", Issuer: "videoroom"}).Issue(domain.Identity{ID: "u1"}, time.Minute)
	require.NoError(t, err)
	wrongIssuer, err := NewManager(Config{Secret: "test-secret", Issuer: "elsewhere"}).Issue(domain.Identity{ID: "u1"}, time.Minute)
	require.NoError(t, err)
	noID, err := m.Issue(domain.Identity{Email: "a@b"}, time.Minute)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{ID: "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		reason string
	}{
		{"empty", "", domain.ReasonMissingAccessToken},
		{"garbage", "not-a-token", domain.ReasonInvalidAccessToken},
		{"expired", expired, domain.ReasonInvalidAccessToken},
		{"wrong secret", foreign, domain.ReasonInvalidAccessToken},
		{"wrong issuer", wrongIssuer, domain.ReasonInvalidAccessToken},
		{"missing id", noID, domain.ReasonInvalidAccessToken},
		{"alg none", none, domain.ReasonInvalidAccessToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Verify(tt.token)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrAuthFailed)
			assert.True(t, IsAuthError(err))
			assert.Equal(t, tt.reason, domain.ReasonOf(err))
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	m := newManager()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, m.TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "abc", m.TokenFromRequest(r))

	r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "from-cookie"})
	assert.Equal(t, "from-cookie", m.TokenFromRequest(r), "cookie wins over header")
}

func TestAuthenticate(t *testing.T) {
	m := newManager()
	token, err := m.Issue(domain.Identity{ID: "u2", Email: "b@example.com"}, time.Minute)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: m.CookieName(), Value: token})
	id, err := m.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("u2"), id.ID)
	assert.Equal(t, "b", id.DisplayName())
}
