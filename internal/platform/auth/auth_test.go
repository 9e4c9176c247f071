package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartrx/smartrx/internal/platform/apierror"
)

const testSecret = "test-secret-that-is-at-least-32-bytes!!"

func newIssuer() *TokenIssuer {
	return NewTokenIssuer(testSecret, "smartrx-test", 15*time.Minute)
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	iss := newIssuer()
	tok, exp, err := iss.IssueAccessToken(42, []string{RolePatient})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), exp, 5*time.Second)

	claims, err := iss.Parse(tok)
	require.NoError(t, err)
	uid, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, int64(42), uid)
	assert.Equal(t, []string{RolePatient}, claims.Roles)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenIssuer_Rejects(t *testing.T) {
	iss := newIssuer()
	tok, _, err := iss.IssueAccessToken(1, nil)
	require.NoError(t, err)

	other := NewTokenIssuer("another-secret-that-is-32-bytes-long!!", "smartrx-test", time.Minute)
	_, err = other.Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong key")

	wrongIssuer := NewTokenIssuer(testSecret, "someone-else", time.Minute)
	_, err = wrongIssuer.Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong issuer")

	expired := newIssuer()
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, _, err := expired.IssueAccessToken(1, nil)
	require.NoError(t, err)
	_, err = iss.Parse(old)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")

	_, err = iss.Parse("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTMiddleware(t *testing.T) {
	iss := newIssuer()
	valid, _, err := iss.IssueAccessToken(7, []string{RolePatient})
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid", "Bearer " + valid, http.StatusOK},
		{"lowercase scheme", "bearer " + valid, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer abc.def.ghi", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/rewards/summary", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			var gotUser int64
			err := JWTMiddleware(iss)(func(c echo.Context) error {
				gotUser = UserIDFromContext(c.Request().Context())
				assert.Equal(t, int64(7), c.Get("user_id"))
				return c.NoContent(http.StatusOK)
			})(c)

			if tt.wantStatus == http.StatusOK {
				require.NoError(t, err)
				assert.Equal(t, int64(7), gotUser)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantStatus, apierror.StatusCode(err))
		})
	}
}

func TestJWTMiddleware_QueryTokenOnlyForWebSocket(t *testing.T) {
	iss := newIssuer()
	tok, _, err := iss.IssueAccessToken(9, nil)
	require.NoError(t, err)

	e := echo.New()
	next := func(c echo.Context) error { return c.NoContent(http.StatusOK) }

	req := httptest.NewRequest(http.MethodGet, "/ws?access_token="+tok, nil)
	c := e.NewContext(req, httptest.NewRecorder())
	assert.Error(t, JWTMiddleware(iss)(next)(c), "plain request must not accept query token")

	req = httptest.NewRequest(http.MethodGet, "/ws?access_token="+tok, nil)
	req.Header.Set("Connection", "upgrade")
	req.Header.Set("Upgrade", "websocket")
	c = e.NewContext(req, httptest.NewRecorder())
	assert.NoError(t, JWTMiddleware(iss)(next)(c))
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name    string
		roles   []string
		allowed bool
	}{
		{"admin passes", []string{RoleAdmin}, true},
		{"patient denied", []string{RolePatient}, false},
		{"anonymous denied", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodDelete, "/api/v1/badges/1", nil)
			req = req.WithContext(WithUser(context.Background(), 1, tt.roles))
			c := e.NewContext(req, httptest.NewRecorder())

			err := RequireRole("reward_manager")(func(c echo.Context) error { return nil })(c)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, http.StatusForbidden, apierror.StatusCode(err))
		})
	}
}

func TestPasswordHasher(t *testing.T) {
	h := NewPasswordHasher(4)
	hash, err := h.Hash("correct horse battery")
	require.NoError(t, err)
	assert.True(t, h.Verify(hash, "correct horse battery"))
	assert.False(t, h.Verify(hash, "wrong"))

	_, err = h.Hash(strings.Repeat("a", 73))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}
