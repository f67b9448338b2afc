// AngelaMos | 2026
// middleware_test.go

package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/seller-billing/internal/auth"
	"github.com/carterperez-dev/templates/seller-billing/internal/config"
	"github.com/carterperez-dev/templates/seller-billing/internal/core"
)

type fakeVerifier struct {
	identity *auth.Identity
	err      error
}

func (f *fakeVerifier) VerifyBearerToken(_ context.Context, _ string) (*auth.Identity, error) {
	return f.identity, f.err
}

func okHandler(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		core.OK(w, map[string]string{
			"user_id": GetUserID(r.Context()),
			"role":    GetUserRole(r.Context()),
		})
	})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) core.ErrorResponse {
	t.Helper()
	var body core.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestAuthenticator(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		verifier   *fakeVerifier
		wantStatus int
	}{
		{
			name:       "missing header",
			verifier:   &fakeVerifier{},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong scheme",
			header:     "Basic abc",
			verifier:   &fakeVerifier{},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "rejected token",
			header:     "Bearer bad",
			verifier:   &fakeVerifier{err: fmt.Errorf("nope: %w", core.ErrUnauthorized)},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "provider timeout",
			header:     "Bearer slow",
			verifier:   &fakeVerifier{err: fmt.Errorf("user info: %w", core.ErrUpstreamTimeout)},
			wantStatus: http.StatusGatewayTimeout,
		},
		{
			name:       "provider down",
			header:     "Bearer x",
			verifier:   &fakeVerifier{err: fmt.Errorf("user info: %w", core.ErrUpstream)},
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "valid",
			header:     "bearer good",
			verifier:   &fakeVerifier{identity: &auth.Identity{UserID: "u1", Email: "a@b.co"}},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			Authenticator(tt.verifier)(okHandler(t)).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				assert.NotEmpty(t, decodeError(t, rec).Error)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	lookup := func(_ context.Context, userID string) (string, error) {
		switch userID {
		case "admin-1":
			return "admin", nil
		case "ghost":
			return "", fmt.Errorf("get profile: %w", core.ErrNotFound)
		default:
			return "seller", nil
		}
	}

	tests := []struct {
		name       string
		userID     string
		wantStatus int
	}{
		{name: "anonymous", userID: "", wantStatus: http.StatusUnauthorized},
		{name: "seller", userID: "seller-1", wantStatus: http.StatusForbidden},
		{name: "no profile", userID: "ghost", wantStatus: http.StatusForbidden},
		{name: "admin", userID: "admin-1", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.userID != "" {
				req = req.WithContext(context.WithValue(req.Context(), UserIDKey, tt.userID))
			}
			rec := httptest.NewRecorder()

			RequireRole(lookup, "admin")(okHandler(t)).ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestRequestIDPropagates(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", seen)
	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)
}

func TestCORSPreflight(t *testing.T) {
	h := CORS(config.CORSConfig{
		AllowedOrigins:   []string{"https://app.example"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	})(okHandler(t))

	req := httptest.NewRequest(http.MethodOptions, "/v1/billing/checkout", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodOptions, "/v1/billing/checkout", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimiterFallsBackWhenRedisDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	rl := NewRateLimiter(rdb, RateLimitConfig{
		Limit:      PerMinute(1, 1),
		FailOpen:   true,
		BypassFunc: BypassPaths("/v1/billing/webhook"),
	})
	h := rl.Handler(okHandler(t))

	do := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = "203.0.113.9:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do("/v1/billing/checkout").Code)

	limited := do("/v1/billing/checkout")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "RATE_LIMITED", decodeError(t, limited).Code)
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))

	for range 3 {
		assert.Equal(t, http.StatusOK, do("/v1/billing/webhook").Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(true)(okHandler(t)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestKeyBySeller(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/billing/checkout", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	assert.Equal(t, "ratelimit:ip:203.0.113.9", KeyBySeller(req))

	ctx := context.WithValue(req.Context(), UserIDKey, "seller-1")
	assert.Equal(t, "ratelimit:seller:seller-1", KeyBySeller(req.WithContext(ctx)))
}

func TestPerWindow(t *testing.T) {
	limit := PerWindow(30, 5, 10*time.Second)
	assert.Equal(t, 30, limit.Rate)
	assert.Equal(t, 5, limit.Burst)
	assert.Equal(t, 10*time.Second, limit.Period)

	assert.Equal(t, time.Minute, PerWindow(30, 5, 0).Period)
	assert.Equal(t, PerWindow(10, 2, time.Minute), PerMinute(10, 2))
}
