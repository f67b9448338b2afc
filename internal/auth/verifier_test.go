// AngelaMos | 2026
// verifier_test.go

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/seller-billing/internal/config"
	"github.com/carterperez-dev/templates/seller-billing/internal/core"
)

func newVerifier(t *testing.T, handler http.HandlerFunc) *Verifier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewVerifier(config.AuthConfig{
		UserInfoURL: srv.URL + "/auth/v1/user",
		APIKey:      "anon-key",
		Timeout:     time.Second,
	}, srv.Client())
}

func TestVerifyBearerTokenSuccess(t *testing.T) {
	v := newVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer good-token", r.Header.Get("Authorization"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		_, _ = w.Write([]byte(`{"id":"user-1","email":"Seller@Shop.co"}`))
	})

	id, err := v.VerifyBearerToken(context.Background(), "good-token")
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.Equal(t, "seller@shop.co", id.Email)
}

func TestVerifyBearerTokenFallsBackToSub(t *testing.T) {
	v := newVerifier(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"sub":"user-2"}`))
	})

	id, err := v.VerifyBearerToken(context.Background(), "token")
	require.NoError(t, err)
	assert.Equal(t, "user-2", id.UserID)
}

func TestVerifyBearerTokenFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		token   string
		wantErr error
	}{
		{name: "empty token", token: " ", wantErr: core.ErrUnauthorized},
		{name: "rejected", status: http.StatusUnauthorized, token: "bad", wantErr: core.ErrUnauthorized},
		{name: "forbidden", status: http.StatusForbidden, token: "bad", wantErr: core.ErrUnauthorized},
		{name: "provider down", status: http.StatusBadGateway, token: "t", wantErr: core.ErrUpstream},
		{name: "no subject", status: http.StatusOK, body: `{"email":"x@y.z"}`, token: "t", wantErr: core.ErrUnauthorized},
		{name: "garbage body", status: http.StatusOK, body: `not json`, token: "t", wantErr: core.ErrUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newVerifier(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := v.VerifyBearerToken(context.Background(), tt.token)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
