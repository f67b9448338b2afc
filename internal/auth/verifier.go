// AngelaMos | 2026
// verifier.go

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/carterperez-dev/templates/seller-billing/internal/config"
	"github.com/carterperez-dev/templates/seller-billing/internal/core"
)

const maxUserInfoBytes = 64 << 10

// Identity is the caller as confirmed by the identity provider.
type Identity struct {
	UserID string
	Email  string
}

// Verifier resolves bearer tokens by asking the identity provider's
// user-info endpoint. Tokens are never decoded locally, so revocation on
// the provider side takes effect on the next request.
type Verifier struct {
	httpClient  *http.Client
	userInfoURL string
	apiKey      string
	timeout     time.Duration
}

func NewVerifier(cfg config.AuthConfig, httpClient *http.Client) *Verifier {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Verifier{
		httpClient:  httpClient,
		userInfoURL: cfg.UserInfoURL,
		apiKey:      cfg.APIKey,
		timeout:     timeout,
	}
}

type userInfoResponse struct {
	ID    string `json:"id"`
	Sub   string `json:"sub"`
	Email string `json:"email"`
}

func (v *Verifier) VerifyBearerToken(
	ctx context.Context,
	token string,
) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("empty bearer token: %w", core.ErrUnauthorized)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if v.apiKey != "" {
		req.Header.Set("apikey", v.apiKey)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("user info: %w", core.ErrUpstreamTimeout)
		}
		return nil, fmt.Errorf("user info: %w: %v", core.ErrUpstream, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoBytes))
	if err != nil {
		return nil, fmt.Errorf("read user info: %w: %v", core.ErrUpstream, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("token rejected by identity provider: %w", core.ErrUnauthorized)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("user info returned %d: %w", resp.StatusCode, core.ErrUpstream)
	}

	var info userInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode user info: %w: %v", core.ErrUpstream, err)
	}

	userID := info.ID
	if userID == "" {
		userID = info.Sub
	}
	if userID == "" {
		return nil, fmt.Errorf("user info has no subject: %w", core.ErrUnauthorized)
	}

	return &Identity{
		UserID: userID,
		Email:  strings.ToLower(strings.TrimSpace(info.Email)),
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
