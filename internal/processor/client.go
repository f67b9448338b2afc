// AngelaMos | 2026
// client.go

package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/carterperez-dev/templates/seller-billing/internal/config"
)

const maxResponseBytes = 4 << 20

// ErrTimeout marks a call that ran out of time before the processor
// answered. The outcome is unknown, so callers may retry it; it is never
// reported as a definitive rejection.
var ErrTimeout = errors.New("processor request timed out")

// GatewayError is a non-2xx answer from the processor. Message holds the
// raw response body, or the status text when the body is empty.
type GatewayError struct {
	Status  int
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("processor returned %d: %s", e.Status, e.Message)
}

func IsNotFound(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr) && gwErr.Status == http.StatusNotFound
}

// Client talks to the processor REST API with the server-side secret key.
// It never retries: webhook redelivery and idempotent callers cover that.
type Client struct {
	httpClient *http.Client
	baseURL    string
	secretKey  string
	timeout    time.Duration
}

func NewClient(cfg config.ProcessorConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		secretKey:  cfg.SecretKey,
		timeout:    timeout,
	}
}

// Request sends one authenticated call. GET and DELETE carry params in the
// query string, everything else as a form-encoded body. When out is non-nil
// the 2xx body is decoded into it.
func (c *Client) Request(
	ctx context.Context,
	method, path string,
	params url.Values,
	out any,
) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqURL := c.baseURL + path
	var body io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		if len(params) > 0 {
			reqURL += "?" + params.Encode()
		}
	} else {
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%s %s: %w", method, path, ErrTimeout)
		}
		return &GatewayError{
			Status:  http.StatusBadGateway,
			Message: fmt.Sprintf("%s %s: %v", method, path, err),
		}
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%s %s: %w", method, path, ErrTimeout)
		}
		return &GatewayError{
			Status:  http.StatusBadGateway,
			Message: fmt.Sprintf("read %s %s response: %v", method, path, err),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &GatewayError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}

	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func setMetadata(form url.Values, prefix string, metadata map[string]string) {
	for key, value := range metadata {
		form.Set(fmt.Sprintf("%s[%s]", prefix, key), value)
	}
}
