// AngelaMos | 2026
// handler_test.go

package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/seller-billing/internal/auth"
	"github.com/carterperez-dev/templates/seller-billing/internal/core"
	"github.com/carterperez-dev/templates/seller-billing/internal/middleware"
	"github.com/carterperez-dev/templates/seller-billing/internal/processor"
	"github.com/carterperez-dev/templates/seller-billing/internal/profile"
)

const (
	testWebhookSecret      = "whsec_test_secret"
	sellerActionsPerMinute = 5
)

type staticVerifier struct{}

func (staticVerifier) VerifyBearerToken(_ context.Context, token string) (*auth.Identity, error) {
	userID, ok := strings.CutPrefix(token, "token-")
	if !ok {
		return nil, core.ErrUnauthorized
	}
	return &auth.Identity{UserID: userID, Email: userID + "@example.com"}, nil
}

type httpHarness struct {
	*harness
	router http.Handler
	redis  *miniredis.Miniredis
}

func newHTTPHarness(t *testing.T, profiles ...profile.Profile) *httpHarness {
	t.Helper()

	h := newHarness(t, profiles...)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	verifier := processor.NewSignatureVerifier(testWebhookSecret, 0).
		WithClock(func() time.Time { return testNow })

	handler := NewHandler(h.svc, verifier, NewRedisLedger(client, time.Hour))

	r := chi.NewRouter()
	handler.RegisterRoutes(r,
		middleware.Authenticator(staticVerifier{}),
		middleware.NewRateLimiter(client, middleware.RateLimitConfig{
			Limit:    middleware.PerMinute(sellerActionsPerMinute, sellerActionsPerMinute),
			KeyFunc:  middleware.KeyBySeller,
			FailOpen: true,
		}).Handler,
	)

	return &httpHarness{harness: h, router: r, redis: mr}
}

func (hh *httpHarness) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer token-"+userID)
	}

	rec := httptest.NewRecorder()
	hh.router.ServeHTTP(rec, req)
	return rec
}

func (hh *httpHarness) deliver(t *testing.T, payload []byte, signedAt time.Time, secret string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/billing/webhook", bytes.NewReader(payload))
	req.Header.Set(SignatureHeader, processor.SignatureHeader(payload, secret, signedAt))

	rec := httptest.NewRecorder()
	hh.router.ServeHTTP(rec, req)
	return rec
}

func checkoutPayload(t *testing.T, eventID string) []byte {
	t.Helper()
	evt := event(t, eventID, processor.EventCheckoutSessionCompleted, processor.CheckoutSession{
		Mode:              "subscription",
		ClientReferenceID: "u1",
		Metadata:          map[string]string{"user_id": "u1", "tier": "pro"},
	})
	payload, err := json.Marshal(evt)
	require.NoError(t, err)
	return payload
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestWebhookAppliesVerifiedEvent(t *testing.T) {
	hh := newHTTPHarness(t, newProfile("u1", withRole(profile.RoleBuyer)))

	rec := hh.deliver(t, checkoutPayload(t, "evt_ok"), testNow, testWebhookSecret)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ack := decodeBody[webhookAck](t, rec)
	assert.True(t, ack.Received)
	assert.False(t, ack.Duplicate)

	assert.Equal(t, profile.TierPro, hh.repo.profile(t, "u1").Tier)
	assert.True(t, hh.redis.Exists(eventKeyPrefix+"evt_ok"))
}

func TestWebhookRedeliveryIsAcknowledgedOnce(t *testing.T) {
	hh := newHTTPHarness(t, newProfile("u1"))
	payload := checkoutPayload(t, "evt_dup")

	require.Equal(t, http.StatusOK, hh.deliver(t, payload, testNow, testWebhookSecret).Code)
	writes := hh.repo.patchCount()

	rec := hh.deliver(t, payload, testNow, testWebhookSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[webhookAck](t, rec).Duplicate)
	assert.Equal(t, writes, hh.repo.patchCount())
}

func TestWebhookRejectsBadSignatures(t *testing.T) {
	tests := []struct {
		name     string
		signedAt time.Time
		secret   string
		header   *string
	}{
		{name: "stale by 301s", signedAt: testNow.Add(-301 * time.Second), secret: testWebhookSecret},
		{name: "future by 301s", signedAt: testNow.Add(301 * time.Second), secret: testWebhookSecret},
		{name: "wrong secret", signedAt: testNow, secret: "whsec_other"},
		{name: "missing header", header: ptr("")},
		{name: "wrong v1", header: ptr(fmt.Sprintf("t=%d,v1=%s", testNow.Unix(), strings.Repeat("ab", 32)))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hh := newHTTPHarness(t, newProfile("u1"))
			payload := checkoutPayload(t, "evt_bad")

			var rec *httptest.ResponseRecorder
			if tt.header != nil {
				req := httptest.NewRequest(http.MethodPost, "/billing/webhook", bytes.NewReader(payload))
				req.Header.Set(SignatureHeader, *tt.header)
				rec = httptest.NewRecorder()
				hh.router.ServeHTTP(rec, req)
			} else {
				rec = hh.deliver(t, payload, tt.signedAt, tt.secret)
			}

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "INVALID_SIGNATURE", decodeBody[core.ErrorResponse](t, rec).Code)
			assert.Zero(t, hh.repo.patchCount())
			assert.False(t, hh.redis.Exists(eventKeyPrefix+"evt_bad"))
		})
	}
}

func TestWebhookTamperedBodyIsRejected(t *testing.T) {
	hh := newHTTPHarness(t, newProfile("u1"))
	payload := checkoutPayload(t, "evt_tamper")
	header := processor.SignatureHeader(payload, testWebhookSecret, testNow)

	tampered := bytes.Replace(payload, []byte(`"pro"`), []byte(`"enterprise"`), 1)
	req := httptest.NewRequest(http.MethodPost, "/billing/webhook", bytes.NewReader(tampered))
	req.Header.Set(SignatureHeader, header)
	rec := httptest.NewRecorder()
	hh.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, hh.repo.patchCount())
}

func TestWebhookStoreFailureIs500AndNotRecorded(t *testing.T) {
	hh := newHTTPHarness(t, newProfile("u1"))
	hh.repo.patchErr = &profile.StoreError{Op: "patch", Err: errors.New("connection reset")}

	rec := hh.deliver(t, checkoutPayload(t, "evt_retry"), testNow, testWebhookSecret)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, hh.redis.Exists(eventKeyPrefix+"evt_retry"))
}

func TestWebhookInvalidJSONAfterValidSignature(t *testing.T) {
	hh := newHTTPHarness(t, newProfile("u1"))

	rec := hh.deliver(t, []byte(`not json`), testNow, testWebhookSecret)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutEndpoint(t *testing.T) {
	hh := newHTTPHarness(t, newProfile("u1", withCustomer("cus_1")))

	rec := hh.do(t, http.MethodPost, "/billing/checkout", "u1", CheckoutRequest{
		PlanID:       "pro",
		BillingCycle: "monthly",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, decodeBody[URLResponse](t, rec).URL, "https://checkout.test/")

	rec = hh.do(t, http.MethodPost, "/billing/checkout", "u1", CheckoutRequest{
		PlanID:       "gold",
		BillingCycle: "monthly",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = hh.do(t, http.MethodPost, "/billing/checkout", "u1", map[string]string{"planId": "pro"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[core.ErrorResponse](t, rec).Error, "billingCycle is required")

	rec = hh.do(t, http.MethodPost, "/billing/checkout", "", CheckoutRequest{PlanID: "pro", BillingCycle: "monthly"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCancelEndpointDefaultsToPeriodEnd(t *testing.T) {
	hh := newHTTPHarness(t, newProfile("u5",
		withTier(profile.TierPro),
		withCustomer("cus_5"),
		withSubscription("sub_5"),
	))
	hh.gw.addSubscription(liveSub("sub_5", "cus_5", monthlyPrice("price_pro_m", 2900),
		testNow.Add(-time.Hour), testNow.Add(30*24*time.Hour)))

	rec := hh.do(t, http.MethodPost, "/billing/subscription/cancel", "u5", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[PlanResponse](t, rec)
	assert.Equal(t, ModeCancelScheduled, resp.Mode)
	assert.Equal(t, "pro", resp.Tier)
	require.NotNil(t, resp.PendingTier)
	assert.Equal(t, "unsubscribed", *resp.PendingTier)
	require.NotNil(t, resp.TierEffectiveAt)
	assert.Equal(t, testNow.Add(30*24*time.Hour).Unix(), *resp.TierEffectiveAt)
}

func TestChangeAndSyncEndpoints(t *testing.T) {
	hh := newHTTPHarness(t, newProfile("u3",
		withTier(profile.TierMerchant),
		withCustomer("cus_3"),
		withSubscription("sub_3"),
	))
	end := testNow.Add(20 * 24 * time.Hour)
	hh.gw.addSubscription(liveSub("sub_3", "cus_3", monthlyPrice("price_merchant_m", 7900),
		testNow.Add(-10*24*time.Hour), end))

	rec := hh.do(t, http.MethodPost, "/billing/subscription/change", "u3", ChangePlanRequest{
		PlanID:       "starter",
		BillingCycle: "monthly",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, ModeDowngradeScheduled, decodeBody[PlanResponse](t, rec).Mode)

	rec = hh.do(t, http.MethodGet, "/billing/subscription/sync", "u3", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	sync := decodeBody[SyncResponse](t, rec)
	require.NotNil(t, sync.Subscription)
	assert.Equal(t, "sub_3", sync.Subscription.ID)
	assert.Equal(t, "merchant", sync.Profile.Tier)
	require.NotNil(t, sync.PendingTier)
	assert.Equal(t, "starter", *sync.PendingTier)
	assert.Equal(t, end.Unix(), *sync.TierEffectiveAt)
}

func TestSyncWithoutSubscription(t *testing.T) {
	hh := newHTTPHarness(t, newProfile("u9"))

	rec := hh.do(t, http.MethodGet, "/billing/subscription/sync", "u9", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.JSONEq(t, "null", string(raw["subscription"]))
	assert.JSONEq(t, "null", string(raw["pending_tier"]))
}

func TestPortalEndpointValidatesReturnPath(t *testing.T) {
	hh := newHTTPHarness(t, newProfile("u1", withCustomer("cus_1")))

	rec := hh.do(t, http.MethodPost, "/billing/portal", "u1", PortalRequest{ReturnPath: "https://evil.test"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = hh.do(t, http.MethodPost, "/billing/portal", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeBody[URLResponse](t, rec).URL, "cus_1")
}

func TestSellerActionsAreThrottledPerSeller(t *testing.T) {
	hh := newHTTPHarness(t,
		newProfile("u1", withCustomer("cus_1")),
		newProfile("u2", withCustomer("cus_2")),
	)

	for range sellerActionsPerMinute {
		rec := hh.do(t, http.MethodPost, "/billing/portal", "u1", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	limited := hh.do(t, http.MethodPost, "/billing/portal", "u1", nil)
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "RATE_LIMITED", decodeBody[core.ErrorResponse](t, limited).Code)

	assert.Equal(t, http.StatusOK, hh.do(t, http.MethodPost, "/billing/portal", "u2", nil).Code)
	assert.Equal(t, http.StatusOK, hh.do(t, http.MethodGet, "/billing/subscription/sync", "u1", nil).Code)
}
