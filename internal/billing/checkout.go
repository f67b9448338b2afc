// AngelaMos | 2026
// checkout.go

package billing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/carterperez-dev/templates/seller-billing/internal/core"
	"github.com/carterperez-dev/templates/seller-billing/internal/processor"
	"github.com/carterperez-dev/templates/seller-billing/internal/profile"
)

// Caller is the authenticated seller on whose behalf a flow runs.
type Caller struct {
	UserID string
	Email  string
}

type CheckoutResult struct {
	URL       string
	SessionID string
}

type PortalResult struct {
	URL string
}

func parsePlan(planID, billingCycle string) (profile.Tier, Cycle, error) {
	tier, ok := profile.ParseTier(planID)
	if !ok || !tier.IsPaid() {
		return "", "", core.ValidationError(
			"planId must be one of: starter, pro, merchant, enterprise",
		)
	}

	cycle, ok := ParseCycle(billingCycle)
	if !ok {
		return "", "", core.ValidationError("billingCycle must be one of: monthly, yearly")
	}

	return tier, cycle, nil
}

// Checkout opens a hosted checkout session for a paid tier. The profile's
// tier is not touched here; it changes when the processor confirms payment.
func (s *Service) Checkout(
	ctx context.Context,
	caller Caller,
	planID, billingCycle string,
) (*CheckoutResult, error) {
	tier, cycle, err := parsePlan(planID, billingCycle)
	if err != nil {
		return nil, err
	}

	ctx, span := core.StartSpan(ctx, "billing.checkout",
		attribute.String("seller.id", caller.UserID),
		attribute.String("plan.tier", string(tier)),
		attribute.String("plan.cycle", string(cycle)),
	)
	defer span.End()

	p, err := s.loadProfile(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}

	email := p.Email
	if email == "" {
		email = caller.Email
	}

	customerID, err := s.ensureCustomer(ctx, p, email)
	if err != nil {
		core.SetSpanError(ctx, err)
		return nil, translate(err)
	}

	metadata := userMetadata(p.ID, tier, cycle)
	params := processor.CheckoutSessionParams{
		CustomerID:           customerID,
		ClientReferenceID:    p.ID,
		SuccessURL:           s.siteURL(s.cfg.SuccessPath),
		CancelURL:            s.siteURL(s.cfg.CancelPath),
		Metadata:             metadata,
		SubscriptionMetadata: metadata,
	}
	if customerID == "" {
		params.CustomerEmail = email
	}

	if priceID := s.catalog.CatalogIDFor(tier, cycle); priceID != "" {
		params.PriceID = priceID
	} else {
		inline := s.catalog.InlinePrice(tier, cycle)
		params.InlinePrice = &inline
	}

	sess, err := s.gateway.CreateCheckoutSession(ctx, params)
	if err != nil {
		core.SetSpanError(ctx, err)
		return nil, translate(err)
	}
	if sess.URL == "" {
		return nil, core.UpstreamError(0, "checkout session has no url")
	}

	slog.InfoContext(ctx, "checkout session created",
		"seller_id", p.ID,
		"session_id", sess.ID,
		"tier", tier,
		"billing_cycle", cycle,
	)

	return &CheckoutResult{URL: sess.URL, SessionID: sess.ID}, nil
}

// ensureCustomer returns the seller's processor customer: the stored one,
// else an exact email match, else a new customer. Linkage is stored
// best-effort; only processor_customer_id is written.
func (s *Service) ensureCustomer(
	ctx context.Context,
	p *profile.Profile,
	email string,
) (string, error) {
	if id := p.CustomerID(); id != "" {
		return id, nil
	}

	if email != "" {
		cust, err := s.gateway.FindCustomerByEmail(ctx, email)
		if err != nil {
			return "", fmt.Errorf("find customer: %w", err)
		}
		if cust != nil {
			s.linkCustomer(ctx, p, cust.ID)
			return cust.ID, nil
		}
	}

	cust, err := s.gateway.CreateCustomer(ctx, email, map[string]string{
		metaUserID: p.ID,
	})
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}

	s.linkCustomer(ctx, p, cust.ID)
	return cust.ID, nil
}

// Portal opens the processor's hosted billing portal. returnPath must be a
// path on this site.
func (s *Service) Portal(ctx context.Context, caller Caller, returnPath string) (*PortalResult, error) {
	returnPath = strings.TrimSpace(returnPath)
	if returnPath == "" {
		returnPath = s.cfg.PortalReturnPath
	}
	if !isRelativePath(returnPath) {
		return nil, core.ValidationError("returnPath must be a path starting with /")
	}

	p, err := s.loadProfile(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}

	customerID := p.CustomerID()
	if customerID == "" {
		email := p.Email
		if email == "" {
			email = caller.Email
		}
		cust, err := s.gateway.FindCustomerByEmail(ctx, email)
		if err != nil {
			return nil, translate(err)
		}
		if cust == nil {
			return nil, core.NotFoundError("billing customer")
		}
		customerID = cust.ID
		s.linkCustomer(ctx, p, customerID)
	}

	sess, err := s.gateway.CreatePortalSession(ctx, customerID, s.siteURL(returnPath))
	if err != nil {
		return nil, translate(err)
	}

	return &PortalResult{URL: sess.URL}, nil
}

func (s *Service) siteURL(path string) string {
	if path == "" {
		return s.cfg.SiteURL
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return s.cfg.SiteURL + path
}

func isRelativePath(path string) bool {
	return strings.HasPrefix(path, "/") &&
		!strings.HasPrefix(path, "//") &&
		!strings.Contains(path, "\\") &&
		!strings.Contains(path, "://")
}
