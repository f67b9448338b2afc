// AngelaMos | 2026
// reconciler.go

package billing

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/carterperez-dev/templates/seller-billing/internal/core"
	"github.com/carterperez-dev/templates/seller-billing/internal/processor"
	"github.com/carterperez-dev/templates/seller-billing/internal/profile"
)

// SubscriptionView is the processor subscription as shown to the seller.
type SubscriptionView struct {
	ID                string       `json:"id"`
	Status            string       `json:"status"`
	CustomerID        string       `json:"customer_id,omitempty"`
	Tier              profile.Tier `json:"tier,omitempty"`
	PriceID           string       `json:"price_id,omitempty"`
	BillingInterval   string       `json:"billing_interval,omitempty"`
	CurrentPeriodEnd  *int64       `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool         `json:"cancel_at_period_end"`
	ScheduleID        string       `json:"schedule_id,omitempty"`
}

// SyncResult is the outcome of a reconciliation. Subscription is nil when
// the seller has no live subscription, which is a valid state.
type SyncResult struct {
	Subscription *SubscriptionView
	Profile      *profile.Profile
}

// resolution is the authoritative subscription for a seller. ended is set
// when the stored subscription exists but is no longer live and nothing
// replaced it; gone is set when the stored id is unknown to the processor.
type resolution struct {
	profile *profile.Profile
	live    *processor.Subscription
	ended   *processor.Subscription
	gone    bool
}

// Reconcile recomputes a seller's billing columns from the processor and
// writes only what changed. It is safe to run concurrently for the same
// seller: each run is a full recomputation from processor state, never an
// increment, so concurrent writers converge on the same values.
func (s *Service) Reconcile(ctx context.Context, sellerID string) (*SyncResult, error) {
	ctx, span := core.StartSpan(ctx, "billing.reconcile",
		attribute.String("seller.id", sellerID),
	)
	defer span.End()

	result, err := s.reconcile(ctx, sellerID)
	if err != nil {
		core.SetSpanError(ctx, err)
		return nil, translate(err)
	}
	return result, nil
}

func (s *Service) reconcile(ctx context.Context, sellerID string) (*SyncResult, error) {
	p, err := s.profiles.Get(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	res, err := s.resolveSubscription(ctx, p)
	if err != nil {
		return nil, err
	}
	p = res.profile

	now := s.now()
	cur := stateOf(p)
	want := cur

	var view *SubscriptionView
	switch {
	case res.live != nil:
		want.mirror(res.live)
		s.recoverPaidTier(ctx, &want, res.live)
		want.reconcilePending(res.live, now)
		view = s.viewOf(res.live)
		core.AddSpanEvent(ctx, "subscription.resolved",
			attribute.String("subscription.id", res.live.ID),
			attribute.String("subscription.status", string(res.live.Status)),
		)

	case res.ended != nil:
		want.mirror(res.ended)
		want.forceUnsubscribed()
		core.AddSpanEvent(ctx, "subscription.ended",
			attribute.String("subscription.id", res.ended.ID),
		)

	case res.gone:
		want.Status = ptr(string(processor.StatusCanceled))
		want.forceUnsubscribed()

	default:
		want.promoteDue(now)
	}

	patch := diff(cur, want)
	updated, err := s.applyPatch(ctx, p, patch)
	if err != nil {
		return nil, fmt.Errorf("apply reconciled state: %w", err)
	}

	return &SyncResult{Subscription: view, Profile: updated}, nil
}

// resolveSubscription finds the seller's authoritative subscription: the
// stored one while it is live, otherwise the first live subscription of
// the seller's customer in processor listing order (most recent first).
// A customer id found by email discovery is linked best-effort.
func (s *Service) resolveSubscription(ctx context.Context, p *profile.Profile) (*resolution, error) {
	res := &resolution{profile: p}

	customerID := p.CustomerID()
	if customerID == "" && p.Email != "" {
		cust, err := s.gateway.FindCustomerByEmail(ctx, p.Email)
		switch {
		case err != nil:
			slog.WarnContext(ctx, "customer discovery failed",
				"seller_id", p.ID,
				"error", err,
			)
		case cust != nil:
			customerID = cust.ID
			res.profile = s.linkCustomer(ctx, p, cust.ID)
		}
	}

	if subID := p.SubscriptionID(); subID != "" {
		sub, err := s.gateway.GetSubscription(ctx, subID)
		switch {
		case processor.IsNotFound(err):
			res.gone = true
		case err != nil:
			return nil, fmt.Errorf("get subscription %s: %w", subID, err)
		case sub.Status.IsLive():
			res.live = sub
			return res, nil
		default:
			res.ended = sub
			if customerID == "" {
				customerID = sub.Customer.ID
			}
		}
	}

	if customerID == "" {
		return res, nil
	}

	list, err := s.gateway.ListSubscriptions(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	candidate := list.FirstLive()
	if candidate == nil {
		return res, nil
	}

	sub, err := s.gateway.GetSubscription(ctx, candidate.ID)
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", candidate.ID, err)
	}
	if !sub.Status.IsLive() {
		return res, nil
	}

	res.live = sub
	res.ended = nil
	res.gone = false
	return res, nil
}

// recoverPaidTier covers a lost checkout confirmation: an unsubscribed
// seller with nothing staged whose subscription is active gets the tier
// the subscription pays for.
func (s *Service) recoverPaidTier(ctx context.Context, st *billingState, sub *processor.Subscription) {
	if st.Tier != profile.TierUnsubscribed || st.PendingTier != nil {
		return
	}
	if sub.Status != processor.StatusActive && sub.Status != processor.StatusTrialing {
		return
	}
	if sub.CancelAtPeriodEnd {
		return
	}

	tier, ok := s.tierForSubscription(ctx, sub)
	if !ok {
		return
	}

	slog.InfoContext(ctx, "recovering tier from active subscription",
		"subscription_id", sub.ID,
		"tier", tier,
	)
	st.promote(tier, s.now())
}

func (s *Service) tierForSubscription(ctx context.Context, sub *processor.Subscription) (profile.Tier, bool) {
	if tier, ok := s.tierForPrice(ctx, sub.PrimaryPrice()); ok {
		return tier, true
	}
	return paidTierFrom(sub.Metadata)
}

// tierForPrice runs catalog inference, fetching the price with its product
// when only the id is known.
func (s *Service) tierForPrice(ctx context.Context, price *processor.Price) (profile.Tier, bool) {
	if price == nil || price.ID == "" {
		return "", false
	}
	if tier, ok := s.catalog.TierForPrice(price); ok {
		return tier, true
	}
	if price.IsExpanded() && price.Product != nil && price.Product.Metadata != nil {
		return "", false
	}

	full, err := s.gateway.GetPrice(ctx, price.ID)
	if err != nil {
		slog.WarnContext(ctx, "price lookup failed",
			"price_id", price.ID,
			"error", err,
		)
		return "", false
	}
	return s.catalog.TierForPrice(full)
}

func (s *Service) viewOf(sub *processor.Subscription) *SubscriptionView {
	view := &SubscriptionView{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CustomerID:        sub.Customer.ID,
		BillingInterval:   sub.Interval(),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		ScheduleID:        sub.Schedule.ID,
	}
	if end, ok := sub.PeriodEnd(); ok {
		view.CurrentPeriodEnd = ptr(end.Unix())
	}
	if price := sub.PrimaryPrice(); price != nil {
		view.PriceID = price.ID
		if tier, ok := s.catalog.TierForPrice(price); ok {
			view.Tier = tier
		}
	}
	return view
}
