// AngelaMos | 2026
// webhook.go

package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/carterperez-dev/templates/seller-billing/internal/core"
	"github.com/carterperez-dev/templates/seller-billing/internal/processor"
	"github.com/carterperez-dev/templates/seller-billing/internal/profile"
)

// ErrStateUpdate marks a webhook whose local state change could not be
// written. The handler answers 500 so the processor redelivers the event;
// processor delivery is at-least-once and is the only retry mechanism.
// Every other problem with an event is logged and acknowledged, since
// redelivering bad data cannot fix it.
var ErrStateUpdate = errors.New("apply webhook state")

// HandleEvent applies one verified processor event.
func (s *Service) HandleEvent(ctx context.Context, evt *processor.Event) error {
	ctx, span := core.StartSpan(ctx, "billing.webhook",
		attribute.String("event.id", evt.ID),
		attribute.String("event.type", evt.Type),
	)
	defer span.End()

	var err error
	switch evt.Type {
	case processor.EventCheckoutSessionCompleted:
		err = s.onCheckoutCompleted(ctx, evt)
	case processor.EventInvoicePaid, processor.EventInvoicePaymentSucceeded:
		err = s.onInvoicePaid(ctx, evt)
	case processor.EventInvoicePaymentFailed:
		err = s.onInvoicePaymentFailed(ctx, evt)
	case processor.EventCustomerSubscriptionDeleted:
		err = s.onSubscriptionDeleted(ctx, evt)
	case processor.EventCustomerSubscriptionUpdated:
		err = s.onSubscriptionUpdated(ctx, evt)
	default:
		slog.DebugContext(ctx, "webhook event ignored",
			"event_id", evt.ID,
			"event_type", evt.Type,
		)
		return nil
	}

	if err != nil {
		core.SetSpanError(ctx, err)
	}
	return err
}

// skip logs an event that cannot be interpreted and acknowledges it.
func skip(ctx context.Context, evt *processor.Event, reason string, args ...any) error {
	attrs := append([]any{
		"event_id", evt.ID,
		"event_type", evt.Type,
		"reason", reason,
	}, args...)
	slog.WarnContext(ctx, "webhook event skipped", attrs...)
	return nil
}

func (s *Service) onCheckoutCompleted(ctx context.Context, evt *processor.Event) error {
	var sess processor.CheckoutSession
	if err := evt.DecodeObject(&sess); err != nil {
		return skip(ctx, evt, "undecodable checkout session", "error", err)
	}
	if sess.Mode != "" && sess.Mode != "subscription" {
		return skip(ctx, evt, "not a subscription checkout", "mode", sess.Mode)
	}

	userID := sess.Metadata[metaUserID]
	if userID == "" {
		userID = sess.ClientReferenceID
	}
	if userID == "" {
		return skip(ctx, evt, "no user reference")
	}

	tier, ok := paidTierFrom(sess.Metadata)
	if !ok {
		return skip(ctx, evt, "no paid tier in metadata", "user_id", userID)
	}

	p, err := s.eventProfile(ctx, userID, "")
	if err != nil {
		return err
	}
	if p == nil {
		return skip(ctx, evt, "profile not found", "user_id", userID)
	}

	var sub *processor.Subscription
	if sess.Subscription.ID != "" {
		sub = s.fetchSubscription(ctx, sess.Subscription.ID)
	}

	cur := stateOf(p)
	want := cur
	if sess.Customer.ID != "" {
		want.CustomerID = ptr(sess.Customer.ID)
	}
	if sub != nil {
		want.mirror(sub)
	} else if sess.Subscription.ID != "" {
		want.SubscriptionID = ptr(sess.Subscription.ID)
	}
	want.promote(tier, s.now())

	return s.applyEventPatch(ctx, evt, p, diff(cur, want))
}

func (s *Service) onInvoicePaid(ctx context.Context, evt *processor.Event) error {
	var inv processor.Invoice
	if err := evt.DecodeObject(&inv); err != nil {
		return skip(ctx, evt, "undecodable invoice", "error", err)
	}

	var sub *processor.Subscription
	subscriptionID := inv.SubscriptionID()

	userID := firstNonEmpty(inv.Metadata[metaUserID], inv.SubscriptionMetadata()[metaUserID])
	if userID == "" && subscriptionID != "" {
		sub = s.fetchSubscription(ctx, subscriptionID)
		if sub != nil {
			userID = sub.Metadata[metaUserID]
		}
	}

	p, err := s.eventProfile(ctx, userID, inv.Customer.ID)
	if err != nil {
		return err
	}
	if p == nil {
		return skip(ctx, evt, "profile not found",
			"user_id", userID,
			"customer_id", inv.Customer.ID,
		)
	}

	tier, ok := s.tierFromInvoiceLines(ctx, &inv)
	if !ok {
		tier, ok = paidTierFrom(inv.Metadata)
	}
	if !ok {
		tier, ok = paidTierFrom(inv.SubscriptionMetadata())
	}
	if !ok && sub != nil {
		tier, ok = paidTierFrom(sub.Metadata)
	}
	if !ok {
		return skip(ctx, evt, "tier not inferable", "seller_id", p.ID)
	}

	if sub == nil && subscriptionID != "" {
		sub = s.fetchSubscription(ctx, subscriptionID)
	}

	if tier.Rank() < p.Tier.Rank() && !s.confirmsLowerTier(ctx, p, tier, sub) {
		return skip(ctx, evt, "stale invoice for a lower tier",
			"seller_id", p.ID,
			"tier", tier,
			"current_tier", p.Tier,
		)
	}

	cur := stateOf(p)
	want := cur
	if inv.Customer.ID != "" {
		want.CustomerID = ptr(inv.Customer.ID)
	}
	if sub != nil {
		want.mirror(sub)
	} else if subscriptionID != "" {
		want.SubscriptionID = ptr(subscriptionID)
	}
	want.promote(tier, s.now())

	return s.applyEventPatch(ctx, evt, p, diff(cur, want))
}

// tierFromInvoiceLines infers the tier the invoice charged for. Credit
// lines for unused time are skipped, and full-period lines win over
// proration lines.
func (s *Service) tierFromInvoiceLines(ctx context.Context, inv *processor.Invoice) (profile.Tier, bool) {
	for _, wantProration := range []bool{false, true} {
		for i := range inv.Lines.Data {
			line := &inv.Lines.Data[i]
			if line.Amount < 0 || line.IsProration() != wantProration {
				continue
			}

			price := line.Price
			if price == nil || price.ID == "" {
				id := line.PriceID()
				if id == "" {
					continue
				}
				price = &processor.Price{ID: id}
			}

			if tier, ok := s.tierForPrice(ctx, price); ok {
				return tier, true
			}
		}
	}
	return "", false
}

// confirmsLowerTier reports whether an invoice for a tier below the current
// one reflects a real downgrade: either the staged change is due, or the
// subscription is now billed at that tier. Anything else is a late or
// out-of-order invoice.
func (s *Service) confirmsLowerTier(
	ctx context.Context,
	p *profile.Profile,
	tier profile.Tier,
	sub *processor.Subscription,
) bool {
	if p.HasDuePending(s.now()) && *p.PendingTier == tier {
		return true
	}
	if sub == nil {
		return false
	}
	price := sub.PrimaryPrice()
	if price == nil {
		return false
	}
	current, ok := s.tierForPrice(ctx, price)
	return ok && current == tier
}

func (s *Service) onInvoicePaymentFailed(ctx context.Context, evt *processor.Event) error {
	var inv processor.Invoice
	if err := evt.DecodeObject(&inv); err != nil {
		return skip(ctx, evt, "undecodable invoice", "error", err)
	}

	userID := firstNonEmpty(inv.Metadata[metaUserID], inv.SubscriptionMetadata()[metaUserID])
	p, err := s.eventProfile(ctx, userID, inv.Customer.ID)
	if err != nil {
		return err
	}
	if p == nil {
		return skip(ctx, evt, "profile not found", "customer_id", inv.Customer.ID)
	}

	cur := stateOf(p)
	want := cur
	want.Status = ptr(string(processor.StatusPastDue))

	return s.applyEventPatch(ctx, evt, p, diff(cur, want))
}

func (s *Service) onSubscriptionDeleted(ctx context.Context, evt *processor.Event) error {
	var sub processor.Subscription
	if err := evt.DecodeObject(&sub); err != nil {
		return skip(ctx, evt, "undecodable subscription", "error", err)
	}

	p, err := s.eventProfile(ctx, sub.Metadata[metaUserID], sub.Customer.ID)
	if err != nil {
		return err
	}
	if p == nil {
		return skip(ctx, evt, "profile not found", "customer_id", sub.Customer.ID)
	}

	if stored := p.SubscriptionID(); stored != "" && stored != sub.ID {
		return s.reconcileForEvent(ctx, evt, p.ID)
	}

	cur := stateOf(p)
	want := cur
	want.mirror(&sub)
	want.forceUnsubscribed()

	return s.applyEventPatch(ctx, evt, p, diff(cur, want))
}

// onSubscriptionUpdated only does bookkeeping: it mirrors the subscription
// and applies the staging rules, exactly as a reconciliation would.
func (s *Service) onSubscriptionUpdated(ctx context.Context, evt *processor.Event) error {
	var sub processor.Subscription
	if err := evt.DecodeObject(&sub); err != nil {
		return skip(ctx, evt, "undecodable subscription", "error", err)
	}

	p, err := s.eventProfile(ctx, sub.Metadata[metaUserID], sub.Customer.ID)
	if err != nil {
		return err
	}
	if p == nil {
		return skip(ctx, evt, "profile not found", "customer_id", sub.Customer.ID)
	}

	if stored := p.SubscriptionID(); stored != "" && stored != sub.ID {
		return s.reconcileForEvent(ctx, evt, p.ID)
	}

	cur := stateOf(p)
	want := cur
	want.mirror(&sub)
	if sub.Status.IsLive() {
		want.reconcilePending(&sub, s.now())
	}

	return s.applyEventPatch(ctx, evt, p, diff(cur, want))
}

// reconcileForEvent handles events about a subscription other than the
// stored one by recomputing the seller's state from the processor.
func (s *Service) reconcileForEvent(ctx context.Context, evt *processor.Event, sellerID string) error {
	slog.InfoContext(ctx, "webhook for non-current subscription, reconciling",
		"event_id", evt.ID,
		"seller_id", sellerID,
	)

	if _, err := s.reconcile(ctx, sellerID); err != nil {
		var storeErr *profile.StoreError
		if errors.As(err, &storeErr) {
			return fmt.Errorf("%w: %w", ErrStateUpdate, err)
		}
		return skip(ctx, evt, "reconcile failed", "seller_id", sellerID, "error", err)
	}
	return nil
}

// eventProfile resolves the seller an event is about, by user id first and
// by processor customer id second. A nil profile means nobody matched.
func (s *Service) eventProfile(ctx context.Context, userID, customerID string) (*profile.Profile, error) {
	if userID != "" {
		p, err := s.profiles.Get(ctx, userID)
		switch {
		case err == nil:
			return p, nil
		case !errors.Is(err, core.ErrNotFound):
			return nil, fmt.Errorf("%w: load profile: %w", ErrStateUpdate, err)
		}
	}

	if customerID != "" {
		p, err := s.profiles.FindByCustomerID(ctx, customerID)
		switch {
		case err == nil:
			return p, nil
		case !errors.Is(err, core.ErrNotFound):
			return nil, fmt.Errorf("%w: find profile by customer: %w", ErrStateUpdate, err)
		}
	}

	return nil, nil
}

// fetchSubscription reads a subscription for mirroring. Failure is logged
// only; the event's own payload is enough to apply the tier change.
func (s *Service) fetchSubscription(ctx context.Context, id string) *processor.Subscription {
	sub, err := s.gateway.GetSubscription(ctx, id)
	if err != nil {
		slog.WarnContext(ctx, "subscription lookup failed",
			"subscription_id", id,
			"error", err,
		)
		return nil
	}
	return sub
}

func (s *Service) applyEventPatch(
	ctx context.Context,
	evt *processor.Event,
	p *profile.Profile,
	patch profile.Patch,
) error {
	if _, err := s.applyPatch(ctx, p, patch); err != nil {
		return fmt.Errorf("%w: event %s: %w", ErrStateUpdate, evt.ID, err)
	}

	core.AddSpanEvent(ctx, "webhook.applied",
		attribute.String("seller.id", p.ID),
		attribute.Int("patch.columns", len(patch.Columns())),
	)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
