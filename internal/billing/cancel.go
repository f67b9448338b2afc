// AngelaMos | 2026
// cancel.go

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

// Cancel ends a seller's subscription, at the end of the paid period by
// default. A period-end cancellation keeps the current tier and stages
// unsubscribed for the boundary.
func (s *Service) Cancel(ctx context.Context, caller Caller, atPeriodEnd bool) (*PlanResult, error) {
	ctx, span := core.StartSpan(ctx, "billing.cancel",
		attribute.String("seller.id", caller.UserID),
		attribute.Bool("cancel.at_period_end", atPeriodEnd),
	)
	defer span.End()

	result, err := s.cancel(ctx, caller.UserID, atPeriodEnd)
	if err != nil {
		core.SetSpanError(ctx, err)
		return nil, translate(err)
	}
	return result, nil
}

func (s *Service) cancel(ctx context.Context, sellerID string, atPeriodEnd bool) (*PlanResult, error) {
	p, err := s.loadProfile(ctx, sellerID)
	if err != nil {
		return nil, err
	}

	res, err := s.resolveSubscription(ctx, p)
	if err != nil {
		return nil, err
	}
	if res.live == nil {
		return nil, core.NotFoundError("subscription")
	}
	p, sub := res.profile, res.live

	if atPeriodEnd {
		periodEnd, ok := sub.PeriodEnd()
		if !ok {
			return nil, core.ConflictError("subscription has no current period end")
		}

		s.releaseSchedule(ctx, p.ID, sub.Schedule.ID)

		updated, err := s.gateway.UpdateSubscription(ctx, sub.ID, processor.SubscriptionUpdateParams{
			CancelAtPeriodEnd: ptr(true),
			ProrationBehavior: processor.ProrationNone,
		})
		if err != nil {
			return nil, fmt.Errorf("schedule cancellation: %w", err)
		}

		cur := stateOf(p)
		want := cur
		want.mirror(updated)
		want.CancelAtPeriodEnd = ptr(true)
		want.stagePending(profile.TierUnsubscribed, periodEnd)

		patched, err := s.applyPatch(ctx, p, diff(cur, want))
		if err != nil {
			return nil, fmt.Errorf("apply scheduled cancellation: %w", err)
		}

		slog.InfoContext(ctx, "cancellation scheduled",
			"seller_id", p.ID,
			"subscription_id", sub.ID,
			"effective_at", periodEnd,
		)
		return resultFrom(ModeCancelScheduled, patched), nil
	}

	s.releaseSchedule(ctx, p.ID, sub.Schedule.ID)

	canceled, err := s.gateway.CancelSubscription(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("cancel subscription: %w", err)
	}

	cur := stateOf(p)
	want := cur
	want.mirror(canceled)
	want.forceUnsubscribed()

	patched, err := s.applyPatch(ctx, p, diff(cur, want))
	if err != nil {
		return nil, fmt.Errorf("apply cancellation: %w", err)
	}

	slog.InfoContext(ctx, "subscription canceled",
		"seller_id", p.ID,
		"subscription_id", sub.ID,
	)
	return resultFrom(ModeCanceledImmediately, patched), nil
}
