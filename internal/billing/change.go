// AngelaMos | 2026
// change.go

package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/carterperez-dev/templates/seller-billing/internal/core"
	"github.com/carterperez-dev/templates/seller-billing/internal/processor"
	"github.com/carterperez-dev/templates/seller-billing/internal/profile"
)

const (
	ModeUpgrade             = "upgrade"
	ModeDowngradeScheduled  = "downgrade_scheduled"
	ModeCancelScheduled     = "cancel_scheduled"
	ModeCanceledImmediately = "canceled_immediately"
)

// PlanResult describes the outcome of a plan change or cancellation and
// the billing state it left behind.
type PlanResult struct {
	Mode            string
	SubscriptionID  string
	Status          string
	Tier            profile.Tier
	PendingTier     *profile.Tier
	TierEffectiveAt *time.Time
	Profile         *profile.Profile
}

func resultFrom(mode string, p *profile.Profile) *PlanResult {
	return &PlanResult{
		Mode:            mode,
		SubscriptionID:  p.SubscriptionID(),
		Status:          derefString(p.ProcessorSubscriptionStatus),
		Tier:            p.Tier,
		PendingTier:     p.PendingTier,
		TierEffectiveAt: p.TierEffectiveAt,
		Profile:         p,
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ChangePlan moves a seller to another tier or cycle. Moves up (or
// sideways) apply now with proration; moves down are staged on a
// subscription schedule and take effect at the period boundary.
func (s *Service) ChangePlan(
	ctx context.Context,
	caller Caller,
	planID, billingCycle string,
) (*PlanResult, error) {
	target, cycle, err := parsePlan(planID, billingCycle)
	if err != nil {
		return nil, err
	}

	ctx, span := core.StartSpan(ctx, "billing.change_plan",
		attribute.String("seller.id", caller.UserID),
		attribute.String("plan.tier", string(target)),
		attribute.String("plan.cycle", string(cycle)),
	)
	defer span.End()

	result, err := s.changePlan(ctx, caller.UserID, target, cycle)
	if err != nil {
		core.SetSpanError(ctx, err)
		return nil, translate(err)
	}
	return result, nil
}

func (s *Service) changePlan(
	ctx context.Context,
	sellerID string,
	target profile.Tier,
	cycle Cycle,
) (*PlanResult, error) {
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

	item := sub.PrimaryItem()
	if item == nil || item.ID == "" {
		return nil, core.ConflictError("subscription has no line item")
	}
	if item.Price == nil || item.Price.ID == "" {
		return nil, core.ConflictError("subscription item has no price")
	}

	current := p.Tier
	if !current.IsPaid() {
		if inferred, ok := s.tierForSubscription(ctx, sub); ok {
			current = inferred
		}
	}

	priceID, err := s.priceIDFor(ctx, target, cycle)
	if err != nil {
		return nil, err
	}

	if target.Rank() >= current.Rank() {
		return s.upgrade(ctx, p, sub, item, target, cycle, priceID)
	}
	return s.scheduleDowngrade(ctx, p, sub, item, target, cycle, priceID)
}

// priceIDFor returns the catalog price id, creating an inline price when
// the catalog has none. Subscription items and schedule phases need ids.
func (s *Service) priceIDFor(ctx context.Context, tier profile.Tier, cycle Cycle) (string, error) {
	if id := s.catalog.CatalogIDFor(tier, cycle); id != "" {
		return id, nil
	}

	price, err := s.gateway.CreatePrice(ctx, s.catalog.InlinePrice(tier, cycle))
	if err != nil {
		return "", fmt.Errorf("create inline price: %w", err)
	}
	return price.ID, nil
}

func (s *Service) upgrade(
	ctx context.Context,
	p *profile.Profile,
	sub *processor.Subscription,
	item *processor.SubscriptionItem,
	target profile.Tier,
	cycle Cycle,
	priceID string,
) (*PlanResult, error) {
	s.releaseSchedule(ctx, p.ID, sub.Schedule.ID)

	currentInterval := sub.Interval()
	updated, err := s.gateway.UpdateSubscription(ctx, sub.ID, processor.SubscriptionUpdateParams{
		ItemID:             item.ID,
		PriceID:            priceID,
		ProrationBehavior:  processor.ProrationCreate,
		ResetBillingAnchor: currentInterval != "" && currentInterval != cycle.Interval(),
		CancelAtPeriodEnd:  ptr(false),
		Metadata:           userMetadata(p.ID, target, cycle),
	})
	if err != nil {
		return nil, fmt.Errorf("update subscription price: %w", err)
	}

	cur := stateOf(p)
	want := cur
	want.mirror(updated)
	want.CancelAtPeriodEnd = ptr(false)
	want.promote(target, s.now())
	want.clearPending()

	patched, err := s.applyPatch(ctx, p, diff(cur, want))
	if err != nil {
		return nil, fmt.Errorf("apply upgrade: %w", err)
	}

	slog.InfoContext(ctx, "plan upgraded",
		"seller_id", p.ID,
		"subscription_id", sub.ID,
		"tier", target,
		"billing_cycle", cycle,
	)
	return resultFrom(ModeUpgrade, patched), nil
}

func (s *Service) scheduleDowngrade(
	ctx context.Context,
	p *profile.Profile,
	sub *processor.Subscription,
	item *processor.SubscriptionItem,
	target profile.Tier,
	cycle Cycle,
	priceID string,
) (*PlanResult, error) {
	periodEnd, ok := sub.PeriodEnd()
	if !ok {
		return nil, core.ConflictError("subscription has no current period end")
	}

	if sub.CancelAtPeriodEnd {
		if _, err := s.gateway.UpdateSubscription(ctx, sub.ID, processor.SubscriptionUpdateParams{
			CancelAtPeriodEnd: ptr(false),
		}); err != nil {
			return nil, fmt.Errorf("clear scheduled cancellation: %w", err)
		}
	}

	var (
		sched *processor.SubscriptionSchedule
		err   error
	)
	if sub.Schedule.ID != "" {
		sched, err = s.gateway.GetSchedule(ctx, sub.Schedule.ID)
	} else {
		sched, err = s.gateway.CreateScheduleFromSubscription(ctx, sub.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("prepare subscription schedule: %w", err)
	}

	phaseStart := currentPhaseStart(sched, sub)
	if phaseStart == 0 {
		return nil, core.ConflictError("subscription schedule has no current phase")
	}

	quantity := item.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	_, err = s.gateway.UpdateSchedule(ctx, sched.ID, processor.ScheduleUpdateParams{
		EndBehavior:       processor.EndBehaviorRelease,
		ProrationBehavior: processor.ProrationNone,
		Phases: []processor.SchedulePhaseParams{
			{
				PriceID:   item.Price.ID,
				Quantity:  quantity,
				StartDate: phaseStart,
				EndDate:   periodEnd.Unix(),
			},
			{
				PriceID:    priceID,
				Quantity:   quantity,
				Iterations: 1,
				Metadata:   userMetadata(p.ID, target, cycle),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("update subscription schedule: %w", err)
	}

	cur := stateOf(p)
	want := cur
	want.mirror(sub)
	want.CancelAtPeriodEnd = ptr(false)
	want.stagePending(target, periodEnd)

	patched, err := s.applyPatch(ctx, p, diff(cur, want))
	if err != nil {
		return nil, fmt.Errorf("apply scheduled downgrade: %w", err)
	}

	slog.InfoContext(ctx, "plan downgrade scheduled",
		"seller_id", p.ID,
		"subscription_id", sub.ID,
		"schedule_id", sched.ID,
		"pending_tier", target,
		"effective_at", periodEnd,
	)
	return resultFrom(ModeDowngradeScheduled, patched), nil
}

func currentPhaseStart(sched *processor.SubscriptionSchedule, sub *processor.Subscription) int64 {
	if sched.CurrentPhase != nil && sched.CurrentPhase.StartDate > 0 {
		return sched.CurrentPhase.StartDate
	}
	if len(sched.Phases) > 0 && sched.Phases[0].StartDate > 0 {
		return sched.Phases[0].StartDate
	}
	if start, ok := sub.PeriodStart(); ok {
		return start.Unix()
	}
	return 0
}
