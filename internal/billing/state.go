// AngelaMos | 2026
// state.go

package billing

import (
	"log/slog"
	"time"

	"github.com/carterperez-dev/templates/seller-billing/internal/processor"
	"github.com/carterperez-dev/templates/seller-billing/internal/profile"
)

// billingState is the desired value of every billing column. Writers start
// from the stored profile, recompute what they own, and diff the result so
// only changed columns are written.
type billingState struct {
	Role              string
	Tier              profile.Tier
	PendingTier       *profile.Tier
	TierEffectiveAt   *time.Time
	CustomerID        *string
	SubscriptionID    *string
	Status            *string
	PeriodEnd         *time.Time
	CancelAtPeriodEnd *bool
	Interval          *string
}

func stateOf(p *profile.Profile) billingState {
	return billingState{
		Role:              p.Role,
		Tier:              p.Tier,
		PendingTier:       p.PendingTier,
		TierEffectiveAt:   p.TierEffectiveAt,
		CustomerID:        p.ProcessorCustomerID,
		SubscriptionID:    p.ProcessorSubscriptionID,
		Status:            p.ProcessorSubscriptionStatus,
		PeriodEnd:         p.ProcessorCurrentPeriodEnd,
		CancelAtPeriodEnd: p.ProcessorCancelAtPeriodEnd,
		Interval:          p.ProcessorBillingInterval,
	}
}

func ptr[T any](v T) *T {
	return &v
}

// mirror copies the processor's view of the subscription. Fields the
// payload does not carry keep their stored value.
func (st *billingState) mirror(sub *processor.Subscription) {
	if sub == nil {
		return
	}

	if sub.ID != "" {
		st.SubscriptionID = ptr(sub.ID)
	}
	if sub.Customer.ID != "" {
		st.CustomerID = ptr(sub.Customer.ID)
	}
	if sub.Status != "" {
		st.Status = ptr(string(sub.Status))
	}
	if end, ok := sub.PeriodEnd(); ok {
		st.PeriodEnd = ptr(end)
	}
	st.CancelAtPeriodEnd = ptr(sub.CancelAtPeriodEnd)
	switch interval := sub.Interval(); interval {
	case "":
	case processor.IntervalMonth, processor.IntervalYear:
		st.Interval = ptr(interval)
	default:
		slog.Warn("unsupported billing interval not mirrored",
			"subscription_id", sub.ID,
			"interval", interval,
		)
	}
}

func (st *billingState) clearPending() {
	st.PendingTier = nil
	st.TierEffectiveAt = nil
}

func (st *billingState) stagePending(tier profile.Tier, at time.Time) {
	st.PendingTier = ptr(tier)
	st.TierEffectiveAt = ptr(at)
}

// hasFuturePending reports a staged change that has not reached its
// effective time yet.
func (st *billingState) hasFuturePending(now time.Time) bool {
	return st.PendingTier != nil &&
		st.TierEffectiveAt != nil &&
		st.TierEffectiveAt.After(now)
}

// promote makes tier effective now. A confirmation for the tier already in
// effect leaves a future staged change alone, so late or redelivered
// events cannot cancel a scheduled downgrade. First payment grants the
// seller role.
func (st *billingState) promote(tier profile.Tier, now time.Time) {
	if tier == st.Tier && st.hasFuturePending(now) {
		return
	}

	st.Tier = tier
	st.clearPending()
	if st.Role == profile.RoleBuyer && tier.IsPaid() {
		st.Role = profile.RoleSeller
	}
}

func (st *billingState) forceUnsubscribed() {
	st.Tier = profile.TierUnsubscribed
	st.clearPending()
}

// reconcilePending applies the staging rules derived from a live
// subscription: a period-end cancellation stages unsubscribed when nothing
// else is staged, an undone cancellation drops the staged unsubscribe, and
// any staged change whose time has come is promoted.
func (st *billingState) reconcilePending(sub *processor.Subscription, now time.Time) {
	switch {
	case sub.CancelAtPeriodEnd && st.PendingTier == nil:
		if end, ok := sub.PeriodEnd(); ok {
			st.stagePending(profile.TierUnsubscribed, end)
		}
	case !sub.CancelAtPeriodEnd &&
		st.PendingTier != nil &&
		*st.PendingTier == profile.TierUnsubscribed:
		st.clearPending()
	}

	st.promoteDue(now)
}

func (st *billingState) promoteDue(now time.Time) {
	if st.PendingTier == nil || st.TierEffectiveAt == nil {
		return
	}
	if st.TierEffectiveAt.After(now) {
		return
	}

	st.Tier = *st.PendingTier
	st.clearPending()
}

// diff returns a patch holding only the columns whose desired value
// differs from the stored one.
func diff(cur, want billingState) profile.Patch {
	var patch profile.Patch

	if cur.Role != want.Role {
		patch.Role = profile.Value(want.Role)
	}
	if cur.Tier != want.Tier {
		patch.Tier = profile.Value(want.Tier)
	}
	patch.PendingTier = diffPtr(cur.PendingTier, want.PendingTier, equal[profile.Tier])
	patch.TierEffectiveAt = diffPtr(cur.TierEffectiveAt, want.TierEffectiveAt, sameSecond)
	patch.ProcessorCustomerID = diffPtr(cur.CustomerID, want.CustomerID, equal[string])
	patch.ProcessorSubscriptionID = diffPtr(cur.SubscriptionID, want.SubscriptionID, equal[string])
	patch.ProcessorSubscriptionStatus = diffPtr(cur.Status, want.Status, equal[string])
	patch.ProcessorCurrentPeriodEnd = diffPtr(cur.PeriodEnd, want.PeriodEnd, sameSecond)
	patch.ProcessorCancelAtPeriodEnd = diffPtr(cur.CancelAtPeriodEnd, want.CancelAtPeriodEnd, equal[bool])
	patch.ProcessorBillingInterval = diffPtr(cur.Interval, want.Interval, equal[string])

	return patch
}

func diffPtr[T any](cur, want *T, eq func(a, b T) bool) profile.Field[T] {
	switch {
	case cur == nil && want == nil:
		return profile.Field[T]{}
	case cur != nil && want != nil && eq(*cur, *want):
		return profile.Field[T]{}
	case want == nil:
		return profile.Null[T]()
	default:
		return profile.Value(*want)
	}
}

func equal[T comparable](a, b T) bool {
	return a == b
}

// sameSecond compares instants at the precision the processor reports,
// ignoring location and monotonic readings from the store driver.
func sameSecond(a, b time.Time) bool {
	return a.Unix() == b.Unix()
}

func unixPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	return ptr(t.Unix())
}
