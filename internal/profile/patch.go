// AngelaMos | 2026
// patch.go

package profile

import (
	"time"
)

// Field is a patch slot. An unset Field leaves the column alone; a set
// Field with a nil Value writes NULL.
type Field[T any] struct {
	Set   bool
	Value *T
}

func Value[T any](v T) Field[T] {
	return Field[T]{Set: true, Value: &v}
}

func Null[T any]() Field[T] {
	return Field[T]{Set: true}
}

// Patch lists the billing columns a writer recomputed. Only set fields are
// written, which keeps concurrent writers from clobbering each other's
// columns.
type Patch struct {
	Role                        Field[string]
	Tier                        Field[Tier]
	PendingTier                 Field[Tier]
	TierEffectiveAt             Field[time.Time]
	ProcessorCustomerID         Field[string]
	ProcessorSubscriptionID     Field[string]
	ProcessorSubscriptionStatus Field[string]
	ProcessorCurrentPeriodEnd   Field[time.Time]
	ProcessorCancelAtPeriodEnd  Field[bool]
	ProcessorBillingInterval    Field[string]
}

type assignment struct {
	column string
	value  any
}

func (p Patch) IsEmpty() bool {
	return len(p.assignments()) == 0
}

// Columns returns the names of the columns the patch writes, in write order.
func (p Patch) Columns() []string {
	assignments := p.assignments()
	cols := make([]string, 0, len(assignments))
	for _, a := range assignments {
		cols = append(cols, a.column)
	}
	return cols
}

func (p Patch) assignments() []assignment {
	var out []assignment
	out = appendField(out, "role", p.Role)
	out = appendField(out, "tier", p.Tier)
	out = appendField(out, "pending_tier", p.PendingTier)
	out = appendField(out, "tier_effective_at", p.TierEffectiveAt)
	out = appendField(out, "processor_customer_id", p.ProcessorCustomerID)
	out = appendField(out, "processor_subscription_id", p.ProcessorSubscriptionID)
	out = appendField(out, "processor_subscription_status", p.ProcessorSubscriptionStatus)
	out = appendField(out, "processor_current_period_end", p.ProcessorCurrentPeriodEnd)
	out = appendField(out, "processor_cancel_at_period_end", p.ProcessorCancelAtPeriodEnd)
	out = appendField(out, "processor_billing_interval", p.ProcessorBillingInterval)
	return out
}

func appendField[T any](out []assignment, column string, f Field[T]) []assignment {
	if !f.Set {
		return out
	}
	if f.Value == nil {
		return append(out, assignment{column: column, value: nil})
	}
	return append(out, assignment{column: column, value: *f.Value})
}

// Apply merges the patch into a copy of p.
func (p Patch) Apply(src Profile) Profile {
	out := src
	applyValue(&out.Tier, p.Tier)
	applyValue(&out.Role, p.Role)
	applyPtr(&out.PendingTier, p.PendingTier)
	applyPtr(&out.TierEffectiveAt, p.TierEffectiveAt)
	applyPtr(&out.ProcessorCustomerID, p.ProcessorCustomerID)
	applyPtr(&out.ProcessorSubscriptionID, p.ProcessorSubscriptionID)
	applyPtr(&out.ProcessorSubscriptionStatus, p.ProcessorSubscriptionStatus)
	applyPtr(&out.ProcessorCurrentPeriodEnd, p.ProcessorCurrentPeriodEnd)
	applyPtr(&out.ProcessorCancelAtPeriodEnd, p.ProcessorCancelAtPeriodEnd)
	applyPtr(&out.ProcessorBillingInterval, p.ProcessorBillingInterval)
	return out
}

func applyValue[T any](dst *T, f Field[T]) {
	if f.Set && f.Value != nil {
		*dst = *f.Value
	}
}

func applyPtr[T any](dst **T, f Field[T]) {
	if !f.Set {
		return
	}
	if f.Value == nil {
		*dst = nil
		return
	}
	v := *f.Value
	*dst = &v
}
