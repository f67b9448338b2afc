// AngelaMos | 2026
// entity.go

package profile

import (
	"strings"
	"time"
)

type Tier string

const (
	TierUnsubscribed Tier = "unsubscribed"
	TierStarter      Tier = "starter"
	TierPro          Tier = "pro"
	TierMerchant     Tier = "merchant"
	TierEnterprise   Tier = "enterprise"
)

// PaidTiers is ordered by rank, lowest first.
var PaidTiers = []Tier{TierStarter, TierPro, TierMerchant, TierEnterprise}

// ParseTier accepts any casing so metadata written as "PRO" still resolves.
func ParseTier(s string) (Tier, bool) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if t == TierUnsubscribed {
		return t, true
	}
	return t, t.IsPaid()
}

func (t Tier) IsPaid() bool {
	return t.Rank() > 0
}

// Rank orders tiers for upgrade/downgrade decisions. Unknown and
// unsubscribed tiers rank zero.
func (t Tier) Rank() int {
	switch t {
	case TierStarter:
		return 1
	case TierPro:
		return 2
	case TierMerchant:
		return 3
	case TierEnterprise:
		return 4
	default:
		return 0
	}
}

const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

type Profile struct {
	ID                          string     `db:"id"`
	Email                       string     `db:"email"`
	Role                        string     `db:"role"`
	Tier                        Tier       `db:"tier"`
	PendingTier                 *Tier      `db:"pending_tier"`
	TierEffectiveAt             *time.Time `db:"tier_effective_at"`
	ProcessorCustomerID         *string    `db:"processor_customer_id"`
	ProcessorSubscriptionID     *string    `db:"processor_subscription_id"`
	ProcessorSubscriptionStatus *string    `db:"processor_subscription_status"`
	ProcessorCurrentPeriodEnd   *time.Time `db:"processor_current_period_end"`
	ProcessorCancelAtPeriodEnd  *bool      `db:"processor_cancel_at_period_end"`
	ProcessorBillingInterval    *string    `db:"processor_billing_interval"`
	CreatedAt                   time.Time  `db:"created_at"`
	UpdatedAt                   time.Time  `db:"updated_at"`
}

func (p *Profile) IsAdmin() bool {
	return p.Role == RoleAdmin
}

func (p *Profile) CustomerID() string {
	return deref(p.ProcessorCustomerID)
}

func (p *Profile) SubscriptionID() string {
	return deref(p.ProcessorSubscriptionID)
}

// HasDuePending reports whether a staged tier change has reached its
// effective time.
func (p *Profile) HasDuePending(now time.Time) bool {
	if p.PendingTier == nil || p.TierEffectiveAt == nil {
		return false
	}
	return !p.TierEffectiveAt.After(now)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
