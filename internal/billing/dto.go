// AngelaMos | 2026
// dto.go

package billing

import (
	"github.com/carterperez-dev/templates/seller-billing/internal/profile"
)

type CheckoutRequest struct {
	PlanID       string `json:"planId"       validate:"required,max=32"`
	BillingCycle string `json:"billingCycle" validate:"required,max=16"`
}

type PortalRequest struct {
	ReturnPath string `json:"returnPath,omitempty" validate:"omitempty,startswith=/,max=512"`
}

type ChangePlanRequest struct {
	PlanID       string `json:"planId"       validate:"required,max=32"`
	BillingCycle string `json:"billingCycle" validate:"required,max=16"`
}

// CancelRequest defaults to a period-end cancellation when atPeriodEnd is
// omitted.
type CancelRequest struct {
	AtPeriodEnd *bool `json:"atPeriodEnd,omitempty"`
}

func (r CancelRequest) PeriodEnd() bool {
	return r.AtPeriodEnd == nil || *r.AtPeriodEnd
}

type URLResponse struct {
	URL string `json:"url"`
}

type ProfileResponse struct {
	ID                          string  `json:"id"`
	Email                       string  `json:"email"`
	Role                        string  `json:"role"`
	Tier                        string  `json:"tier"`
	PendingTier                 *string `json:"pending_tier"`
	TierEffectiveAt             *int64  `json:"tier_effective_at"`
	ProcessorCustomerID         *string `json:"processor_customer_id"`
	ProcessorSubscriptionID     *string `json:"processor_subscription_id"`
	ProcessorSubscriptionStatus *string `json:"processor_subscription_status"`
	ProcessorCurrentPeriodEnd   *int64  `json:"processor_current_period_end"`
	ProcessorCancelAtPeriodEnd  *bool   `json:"processor_cancel_at_period_end"`
	ProcessorBillingInterval    *string `json:"processor_billing_interval"`
	UpdatedAt                   int64   `json:"updated_at"`
}

type SyncResponse struct {
	Subscription    *SubscriptionView `json:"subscription"`
	Profile         ProfileResponse   `json:"profile"`
	PendingTier     *string           `json:"pending_tier"`
	TierEffectiveAt *int64            `json:"tier_effective_at"`
}

type PlanResponse struct {
	Mode            string          `json:"mode"`
	SubscriptionID  string          `json:"subscription_id,omitempty"`
	Status          string          `json:"status,omitempty"`
	Tier            string          `json:"tier"`
	PendingTier     *string         `json:"pending_tier"`
	TierEffectiveAt *int64          `json:"tier_effective_at"`
	Profile         ProfileResponse `json:"profile"`
}

func tierString(t *profile.Tier) *string {
	if t == nil {
		return nil
	}
	return ptr(string(*t))
}

func ToProfileResponse(p *profile.Profile) ProfileResponse {
	return ProfileResponse{
		ID:                          p.ID,
		Email:                       p.Email,
		Role:                        p.Role,
		Tier:                        string(p.Tier),
		PendingTier:                 tierString(p.PendingTier),
		TierEffectiveAt:             unixPtr(p.TierEffectiveAt),
		ProcessorCustomerID:         p.ProcessorCustomerID,
		ProcessorSubscriptionID:     p.ProcessorSubscriptionID,
		ProcessorSubscriptionStatus: p.ProcessorSubscriptionStatus,
		ProcessorCurrentPeriodEnd:   unixPtr(p.ProcessorCurrentPeriodEnd),
		ProcessorCancelAtPeriodEnd:  p.ProcessorCancelAtPeriodEnd,
		ProcessorBillingInterval:    p.ProcessorBillingInterval,
		UpdatedAt:                   p.UpdatedAt.Unix(),
	}
}

func ToSyncResponse(r *SyncResult) SyncResponse {
	return SyncResponse{
		Subscription:    r.Subscription,
		Profile:         ToProfileResponse(r.Profile),
		PendingTier:     tierString(r.Profile.PendingTier),
		TierEffectiveAt: unixPtr(r.Profile.TierEffectiveAt),
	}
}

func ToPlanResponse(r *PlanResult) PlanResponse {
	return PlanResponse{
		Mode:            r.Mode,
		SubscriptionID:  r.SubscriptionID,
		Status:          r.Status,
		Tier:            string(r.Tier),
		PendingTier:     tierString(r.PendingTier),
		TierEffectiveAt: unixPtr(r.TierEffectiveAt),
		Profile:         ToProfileResponse(r.Profile),
	}
}
