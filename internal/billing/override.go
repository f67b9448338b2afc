// AngelaMos | 2026
// override.go

package billing

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/carterperez-dev/templates/seller-billing/internal/core"
	"github.com/carterperez-dev/templates/seller-billing/internal/profile"
)

// OverrideTier sets a seller's tier directly and drops any staged change.
// The processor is not contacted; the next reconciliation or webhook may
// move the tier again.
func (s *Service) OverrideTier(ctx context.Context, sellerID, tierName string) (*profile.Profile, error) {
	tier, ok := profile.ParseTier(tierName)
	if !ok {
		return nil, core.ValidationError(
			"tier must be one of: unsubscribed, starter, pro, merchant, enterprise",
		)
	}

	ctx, span := core.StartSpan(ctx, "billing.override_tier",
		attribute.String("seller.id", sellerID),
		attribute.String("tier", string(tier)),
	)
	defer span.End()

	p, err := s.loadProfile(ctx, sellerID)
	if err != nil {
		return nil, err
	}

	cur := stateOf(p)
	want := cur
	want.Tier = tier
	want.clearPending()
	if want.Role == profile.RoleBuyer && tier.IsPaid() {
		want.Role = profile.RoleSeller
	}

	updated, err := s.applyPatch(ctx, p, diff(cur, want))
	if err != nil {
		core.SetSpanError(ctx, err)
		return nil, translate(fmt.Errorf("apply tier override: %w", err))
	}

	slog.InfoContext(ctx, "tier overridden",
		"seller_id", p.ID,
		"from", p.Tier,
		"to", tier,
	)
	return updated, nil
}
