// AngelaMos | 2026
// service.go

package billing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/carterperez-dev/templates/seller-billing/internal/core"
	"github.com/carterperez-dev/templates/seller-billing/internal/processor"
	"github.com/carterperez-dev/templates/seller-billing/internal/profile"
)

// Gateway is the subset of the processor client the billing flows use.
type Gateway interface {
	GetSubscription(ctx context.Context, id string) (*processor.Subscription, error)
	ListSubscriptions(ctx context.Context, customerID string) (*processor.SubscriptionList, error)
	UpdateSubscription(ctx context.Context, id string, params processor.SubscriptionUpdateParams) (*processor.Subscription, error)
	CancelSubscription(ctx context.Context, id string) (*processor.Subscription, error)

	CreateScheduleFromSubscription(ctx context.Context, subscriptionID string) (*processor.SubscriptionSchedule, error)
	GetSchedule(ctx context.Context, id string) (*processor.SubscriptionSchedule, error)
	UpdateSchedule(ctx context.Context, id string, params processor.ScheduleUpdateParams) (*processor.SubscriptionSchedule, error)
	ReleaseSchedule(ctx context.Context, id string) error

	FindCustomerByEmail(ctx context.Context, email string) (*processor.Customer, error)
	CreateCustomer(ctx context.Context, email string, metadata map[string]string) (*processor.Customer, error)

	CreateCheckoutSession(ctx context.Context, params processor.CheckoutSessionParams) (*processor.CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*processor.PortalSession, error)

	GetPrice(ctx context.Context, id string) (*processor.Price, error)
	CreatePrice(ctx context.Context, price processor.InlinePrice) (*processor.Price, error)
}

type ServiceConfig struct {
	SiteURL          string
	SuccessPath      string
	CancelPath       string
	PortalReturnPath string
}

// Service owns the subscription lifecycle. It keeps no processor state
// between calls: every decision is made from a fresh read of the
// processor and the profile store.
type Service struct {
	gateway  Gateway
	profiles profile.Repository
	catalog  *Catalog
	cfg      ServiceConfig
	now      func() time.Time
}

func NewService(
	gateway Gateway,
	profiles profile.Repository,
	catalog *Catalog,
	cfg ServiceConfig,
) *Service {
	cfg.SiteURL = strings.TrimSuffix(cfg.SiteURL, "/")
	if cfg.PortalReturnPath == "" {
		cfg.PortalReturnPath = "/dashboard/billing"
	}

	return &Service{
		gateway:  gateway,
		profiles: profiles,
		catalog:  catalog,
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithClock replaces the service's time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// RoleOf reports the stored role of a profile.
func (s *Service) RoleOf(ctx context.Context, userID string) (string, error) {
	p, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	return p.Role, nil
}

func (s *Service) loadProfile(ctx context.Context, userID string) (*profile.Profile, error) {
	p, err := s.profiles.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, core.NotFoundError("profile")
		}
		return nil, translate(err)
	}
	return p, nil
}

func (s *Service) applyPatch(
	ctx context.Context,
	p *profile.Profile,
	patch profile.Patch,
) (*profile.Profile, error) {
	if patch.IsEmpty() {
		return p, nil
	}

	updated, err := s.profiles.Patch(ctx, p.ID, patch)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "billing state patched",
		"seller_id", p.ID,
		"columns", patch.Columns(),
	)
	return updated, nil
}

// linkCustomer stores a discovered customer id. Failure is logged only.
func (s *Service) linkCustomer(ctx context.Context, p *profile.Profile, customerID string) *profile.Profile {
	if customerID == "" || p.CustomerID() == customerID {
		return p
	}

	updated, err := s.profiles.Patch(ctx, p.ID, profile.Patch{
		ProcessorCustomerID: profile.Value(customerID),
	})
	if err != nil {
		slog.WarnContext(ctx, "link processor customer failed",
			"seller_id", p.ID,
			"customer_id", customerID,
			"error", err,
		)
		linked := profile.Patch{ProcessorCustomerID: profile.Value(customerID)}.Apply(*p)
		return &linked
	}
	return updated
}

// releaseSchedule detaches a schedule. Failure is logged only: a stale
// schedule is released on the next change and never blocks the caller.
func (s *Service) releaseSchedule(ctx context.Context, sellerID, scheduleID string) {
	if scheduleID == "" {
		return
	}
	if err := s.gateway.ReleaseSchedule(ctx, scheduleID); err != nil {
		slog.WarnContext(ctx, "release subscription schedule failed",
			"seller_id", sellerID,
			"schedule_id", scheduleID,
			"error", err,
		)
	}
}

// translate maps gateway and store failures onto the API error taxonomy,
// keeping the processor's status and raw message when it has one.
func translate(err error) error {
	if err == nil || core.IsAppError(err) {
		return err
	}

	var gwErr *processor.GatewayError
	var storeErr *profile.StoreError

	switch {
	case errors.Is(err, processor.ErrTimeout):
		return core.UpstreamTimeoutError("payment processor timed out")
	case errors.As(err, &gwErr):
		return core.UpstreamError(gwErr.Status, gwErr.Message)
	case errors.As(err, &storeErr):
		slog.Error("profile store failure", "error", err)
		return core.UpstreamError(http.StatusInternalServerError, "profile store request failed")
	case errors.Is(err, core.ErrNotFound):
		return core.NotFoundError("profile")
	default:
		return core.InternalError(err)
	}
}

func userMetadata(userID string, tier profile.Tier, cycle Cycle) map[string]string {
	return map[string]string{
		metaUserID:       userID,
		metaTier:         string(tier),
		metaBillingCycle: string(cycle),
	}
}
