// AngelaMos | 2026
// fakes_test.go

package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/seller-billing/internal/config"
	"github.com/carterperez-dev/templates/seller-billing/internal/core"
	"github.com/carterperez-dev/templates/seller-billing/internal/processor"
	"github.com/carterperez-dev/templates/seller-billing/internal/profile"
)

var testNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu sync.Mutex

	subs      map[string]*processor.Subscription
	byCust    map[string][]string
	schedules map[string]*processor.SubscriptionSchedule
	customers []processor.Customer
	prices    map[string]*processor.Price

	sessions        []processor.CheckoutSessionParams
	updates         []processor.SubscriptionUpdateParams
	scheduleUpdates []processor.ScheduleUpdateParams
	released        []string
	canceled        []string
	createdPrices   []processor.InlinePrice
	customerSeq     int

	failAll  error
	failSubs map[string]error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		subs:      make(map[string]*processor.Subscription),
		byCust:    make(map[string][]string),
		schedules: make(map[string]*processor.SubscriptionSchedule),
		prices:    make(map[string]*processor.Price),
		failSubs:  make(map[string]error),
	}
}

func notFound(resource string) error {
	return &processor.GatewayError{
		Status:  http.StatusNotFound,
		Message: fmt.Sprintf(`{"error":{"message":"No such %s"}}`, resource),
	}
}

func cloneSub(s *processor.Subscription) *processor.Subscription {
	out := *s
	out.Items.Data = append([]processor.SubscriptionItem(nil), s.Items.Data...)
	out.Metadata = make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		out.Metadata[k] = v
	}
	return &out
}

func (g *fakeGateway) addSubscription(sub *processor.Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs[sub.ID] = sub
	g.byCust[sub.Customer.ID] = append([]string{sub.ID}, g.byCust[sub.Customer.ID]...)
}

func (g *fakeGateway) addPrice(price *processor.Price) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[price.ID] = price
}

func (g *fakeGateway) sub(id string) *processor.Subscription {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.subs[id]
}

func (g *fakeGateway) GetSubscription(_ context.Context, id string) (*processor.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failAll != nil {
		return nil, g.failAll
	}
	if err := g.failSubs[id]; err != nil {
		return nil, err
	}
	sub, ok := g.subs[id]
	if !ok {
		return nil, notFound("subscription")
	}
	return cloneSub(sub), nil
}

func (g *fakeGateway) ListSubscriptions(_ context.Context, customerID string) (*processor.SubscriptionList, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failAll != nil {
		return nil, g.failAll
	}
	list := &processor.SubscriptionList{}
	for _, id := range g.byCust[customerID] {
		list.Data = append(list.Data, *cloneSub(g.subs[id]))
	}
	return list, nil
}

func (g *fakeGateway) UpdateSubscription(
	_ context.Context,
	id string,
	params processor.SubscriptionUpdateParams,
) (*processor.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failAll != nil {
		return nil, g.failAll
	}
	sub, ok := g.subs[id]
	if !ok {
		return nil, notFound("subscription")
	}
	g.updates = append(g.updates, params)

	if params.PriceID != "" && len(sub.Items.Data) > 0 {
		price, ok := g.prices[params.PriceID]
		if !ok {
			price = &processor.Price{ID: params.PriceID}
		}
		sub.Items.Data[0].Price = price
	}
	if params.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *params.CancelAtPeriodEnd
	}
	for k, v := range params.Metadata {
		if sub.Metadata == nil {
			sub.Metadata = map[string]string{}
		}
		sub.Metadata[k] = v
	}
	return cloneSub(sub), nil
}

func (g *fakeGateway) CancelSubscription(_ context.Context, id string) (*processor.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failAll != nil {
		return nil, g.failAll
	}
	sub, ok := g.subs[id]
	if !ok {
		return nil, notFound("subscription")
	}
	g.canceled = append(g.canceled, id)
	sub.Status = processor.StatusCanceled
	sub.Schedule = processor.Ref{}
	return cloneSub(sub), nil
}

func (g *fakeGateway) CreateScheduleFromSubscription(
	_ context.Context,
	subscriptionID string,
) (*processor.SubscriptionSchedule, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sub, ok := g.subs[subscriptionID]
	if !ok {
		return nil, notFound("subscription")
	}
	sched := &processor.SubscriptionSchedule{
		ID:           "sub_sched_" + subscriptionID,
		Status:       "active",
		Subscription: processor.Ref{ID: subscriptionID},
		CurrentPhase: &processor.ScheduleCurrentPhase{
			StartDate: sub.CurrentPeriodStart,
			EndDate:   sub.CurrentPeriodEnd,
		},
	}
	g.schedules[sched.ID] = sched
	sub.Schedule = processor.Ref{ID: sched.ID}
	return sched, nil
}

func (g *fakeGateway) GetSchedule(_ context.Context, id string) (*processor.SubscriptionSchedule, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sched, ok := g.schedules[id]
	if !ok {
		return nil, notFound("subscription_schedule")
	}
	return sched, nil
}

func (g *fakeGateway) UpdateSchedule(
	_ context.Context,
	id string,
	params processor.ScheduleUpdateParams,
) (*processor.SubscriptionSchedule, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sched, ok := g.schedules[id]
	if !ok {
		return nil, notFound("subscription_schedule")
	}
	g.scheduleUpdates = append(g.scheduleUpdates, params)
	sched.EndBehavior = params.EndBehavior
	return sched, nil
}

func (g *fakeGateway) ReleaseSchedule(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.released = append(g.released, id)
	delete(g.schedules, id)
	for _, sub := range g.subs {
		if sub.Schedule.ID == id {
			sub.Schedule = processor.Ref{}
		}
	}
	return nil
}

func (g *fakeGateway) FindCustomerByEmail(_ context.Context, email string) (*processor.Customer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failAll != nil {
		return nil, g.failAll
	}
	for i := range g.customers {
		if strings.EqualFold(g.customers[i].Email, email) {
			c := g.customers[i]
			return &c, nil
		}
	}
	return nil, nil
}

func (g *fakeGateway) CreateCustomer(
	_ context.Context,
	email string,
	metadata map[string]string,
) (*processor.Customer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.customerSeq++
	c := processor.Customer{
		ID:       fmt.Sprintf("cus_new_%d", g.customerSeq),
		Email:    email,
		Metadata: metadata,
	}
	g.customers = append(g.customers, c)
	return &c, nil
}

func (g *fakeGateway) CreateCheckoutSession(
	_ context.Context,
	params processor.CheckoutSessionParams,
) (*processor.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failAll != nil {
		return nil, g.failAll
	}
	g.sessions = append(g.sessions, params)
	id := fmt.Sprintf("cs_test_%d", len(g.sessions))
	return &processor.CheckoutSession{
		ID:   id,
		URL:  "https://checkout.test/c/pay/" + id,
		Mode: "subscription",
	}, nil
}

func (g *fakeGateway) CreatePortalSession(
	_ context.Context,
	customerID, returnURL string,
) (*processor.PortalSession, error) {
	return &processor.PortalSession{
		ID:  "bps_1",
		URL: "https://billing.test/p/session/" + customerID + "?return=" + returnURL,
	}, nil
}

func (g *fakeGateway) GetPrice(_ context.Context, id string) (*processor.Price, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	price, ok := g.prices[id]
	if !ok {
		return nil, notFound("price")
	}
	return price, nil
}

func (g *fakeGateway) CreatePrice(_ context.Context, in processor.InlinePrice) (*processor.Price, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createdPrices = append(g.createdPrices, in)
	price := &processor.Price{
		ID:         fmt.Sprintf("price_inline_%d", len(g.createdPrices)),
		UnitAmount: in.UnitAmount,
		Currency:   in.Currency,
		Recurring:  &processor.Recurring{Interval: in.Interval, IntervalCount: 1},
		Metadata:   in.Metadata,
	}
	g.prices[price.ID] = price
	return price, nil
}

type fakeRepo struct {
	mu       sync.Mutex
	profiles map[string]profile.Profile
	patches  []profile.Patch
	patchErr error
	duePages int
}

func newFakeRepo(profiles ...profile.Profile) *fakeRepo {
	r := &fakeRepo{profiles: make(map[string]profile.Profile)}
	for _, p := range profiles {
		r.profiles[p.ID] = p
	}
	return r
}

func (r *fakeRepo) Get(_ context.Context, id string) (*profile.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return nil, fmt.Errorf("get profile: %w", core.ErrNotFound)
	}
	return &p, nil
}

func (r *fakeRepo) Patch(_ context.Context, id string, patch profile.Patch) (*profile.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.patchErr != nil {
		return nil, r.patchErr
	}
	p, ok := r.profiles[id]
	if !ok {
		return nil, fmt.Errorf("patch profile: %w", core.ErrNotFound)
	}
	r.patches = append(r.patches, patch)
	updated := patch.Apply(p)
	updated.UpdatedAt = testNow
	r.profiles[id] = updated
	return &updated, nil
}

func (r *fakeRepo) FindByCustomerID(_ context.Context, customerID string) (*profile.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.profiles {
		if p.CustomerID() == customerID {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("find profile by customer: %w", core.ErrNotFound)
}

func (r *fakeRepo) ListDuePending(
	_ context.Context,
	before time.Time,
	after *profile.DueCursor,
	limit int,
) ([]profile.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.duePages++

	var due []profile.Profile
	for _, p := range r.profiles {
		if !p.HasDuePending(before) {
			continue
		}
		if after != nil && !dueAfter(p, after) {
			continue
		}
		due = append(due, p)
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i].TierEffectiveAt, due[j].TierEffectiveAt
		if !a.Equal(*b) {
			return a.Before(*b)
		}
		return due[i].ID < due[j].ID
	})

	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func dueAfter(p profile.Profile, c *profile.DueCursor) bool {
	at := *p.TierEffectiveAt
	if !at.Equal(c.EffectiveAt) {
		return at.After(c.EffectiveAt)
	}
	return p.ID > c.ID
}

func (r *fakeRepo) profile(t *testing.T, id string) profile.Profile {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	require.True(t, ok, "profile %s missing", id)
	return p
}

func (r *fakeRepo) patchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.patches)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func testCatalog() *Catalog {
	return NewCatalog(config.ProcessorConfig{
		Currency: "usd",
		PriceIDs: map[string]string{
			"starter_monthly":  "price_starter_m",
			"pro_monthly":      "price_pro_m",
			"pro_yearly":       "price_pro_y",
			"merchant_monthly": "price_merchant_m",
		},
	}, nil)
}

type harness struct {
	svc   *Service
	gw    *fakeGateway
	repo  *fakeRepo
	clock *testClock
}

func newHarness(t *testing.T, profiles ...profile.Profile) *harness {
	t.Helper()

	gw := newFakeGateway()
	for _, p := range []*processor.Price{
		monthlyPrice("price_starter_m", 900),
		monthlyPrice("price_pro_m", 2900),
		monthlyPrice("price_merchant_m", 7900),
		{
			ID:         "price_pro_y",
			UnitAmount: 29000,
			Currency:   "usd",
			Recurring:  &processor.Recurring{Interval: processor.IntervalYear, IntervalCount: 1},
		},
	} {
		gw.addPrice(p)
	}

	repo := newFakeRepo(profiles...)
	clock := &testClock{now: testNow}
	svc := NewService(gw, repo, testCatalog(), ServiceConfig{
		SiteURL:     "https://app.example.com/",
		SuccessPath: "/dashboard/billing?checkout=success",
		CancelPath:  "/pricing",
	}).WithClock(clock.Now)

	return &harness{svc: svc, gw: gw, repo: repo, clock: clock}
}

func monthlyPrice(id string, amount int64) *processor.Price {
	return &processor.Price{
		ID:         id,
		UnitAmount: amount,
		Currency:   "usd",
		Recurring:  &processor.Recurring{Interval: processor.IntervalMonth, IntervalCount: 1},
	}
}

func liveSub(id, customerID string, price *processor.Price, start, end time.Time) *processor.Subscription {
	return &processor.Subscription{
		ID:                 id,
		Customer:           processor.Ref{ID: customerID},
		Status:             processor.StatusActive,
		CurrentPeriodStart: start.Unix(),
		CurrentPeriodEnd:   end.Unix(),
		Items: processor.SubscriptionItemList{Data: []processor.SubscriptionItem{
			{ID: "si_" + id, Price: price, Quantity: 1},
		}},
		Metadata: map[string]string{},
	}
}

type profileOption func(*profile.Profile)

func withTier(tier profile.Tier) profileOption {
	return func(p *profile.Profile) { p.Tier = tier }
}

func withRole(role string) profileOption {
	return func(p *profile.Profile) { p.Role = role }
}

func withCustomer(id string) profileOption {
	return func(p *profile.Profile) { p.ProcessorCustomerID = ptr(id) }
}

func withSubscription(id string) profileOption {
	return func(p *profile.Profile) {
		p.ProcessorSubscriptionID = ptr(id)
		p.ProcessorSubscriptionStatus = ptr(string(processor.StatusActive))
	}
}

func withPending(tier profile.Tier, at time.Time) profileOption {
	return func(p *profile.Profile) {
		p.PendingTier = ptr(tier)
		p.TierEffectiveAt = ptr(at)
	}
}

func newProfile(id string, opts ...profileOption) profile.Profile {
	p := profile.Profile{
		ID:        id,
		Email:     id + "@example.com",
		Role:      profile.RoleSeller,
		Tier:      profile.TierUnsubscribed,
		CreatedAt: testNow.Add(-30 * 24 * time.Hour),
		UpdatedAt: testNow.Add(-24 * time.Hour),
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

func event(t *testing.T, id, typ string, object any) *processor.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	return &processor.Event{
		ID:      id,
		Type:    typ,
		Created: testNow.Unix(),
		Data:    processor.EventData{Object: raw},
	}
}
