// AngelaMos | 2026
// types.go

package processor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
)

type SubscriptionStatus string

const (
	StatusActive            = SubscriptionStatus(stripe.SubscriptionStatusActive)
	StatusTrialing          = SubscriptionStatus(stripe.SubscriptionStatusTrialing)
	StatusPastDue           = SubscriptionStatus(stripe.SubscriptionStatusPastDue)
	StatusUnpaid            = SubscriptionStatus(stripe.SubscriptionStatusUnpaid)
	StatusCanceled          = SubscriptionStatus(stripe.SubscriptionStatusCanceled)
	StatusIncomplete        = SubscriptionStatus(stripe.SubscriptionStatusIncomplete)
	StatusIncompleteExpired = SubscriptionStatus(stripe.SubscriptionStatusIncompleteExpired)
	StatusPaused            = SubscriptionStatus(stripe.SubscriptionStatusPaused)
)

// IsLive reports whether a subscription in this status can be the
// authoritative one for a seller.
func (s SubscriptionStatus) IsLive() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue, StatusUnpaid:
		return true
	default:
		return false
	}
}

const (
	IntervalMonth = string(stripe.PriceRecurringIntervalMonth)
	IntervalYear  = string(stripe.PriceRecurringIntervalYear)
)

// Ref is an expandable reference. The processor sends either the bare id
// or the full object depending on the expand parameters of the call.
type Ref struct {
	ID string
}

func (r *Ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		r.ID = ""
		return nil
	}

	if data[0] == '"' {
		return json.Unmarshal(data, &r.ID)
	}

	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("decode expandable reference: %w", err)
	}
	r.ID = obj.ID
	return nil
}

func (r Ref) MarshalJSON() ([]byte, error) {
	if r.ID == "" {
		return []byte("null"), nil
	}
	return json.Marshal(r.ID)
}

type Product struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata"`
}

func (p *Product) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		*p = Product{}
		return json.Unmarshal(data, &p.ID)
	}

	type product Product
	var out product
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("decode product: %w", err)
	}
	*p = Product(out)
	return nil
}

type Recurring struct {
	Interval      string `json:"interval"`
	IntervalCount int64  `json:"interval_count"`
}

type Price struct {
	ID         string            `json:"id"`
	Product    *Product          `json:"product"`
	UnitAmount int64             `json:"unit_amount"`
	Currency   string            `json:"currency"`
	Recurring  *Recurring        `json:"recurring"`
	LookupKey  string            `json:"lookup_key"`
	Metadata   map[string]string `json:"metadata"`
}

func (p *Price) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		*p = Price{}
		return json.Unmarshal(data, &p.ID)
	}

	type price Price
	var out price
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("decode price: %w", err)
	}
	*p = Price(out)
	return nil
}

func (p *Price) Interval() string {
	if p == nil || p.Recurring == nil {
		return ""
	}
	return p.Recurring.Interval
}

// IsExpanded reports whether the price body was sent, not just its id.
func (p *Price) IsExpanded() bool {
	return p != nil && (p.Recurring != nil || p.UnitAmount != 0)
}

type SubscriptionItem struct {
	ID                 string `json:"id"`
	Price              *Price `json:"price"`
	Quantity           int64  `json:"quantity"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
}

type SubscriptionItemList struct {
	Data []SubscriptionItem `json:"data"`
}

type Subscription struct {
	ID                 string               `json:"id"`
	Customer           Ref                  `json:"customer"`
	Status             SubscriptionStatus   `json:"status"`
	CurrentPeriodStart int64                `json:"current_period_start"`
	CurrentPeriodEnd   int64                `json:"current_period_end"`
	CancelAtPeriodEnd  bool                 `json:"cancel_at_period_end"`
	CancelAt           int64                `json:"cancel_at"`
	Schedule           Ref                  `json:"schedule"`
	Items              SubscriptionItemList `json:"items"`
	Metadata           map[string]string    `json:"metadata"`
}

// PrimaryItem returns the first line item, which carries the plan price.
func (s *Subscription) PrimaryItem() *SubscriptionItem {
	if s == nil || len(s.Items.Data) == 0 {
		return nil
	}
	return &s.Items.Data[0]
}

func (s *Subscription) PrimaryPrice() *Price {
	item := s.PrimaryItem()
	if item == nil {
		return nil
	}
	return item.Price
}

func (s *Subscription) Interval() string {
	return s.PrimaryPrice().Interval()
}

// PeriodEnd prefers the top-level period boundary and falls back to the
// primary item's, where newer API versions moved it.
func (s *Subscription) PeriodEnd() (time.Time, bool) {
	if s == nil {
		return time.Time{}, false
	}
	if s.CurrentPeriodEnd > 0 {
		return time.Unix(s.CurrentPeriodEnd, 0).UTC(), true
	}
	if item := s.PrimaryItem(); item != nil && item.CurrentPeriodEnd > 0 {
		return time.Unix(item.CurrentPeriodEnd, 0).UTC(), true
	}
	return time.Time{}, false
}

func (s *Subscription) PeriodStart() (time.Time, bool) {
	if s == nil {
		return time.Time{}, false
	}
	if s.CurrentPeriodStart > 0 {
		return time.Unix(s.CurrentPeriodStart, 0).UTC(), true
	}
	if item := s.PrimaryItem(); item != nil && item.CurrentPeriodStart > 0 {
		return time.Unix(item.CurrentPeriodStart, 0).UTC(), true
	}
	return time.Time{}, false
}

type SubscriptionList struct {
	Data    []Subscription `json:"data"`
	HasMore bool           `json:"has_more"`
}

// FirstLive returns the first live subscription in listing order, which
// the processor returns most recent first.
func (l *SubscriptionList) FirstLive() *Subscription {
	for i := range l.Data {
		if l.Data[i].Status.IsLive() {
			return &l.Data[i]
		}
	}
	return nil
}

type SchedulePhaseItem struct {
	Price    Ref   `json:"price"`
	Quantity int64 `json:"quantity"`
}

type SchedulePhase struct {
	StartDate int64               `json:"start_date"`
	EndDate   int64               `json:"end_date"`
	Items     []SchedulePhaseItem `json:"items"`
}

type ScheduleCurrentPhase struct {
	StartDate int64 `json:"start_date"`
	EndDate   int64 `json:"end_date"`
}

type SubscriptionSchedule struct {
	ID           string                `json:"id"`
	Status       string                `json:"status"`
	Subscription Ref                   `json:"subscription"`
	EndBehavior  string                `json:"end_behavior"`
	CurrentPhase *ScheduleCurrentPhase `json:"current_phase"`
	Phases       []SchedulePhase       `json:"phases"`
}

type Customer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Deleted  bool              `json:"deleted"`
	Metadata map[string]string `json:"metadata"`
}

type CustomerList struct {
	Data []Customer `json:"data"`
}

type CheckoutSession struct {
	ID                string            `json:"id"`
	URL               string            `json:"url"`
	Mode              string            `json:"mode"`
	Status            string            `json:"status"`
	PaymentStatus     string            `json:"payment_status"`
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          Ref               `json:"customer"`
	Subscription      Ref               `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

type PortalSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type InvoiceSubscriptionDetails struct {
	Subscription Ref               `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

type InvoiceParent struct {
	SubscriptionDetails *InvoiceSubscriptionDetails `json:"subscription_details"`
}

type InvoiceLinePriceDetails struct {
	Price   string `json:"price"`
	Product string `json:"product"`
}

type InvoiceLinePricing struct {
	PriceDetails *InvoiceLinePriceDetails `json:"price_details"`
}

type InvoiceLineParent struct {
	SubscriptionItemDetails *struct {
		Proration bool `json:"proration"`
	} `json:"subscription_item_details"`
}

type InvoiceLine struct {
	ID        string              `json:"id"`
	Amount    int64               `json:"amount"`
	Proration bool                `json:"proration"`
	Price     *Price              `json:"price"`
	Pricing   *InvoiceLinePricing `json:"pricing"`
	Parent    *InvoiceLineParent  `json:"parent"`
	Metadata  map[string]string   `json:"metadata"`
}

// PriceID reads the line's price from either the legacy price object or
// the newer pricing details block.
func (l *InvoiceLine) PriceID() string {
	if l.Price != nil && l.Price.ID != "" {
		return l.Price.ID
	}
	if l.Pricing != nil && l.Pricing.PriceDetails != nil {
		return l.Pricing.PriceDetails.Price
	}
	return ""
}

func (l *InvoiceLine) IsProration() bool {
	if l.Proration {
		return true
	}
	return l.Parent != nil &&
		l.Parent.SubscriptionItemDetails != nil &&
		l.Parent.SubscriptionItemDetails.Proration
}

type InvoiceLineList struct {
	Data []InvoiceLine `json:"data"`
}

type Invoice struct {
	ID                  string                      `json:"id"`
	Status              string                      `json:"status"`
	BillingReason       string                      `json:"billing_reason"`
	Customer            Ref                         `json:"customer"`
	Subscription        Ref                         `json:"subscription"`
	SubscriptionDetails *InvoiceSubscriptionDetails `json:"subscription_details"`
	Parent              *InvoiceParent              `json:"parent"`
	Metadata            map[string]string           `json:"metadata"`
	Lines               InvoiceLineList             `json:"lines"`
}

func (inv *Invoice) subscriptionDetails() *InvoiceSubscriptionDetails {
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		return inv.Parent.SubscriptionDetails
	}
	return inv.SubscriptionDetails
}

func (inv *Invoice) SubscriptionID() string {
	if inv.Subscription.ID != "" {
		return inv.Subscription.ID
	}
	if details := inv.subscriptionDetails(); details != nil {
		return details.Subscription.ID
	}
	return ""
}

// SubscriptionMetadata is the subscription-level metadata snapshot the
// processor copies onto the invoice.
func (inv *Invoice) SubscriptionMetadata() map[string]string {
	if details := inv.subscriptionDetails(); details != nil {
		return details.Metadata
	}
	return nil
}

type Event struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Created  int64     `json:"created"`
	Livemode bool      `json:"livemode"`
	Data     EventData `json:"data"`
}

type EventData struct {
	Object json.RawMessage `json:"object"`
}

// DecodeObject decodes the event payload into the typed object for its
// event type.
func (e *Event) DecodeObject(out any) error {
	if len(e.Data.Object) == 0 {
		return fmt.Errorf("event %s has no data object", e.ID)
	}
	if err := json.Unmarshal(e.Data.Object, out); err != nil {
		return fmt.Errorf("decode %s object: %w", e.Type, err)
	}
	return nil
}

const (
	EventCheckoutSessionCompleted    = "checkout.session.completed"
	EventInvoicePaid                 = "invoice.paid"
	EventInvoicePaymentSucceeded     = "invoice.payment_succeeded"
	EventInvoicePaymentFailed        = "invoice.payment_failed"
	EventCustomerSubscriptionDeleted = "customer.subscription.deleted"
	EventCustomerSubscriptionUpdated = "customer.subscription.updated"
)
