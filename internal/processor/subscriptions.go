// AngelaMos | 2026
// subscriptions.go

package processor

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

const (
	ProrationCreate = "create_prorations"
	ProrationNone   = "none"
)

// GetSubscription fetches a subscription with its items' prices and
// products expanded.
func (c *Client) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	params := url.Values{}
	params.Add("expand[]", "items.data.price.product")

	var sub Subscription
	if err := c.Request(ctx, http.MethodGet, "/v1/subscriptions/"+url.PathEscape(id), params, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListSubscriptions lists every subscription of a customer regardless of
// status, most recent first.
func (c *Client) ListSubscriptions(ctx context.Context, customerID string) (*SubscriptionList, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("status", "all")
	params.Set("limit", "10")

	var list SubscriptionList
	if err := c.Request(ctx, http.MethodGet, "/v1/subscriptions", params, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

type SubscriptionUpdateParams struct {
	ItemID             string
	PriceID            string
	ProrationBehavior  string
	ResetBillingAnchor bool
	CancelAtPeriodEnd  *bool
	Metadata           map[string]string
}

func (p SubscriptionUpdateParams) encode() url.Values {
	form := url.Values{}
	if p.ItemID != "" {
		form.Set("items[0][id]", p.ItemID)
	}
	if p.PriceID != "" {
		form.Set("items[0][price]", p.PriceID)
	}
	if p.ProrationBehavior != "" {
		form.Set("proration_behavior", p.ProrationBehavior)
	}
	if p.ResetBillingAnchor {
		form.Set("billing_cycle_anchor", "now")
	}
	if p.CancelAtPeriodEnd != nil {
		form.Set("cancel_at_period_end", strconv.FormatBool(*p.CancelAtPeriodEnd))
	}
	setMetadata(form, "metadata", p.Metadata)
	return form
}

func (c *Client) UpdateSubscription(
	ctx context.Context,
	id string,
	params SubscriptionUpdateParams,
) (*Subscription, error) {
	form := params.encode()
	form.Add("expand[]", "items.data.price.product")

	var sub Subscription
	if err := c.Request(ctx, http.MethodPost, "/v1/subscriptions/"+url.PathEscape(id), form, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// CancelSubscription cancels immediately. The returned object carries the
// final status.
func (c *Client) CancelSubscription(ctx context.Context, id string) (*Subscription, error) {
	var sub Subscription
	if err := c.Request(ctx, http.MethodDelete, "/v1/subscriptions/"+url.PathEscape(id), nil, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}
