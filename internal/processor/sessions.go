// AngelaMos | 2026
// sessions.go

package processor

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// InlinePrice describes a recurring price created at call time when no
// catalog id is configured.
type InlinePrice struct {
	Currency    string
	UnitAmount  int64
	Interval    string
	ProductName string
	Metadata    map[string]string
}

type CheckoutSessionParams struct {
	CustomerID           string
	CustomerEmail        string
	ClientReferenceID    string
	SuccessURL           string
	CancelURL            string
	PriceID              string
	InlinePrice          *InlinePrice
	Metadata             map[string]string
	SubscriptionMetadata map[string]string
}

func (p CheckoutSessionParams) encode() url.Values {
	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("success_url", p.SuccessURL)
	form.Set("cancel_url", p.CancelURL)

	if p.CustomerID != "" {
		form.Set("customer", p.CustomerID)
	} else if p.CustomerEmail != "" {
		form.Set("customer_email", p.CustomerEmail)
	}
	if p.ClientReferenceID != "" {
		form.Set("client_reference_id", p.ClientReferenceID)
	}

	form.Set("line_items[0][quantity]", "1")
	switch {
	case p.PriceID != "":
		form.Set("line_items[0][price]", p.PriceID)
	case p.InlinePrice != nil:
		ip := p.InlinePrice
		form.Set("line_items[0][price_data][currency]", ip.Currency)
		form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(ip.UnitAmount, 10))
		form.Set("line_items[0][price_data][recurring][interval]", ip.Interval)
		form.Set("line_items[0][price_data][product_data][name]", ip.ProductName)
		setMetadata(form, "line_items[0][price_data][product_data][metadata]", ip.Metadata)
	}

	setMetadata(form, "metadata", p.Metadata)
	setMetadata(form, "subscription_data[metadata]", p.SubscriptionMetadata)
	return form
}

func (c *Client) CreateCheckoutSession(
	ctx context.Context,
	params CheckoutSessionParams,
) (*CheckoutSession, error) {
	var sess CheckoutSession
	if err := c.Request(ctx, http.MethodPost, "/v1/checkout/sessions", params.encode(), &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (c *Client) CreatePortalSession(
	ctx context.Context,
	customerID, returnURL string,
) (*PortalSession, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("return_url", returnURL)

	var sess PortalSession
	if err := c.Request(ctx, http.MethodPost, "/v1/billing_portal/sessions", form, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}
