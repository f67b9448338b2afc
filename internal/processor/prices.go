// AngelaMos | 2026
// prices.go

package processor

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// GetPrice fetches a price with its product expanded so product metadata
// is available for tier inference.
func (c *Client) GetPrice(ctx context.Context, id string) (*Price, error) {
	params := url.Values{}
	params.Add("expand[]", "product")

	var price Price
	if err := c.Request(ctx, http.MethodGet, "/v1/prices/"+url.PathEscape(id), params, &price); err != nil {
		return nil, err
	}
	return &price, nil
}

// CreatePrice creates a standalone recurring price. Schedule phases and
// subscription item updates need a price id, so inline prices go through
// here rather than price_data.
func (c *Client) CreatePrice(ctx context.Context, p InlinePrice) (*Price, error) {
	form := url.Values{}
	form.Set("currency", p.Currency)
	form.Set("unit_amount", strconv.FormatInt(p.UnitAmount, 10))
	form.Set("recurring[interval]", p.Interval)
	form.Set("product_data[name]", p.ProductName)
	setMetadata(form, "product_data[metadata]", p.Metadata)
	setMetadata(form, "metadata", p.Metadata)

	var price Price
	if err := c.Request(ctx, http.MethodPost, "/v1/prices", form, &price); err != nil {
		return nil, err
	}
	return &price, nil
}
