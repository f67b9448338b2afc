// AngelaMos | 2026
// customers.go

package processor

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// FindCustomerByEmail returns the most recent customer whose email matches
// exactly, ignoring case. A miss returns nil without error.
func (c *Client) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, nil
	}

	params := url.Values{}
	params.Set("email", email)
	params.Set("limit", "10")

	var list CustomerList
	if err := c.Request(ctx, http.MethodGet, "/v1/customers", params, &list); err != nil {
		return nil, err
	}

	for i := range list.Data {
		cust := &list.Data[i]
		if !cust.Deleted && strings.EqualFold(cust.Email, email) {
			return cust, nil
		}
	}
	return nil, nil
}

func (c *Client) CreateCustomer(
	ctx context.Context,
	email string,
	metadata map[string]string,
) (*Customer, error) {
	form := url.Values{}
	if email != "" {
		form.Set("email", email)
	}
	setMetadata(form, "metadata", metadata)

	var cust Customer
	if err := c.Request(ctx, http.MethodPost, "/v1/customers", form, &cust); err != nil {
		return nil, err
	}
	return &cust, nil
}
