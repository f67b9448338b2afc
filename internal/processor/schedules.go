// AngelaMos | 2026
// schedules.go

package processor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

const EndBehaviorRelease = "release"

func (c *Client) CreateScheduleFromSubscription(
	ctx context.Context,
	subscriptionID string,
) (*SubscriptionSchedule, error) {
	form := url.Values{}
	form.Set("from_subscription", subscriptionID)

	var sched SubscriptionSchedule
	if err := c.Request(ctx, http.MethodPost, "/v1/subscription_schedules", form, &sched); err != nil {
		return nil, err
	}
	return &sched, nil
}

func (c *Client) GetSchedule(ctx context.Context, id string) (*SubscriptionSchedule, error) {
	var sched SubscriptionSchedule
	if err := c.Request(ctx, http.MethodGet, "/v1/subscription_schedules/"+url.PathEscape(id), nil, &sched); err != nil {
		return nil, err
	}
	return &sched, nil
}

type SchedulePhaseParams struct {
	PriceID    string
	Quantity   int64
	StartDate  int64
	EndDate    int64
	Iterations int64
	Metadata   map[string]string
}

type ScheduleUpdateParams struct {
	EndBehavior       string
	ProrationBehavior string
	Phases            []SchedulePhaseParams
}

func (p ScheduleUpdateParams) encode() url.Values {
	form := url.Values{}
	if p.EndBehavior != "" {
		form.Set("end_behavior", p.EndBehavior)
	}
	if p.ProrationBehavior != "" {
		form.Set("proration_behavior", p.ProrationBehavior)
	}

	for i, phase := range p.Phases {
		prefix := fmt.Sprintf("phases[%d]", i)
		form.Set(prefix+"[items][0][price]", phase.PriceID)

		quantity := phase.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		form.Set(prefix+"[items][0][quantity]", strconv.FormatInt(quantity, 10))

		if phase.StartDate > 0 {
			form.Set(prefix+"[start_date]", strconv.FormatInt(phase.StartDate, 10))
		}
		if phase.EndDate > 0 {
			form.Set(prefix+"[end_date]", strconv.FormatInt(phase.EndDate, 10))
		}
		if phase.Iterations > 0 {
			form.Set(prefix+"[iterations]", strconv.FormatInt(phase.Iterations, 10))
		}
		setMetadata(form, prefix+"[metadata]", phase.Metadata)
	}
	return form
}

func (c *Client) UpdateSchedule(
	ctx context.Context,
	id string,
	params ScheduleUpdateParams,
) (*SubscriptionSchedule, error) {
	var sched SubscriptionSchedule
	if err := c.Request(ctx, http.MethodPost, "/v1/subscription_schedules/"+url.PathEscape(id), params.encode(), &sched); err != nil {
		return nil, err
	}
	return &sched, nil
}

// ReleaseSchedule detaches the schedule and leaves the subscription as a
// plain subscription at its current price.
func (c *Client) ReleaseSchedule(ctx context.Context, id string) error {
	path := "/v1/subscription_schedules/" + url.PathEscape(id) + "/release"
	return c.Request(ctx, http.MethodPost, path, url.Values{}, nil)
}
