package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/jusway/billing-relay/pkg/billing"
)

// enrichSubscriptionEvent assembles a SubscriptionSnapshot from a verified
// customer.subscription.* event: the subscription object embedded in the
// event plus two synchronous lookups (customer, price with product
// expansion). Any lookup failure aborts enrichment; no partial snapshot is
// produced.
func (p *Provider) enrichSubscriptionEvent(ctx context.Context, event *stripe.Event) (*billing.SubscriptionSnapshot, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, fmt.Errorf("%w: unmarshal subscription: %v", billing.ErrInvalidWebhookPayload, err)
	}
	if sub.ID == "" || sub.Customer == nil || sub.Customer.ID == "" {
		return nil, fmt.Errorf("%w: subscription event missing ids", billing.ErrInvalidWebhookPayload)
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return nil, fmt.Errorf("%w: subscription %s has no priced items", billing.ErrEnrichmentFailed, sub.ID)
	}

	startTime := time.Now()
	cust, err := p.fetchCustomer(ctx, sub.Customer.ID)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/customers/retrieve", "error")
		return nil, fmt.Errorf("%w: fetch customer %s: %v", billing.ErrEnrichmentFailed, sub.Customer.ID, err)
	}
	p.metrics.RecordAPICall(providerName, "/customers/retrieve", "success")
	p.metrics.RecordAPICallDuration(providerName, "/customers/retrieve", time.Since(startTime))

	// Tenant id is optional customer metadata; its absence is never fatal.
	var escritorioID *string
	if cust.Metadata != nil {
		if v, ok := cust.Metadata[tenantMetadataKey]; ok && v != "" {
			escritorioID = &v
		}
	}

	priceID := sub.Items.Data[0].Price.ID
	startTime = time.Now()
	price, err := p.fetchPrice(ctx, priceID)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/prices/retrieve", "error")
		return nil, fmt.Errorf("%w: fetch price %s: %v", billing.ErrEnrichmentFailed, priceID, err)
	}
	p.metrics.RecordAPICall(providerName, "/prices/retrieve", "success")
	p.metrics.RecordAPICallDuration(providerName, "/prices/retrieve", time.Since(startTime))

	// Plan id is the price lookup_key when configured, the price id otherwise.
	planID := price.LookupKey
	if planID == "" {
		planID = price.ID
	}

	// Plan limits come from product metadata, defaulted to an empty map.
	limits := make(map[string]string)
	if price.Product != nil {
		for k, v := range price.Product.Metadata {
			limits[k] = v
		}
	}

	periodEnd, trialEnd := subscriptionPeriod(event.Data.Raw, &sub)

	return &billing.SubscriptionSnapshot{
		SubscriptionID:   sub.ID,
		CustomerID:       sub.Customer.ID,
		EscritorioID:     escritorioID,
		Status:           string(sub.Status),
		PlanID:           planID,
		Limits:           limits,
		CurrentPeriodEnd: periodEnd,
		TrialEnd:         trialEnd,
		UpdatedAt:        time.Now().UTC(),
	}, nil
}

// subscriptionPeriod extracts period-end and trial-end timestamps. Recent
// Stripe API versions report the billing period on the subscription item
// rather than the subscription, while webhook payloads pinned to older
// versions still carry top-level epoch fields, so both places are checked.
func subscriptionPeriod(raw json.RawMessage, sub *stripe.Subscription) (periodEnd time.Time, trialEnd *time.Time) {
	var fields struct {
		CurrentPeriodEnd int64 `json:"current_period_end"`
		TrialEnd         int64 `json:"trial_end"`
	}
	_ = json.Unmarshal(raw, &fields)

	if fields.CurrentPeriodEnd == 0 && sub.Items != nil && len(sub.Items.Data) > 0 {
		fields.CurrentPeriodEnd = sub.Items.Data[0].CurrentPeriodEnd
	}
	if fields.CurrentPeriodEnd > 0 {
		periodEnd = time.Unix(fields.CurrentPeriodEnd, 0).UTC()
	}

	if fields.TrialEnd == 0 {
		fields.TrialEnd = sub.TrialEnd
	}
	if fields.TrialEnd > 0 {
		t := time.Unix(fields.TrialEnd, 0).UTC()
		trialEnd = &t
	}
	return periodEnd, trialEnd
}
