// Package billing defines the core types shared by the webhook reconciler:
// the enriched subscription snapshot, the sink interfaces it is written to,
// and the logging/metrics seams the providers use.
package billing

import "time"

// Subscription status values as reported by the payment provider.
const (
	StatusTrialing          = "trialing"
	StatusActive            = "active"
	StatusPastDue           = "past_due"
	StatusCanceled          = "canceled"
	StatusIncomplete        = "incomplete"
	StatusIncompleteExpired = "incomplete_expired"
	StatusUnpaid            = "unpaid"
)

// SubscriptionSnapshot is the denormalized view of a subscription assembled
// from the webhook event plus the customer and price/product lookups. It is
// the unit persisted to the snapshot store and forwarded downstream.
type SubscriptionSnapshot struct {
	// SubscriptionID is the provider subscription id (upsert key).
	SubscriptionID string `json:"stripe_subscription_id"`

	// CustomerID is the provider customer id.
	CustomerID string `json:"stripe_customer_id"`

	// EscritorioID is the owning organization, sourced from customer
	// metadata. Nil when the customer carries no escritorio_id.
	EscritorioID *string `json:"escritorio_id"`

	// Status is the provider-reported subscription status.
	Status string `json:"status"`

	// PlanID is the price lookup_key, falling back to the price id when the
	// price has no lookup key configured.
	PlanID string `json:"plan_id"`

	// Limits carries the product metadata map. Never nil; defaults to an
	// empty map when the product has no metadata.
	Limits map[string]string `json:"limits"`

	// CurrentPeriodEnd is the end of the current billing period.
	CurrentPeriodEnd time.Time `json:"current_period_end"`

	// TrialEnd is nil when the subscription has no trial.
	TrialEnd *time.Time `json:"trial_end"`

	// UpdatedAt is when this snapshot was assembled.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the snapshot. Stores hand out clones so
// callers cannot mutate persisted state through shared maps.
func (s *SubscriptionSnapshot) Clone() *SubscriptionSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Limits = make(map[string]string, len(s.Limits))
	for k, v := range s.Limits {
		out.Limits[k] = v
	}
	if s.EscritorioID != nil {
		id := *s.EscritorioID
		out.EscritorioID = &id
	}
	if s.TrialEnd != nil {
		t := *s.TrialEnd
		out.TrialEnd = &t
	}
	return &out
}
