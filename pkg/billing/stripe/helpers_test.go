package stripe

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/jusway/billing-relay/pkg/billing"
	"github.com/jusway/billing-relay/storage/memory"
)

const (
	testStripeAPIKey        = "sk_test_4242"
	testStripeWebhookSecret = "whsec_test_4242"
	testAppBaseURL          = "https://app.jusway.test"
	testCustomerID          = "cus_test123"
	testSubscriptionID      = "sub_test123"
	testPriceID             = "price_test123"
	testEscritorioID        = "esc_42"
	testPeriodEnd           = int64(1767225600)
)

// forwarderFunc adapts a function to billing.Forwarder.
type forwarderFunc func(ctx context.Context, snap *billing.SubscriptionSnapshot) error

func (f forwarderFunc) Forward(ctx context.Context, snap *billing.SubscriptionSnapshot) error {
	return f(ctx, snap)
}

// newTestProvider builds a provider backed by an in-memory store with the
// Stripe lookup hooks replaced by deterministic fakes.
func newTestProvider(t *testing.T, store *memory.Store, fwd billing.Forwarder) *Provider {
	t.Helper()

	provider, err := NewProvider(Config{
		Config: billing.Config{
			Store:     store,
			Forwarder: fwd,
		},
		StripeAPIKey:        testStripeAPIKey,
		StripeWebhookSecret: testStripeWebhookSecret,
		AppBaseURL:          testAppBaseURL,
	})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	provider.fetchCustomer = func(_ context.Context, id string) (*stripe.Customer, error) {
		return &stripe.Customer{
			ID:       id,
			Metadata: map[string]string{"escritorio_id": testEscritorioID},
		}, nil
	}
	provider.fetchPrice = func(_ context.Context, id string) (*stripe.Price, error) {
		return &stripe.Price{
			ID:        id,
			LookupKey: "pro_monthly",
			Product: &stripe.Product{
				ID:       "prod_test123",
				Metadata: map[string]string{"processos": "50", "clientes": "200"},
			},
		}, nil
	}

	return provider
}

// subscriptionEventPayload builds the raw JSON body of a webhook event whose
// data object is a subscription.
func subscriptionEventPayload(eventType string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_test123",
		"object": "event",
		"api_version": %q,
		"type": %q,
		"created": %d,
		"data": {
			"object": {
				"id": %q,
				"object": "subscription",
				"status": "active",
				"customer": %q,
				"current_period_end": %d,
				"trial_end": null,
				"items": {
					"object": "list",
					"data": [
						{"id": "si_test123", "price": {"id": %q}}
					]
				}
			}
		}
	}`, stripe.APIVersion, eventType, time.Now().Unix(), testSubscriptionID, testCustomerID, testPeriodEnd, testPriceID))
}

// signPayload signs a webhook body the way Stripe would and returns the
// Stripe-Signature header value.
func signPayload(t *testing.T, payload []byte) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testStripeWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Header
}
