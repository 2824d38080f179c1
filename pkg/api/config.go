package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v83"

	"github.com/jusway/billing-relay/pkg/billing"
	stripeprovider "github.com/jusway/billing-relay/pkg/billing/stripe"
)

// BillingService is the surface the HTTP handlers need from the billing
// provider. *stripe.Provider satisfies it; tests substitute fakes.
type BillingService interface {
	CheckoutURL(ctx context.Context, escritorioID, email, priceID string) (string, error)
	PortalURL(ctx context.Context, customerID, returnURL string) (string, error)
	CancelSubscription(ctx context.Context, subscriptionID string, immediately bool) (*stripe.Subscription, error)
	ReactivateSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	ChangePlan(ctx context.Context, subscriptionID, newPriceID string) (*stripe.Subscription, error)
	SubscriptionDetails(ctx context.Context, customerID string) (*stripeprovider.SubscriptionDetails, error)
}

// Config holds configuration for the billing API handler.
type Config struct {
	// Service executes billing operations (required).
	Service BillingService

	// WebhookHandler is mounted at POST /stripe/webhook (required).
	WebhookHandler http.Handler

	// Logger is optional structured logging.
	// If nil, logging is disabled.
	Logger billing.Logger

	// Metrics is optional metrics recorder for API operations.
	// If nil, metrics are not recorded.
	Metrics billing.Metrics
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Service == nil {
		return fmt.Errorf("service is required")
	}
	if c.WebhookHandler == nil {
		return fmt.Errorf("webhook handler is required")
	}
	return nil
}

// NewHandler creates a new billing API handler with the given configuration.
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = &billing.NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &billing.NoopMetrics{}
	}
	return &Handler{
		config: config,
	}, nil
}
