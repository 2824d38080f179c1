// Package stripe implements the webhook reconciler against the Stripe API:
// verified subscription events are enriched with customer and price/product
// metadata and the resulting snapshot is written to the configured sinks. It
// also exposes the checkout, portal, and subscription lifecycle operations
// used by the REST layer.
package stripe

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/jusway/billing-relay/pkg/billing"
	"github.com/jusway/billing-relay/pkg/billing/internal"
)

const (
	providerName             = "stripe"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	maxWebhookBodyBytes      = 256 * 1024

	// Only events in this family trigger enrichment; everything else is
	// acknowledged without side effects so Stripe does not retry it.
	subscriptionEventPrefix = "customer.subscription"

	// tenantMetadataKey is the customer metadata field carrying the owning
	// organization id.
	tenantMetadataKey = "escritorio_id"
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config // Base config (Store, Forwarder, Logger, Metrics, ...)

	// Stripe-specific
	StripeAPIKey        string
	StripeWebhookSecret string

	// AppBaseURL is the public application URL used to build checkout
	// success/cancel URLs and the default portal return URL.
	AppBaseURL string
}

// Provider implements the webhook reconciler and lifecycle operations for Stripe
type Provider struct {
	store         billing.SnapshotStore
	forwarder     billing.Forwarder
	config        Config
	httpClient    *http.Client
	rateLimiter   *internal.RateLimiter
	webhookSecret []byte
	apiKey        string
	stripeClient  *stripe.Client
	appBaseURL    string
	logger        billing.Logger
	metrics       billing.Metrics

	// Lookup hooks default to the Stripe client; tests substitute fakes.
	fetchCustomer       func(ctx context.Context, id string) (*stripe.Customer, error)
	fetchPrice          func(ctx context.Context, id string) (*stripe.Price, error)
	findCustomerByEmail func(ctx context.Context, email string) (*stripe.Customer, error)
	updateCustomer      func(ctx context.Context, id string, params *stripe.CustomerUpdateParams) (*stripe.Customer, error)
	createCustomer      func(ctx context.Context, params *stripe.CustomerCreateParams) (*stripe.Customer, error)
}

// NewProvider creates a new Stripe billing provider
func NewProvider(config Config) (*Provider, error) {
	if config.Store == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	apiKey := strings.TrimSpace(config.StripeAPIKey)
	if apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: defaultHTTPTimeout,
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = &billing.NoopLogger{}
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	stripeClient := stripe.NewClient(apiKey)

	p := &Provider{
		store:         config.Store,
		forwarder:     config.Forwarder,
		config:        config,
		httpClient:    httpClient,
		rateLimiter:   internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		webhookSecret: []byte(strings.TrimSpace(config.StripeWebhookSecret)),
		apiKey:        apiKey,
		stripeClient:  stripeClient,
		appBaseURL:    strings.TrimRight(strings.TrimSpace(config.AppBaseURL), "/"),
		logger:        logger,
		metrics:       metrics,
	}

	p.fetchCustomer = func(ctx context.Context, id string) (*stripe.Customer, error) {
		return p.stripeClient.V1Customers.Retrieve(ctx, id, nil)
	}
	p.fetchPrice = func(ctx context.Context, id string) (*stripe.Price, error) {
		params := &stripe.PriceRetrieveParams{}
		params.AddExpand("product")
		return p.stripeClient.V1Prices.Retrieve(ctx, id, params)
	}
	p.findCustomerByEmail = func(ctx context.Context, email string) (*stripe.Customer, error) {
		params := &stripe.CustomerListParams{
			Email: stripe.String(email),
		}
		params.Limit = stripe.Int64(1)
		var found *stripe.Customer
		var listErr error
		p.stripeClient.V1Customers.List(ctx, params)(func(cust *stripe.Customer, err error) bool {
			if err != nil {
				listErr = err
				return false
			}
			found = cust
			return false
		})
		if listErr != nil {
			return nil, listErr
		}
		return found, nil
	}
	p.updateCustomer = func(ctx context.Context, id string, params *stripe.CustomerUpdateParams) (*stripe.Customer, error) {
		return p.stripeClient.V1Customers.Update(ctx, id, params)
	}
	p.createCustomer = func(ctx context.Context, params *stripe.CustomerCreateParams) (*stripe.Customer, error) {
		return p.stripeClient.V1Customers.Create(ctx, params)
	}

	return p, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	handler := http.HandlerFunc(p.handleWebhook)
	// Wrap with rate limiting
	return p.rateLimiter.Middleware(handler)
}
