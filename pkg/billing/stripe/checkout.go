package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"
)

// CheckoutURL creates a subscription-mode Stripe Checkout Session for the
// given price and returns the session URL. The customer is created or reused
// by email; the escritorio id is tagged into customer metadata on creation or
// first encounter so webhook enrichment can resolve the tenant later.
func (p *Provider) CheckoutURL(ctx context.Context, escritorioID, email, priceID string) (string, error) {
	startTime := time.Now()

	customerID, err := p.ensureCustomer(ctx, escritorioID, email)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "customer_resolution_failed")
		return "", err
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(p.appBaseURL + "/checkout/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(p.appBaseURL + "/checkout/cancel"),
	}

	// Tag the tenant on the subscription too, for consumers that only see
	// subscription metadata.
	params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
	params.SubscriptionData.AddMetadata(tenantMetadataKey, escritorioID)

	session, err := p.stripeClient.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/checkout/sessions", "error")
		p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(startTime))
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}

	p.metrics.RecordAPICall(providerName, "/checkout/sessions", "success")
	p.metrics.RecordAPICallDuration(providerName, "/checkout/sessions", time.Since(startTime))

	return session.URL, nil
}

// PortalURL creates a Stripe Customer Portal Session and returns the URL.
// This allows users to manage their subscription, update payment methods, or cancel.
func (p *Provider) PortalURL(ctx context.Context, customerID, returnURL string) (string, error) {
	startTime := time.Now()

	if returnURL == "" {
		returnURL = p.appBaseURL
	}

	params := &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}

	session, err := p.stripeClient.V1BillingPortalSessions.Create(ctx, params)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/billing_portal/sessions", "error")
		p.metrics.RecordAPICallDuration(providerName, "/billing_portal/sessions", time.Since(startTime))
		return "", fmt.Errorf("failed to create portal session: %w", err)
	}

	p.metrics.RecordAPICall(providerName, "/billing_portal/sessions", "success")
	p.metrics.RecordAPICallDuration(providerName, "/billing_portal/sessions", time.Since(startTime))

	return session.URL, nil
}

// ensureCustomer returns the id of the Stripe customer matching the email,
// creating one when no match exists. An existing customer is reused rather
// than duplicated; if it is missing the tenant tag, the tag is patched in.
func (p *Provider) ensureCustomer(ctx context.Context, escritorioID, email string) (string, error) {
	cust, err := p.findCustomerByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("failed to list customers: %w", err)
	}

	if cust != nil {
		if cust.Metadata == nil || cust.Metadata[tenantMetadataKey] == "" {
			update := &stripe.CustomerUpdateParams{}
			update.AddMetadata(tenantMetadataKey, escritorioID)
			if _, err := p.updateCustomer(ctx, cust.ID, update); err != nil {
				return "", fmt.Errorf("failed to tag customer %s: %w", cust.ID, err)
			}
		}
		return cust.ID, nil
	}

	createParams := &stripe.CustomerCreateParams{
		Email: stripe.String(email),
	}
	createParams.AddMetadata(tenantMetadataKey, escritorioID)

	created, err := p.createCustomer(ctx, createParams)
	if err != nil {
		return "", fmt.Errorf("failed to create customer: %w", err)
	}
	return created.ID, nil
}
