package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/jusway/billing-relay/pkg/billing"
)

const invoiceHistoryLimit = 5

// UsageCounters are placeholder counters returned by SubscriptionDetails.
// Real metering lives in the application backend; the relay has no view of
// per-tenant usage.
type UsageCounters struct {
	Processos  int `json:"processos"`
	Clientes   int `json:"clientes"`
	Documentos int `json:"documentos"`
}

// InvoiceSummary is a trimmed view of a Stripe invoice.
type InvoiceSummary struct {
	ID               string    `json:"id"`
	Number           string    `json:"number"`
	Status           string    `json:"status"`
	AmountDue        int64     `json:"amount_due"`
	Currency         string    `json:"currency"`
	Created          time.Time `json:"created"`
	HostedInvoiceURL string    `json:"hosted_invoice_url"`
}

// SubscriptionDetails aggregates the enriched snapshot with usage counters
// and recent invoices for the details endpoint.
type SubscriptionDetails struct {
	Snapshot *billing.SubscriptionSnapshot `json:"subscription"`
	Usage    UsageCounters                 `json:"usage"`
	Invoices []InvoiceSummary              `json:"invoices"`
}

// CancelSubscription cancels a subscription. With immediately set the
// subscription is canceled at once; otherwise it is flagged to cancel at the
// end of the current billing period and stays active until then.
func (p *Provider) CancelSubscription(ctx context.Context, subscriptionID string, immediately bool) (*stripe.Subscription, error) {
	startTime := time.Now()

	var sub *stripe.Subscription
	var err error
	if immediately {
		sub, err = p.stripeClient.V1Subscriptions.Cancel(ctx, subscriptionID, nil)
	} else {
		params := &stripe.SubscriptionUpdateParams{
			CancelAtPeriodEnd: stripe.Bool(true),
		}
		sub, err = p.stripeClient.V1Subscriptions.Update(ctx, subscriptionID, params)
	}
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/subscriptions/cancel", "error")
		return nil, fmt.Errorf("failed to cancel subscription: %w", err)
	}

	p.metrics.RecordAPICall(providerName, "/subscriptions/cancel", "success")
	p.metrics.RecordAPICallDuration(providerName, "/subscriptions/cancel", time.Since(startTime))
	return sub, nil
}

// ReactivateSubscription clears the cancel-at-period-end flag on a
// subscription that was scheduled for cancellation.
func (p *Provider) ReactivateSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	startTime := time.Now()

	params := &stripe.SubscriptionUpdateParams{
		CancelAtPeriodEnd: stripe.Bool(false),
	}
	sub, err := p.stripeClient.V1Subscriptions.Update(ctx, subscriptionID, params)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/subscriptions/update", "error")
		return nil, fmt.Errorf("failed to reactivate subscription: %w", err)
	}

	p.metrics.RecordAPICall(providerName, "/subscriptions/update", "success")
	p.metrics.RecordAPICallDuration(providerName, "/subscriptions/update", time.Since(startTime))
	return sub, nil
}

// ChangePlan replaces the subscription's line item with the new price and
// triggers an immediate prorated invoice.
func (p *Provider) ChangePlan(ctx context.Context, subscriptionID, newPriceID string) (*stripe.Subscription, error) {
	startTime := time.Now()

	sub, err := p.stripeClient.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/subscriptions/retrieve", "error")
		return nil, fmt.Errorf("failed to fetch subscription: %w", err)
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil, fmt.Errorf("subscription %s has no items to replace", subscriptionID)
	}

	params := &stripe.SubscriptionUpdateParams{
		Items: []*stripe.SubscriptionUpdateItemParams{
			{
				ID:    stripe.String(sub.Items.Data[0].ID),
				Price: stripe.String(newPriceID),
			},
		},
		ProrationBehavior: stripe.String("always_invoice"),
	}

	updated, err := p.stripeClient.V1Subscriptions.Update(ctx, subscriptionID, params)
	if err != nil {
		p.metrics.RecordAPICall(providerName, "/subscriptions/update", "error")
		return nil, fmt.Errorf("failed to change plan: %w", err)
	}

	p.metrics.RecordAPICall(providerName, "/subscriptions/update", "success")
	p.metrics.RecordAPICallDuration(providerName, "/subscriptions/update", time.Since(startTime))
	return updated, nil
}

// SubscriptionDetails returns the enriched snapshot for a customer plus
// placeholder usage counters and the last invoices. The snapshot store is the
// fast path; on a miss the subscription is listed from Stripe and enriched.
// Returns billing.ErrSubscriptionNotFound when the customer has no
// subscription anywhere.
func (p *Provider) SubscriptionDetails(ctx context.Context, customerID string) (*SubscriptionDetails, error) {
	snap, err := p.store.GetSnapshotByCustomer(ctx, customerID)
	if err != nil {
		if !errors.Is(err, billing.ErrSnapshotNotFound) {
			return nil, fmt.Errorf("failed to read snapshot store: %w", err)
		}
		snap, err = p.snapshotFromStripe(ctx, customerID)
		if err != nil {
			return nil, err
		}
	}

	invoices, err := p.recentInvoices(ctx, customerID)
	if err != nil {
		return nil, err
	}

	return &SubscriptionDetails{
		Snapshot: snap,
		Usage:    UsageCounters{},
		Invoices: invoices,
	}, nil
}

// snapshotFromStripe lists the customer's subscriptions and enriches the
// first non-canceled one (falling back to the most recent canceled one).
func (p *Provider) snapshotFromStripe(ctx context.Context, customerID string) (*billing.SubscriptionSnapshot, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}

	var picked *stripe.Subscription
	var listErr error
	p.stripeClient.V1Subscriptions.List(ctx, params)(func(sub *stripe.Subscription, err error) bool {
		if err != nil {
			p.metrics.RecordAPICall(providerName, "/subscriptions/list", "error")
			listErr = fmt.Errorf("failed to list subscriptions: %w", err)
			return false
		}
		if picked == nil {
			picked = sub
		}
		if sub.Status != stripe.SubscriptionStatusCanceled {
			picked = sub
			return false
		}
		return true
	})
	if listErr != nil {
		return nil, listErr
	}
	p.metrics.RecordAPICall(providerName, "/subscriptions/list", "success")

	if picked == nil {
		return nil, billing.ErrSubscriptionNotFound
	}

	raw, err := json.Marshal(picked)
	if err != nil {
		return nil, fmt.Errorf("failed to encode subscription: %w", err)
	}
	event := &stripe.Event{
		Type: stripe.EventType(subscriptionEventPrefix + ".updated"),
		Data: &stripe.EventData{Raw: raw},
	}
	return p.enrichSubscriptionEvent(ctx, event)
}

// recentInvoices returns the customer's last invoices, newest first.
func (p *Provider) recentInvoices(ctx context.Context, customerID string) ([]InvoiceSummary, error) {
	params := &stripe.InvoiceListParams{
		Customer: stripe.String(customerID),
	}
	params.Limit = stripe.Int64(invoiceHistoryLimit)

	invoices := make([]InvoiceSummary, 0, invoiceHistoryLimit)
	var listErr error
	p.stripeClient.V1Invoices.List(ctx, params)(func(inv *stripe.Invoice, err error) bool {
		if err != nil {
			p.metrics.RecordAPICall(providerName, "/invoices/list", "error")
			listErr = fmt.Errorf("failed to list invoices: %w", err)
			return false
		}
		invoices = append(invoices, InvoiceSummary{
			ID:               inv.ID,
			Number:           inv.Number,
			Status:           string(inv.Status),
			AmountDue:        inv.AmountDue,
			Currency:         string(inv.Currency),
			Created:          time.Unix(inv.Created, 0).UTC(),
			HostedInvoiceURL: inv.HostedInvoiceURL,
		})
		return len(invoices) < invoiceHistoryLimit
	})
	if listErr != nil {
		return nil, listErr
	}
	p.metrics.RecordAPICall(providerName, "/invoices/list", "success")

	return invoices, nil
}
