package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/jusway/billing-relay/pkg/billing"
	"github.com/jusway/billing-relay/pkg/billing/internal"
)

// handleWebhook processes incoming Stripe webhook events: verify signature,
// classify, enrich, write sinks. Sink failures never change the response;
// once the event is verified and enriched the provider is acknowledged.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(p.webhookSecret) == 0 {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	// Read the body exactly as received (with size limit protection); the
	// signature is computed over the raw byte sequence.
	body, err := internal.ReadBodyStrict(w, r, maxWebhookBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")

	event, err := stripe.ConstructEvent(body, sig, string(p.webhookSecret))
	if err != nil {
		http.Error(w, fmt.Sprintf("Webhook Error: %v", err), http.StatusBadRequest)
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	processed, err := p.processWebhookEvent(r.Context(), &event)
	if err != nil {
		p.logger.Error("webhook processing failed",
			billing.Field{Key: "event_id", Value: event.ID},
			billing.Field{Key: "event_type", Value: eventType},
			billing.Field{Key: "error", Value: err.Error()},
		)
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		p.metrics.RecordWebhookError(providerName, "enrichment_failed")
		p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
		return
	}

	_ = internal.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})

	// Ignored events were already counted by processWebhookEvent; each
	// delivery increments exactly one status.
	if processed {
		p.metrics.RecordWebhookEvent(providerName, eventType, "success")
	}
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
}

// isSubscriptionEvent reports whether the event type belongs to the
// customer.subscription family.
func isSubscriptionEvent(eventType string) bool {
	return strings.HasPrefix(eventType, subscriptionEventPrefix)
}

// processWebhookEvent runs the classify, enrich, sink pipeline for one
// verified event. The returned bool reports whether the event went through
// the pipeline; ignored events are counted here and return false.
func (p *Provider) processWebhookEvent(ctx context.Context, event *stripe.Event) (bool, error) {
	eventType := string(event.Type)
	if !isSubscriptionEvent(eventType) {
		// Intentionally ignored; still acknowledged so Stripe does not retry.
		p.logger.Debug("ignoring event",
			billing.Field{Key: "event_id", Value: event.ID},
			billing.Field{Key: "event_type", Value: eventType},
		)
		p.metrics.RecordWebhookEvent(providerName, eventType, "ignored")
		return false, nil
	}

	snap, err := p.enrichSubscriptionEvent(ctx, event)
	if err != nil {
		return false, err
	}

	p.writeSinks(ctx, snap)
	return true, nil
}

// writeSinks writes the snapshot to the persistence store and the forwarding
// callback independently. Failures are logged and counted but never
// propagated: the webhook response must not depend on sink outcomes.
func (p *Provider) writeSinks(ctx context.Context, snap *billing.SubscriptionSnapshot) {
	storeStart := time.Now()
	if err := p.store.UpsertSnapshot(ctx, snap); err != nil {
		p.logger.Error("snapshot upsert failed",
			billing.Field{Key: "subscription_id", Value: snap.SubscriptionID},
			billing.Field{Key: "error", Value: err.Error()},
		)
		p.metrics.RecordSinkWrite(providerName, "store", "error")
	} else {
		p.metrics.RecordSinkWrite(providerName, "store", "success")
	}
	p.metrics.RecordSinkWriteDuration(providerName, "store", time.Since(storeStart))

	if p.forwarder == nil {
		return
	}

	forwardStart := time.Now()
	if err := p.forwarder.Forward(ctx, snap); err != nil {
		p.logger.Warn("snapshot forwarding failed",
			billing.Field{Key: "subscription_id", Value: snap.SubscriptionID},
			billing.Field{Key: "error", Value: err.Error()},
		)
		p.metrics.RecordSinkWrite(providerName, "forward", "error")
	} else {
		p.metrics.RecordSinkWrite(providerName, "forward", "success")
	}
	p.metrics.RecordSinkWriteDuration(providerName, "forward", time.Since(forwardStart))
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
