// Package forward implements the HTTP callback sink: enriched snapshots are
// POSTed to the application backend, authenticated with a shared secret
// header. Delivery is best effort; the webhook pipeline logs failures and
// moves on.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jusway/billing-relay/pkg/billing"
)

const (
	// SecretHeader authenticates the relay to the receiving backend.
	SecretHeader = "X-Webhook-Secret"

	webhookPath        = "/api/stripe/webhook"
	defaultHTTPTimeout = 10 * time.Second
)

// Client delivers snapshots to a configured backend endpoint.
type Client struct {
	endpoint   string
	secret     string
	httpClient *http.Client
	logger     billing.Logger
}

// Config holds forwarding sink configuration.
type Config struct {
	// BaseURL is the backend base URL; the snapshot is POSTed to
	// {BaseURL}/api/stripe/webhook.
	BaseURL string

	// Secret is sent in the X-Webhook-Secret header so the receiver can
	// authenticate the call.
	Secret string

	// HTTPClient is optional; a 10s-timeout client is used when nil.
	HTTPClient *http.Client

	// Logger is optional.
	Logger billing.Logger
}

// New creates a forwarding client.
func New(config Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("forward: base URL is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	logger := config.Logger
	if logger == nil {
		logger = &billing.NoopLogger{}
	}

	return &Client{
		endpoint:   base + webhookPath,
		secret:     config.Secret,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Forward implements billing.Forwarder.
func (c *Client) Forward(ctx context.Context, snap *billing.SubscriptionSnapshot) error {
	if snap == nil {
		return fmt.Errorf("forward: nil snapshot")
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("forward: encode snapshot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("forward: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SecretHeader, c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("forward: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("forward: backend returned %d", resp.StatusCode)
	}

	c.logger.Debug("snapshot forwarded",
		billing.Field{Key: "subscription_id", Value: snap.SubscriptionID},
		billing.Field{Key: "status", Value: resp.StatusCode},
	)
	return nil
}
