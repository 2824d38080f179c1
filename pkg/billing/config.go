package billing

import "net/http"

// Config defines the standard configuration all providers should accept
type Config struct {
	// Store is the persistence sink for enriched snapshots (required).
	Store SnapshotStore

	// Forwarder is the optional HTTP callback sink. When nil, forwarding is
	// disabled and only the store receives snapshots.
	Forwarder Forwarder

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	// Allows custom timeouts, proxies, or instrumentation.
	HTTPClient *http.Client

	// Logger receives structured processing logs. If nil, logs are dropped.
	Logger Logger

	// Metrics is an optional metrics collector for tracking provider
	// operations. If nil, metrics will be silently ignored (no-op).
	// Use billing/metrics/prometheus.DefaultMetrics(namespace) for Prometheus.
	Metrics Metrics
}
