package billing

import "context"

// SnapshotStore is the persistence sink for enriched snapshots. Upsert is
// insert-or-replace keyed by subscription id, so reprocessing a delivery of
// the same event leaves the stored record unchanged.
type SnapshotStore interface {
	// UpsertSnapshot inserts or replaces the record for snap.SubscriptionID.
	UpsertSnapshot(ctx context.Context, snap *SubscriptionSnapshot) error

	// GetSnapshot returns the stored record for a subscription id.
	// Returns ErrSnapshotNotFound when no record exists.
	GetSnapshot(ctx context.Context, subscriptionID string) (*SubscriptionSnapshot, error)

	// GetSnapshotByCustomer returns the most recently updated record for a
	// customer id. Returns ErrSnapshotNotFound when no record exists.
	GetSnapshotByCustomer(ctx context.Context, customerID string) (*SubscriptionSnapshot, error)
}

// Forwarder is the fire-and-forget sink: an HTTP callback delivering the
// snapshot to the application backend. Callers log forwarding failures but
// never propagate them to the webhook response.
type Forwarder interface {
	Forward(ctx context.Context, snap *SubscriptionSnapshot) error
}
