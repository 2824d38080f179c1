package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jusway/billing-relay/pkg/billing"
)

func snapshot(subID, custID string) *billing.SubscriptionSnapshot {
	return &billing.SubscriptionSnapshot{
		SubscriptionID:   subID,
		CustomerID:       custID,
		Status:           billing.StatusActive,
		PlanID:           "pro_monthly",
		Limits:           map[string]string{"processos": "50"},
		CurrentPeriodEnd: time.Unix(1767225600, 0).UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
}

func TestUpsertSnapshot_Idempotent(t *testing.T) {
	store := New()
	ctx := context.Background()
	snap := snapshot("sub_1", "cus_1")

	require.NoError(t, store.UpsertSnapshot(ctx, snap))
	first, err := store.GetSnapshot(ctx, "sub_1")
	require.NoError(t, err)

	// Re-running the same upsert must leave the stored record identical
	require.NoError(t, store.UpsertSnapshot(ctx, snap))
	second, err := store.GetSnapshot(ctx, "sub_1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.Len())
}

func TestUpsertSnapshot_Replaces(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.UpsertSnapshot(ctx, snapshot("sub_1", "cus_1")))

	updated := snapshot("sub_1", "cus_1")
	updated.Status = billing.StatusPastDue
	require.NoError(t, store.UpsertSnapshot(ctx, updated))

	got, err := store.GetSnapshot(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPastDue, got.Status)
	assert.Equal(t, 1, store.Len())
}

func TestGetSnapshot_NotFound(t *testing.T) {
	store := New()
	_, err := store.GetSnapshot(context.Background(), "sub_missing")
	assert.ErrorIs(t, err, billing.ErrSnapshotNotFound)
}

func TestGetSnapshotByCustomer(t *testing.T) {
	store := New()
	ctx := context.Background()

	older := snapshot("sub_old", "cus_1")
	older.UpdatedAt = time.Now().Add(-time.Hour).UTC()
	require.NoError(t, store.UpsertSnapshot(ctx, older))

	newer := snapshot("sub_new", "cus_1")
	require.NoError(t, store.UpsertSnapshot(ctx, newer))

	require.NoError(t, store.UpsertSnapshot(ctx, snapshot("sub_other", "cus_2")))

	got, err := store.GetSnapshotByCustomer(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "sub_new", got.SubscriptionID)

	_, err = store.GetSnapshotByCustomer(ctx, "cus_unknown")
	assert.ErrorIs(t, err, billing.ErrSnapshotNotFound)
}

func TestStoredSnapshotIsIsolated(t *testing.T) {
	store := New()
	ctx := context.Background()
	snap := snapshot("sub_1", "cus_1")

	require.NoError(t, store.UpsertSnapshot(ctx, snap))

	// Mutating the caller's copy must not leak into the store
	snap.Limits["processos"] = "999"
	got, err := store.GetSnapshot(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "50", got.Limits["processos"])
}
