// Package memory provides an in-memory implementation of the
// billing.SnapshotStore interface. This implementation is primarily intended
// for testing and development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/jusway/billing-relay/pkg/billing"
)

// Store implements billing.SnapshotStore using an in-memory map
type Store struct {
	mu        sync.RWMutex
	snapshots map[string]*billing.SubscriptionSnapshot
}

// New creates a new in-memory snapshot store
func New() *Store {
	return &Store{
		snapshots: make(map[string]*billing.SubscriptionSnapshot),
	}
}

// UpsertSnapshot implements billing.SnapshotStore
func (s *Store) UpsertSnapshot(ctx context.Context, snap *billing.SubscriptionSnapshot) error {
	if snap == nil || snap.SubscriptionID == "" {
		return fmt.Errorf("invalid snapshot")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to prevent external mutations
	s.snapshots[snap.SubscriptionID] = snap.Clone()
	return nil
}

// GetSnapshot implements billing.SnapshotStore
func (s *Store) GetSnapshot(ctx context.Context, subscriptionID string) (*billing.SubscriptionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[subscriptionID]
	if !ok {
		return nil, billing.ErrSnapshotNotFound
	}
	return snap.Clone(), nil
}

// GetSnapshotByCustomer implements billing.SnapshotStore
func (s *Store) GetSnapshotByCustomer(ctx context.Context, customerID string) (*billing.SubscriptionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *billing.SubscriptionSnapshot
	for _, snap := range s.snapshots {
		if snap.CustomerID != customerID {
			continue
		}
		if latest == nil || snap.UpdatedAt.After(latest.UpdatedAt) {
			latest = snap
		}
	}
	if latest == nil {
		return nil, billing.ErrSnapshotNotFound
	}
	return latest.Clone(), nil
}

// Len returns the number of stored snapshots. Test helper.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}
