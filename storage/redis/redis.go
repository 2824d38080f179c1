// Package redis provides a Redis implementation of the billing.SnapshotStore
// interface. The snapshot record and its customer index key are written
// atomically via a Lua script.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jusway/billing-relay/pkg/billing"
)

// Store implements billing.SnapshotStore using Redis
type Store struct {
	client redis.UniversalClient
	config Config
	upsert *redis.Script
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "billingrelay:")
	KeyPrefix string

	// SnapshotTTL is the TTL for snapshot keys (0 = no expiration)
	SnapshotTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix:   "billingrelay:",
		SnapshotTTL: 0,
	}
}

// New creates a new Redis snapshot store.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "billingrelay:"
	}

	// Write the snapshot and the customer index in one round trip so a
	// concurrent reader never sees the index pointing at a missing record.
	upsert := redis.NewScript(`
		local snapKey = KEYS[1]
		local custKey = KEYS[2]
		local data = ARGV[1]
		local subID = ARGV[2]
		local ttl = tonumber(ARGV[3])

		redis.call('SET', snapKey, data)
		redis.call('SET', custKey, subID)
		if ttl > 0 then
			redis.call('PEXPIRE', snapKey, ttl)
			redis.call('PEXPIRE', custKey, ttl)
		end
		return 1
	`)

	return &Store{client: client, config: config, upsert: upsert}, nil
}

func (s *Store) snapshotKey(subscriptionID string) string {
	return s.config.KeyPrefix + "snapshot:" + subscriptionID
}

func (s *Store) customerKey(customerID string) string {
	return s.config.KeyPrefix + "customer:" + customerID
}

// UpsertSnapshot implements billing.SnapshotStore
func (s *Store) UpsertSnapshot(ctx context.Context, snap *billing.SubscriptionSnapshot) error {
	if snap == nil || snap.SubscriptionID == "" {
		return fmt.Errorf("invalid snapshot")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	keys := []string{s.snapshotKey(snap.SubscriptionID), s.customerKey(snap.CustomerID)}
	args := []interface{}{data, snap.SubscriptionID, s.config.SnapshotTTL.Milliseconds()}
	if err := s.upsert.Run(ctx, s.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

// GetSnapshot implements billing.SnapshotStore
func (s *Store) GetSnapshot(ctx context.Context, subscriptionID string) (*billing.SubscriptionSnapshot, error) {
	data, err := s.client.Get(ctx, s.snapshotKey(subscriptionID)).Bytes()
	if err == redis.Nil {
		return nil, billing.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var snap billing.SubscriptionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Limits == nil {
		snap.Limits = make(map[string]string)
	}
	return &snap, nil
}

// GetSnapshotByCustomer implements billing.SnapshotStore
func (s *Store) GetSnapshotByCustomer(ctx context.Context, customerID string) (*billing.SubscriptionSnapshot, error) {
	subID, err := s.client.Get(ctx, s.customerKey(customerID)).Result()
	if err == redis.Nil {
		return nil, billing.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve customer index: %w", err)
	}
	return s.GetSnapshot(ctx, subID)
}
