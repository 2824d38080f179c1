// Package postgres provides a PostgreSQL implementation of the
// billing.SnapshotStore interface. Writes use INSERT ... ON CONFLICT keyed by
// the provider subscription id, so reprocessing a webhook delivery is
// idempotent.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jusway/billing-relay/pkg/billing"
)

// Store implements billing.SnapshotStore using PostgreSQL
type Store struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL snapshot store
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool, config: config}, nil
}

// Migrate creates the snapshot table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS subscription_snapshots (
			stripe_subscription_id TEXT PRIMARY KEY,
			stripe_customer_id     TEXT NOT NULL,
			escritorio_id          TEXT,
			status                 TEXT NOT NULL,
			plan_id                TEXT NOT NULL,
			limits                 JSONB NOT NULL DEFAULT '{}'::jsonb,
			current_period_end     TIMESTAMPTZ NOT NULL,
			trial_end              TIMESTAMPTZ,
			updated_at             TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS subscription_snapshots_customer_idx
			ON subscription_snapshots (stripe_customer_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate snapshot table: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// UpsertSnapshot implements billing.SnapshotStore
func (s *Store) UpsertSnapshot(ctx context.Context, snap *billing.SubscriptionSnapshot) error {
	if snap == nil || snap.SubscriptionID == "" {
		return fmt.Errorf("invalid snapshot")
	}

	limits, err := json.Marshal(snap.Limits)
	if err != nil {
		return fmt.Errorf("failed to encode limits: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO subscription_snapshots
			(stripe_subscription_id, stripe_customer_id, escritorio_id, status,
			 plan_id, limits, current_period_end, trial_end, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (stripe_subscription_id) DO UPDATE SET
				stripe_customer_id = EXCLUDED.stripe_customer_id,
				escritorio_id = EXCLUDED.escritorio_id,
				status = EXCLUDED.status,
				plan_id = EXCLUDED.plan_id,
				limits = EXCLUDED.limits,
				current_period_end = EXCLUDED.current_period_end,
				trial_end = EXCLUDED.trial_end,
				updated_at = EXCLUDED.updated_at`,
		snap.SubscriptionID, snap.CustomerID, snap.EscritorioID, snap.Status,
		snap.PlanID, limits, snap.CurrentPeriodEnd, snap.TrialEnd, snap.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

// GetSnapshot implements billing.SnapshotStore
func (s *Store) GetSnapshot(ctx context.Context, subscriptionID string) (*billing.SubscriptionSnapshot, error) {
	return s.querySnapshot(ctx,
		`SELECT stripe_subscription_id, stripe_customer_id, escritorio_id, status,
			plan_id, limits, current_period_end, trial_end, updated_at
			FROM subscription_snapshots WHERE stripe_subscription_id = $1`,
		subscriptionID)
}

// GetSnapshotByCustomer implements billing.SnapshotStore
func (s *Store) GetSnapshotByCustomer(ctx context.Context, customerID string) (*billing.SubscriptionSnapshot, error) {
	return s.querySnapshot(ctx,
		`SELECT stripe_subscription_id, stripe_customer_id, escritorio_id, status,
			plan_id, limits, current_period_end, trial_end, updated_at
			FROM subscription_snapshots WHERE stripe_customer_id = $1
			ORDER BY updated_at DESC LIMIT 1`,
		customerID)
}

func (s *Store) querySnapshot(ctx context.Context, sql, arg string) (*billing.SubscriptionSnapshot, error) {
	var snap billing.SubscriptionSnapshot
	var limits []byte

	err := s.pool.QueryRow(ctx, sql, arg).Scan(
		&snap.SubscriptionID,
		&snap.CustomerID,
		&snap.EscritorioID,
		&snap.Status,
		&snap.PlanID,
		&limits,
		&snap.CurrentPeriodEnd,
		&snap.TrialEnd,
		&snap.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, billing.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	snap.Limits = make(map[string]string)
	if len(limits) > 0 {
		if err := json.Unmarshal(limits, &snap.Limits); err != nil {
			return nil, fmt.Errorf("failed to decode limits: %w", err)
		}
	}
	return &snap, nil
}
