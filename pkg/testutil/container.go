// Package testutil provides testing utilities for AgriFlow backend services.
// It includes testcontainers for PostgreSQL, sqlmock wrappers, and common
// test helpers.
package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainer wraps a testcontainers PostgreSQL instance
type PostgresContainer struct {
	*postgres.PostgresContainer
	DSN string
}

// PostgresContainerConfig configures the test PostgreSQL container
type PostgresContainerConfig struct {
	Database string
	Username string
	Password string
	Image    string // Optional: defaults to postgres:15-alpine
}

// DefaultPostgresConfig returns sensible defaults for test containers
func DefaultPostgresConfig() PostgresContainerConfig {
	return PostgresContainerConfig{
		Database: "agriflow_test",
		Username: "test",
		Password: "test",
		Image:    "postgres:15-alpine",
	}
}

// NewPostgresContainer creates a new PostgreSQL test container.
//
// Usage:
//
//	func TestMain(m *testing.M) {
//	    ctx := context.Background()
//	    container, err := testutil.NewPostgresContainer(ctx, testutil.DefaultPostgresConfig())
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer container.Terminate(ctx)
//
//	    code := m.Run()
//	    os.Exit(code)
//	}
func NewPostgresContainer(ctx context.Context, cfg PostgresContainerConfig) (*PostgresContainer, error) {
	if cfg.Image == "" {
		cfg.Image = "postgres:15-alpine"
	}
	if cfg.Database == "" {
		cfg.Database = "agriflow_test"
	}
	if cfg.Username == "" {
		cfg.Username = "test"
	}
	if cfg.Password == "" {
		cfg.Password = "test"
	}

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage(cfg.Image),
		postgres.WithDatabase(cfg.Database),
		postgres.WithUsername(cfg.Username),
		postgres.WithPassword(cfg.Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	return &PostgresContainer{
		PostgresContainer: container,
		DSN:               dsn,
	}, nil
}

// Connect returns a sqlx.DB connection to the container
func (c *PostgresContainer) Connect(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", c.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}
	return db, nil
}

// Terminate stops and removes the container
func (c *PostgresContainer) Terminate(ctx context.Context) error {
	return c.PostgresContainer.Terminate(ctx)
}

// CreateLedgerSchema creates the ledger tables used by the inventory core
func (c *PostgresContainer) CreateLedgerSchema(ctx context.Context, db *sqlx.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS batches (
			id UUID PRIMARY KEY,
			batch_number VARCHAR(50) UNIQUE NOT NULL,
			item_id UUID NOT NULL,
			unit VARCHAR(20) NOT NULL,
			received_quantity NUMERIC(14,3) NOT NULL CHECK (received_quantity > 0),
			remaining_quantity NUMERIC(14,3) NOT NULL CHECK (remaining_quantity >= 0),
			unit_cost NUMERIC(14,4) NOT NULL CHECK (unit_cost >= 0),
			status VARCHAR(20) NOT NULL,
			received_at TIMESTAMPTZ NOT NULL,
			delivered_at TIMESTAMPTZ,
			archived_at TIMESTAMPTZ,
			is_repacked BOOLEAN NOT NULL DEFAULT FALSE,
			parent_batch_id UUID REFERENCES batches(id),
			created_by UUID NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_batches_item_status
			ON batches (item_id, status, received_at);

		CREATE TABLE IF NOT EXISTS batch_status_events (
			id UUID PRIMARY KEY,
			batch_id UUID NOT NULL REFERENCES batches(id),
			from_status VARCHAR(20) NOT NULL,
			to_status VARCHAR(20) NOT NULL,
			actor_id UUID NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS sequence_counters (
			prefix VARCHAR(10) PRIMARY KEY,
			current_number BIGINT NOT NULL,
			financial_year VARCHAR(4) NOT NULL,
			fy_start_date TIMESTAMPTZ NOT NULL,
			fy_end_date TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS reservations (
			id UUID PRIMARY KEY,
			item_id UUID NOT NULL,
			quantity NUMERIC(14,3) NOT NULL CHECK (quantity > 0),
			status VARCHAR(20) NOT NULL,
			reserved_until TIMESTAMPTZ NOT NULL,
			reference VARCHAR(100) NOT NULL,
			reference_type VARCHAR(50) NOT NULL,
			created_by UUID NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_reservations_pending
			ON reservations (item_id) WHERE status = 'pending';

		CREATE TABLE IF NOT EXISTS stock_allocations (
			id UUID PRIMARY KEY,
			reference VARCHAR(100) NOT NULL,
			reference_type VARCHAR(50) NOT NULL,
			created_by UUID NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS allocation_lines (
			id UUID PRIMARY KEY,
			allocation_id UUID NOT NULL REFERENCES stock_allocations(id),
			item_id UUID NOT NULL,
			batch_id UUID NOT NULL REFERENCES batches(id),
			batch_number VARCHAR(50) NOT NULL,
			quantity NUMERIC(14,3) NOT NULL CHECK (quantity > 0),
			unit_cost NUMERIC(14,4) NOT NULL,
			line_cost NUMERIC(18,6) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS repacking_records (
			id UUID PRIMARY KEY,
			parent_batch_id UUID UNIQUE NOT NULL REFERENCES batches(id),
			child_batch_id UUID UNIQUE NOT NULL REFERENCES batches(id),
			damaged_quantity NUMERIC(14,3) NOT NULL CHECK (damaged_quantity > 0),
			repacked_quantity NUMERIC(14,3) NOT NULL CHECK (repacked_quantity > 0),
			reason TEXT NOT NULL,
			created_by UUID NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`

	_, err := db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}

	return nil
}
