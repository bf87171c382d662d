package postgres

import (
	"database/sql"
	"fmt"

	"github.com/ds124wfegd/rafflr/config"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

func NewPostgresDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.Info("Successfully connected to PostgreSQL")
	return db, nil
}

// migrations are idempotent and applied in order
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS listings (
		id BIGSERIAL PRIMARY KEY,
		seller_id BIGINT NOT NULL,
		ticket_price NUMERIC(12, 2) NOT NULL CHECK (ticket_price > 0),
		capacity INTEGER CHECK (capacity IS NULL OR capacity > 0),
		deadline TIMESTAMPTZ,
		mode VARCHAR(16) NOT NULL,
		state VARCHAR(16) NOT NULL DEFAULT 'draft',
		seed_material BYTEA NOT NULL,
		winner_id BIGINT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT listings_closing_config CHECK (
			(mode = 'limit' AND capacity IS NOT NULL AND deadline IS NULL) OR
			(mode = 'deadline' AND deadline IS NOT NULL AND capacity IS NULL) OR
			(mode = 'either' AND capacity IS NOT NULL AND deadline IS NOT NULL)
		)
	)`,

	`CREATE TABLE IF NOT EXISTS reservations (
		id BIGSERIAL PRIMARY KEY,
		listing_id BIGINT NOT NULL REFERENCES listings(id) ON DELETE RESTRICT,
		buyer_id BIGINT NOT NULL,
		start_ticket INTEGER NOT NULL CHECK (start_ticket > 0),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		state VARCHAR(16) NOT NULL DEFAULT 'pending',
		amount NUMERIC(12, 2) NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS draw_records (
		listing_id BIGINT PRIMARY KEY REFERENCES listings(id),
		winning_ticket INTEGER NOT NULL,
		winner_id BIGINT NOT NULL,
		reservation_id BIGINT NOT NULL REFERENCES reservations(id),
		position INTEGER NOT NULL,
		total_tickets INTEGER NOT NULL,
		seed VARCHAR(64) NOT NULL,
		algorithm_version VARCHAR(64) NOT NULL,
		drawn_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS payment_events (
		idempotency_key VARCHAR(255) PRIMARY KEY,
		reservation_id BIGINT NOT NULL REFERENCES reservations(id),
		outcome VARCHAR(16) NOT NULL,
		received_at TIMESTAMPTZ NOT NULL
	)`,

	// Indexes
	`CREATE INDEX IF NOT EXISTS idx_listings_state ON listings(state)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_listing_state ON reservations(listing_id, state)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_pending_expiry ON reservations(expires_at) WHERE state = 'pending'`,
	`CREATE INDEX IF NOT EXISTS idx_payment_events_reservation ON payment_events(reservation_id)`,
}

func RunMigrations(db *sql.DB) error {
	for _, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	logrus.Info("Database migrations completed successfully")
	return nil
}
