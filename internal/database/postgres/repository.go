package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ds124wfegd/rafflr/internal/database"
	"github.com/ds124wfegd/rafflr/internal/entity"

	"github.com/lib/pq"
)

// pq error codes the store maps to domain errors
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type ledgerRepository struct {
	db *sql.DB
}

// NewLedgerRepository returns a Store backed by PostgreSQL. Per-listing
// serialization comes from a row lock on the listing.
func NewLedgerRepository(db *sql.DB) database.Store {
	return &ledgerRepository{db: db}
}

// WithinListing runs fn inside a transaction holding the listing row lock
func (r *ledgerRepository) WithinListing(ctx context.Context, listingID int64, fn func(tx database.LedgerTx) error) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}
	defer tx.Rollback()

	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1 FOR UPDATE`
	listing, err := scanListing(tx.QueryRowContext(ctx, query, listingID))
	if err == sql.ErrNoRows {
		return entity.ErrListingNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock listing: %w", mapError(err))
	}

	if err := fn(&ledgerTx{ctx: ctx, tx: tx, listing: listing}); err != nil {
		return mapError(err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}
	return nil
}

// mapError turns lock and serialization failures into ErrConcurrencyConflict
func mapError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch pqErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return fmt.Errorf("%w: %s", entity.ErrConcurrencyConflict, pqErr.Message)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == codeUniqueViolation
}

func checkRowsAffected(result sql.Result, what string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s changed concurrently", entity.ErrConcurrencyConflict, what)
	}
	return nil
}
