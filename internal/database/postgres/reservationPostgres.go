package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ds124wfegd/rafflr/internal/database"
	"github.com/ds124wfegd/rafflr/internal/entity"
)

const reservationColumns = `id, listing_id, buyer_id, start_ticket, quantity, state,
	amount, expires_at, created_at, updated_at`

func scanReservation(row rowScanner) (*entity.Reservation, error) {
	var r entity.Reservation
	err := row.Scan(
		&r.ID,
		&r.ListingID,
		&r.BuyerID,
		&r.StartTicket,
		&r.Quantity,
		&r.State,
		&r.Amount,
		&r.ExpiresAt,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func queryReservations(ctx context.Context, q querier, query string, args ...interface{}) ([]*entity.Reservation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	var reservations []*entity.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		reservations = append(reservations, r)
	}
	return reservations, rows.Err()
}

func queryLedger(ctx context.Context, q querier, listingID int64) ([]entity.LedgerEntry, error) {
	query := `
		SELECT id, buyer_id, start_ticket, quantity
		FROM reservations
		WHERE listing_id = $1 AND state = 'confirmed'
		ORDER BY start_ticket
	`
	rows, err := q.QueryContext(ctx, query, listingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query confirmed tickets: %w", err)
	}
	defer rows.Close()

	var ledger []entity.LedgerEntry
	for rows.Next() {
		var e entity.LedgerEntry
		if err := rows.Scan(&e.ReservationID, &e.BuyerID, &e.StartTicket, &e.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		ledger = append(ledger, e)
	}
	return ledger, rows.Err()
}

// GetReservation retrieves a reservation by its ID
func (r *ledgerRepository) GetReservation(ctx context.Context, id int64) (*entity.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1`

	reservation, err := scanReservation(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, entity.ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return reservation, nil
}

func (r *ledgerRepository) ListReservations(ctx context.Context, listingID int64) ([]*entity.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE listing_id = $1 ORDER BY id`
	return queryReservations(ctx, r.db, query, listingID)
}

// ListExpiredReservations returns pending reservations whose expiry is at or before the given time
func (r *ledgerRepository) ListExpiredReservations(ctx context.Context, before time.Time, limit int) ([]*entity.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE state = 'pending' AND expires_at <= $1
		ORDER BY expires_at, id
		LIMIT $2
	`
	return queryReservations(ctx, r.db, query, before, limit)
}

func (r *ledgerRepository) ConfirmedTickets(ctx context.Context, listingID int64) ([]entity.LedgerEntry, error) {
	return queryLedger(ctx, r.db, listingID)
}

// ledgerTx runs every statement on the transaction that holds the listing lock
type ledgerTx struct {
	ctx     context.Context
	tx      *sql.Tx
	listing *entity.Listing
}

func (t *ledgerTx) Listing() *entity.Listing {
	return t.listing.Clone()
}

func (t *ledgerTx) Allocate(req database.AllocationRequest) (*entity.Reservation, error) {
	query := `SELECT ` + reservationColumns + `
		FROM reservations
		WHERE listing_id = $1 AND state IN ('pending', 'confirmed')`
	held, err := queryReservations(t.ctx, t.tx, query, t.listing.ID)
	if err != nil {
		return nil, err
	}

	start, err := database.PlanAllocation(t.listing, held, req.Quantity, req.Now)
	if err != nil {
		return nil, err
	}

	reservation := &entity.Reservation{
		ListingID:   t.listing.ID,
		BuyerID:     req.BuyerID,
		StartTicket: start,
		Quantity:    req.Quantity,
		State:       entity.PaymentStatePending,
		Amount:      req.Amount,
		ExpiresAt:   req.ExpiresAt,
		CreatedAt:   req.Now,
		UpdatedAt:   req.Now,
	}

	insert := `
		INSERT INTO reservations (
			listing_id, buyer_id, start_ticket, quantity, state,
			amount, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	err = t.tx.QueryRowContext(t.ctx, insert,
		reservation.ListingID,
		reservation.BuyerID,
		reservation.StartTicket,
		reservation.Quantity,
		reservation.State,
		reservation.Amount,
		reservation.ExpiresAt,
		reservation.CreatedAt,
		reservation.UpdatedAt,
	).Scan(&reservation.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create reservation: %w", err)
	}
	return reservation, nil
}

func (t *ledgerTx) Reservation(id int64) (*entity.Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = $1 AND listing_id = $2`

	reservation, err := scanReservation(t.tx.QueryRowContext(t.ctx, query, id, t.listing.ID))
	if err == sql.ErrNoRows {
		return nil, entity.ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return reservation, nil
}

func (t *ledgerTx) PendingReservations() ([]*entity.Reservation, error) {
	query := `SELECT ` + reservationColumns + `
		FROM reservations
		WHERE listing_id = $1 AND state = 'pending'
		ORDER BY id`
	return queryReservations(t.ctx, t.tx, query, t.listing.ID)
}

func (t *ledgerTx) setState(id int64, to entity.PaymentState, now time.Time) error {
	reservation, err := t.Reservation(id)
	if err != nil {
		return err
	}
	changed, err := database.NextPaymentState(reservation.State, to)
	if err != nil {
		return fmt.Errorf("reservation %d: %w", id, err)
	}
	if !changed {
		return nil
	}

	result, err := t.tx.ExecContext(t.ctx,
		`UPDATE reservations SET state = $1, updated_at = $2 WHERE id = $3 AND state = 'pending'`,
		to, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update reservation state: %w", err)
	}
	return checkRowsAffected(result, "reservation")
}

func (t *ledgerTx) Confirm(id int64, now time.Time) error {
	return t.setState(id, entity.PaymentStateConfirmed, now)
}

func (t *ledgerTx) Fail(id int64, now time.Time) error {
	return t.setState(id, entity.PaymentStateFailed, now)
}

func (t *ledgerTx) Expire(id int64, now time.Time) error {
	return t.setState(id, entity.PaymentStateExpired, now)
}

func (t *ledgerTx) Cancel(id int64, now time.Time) error {
	return t.setState(id, entity.PaymentStateCancelled, now)
}

func (t *ledgerTx) ConfirmedCount() (int, error) {
	var count int
	query := `SELECT COALESCE(SUM(quantity), 0) FROM reservations WHERE listing_id = $1 AND state = 'confirmed'`
	if err := t.tx.QueryRowContext(t.ctx, query, t.listing.ID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count confirmed tickets: %w", err)
	}
	return count, nil
}

func (t *ledgerTx) ConfirmedTickets() ([]entity.LedgerEntry, error) {
	return queryLedger(t.ctx, t.tx, t.listing.ID)
}

func (t *ledgerTx) TransitionListing(from, to entity.ListingState, now time.Time) error {
	if err := database.CheckTransition(t.listing.State, from, to); err != nil {
		return err
	}

	result, err := t.tx.ExecContext(t.ctx,
		`UPDATE listings SET state = $1, updated_at = $2 WHERE id = $3 AND state = $4`,
		to, now, t.listing.ID, from,
	)
	if err != nil {
		return fmt.Errorf("failed to update listing state: %w", err)
	}
	if err := checkRowsAffected(result, "listing"); err != nil {
		return err
	}

	t.listing.State = to
	t.listing.UpdatedAt = now
	return nil
}

func (t *ledgerTx) SaveDrawRecord(record *entity.DrawRecord) error {
	insert := `
		INSERT INTO draw_records (` + drawColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := t.tx.ExecContext(t.ctx, insert,
		record.ListingID,
		record.WinningTicket,
		record.WinnerID,
		record.ReservationID,
		record.Position,
		record.TotalTickets,
		record.Seed,
		record.AlgorithmVersion,
		record.DrawnAt,
	)
	if isUniqueViolation(err) {
		return entity.ErrAlreadyDrawn
	}
	if err != nil {
		return fmt.Errorf("failed to save draw record: %w", err)
	}

	if _, err := t.tx.ExecContext(t.ctx,
		`UPDATE listings SET winner_id = $1 WHERE id = $2`,
		record.WinnerID, t.listing.ID,
	); err != nil {
		return fmt.Errorf("failed to set winner: %w", err)
	}

	winner := record.WinnerID
	t.listing.WinnerID = &winner
	return nil
}

func (t *ledgerTx) ClaimPaymentKey(event *entity.PaymentEvent) (bool, error) {
	result, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO payment_events (idempotency_key, reservation_id, outcome, received_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, event.IdempotencyKey, event.ReservationID, event.Outcome, event.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("failed to record payment event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}
