package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ds124wfegd/rafflr/internal/entity"

	"github.com/lib/pq"
)

const listingColumns = `id, seller_id, ticket_price, capacity, deadline, mode, state,
	seed_material, winner_id, created_at, updated_at`

const drawColumns = `listing_id, winning_ticket, winner_id, reservation_id, position,
	total_tickets, seed, algorithm_version, drawn_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanListing(row rowScanner) (*entity.Listing, error) {
	var (
		l        entity.Listing
		capacity sql.NullInt64
		deadline sql.NullTime
		winnerID sql.NullInt64
	)
	err := row.Scan(
		&l.ID,
		&l.SellerID,
		&l.TicketPrice,
		&capacity,
		&deadline,
		&l.Mode,
		&l.State,
		&l.SeedMaterial,
		&winnerID,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if capacity.Valid {
		c := int(capacity.Int64)
		l.Capacity = &c
	}
	if deadline.Valid {
		d := deadline.Time
		l.Deadline = &d
	}
	if winnerID.Valid {
		w := winnerID.Int64
		l.WinnerID = &w
	}
	return &l, nil
}

func scanDrawRecord(row rowScanner) (*entity.DrawRecord, error) {
	var d entity.DrawRecord
	err := row.Scan(
		&d.ListingID,
		&d.WinningTicket,
		&d.WinnerID,
		&d.ReservationID,
		&d.Position,
		&d.TotalTickets,
		&d.Seed,
		&d.AlgorithmVersion,
		&d.DrawnAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateListing inserts a listing and sets its ID
func (r *ledgerRepository) CreateListing(ctx context.Context, listing *entity.Listing) error {
	query := `
		INSERT INTO listings (
			seller_id, ticket_price, capacity, deadline, mode, state,
			seed_material, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	var capacity sql.NullInt64
	if listing.Capacity != nil {
		capacity = sql.NullInt64{Int64: int64(*listing.Capacity), Valid: true}
	}
	var deadline sql.NullTime
	if listing.Deadline != nil {
		deadline = sql.NullTime{Time: *listing.Deadline, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, query,
		listing.SellerID,
		listing.TicketPrice,
		capacity,
		deadline,
		listing.Mode,
		listing.State,
		listing.SeedMaterial,
		listing.CreatedAt,
		listing.UpdatedAt,
	).Scan(&listing.ID)
	if err != nil {
		return fmt.Errorf("failed to create listing: %w", err)
	}
	return nil
}

// GetListing retrieves a listing by its ID
func (r *ledgerRepository) GetListing(ctx context.Context, id int64) (*entity.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`

	listing, err := scanListing(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, entity.ErrListingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return listing, nil
}

func (r *ledgerRepository) ListListingIDsByState(ctx context.Context, states ...entity.ListingState) ([]int64, error) {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT id FROM listings WHERE state = ANY($1) ORDER BY id`, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan listing id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *ledgerRepository) GetDrawRecord(ctx context.Context, listingID int64) (*entity.DrawRecord, error) {
	query := `SELECT ` + drawColumns + ` FROM draw_records WHERE listing_id = $1`

	record, err := scanDrawRecord(r.db.QueryRowContext(ctx, query, listingID))
	if err == sql.ErrNoRows {
		return nil, entity.ErrDrawNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get draw record: %w", err)
	}
	return record, nil
}
