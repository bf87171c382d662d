// Package database defines the ticket ledger contract shared by the memory
// and postgres stores.
package database

import (
	"context"
	"time"

	"github.com/ds124wfegd/rafflr/internal/entity"

	"github.com/shopspring/decimal"
)

type ListingRepository interface {
	CreateListing(ctx context.Context, listing *entity.Listing) error
	GetListing(ctx context.Context, id int64) (*entity.Listing, error)
	ListListingIDsByState(ctx context.Context, states ...entity.ListingState) ([]int64, error)

	GetDrawRecord(ctx context.Context, listingID int64) (*entity.DrawRecord, error)
}

type ReservationRepository interface {
	GetReservation(ctx context.Context, id int64) (*entity.Reservation, error)
	ListReservations(ctx context.Context, listingID int64) ([]*entity.Reservation, error)
	ListExpiredReservations(ctx context.Context, before time.Time, limit int) ([]*entity.Reservation, error)

	// ConfirmedTickets returns the confirmed ledger ordered by ticket number.
	ConfirmedTickets(ctx context.Context, listingID int64) ([]entity.LedgerEntry, error)
}

// Store is the ledger store. All writes to a listing, its reservations and
// its draw record go through WithinListing.
type Store interface {
	ListingRepository
	ReservationRepository

	// WithinListing runs fn as one atomic unit of work serialized against
	// every other unit of work on the same listing. Changes made through tx
	// are committed only if fn returns nil.
	WithinListing(ctx context.Context, listingID int64, fn func(tx LedgerTx) error) error
}

type AllocationRequest struct {
	BuyerID   int64
	Quantity  int
	Amount    decimal.Decimal
	Now       time.Time
	ExpiresAt time.Time
}

// LedgerTx is the per-listing unit of work.
type LedgerTx interface {
	// Listing is the locked listing as seen by this unit of work.
	Listing() *entity.Listing

	Allocate(req AllocationRequest) (*entity.Reservation, error)
	Reservation(id int64) (*entity.Reservation, error)
	PendingReservations() ([]*entity.Reservation, error)

	// Confirm is idempotent for an already confirmed reservation.
	Confirm(id int64, now time.Time) error
	// Fail, Expire and Cancel release the ticket numbers of a pending reservation.
	Fail(id int64, now time.Time) error
	Expire(id int64, now time.Time) error
	Cancel(id int64, now time.Time) error

	ConfirmedCount() (int, error)
	ConfirmedTickets() ([]entity.LedgerEntry, error)

	// TransitionListing is a compare-and-set on the listing state.
	TransitionListing(from, to entity.ListingState, now time.Time) error
	// SaveDrawRecord stores the write-once draw record and the winner.
	SaveDrawRecord(record *entity.DrawRecord) error
	// ClaimPaymentKey records a payment callback and reports whether its
	// idempotency key was seen for the first time.
	ClaimPaymentKey(event *entity.PaymentEvent) (bool, error)
}
