package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ds124wfegd/rafflr/internal/database"
	"github.com/ds124wfegd/rafflr/internal/entity"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	listingCols = []string{"id", "seller_id", "ticket_price", "capacity", "deadline", "mode", "state",
		"seed_material", "winner_id", "created_at", "updated_at"}
	reservationCols = []string{"id", "listing_id", "buyer_id", "start_ticket", "quantity", "state",
		"amount", "expires_at", "created_at", "updated_at"}
	ts = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
)

func newMock(t *testing.T) (*ledgerRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &ledgerRepository{db: db}, mock
}

func listingRow(state string) *sqlmock.Rows {
	return sqlmock.NewRows(listingCols).
		AddRow(int64(1), int64(2), "1.50", int64(5), nil, "limit", state, []byte("seed"), nil, ts, ts)
}

func TestGetListing(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectQuery("SELECT (.+) FROM listings WHERE id = \\$1").
		WithArgs(int64(1)).
		WillReturnRows(listingRow("open"))

	l, err := repo.GetListing(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, entity.ListingStateOpen, l.State)
	assert.Equal(t, entity.ClosingModeLimit, l.Mode)
	require.NotNil(t, l.Capacity)
	assert.Equal(t, 5, *l.Capacity)
	assert.Nil(t, l.Deadline)
	assert.True(t, l.TicketPrice.Equal(decimal.RequireFromString("1.5")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetListingNotFound(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectQuery("SELECT (.+) FROM listings WHERE id = \\$1").
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(listingCols))

	_, err := repo.GetListing(context.Background(), 9)
	assert.ErrorIs(t, err, entity.ErrListingNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocateWithinListing(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM listings WHERE id = \\$1 FOR UPDATE").
		WithArgs(int64(1)).
		WillReturnRows(listingRow("open"))
	mock.ExpectQuery("SELECT (.+) FROM reservations WHERE listing_id = \\$1 AND state IN").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(reservationCols).
			AddRow(int64(10), int64(1), int64(3), 1, 2, "pending", "3.00", ts, ts, ts))
	mock.ExpectQuery("INSERT INTO reservations").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectCommit()

	var got *entity.Reservation
	err := repo.WithinListing(context.Background(), 1, func(tx database.LedgerTx) error {
		var err error
		got, err = tx.Allocate(database.AllocationRequest{
			BuyerID:   4,
			Quantity:  3,
			Amount:    decimal.RequireFromString("4.50"),
			Now:       ts,
			ExpiresAt: ts.Add(15 * time.Minute),
		})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), got.ID)
	assert.Equal(t, 3, got.StartTicket)
	assert.Equal(t, entity.PaymentStatePending, got.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAllocateOverCapacityRollsBack(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM listings WHERE id = \\$1 FOR UPDATE").
		WillReturnRows(listingRow("open"))
	mock.ExpectQuery("SELECT (.+) FROM reservations WHERE listing_id = \\$1 AND state IN").
		WillReturnRows(sqlmock.NewRows(reservationCols).
			AddRow(int64(10), int64(1), int64(3), 1, 4, "confirmed", "6.00", ts, ts, ts))
	mock.ExpectRollback()

	err := repo.WithinListing(context.Background(), 1, func(tx database.LedgerTx) error {
		_, err := tx.Allocate(database.AllocationRequest{BuyerID: 4, Quantity: 2, Now: ts, ExpiresAt: ts})
		return err
	})
	assert.ErrorIs(t, err, entity.ErrCapacityExceeded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionListingLostRace(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM listings WHERE id = \\$1 FOR UPDATE").
		WillReturnRows(listingRow("open"))
	mock.ExpectExec("UPDATE listings SET state").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.WithinListing(context.Background(), 1, func(tx database.LedgerTx) error {
		return tx.TransitionListing(entity.ListingStateOpen, entity.ListingStateClosing, ts)
	})
	assert.ErrorIs(t, err, entity.ErrConcurrencyConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockFailureMapsToConflict(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM listings WHERE id = \\$1 FOR UPDATE").
		WillReturnError(&pq.Error{Code: "40P01", Message: "deadlock detected"})
	mock.ExpectRollback()

	err := repo.WithinListing(context.Background(), 1, func(tx database.LedgerTx) error {
		t.Fatal("unit of work must not run")
		return nil
	})
	assert.ErrorIs(t, err, entity.ErrConcurrencyConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveDrawRecordTwice(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM listings WHERE id = \\$1 FOR UPDATE").
		WillReturnRows(listingRow("closing"))
	mock.ExpectExec("INSERT INTO draw_records").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key"})
	mock.ExpectRollback()

	err := repo.WithinListing(context.Background(), 1, func(tx database.LedgerTx) error {
		return tx.SaveDrawRecord(&entity.DrawRecord{ListingID: 1, WinnerID: 3, WinningTicket: 2})
	})
	assert.ErrorIs(t, err, entity.ErrAlreadyDrawn)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimPaymentKeyDuplicate(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM listings WHERE id = \\$1 FOR UPDATE").
		WillReturnRows(listingRow("open"))
	mock.ExpectExec("INSERT INTO payment_events").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	var fresh bool
	err := repo.WithinListing(context.Background(), 1, func(tx database.LedgerTx) error {
		var err error
		fresh, err = tx.ClaimPaymentKey(&entity.PaymentEvent{
			IdempotencyKey: "evt_1",
			ReservationID:  10,
			Outcome:        entity.PaymentSucceeded,
			ReceivedAt:     ts,
		})
		return err
	})
	require.NoError(t, err)
	assert.False(t, fresh)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmedTickets(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectQuery("SELECT id, buyer_id, start_ticket, quantity FROM reservations").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "buyer_id", "start_ticket", "quantity"}).
			AddRow(int64(1), int64(7), 1, 2).
			AddRow(int64(3), int64(8), 3, 1))

	ledger, err := repo.ConfirmedTickets(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, ledger, 2)
	assert.Equal(t, 3, entity.TotalTickets(ledger))
	assert.Equal(t, int64(8), ledger[1].BuyerID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
