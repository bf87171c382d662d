package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ds124wfegd/rafflr/internal/database"
	"github.com/ds124wfegd/rafflr/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func openListing(t *testing.T, s *Store, capacity int) *entity.Listing {
	t.Helper()
	l := &entity.Listing{
		SellerID:     1,
		TicketPrice:  decimal.RequireFromString("1.00"),
		Capacity:     &capacity,
		Mode:         entity.ClosingModeLimit,
		State:        entity.ListingStateOpen,
		SeedMaterial: []byte("seed"),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, s.CreateListing(context.Background(), l))
	return l
}

func allocate(t *testing.T, s *Store, listingID, buyer int64, qty int) (*entity.Reservation, error) {
	t.Helper()
	var out *entity.Reservation
	err := s.WithinListing(context.Background(), listingID, func(tx database.LedgerTx) error {
		r, err := tx.Allocate(database.AllocationRequest{
			BuyerID:   buyer,
			Quantity:  qty,
			Amount:    decimal.NewFromInt(int64(qty)),
			Now:       now,
			ExpiresAt: now.Add(15 * time.Minute),
		})
		out = r
		return err
	})
	return out, err
}

func TestConcurrentAllocationNeverExceedsCapacity(t *testing.T) {
	s := NewStore()
	l := openListing(t, s, 10)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		rejected int
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(buyer int64) {
			defer wg.Done()
			_, err := allocate(t, s, l.ID, buyer, 1)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errors.Is(err, entity.ErrCapacityExceeded) {
				rejected++
			}
		}(int64(i + 2))
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	assert.Equal(t, 30, rejected)

	reservations, err := s.ListReservations(context.Background(), l.ID)
	require.NoError(t, err)
	seen := make(map[int]bool)
	for _, r := range reservations {
		assert.False(t, seen[r.StartTicket], "ticket %d allocated twice", r.StartTicket)
		seen[r.StartTicket] = true
		assert.LessOrEqual(t, r.StartTicket, 10)
	}
}

func TestExpiredNumbersAreReallocated(t *testing.T) {
	s := NewStore()
	l := openListing(t, s, 5)

	first, err := allocate(t, s, l.ID, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, first.StartTicket)

	require.NoError(t, s.WithinListing(context.Background(), l.ID, func(tx database.LedgerTx) error {
		return tx.Expire(first.ID, now.Add(time.Hour))
	}))

	second, err := allocate(t, s, l.ID, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, second.StartTicket)
	assert.Equal(t, 2, second.EndTicket())

	got, err := s.GetReservation(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.PaymentStateExpired, got.State)
}

func TestUnitOfWorkRollsBackOnError(t *testing.T) {
	s := NewStore()
	l := openListing(t, s, 5)
	boom := errors.New("boom")

	err := s.WithinListing(context.Background(), l.ID, func(tx database.LedgerTx) error {
		if _, err := tx.Allocate(database.AllocationRequest{BuyerID: 2, Quantity: 3, Now: now, ExpiresAt: now}); err != nil {
			return err
		}
		if err := tx.TransitionListing(entity.ListingStateOpen, entity.ListingStateCancelled, now); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetListing(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ListingStateOpen, got.State)

	reservations, err := s.ListReservations(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Empty(t, reservations)
}

func TestConfirmIsIdempotent(t *testing.T) {
	s := NewStore()
	l := openListing(t, s, 5)
	r, err := allocate(t, s, l.ID, 2, 3)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		require.NoError(t, s.WithinListing(context.Background(), l.ID, func(tx database.LedgerTx) error {
			return tx.Confirm(r.ID, now)
		}))
	}

	ledger, err := s.ConfirmedTickets(context.Background(), l.ID)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	assert.Equal(t, 3, entity.TotalTickets(ledger))

	err = s.WithinListing(context.Background(), l.ID, func(tx database.LedgerTx) error {
		return tx.Fail(r.ID, now)
	})
	assert.ErrorIs(t, err, entity.ErrReservationNotPending)
}

func TestTransitionAndDrawRecordAreWriteOnce(t *testing.T) {
	s := NewStore()
	l := openListing(t, s, 1)
	ctx := context.Background()

	require.NoError(t, s.WithinListing(ctx, l.ID, func(tx database.LedgerTx) error {
		if err := tx.TransitionListing(entity.ListingStateOpen, entity.ListingStateClosing, now); err != nil {
			return err
		}
		if err := tx.TransitionListing(entity.ListingStateClosing, entity.ListingStateDrawn, now); err != nil {
			return err
		}
		return tx.SaveDrawRecord(&entity.DrawRecord{ListingID: l.ID, WinnerID: 7, WinningTicket: 1})
	}))

	err := s.WithinListing(ctx, l.ID, func(tx database.LedgerTx) error {
		return tx.TransitionListing(entity.ListingStateOpen, entity.ListingStateClosing, now)
	})
	assert.ErrorIs(t, err, entity.ErrInvalidTransition)

	err = s.WithinListing(ctx, l.ID, func(tx database.LedgerTx) error {
		return tx.SaveDrawRecord(&entity.DrawRecord{ListingID: l.ID, WinnerID: 8})
	})
	assert.ErrorIs(t, err, entity.ErrAlreadyDrawn)

	rec, err := s.GetDrawRecord(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.WinnerID)

	got, err := s.GetListing(ctx, l.ID)
	require.NoError(t, err)
	require.NotNil(t, got.WinnerID)
	assert.Equal(t, int64(7), *got.WinnerID)
}

func TestClaimPaymentKey(t *testing.T) {
	s := NewStore()
	l := openListing(t, s, 5)
	ctx := context.Background()

	claim := func(key string) bool {
		var fresh bool
		require.NoError(t, s.WithinListing(ctx, l.ID, func(tx database.LedgerTx) error {
			var err error
			fresh, err = tx.ClaimPaymentKey(&entity.PaymentEvent{IdempotencyKey: key, ReservationID: 1, Outcome: entity.PaymentSucceeded})
			return err
		}))
		return fresh
	}

	assert.True(t, claim("evt_1"))
	assert.False(t, claim("evt_1"))
	assert.True(t, claim("evt_2"))
}

func TestPaymentKeysAreGlobal(t *testing.T) {
	s := NewStore()
	first := openListing(t, s, 5)
	second := openListing(t, s, 5)
	ctx := context.Background()

	claim := func(listingID int64, key string) (bool, error) {
		var fresh bool
		err := s.WithinListing(ctx, listingID, func(tx database.LedgerTx) error {
			var err error
			fresh, err = tx.ClaimPaymentKey(&entity.PaymentEvent{IdempotencyKey: key, ReservationID: 1, Outcome: entity.PaymentSucceeded})
			return err
		})
		return fresh, err
	}

	fresh, err := claim(first.ID, "evt_shared")
	require.NoError(t, err)
	assert.True(t, fresh)

	// ключ уже использован на другом лоте
	fresh, err = claim(second.ID, "evt_shared")
	require.NoError(t, err)
	assert.False(t, fresh)
}

func TestPaymentKeyReleasedOnRollback(t *testing.T) {
	s := NewStore()
	l := openListing(t, s, 5)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinListing(ctx, l.ID, func(tx database.LedgerTx) error {
		fresh, err := tx.ClaimPaymentKey(&entity.PaymentEvent{IdempotencyKey: "evt_1", ReservationID: 1})
		require.NoError(t, err)
		require.True(t, fresh)
		return boom
	})
	require.ErrorIs(t, err, boom)

	var fresh bool
	require.NoError(t, s.WithinListing(ctx, l.ID, func(tx database.LedgerTx) error {
		var err error
		fresh, err = tx.ClaimPaymentKey(&entity.PaymentEvent{IdempotencyKey: "evt_1", ReservationID: 1})
		return err
	}))
	assert.True(t, fresh)
}

func TestPaymentKeyHeldByOpenUnitOfWork(t *testing.T) {
	s := NewStore()
	first := openListing(t, s, 5)
	second := openListing(t, s, 5)
	ctx := context.Background()

	claimed := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.WithinListing(ctx, first.ID, func(tx database.LedgerTx) error {
			if _, err := tx.ClaimPaymentKey(&entity.PaymentEvent{IdempotencyKey: "evt_1"}); err != nil {
				return err
			}
			close(claimed)
			<-release
			return nil
		})
	}()

	<-claimed
	err := s.WithinListing(ctx, second.ID, func(tx database.LedgerTx) error {
		_, err := tx.ClaimPaymentKey(&entity.PaymentEvent{IdempotencyKey: "evt_1"})
		return err
	})
	assert.ErrorIs(t, err, entity.ErrConcurrencyConflict)

	close(release)
	require.NoError(t, <-done)
}

func TestListExpiredReservations(t *testing.T) {
	s := NewStore()
	l := openListing(t, s, 10)
	_, err := allocate(t, s, l.ID, 2, 1)
	require.NoError(t, err)
	_, err = allocate(t, s, l.ID, 3, 1)
	require.NoError(t, err)

	none, err := s.ListExpiredReservations(context.Background(), now, 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	expired, err := s.ListExpiredReservations(context.Background(), now.Add(time.Hour), 1)
	require.NoError(t, err)
	assert.Len(t, expired, 1)
}

func TestUnknownListing(t *testing.T) {
	s := NewStore()
	_, err := s.GetListing(context.Background(), 99)
	assert.ErrorIs(t, err, entity.ErrListingNotFound)

	err = s.WithinListing(context.Background(), 99, func(tx database.LedgerTx) error { return nil })
	assert.ErrorIs(t, err, entity.ErrListingNotFound)

	_, err = s.GetReservation(context.Background(), 99)
	assert.ErrorIs(t, err, entity.ErrReservationNotFound)
}
