// Package memory is an in-process ledger store. Each listing has its own
// mutex; a unit of work runs on a copy of the listing's records and swaps
// it in on success. Payment idempotency keys are global to the store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ds124wfegd/rafflr/internal/database"
	"github.com/ds124wfegd/rafflr/internal/entity"
)

type listingRecord struct {
	mu           sync.Mutex
	listing      *entity.Listing
	reservations map[int64]*entity.Reservation
	draw         *entity.DrawRecord
}

// paymentClaim is owned by the unit of work that recorded it until commit
type paymentClaim struct {
	event *entity.PaymentEvent
	owner *ledgerTx
}

type Store struct {
	mu            sync.RWMutex
	listings      map[int64]*listingRecord
	reservationOf map[int64]int64 // reservation id -> listing id
	payments      map[string]*paymentClaim
	nextListing   int64
	nextRes       int64
}

func NewStore() *Store {
	return &Store{
		listings:      make(map[int64]*listingRecord),
		reservationOf: make(map[int64]int64),
		payments:      make(map[string]*paymentClaim),
	}
}

var _ database.Store = (*Store)(nil)

func (s *Store) CreateListing(ctx context.Context, listing *entity.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextListing++
	listing.ID = s.nextListing
	s.listings[listing.ID] = &listingRecord{
		listing:      listing.Clone(),
		reservations: make(map[int64]*entity.Reservation),
	}
	return nil
}

func (s *Store) record(id int64) (*listingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.listings[id]
	if !ok {
		return nil, entity.ErrListingNotFound
	}
	return rec, nil
}

func (s *Store) GetListing(ctx context.Context, id int64) (*entity.Listing, error) {
	rec, err := s.record(id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.listing.Clone(), nil
}

func (s *Store) ListListingIDsByState(ctx context.Context, states ...entity.ListingState) ([]int64, error) {
	s.mu.RLock()
	records := make([]*listingRecord, 0, len(s.listings))
	for _, rec := range s.listings {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	want := make(map[entity.ListingState]bool, len(states))
	for _, st := range states {
		want[st] = true
	}

	var ids []int64
	for _, rec := range records {
		rec.mu.Lock()
		if want[rec.listing.State] {
			ids = append(ids, rec.listing.ID)
		}
		rec.mu.Unlock()
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) GetDrawRecord(ctx context.Context, listingID int64) (*entity.DrawRecord, error) {
	rec, err := s.record(listingID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.draw == nil {
		return nil, entity.ErrDrawNotFound
	}
	return rec.draw.Clone(), nil
}

func (s *Store) GetReservation(ctx context.Context, id int64) (*entity.Reservation, error) {
	s.mu.RLock()
	listingID, ok := s.reservationOf[id]
	s.mu.RUnlock()
	if !ok {
		return nil, entity.ErrReservationNotFound
	}

	rec, err := s.record(listingID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	r, ok := rec.reservations[id]
	if !ok {
		return nil, entity.ErrReservationNotFound
	}
	return r.Clone(), nil
}

func (s *Store) ListReservations(ctx context.Context, listingID int64) ([]*entity.Reservation, error) {
	rec, err := s.record(listingID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return sortedReservations(rec.reservations), nil
}

func (s *Store) ListExpiredReservations(ctx context.Context, before time.Time, limit int) ([]*entity.Reservation, error) {
	s.mu.RLock()
	records := make([]*listingRecord, 0, len(s.listings))
	for _, rec := range s.listings {
		records = append(records, rec)
	}
	s.mu.RUnlock()

	var expired []*entity.Reservation
	for _, rec := range records {
		rec.mu.Lock()
		for _, r := range rec.reservations {
			if r.State == entity.PaymentStatePending && !before.Before(r.ExpiresAt) {
				expired = append(expired, r.Clone())
			}
		}
		rec.mu.Unlock()
	}

	sort.Slice(expired, func(i, j int) bool {
		if expired[i].ExpiresAt.Equal(expired[j].ExpiresAt) {
			return expired[i].ID < expired[j].ID
		}
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

func (s *Store) ConfirmedTickets(ctx context.Context, listingID int64) ([]entity.LedgerEntry, error) {
	rec, err := s.record(listingID)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return confirmedLedger(rec.reservations), nil
}

func (s *Store) WithinListing(ctx context.Context, listingID int64, fn func(tx database.LedgerTx) error) error {
	rec, err := s.record(listingID)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &ledgerTx{
		store:        s,
		listing:      rec.listing.Clone(),
		reservations: make(map[int64]*entity.Reservation, len(rec.reservations)),
		draw:         rec.draw.Clone(),
	}
	for id, r := range rec.reservations {
		tx.reservations[id] = r.Clone()
	}

	if err := fn(tx); err != nil {
		s.mu.Lock()
		for _, key := range tx.claimed {
			delete(s.payments, key)
		}
		s.mu.Unlock()
		return err
	}

	rec.listing = tx.listing
	rec.reservations = tx.reservations
	rec.draw = tx.draw

	s.mu.Lock()
	for _, id := range tx.created {
		s.reservationOf[id] = listingID
	}
	for _, key := range tx.claimed {
		s.payments[key].owner = nil
	}
	s.mu.Unlock()
	return nil
}

// claimPayment records key for tx. A key still held by another unit of
// work is a conflict, like a blocked unique insert in postgres.
func (s *Store) claimPayment(tx *ledgerTx, event *entity.PaymentEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.payments[event.IdempotencyKey]; ok {
		if c.owner != nil && c.owner != tx {
			return false, fmt.Errorf("%w: payment key %q is being applied", entity.ErrConcurrencyConflict, event.IdempotencyKey)
		}
		return false, nil
	}

	p := *event
	s.payments[event.IdempotencyKey] = &paymentClaim{event: &p, owner: tx}
	tx.claimed = append(tx.claimed, event.IdempotencyKey)
	return true, nil
}

func (s *Store) reservationID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRes++
	return s.nextRes
}

type ledgerTx struct {
	store        *Store
	listing      *entity.Listing
	reservations map[int64]*entity.Reservation
	draw         *entity.DrawRecord
	created      []int64
	claimed      []string
}

func (tx *ledgerTx) Listing() *entity.Listing {
	return tx.listing.Clone()
}

func (tx *ledgerTx) Allocate(req database.AllocationRequest) (*entity.Reservation, error) {
	held := make([]*entity.Reservation, 0, len(tx.reservations))
	for _, r := range tx.reservations {
		held = append(held, r)
	}

	start, err := database.PlanAllocation(tx.listing, held, req.Quantity, req.Now)
	if err != nil {
		return nil, err
	}

	r := &entity.Reservation{
		ID:          tx.store.reservationID(),
		ListingID:   tx.listing.ID,
		BuyerID:     req.BuyerID,
		StartTicket: start,
		Quantity:    req.Quantity,
		State:       entity.PaymentStatePending,
		Amount:      req.Amount,
		ExpiresAt:   req.ExpiresAt,
		CreatedAt:   req.Now,
		UpdatedAt:   req.Now,
	}
	tx.reservations[r.ID] = r
	tx.created = append(tx.created, r.ID)
	return r.Clone(), nil
}

func (tx *ledgerTx) Reservation(id int64) (*entity.Reservation, error) {
	r, ok := tx.reservations[id]
	if !ok {
		return nil, entity.ErrReservationNotFound
	}
	return r.Clone(), nil
}

func (tx *ledgerTx) PendingReservations() ([]*entity.Reservation, error) {
	var pending []*entity.Reservation
	for _, r := range sortedReservations(tx.reservations) {
		if r.State == entity.PaymentStatePending {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

func (tx *ledgerTx) setState(id int64, to entity.PaymentState, now time.Time) error {
	r, ok := tx.reservations[id]
	if !ok {
		return entity.ErrReservationNotFound
	}
	changed, err := database.NextPaymentState(r.State, to)
	if err != nil {
		return fmt.Errorf("reservation %d: %w", id, err)
	}
	if changed {
		r.State = to
		r.UpdatedAt = now
	}
	return nil
}

func (tx *ledgerTx) Confirm(id int64, now time.Time) error {
	return tx.setState(id, entity.PaymentStateConfirmed, now)
}

func (tx *ledgerTx) Fail(id int64, now time.Time) error {
	return tx.setState(id, entity.PaymentStateFailed, now)
}

func (tx *ledgerTx) Expire(id int64, now time.Time) error {
	return tx.setState(id, entity.PaymentStateExpired, now)
}

func (tx *ledgerTx) Cancel(id int64, now time.Time) error {
	return tx.setState(id, entity.PaymentStateCancelled, now)
}

func (tx *ledgerTx) ConfirmedCount() (int, error) {
	return entity.TotalTickets(confirmedLedger(tx.reservations)), nil
}

func (tx *ledgerTx) ConfirmedTickets() ([]entity.LedgerEntry, error) {
	return confirmedLedger(tx.reservations), nil
}

func (tx *ledgerTx) TransitionListing(from, to entity.ListingState, now time.Time) error {
	if err := database.CheckTransition(tx.listing.State, from, to); err != nil {
		return err
	}
	tx.listing.State = to
	tx.listing.UpdatedAt = now
	return nil
}

func (tx *ledgerTx) SaveDrawRecord(record *entity.DrawRecord) error {
	if tx.draw != nil {
		return entity.ErrAlreadyDrawn
	}
	tx.draw = record.Clone()
	winner := record.WinnerID
	tx.listing.WinnerID = &winner
	return nil
}

func (tx *ledgerTx) ClaimPaymentKey(event *entity.PaymentEvent) (bool, error) {
	return tx.store.claimPayment(tx, event)
}

func sortedReservations(m map[int64]*entity.Reservation) []*entity.Reservation {
	out := make([]*entity.Reservation, 0, len(m))
	for _, r := range m {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func confirmedLedger(m map[int64]*entity.Reservation) []entity.LedgerEntry {
	var ledger []entity.LedgerEntry
	for _, r := range m {
		if r.State == entity.PaymentStateConfirmed {
			ledger = append(ledger, entity.LedgerEntry{
				ReservationID: r.ID,
				BuyerID:       r.BuyerID,
				StartTicket:   r.StartTicket,
				Quantity:      r.Quantity,
			})
		}
	}
	sort.Slice(ledger, func(i, j int) bool {
		return ledger[i].StartTicket < ledger[j].StartTicket
	})
	return ledger
}
