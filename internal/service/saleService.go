package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ds124wfegd/rafflr/config"
	"github.com/ds124wfegd/rafflr/internal/database"
	"github.com/ds124wfegd/rafflr/internal/entity"
	"github.com/ds124wfegd/rafflr/internal/raffle"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const seedMaterialSize = 32

type saleService struct {
	store     database.Store
	engine    *raffle.Engine
	emitter   EventEmitter
	clock     clock.Clock
	entropy   io.Reader
	cfg       config.SaleConfig
	drawCache *lru.Cache[int64, *entity.DrawRecord]
}

// NewSaleService создает новый экземпляр SaleService. entropy is read once
// per listing for its seed material; emitter may be nil.
func NewSaleService(
	store database.Store,
	emitter EventEmitter,
	clk clock.Clock,
	entropy io.Reader,
	cfg config.SaleConfig,
) (SaleService, error) {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = 15 * time.Minute
	}
	if cfg.DrawCacheSize <= 0 {
		cfg.DrawCacheSize = 128
	}

	cache, err := lru.New[int64, *entity.DrawRecord](cfg.DrawCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create draw cache: %w", err)
	}

	return &saleService{
		store:     store,
		engine:    raffle.NewEngine(),
		emitter:   emitter,
		clock:     clk,
		entropy:   entropy,
		cfg:       cfg,
		drawCache: cache,
	}, nil
}

// eventBatch collects the events of one unit of work attempt
type eventBatch struct {
	now    time.Time
	events []*entity.Event
}

func (b *eventBatch) add(listingID int64, kind entity.EventKind, payload map[string]interface{}) {
	b.events = append(b.events, &entity.Event{
		ID:         uuid.NewString(),
		ListingID:  listingID,
		Kind:       kind,
		Payload:    payload,
		OccurredAt: b.now,
	})
}

// withinListing runs fn in a unit of work on the listing, retrying on
// ErrConcurrencyConflict up to MaxAttempts. Events are emitted only after
// the successful attempt commits.
func (s *saleService) withinListing(ctx context.Context, listingID int64, op string, fn func(tx database.LedgerTx, batch *eventBatch) error) error {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		batch := &eventBatch{now: s.clock.Now().UTC()}
		err := s.store.WithinListing(ctx, listingID, func(tx database.LedgerTx) error {
			return fn(tx, batch)
		})
		if err == nil {
			s.emit(ctx, batch.events)
			return nil
		}
		if !errors.Is(err, entity.ErrConcurrencyConflict) {
			return err
		}

		lastErr = err
		logrus.WithFields(logrus.Fields{
			"listing_id": listingID,
			"op":         op,
			"attempt":    attempt,
		}).Warn("Concurrency conflict, retrying")

		if attempt < s.cfg.MaxAttempts && s.cfg.RetryBackoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.clock.After(s.cfg.RetryBackoff):
			}
		}
	}
	return fmt.Errorf("%s on listing %d failed after %d attempts: %w", op, listingID, s.cfg.MaxAttempts, lastErr)
}

func (s *saleService) emit(ctx context.Context, events []*entity.Event) {
	if s.emitter == nil {
		return
	}
	for _, event := range events {
		if err := s.emitter.Emit(ctx, event); err != nil {
			logrus.WithFields(logrus.Fields{
				"listing_id": event.ListingID,
				"event":      event.Kind,
				"event_id":   event.ID,
			}).WithError(err).Error("Failed to emit event")
		}
	}
}

// CreateListing создает лот в состоянии draft
func (s *saleService) CreateListing(ctx context.Context, req *CreateListingRequest) (*entity.Listing, error) {
	now := s.clock.Now().UTC()

	listing := &entity.Listing{
		SellerID:    req.SellerID,
		TicketPrice: req.TicketPrice,
		Capacity:    req.Capacity,
		Deadline:    req.Deadline.Ptr(),
		Mode:        req.Mode,
		State:       entity.ListingStateDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := listing.Validate(); err != nil {
		return nil, err
	}
	if listing.Deadline != nil && !now.Before(*listing.Deadline) {
		return nil, fmt.Errorf("%w: deadline must be in the future", entity.ErrInvalidListing)
	}

	listing.SeedMaterial = make([]byte, seedMaterialSize)
	if _, err := io.ReadFull(s.entropy, listing.SeedMaterial); err != nil {
		return nil, fmt.Errorf("failed to read seed material: %w", err)
	}

	if err := s.store.CreateListing(ctx, listing); err != nil {
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"listing_id": listing.ID,
		"seller_id":  listing.SellerID,
		"mode":       listing.Mode,
	}).Info("Listing created")

	return listing, nil
}

// PublishListing открывает продажу: draft -> open
func (s *saleService) PublishListing(ctx context.Context, listingID int64) (*entity.Listing, error) {
	var published *entity.Listing
	err := s.withinListing(ctx, listingID, "publish", func(tx database.LedgerTx, batch *eventBatch) error {
		l := tx.Listing()
		if l.Deadline != nil && !batch.now.Before(*l.Deadline) {
			return fmt.Errorf("%w: deadline must be in the future", entity.ErrInvalidListing)
		}
		if err := tx.TransitionListing(entity.ListingStateDraft, entity.ListingStateOpen, batch.now); err != nil {
			return err
		}
		published = tx.Listing()
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithField("listing_id", listingID).Info("Listing published")
	return published, nil
}

// CancelListing отменяет открытую продажу. Pending reservations are failed,
// confirmed ones are listed in the event for the refund path.
func (s *saleService) CancelListing(ctx context.Context, listingID int64) (*entity.Listing, error) {
	var cancelled *entity.Listing
	err := s.withinListing(ctx, listingID, "cancel listing", func(tx database.LedgerTx, batch *eventBatch) error {
		l := tx.Listing()
		switch l.State {
		case entity.ListingStateDrawn:
			return fmt.Errorf("%w: listing %d", entity.ErrAlreadyDrawn, listingID)
		case entity.ListingStateOpen:
		default:
			return fmt.Errorf("%w: cannot cancel %s listing", entity.ErrInvalidTransition, l.State)
		}

		if err := s.cancelOpen(tx, batch, "cancelled_by_seller"); err != nil {
			return err
		}
		cancelled = tx.Listing()
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithField("listing_id", listingID).Info("Listing cancelled")
	return cancelled, nil
}

// Reserve резервирует билеты за покупателем до оплаты
func (s *saleService) Reserve(ctx context.Context, req *ReserveRequest) (*entity.Reservation, error) {
	if req.Quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", entity.ErrInvalidInput)
	}
	if s.cfg.MaxTicketsPerReservation > 0 && req.Quantity > s.cfg.MaxTicketsPerReservation {
		return nil, fmt.Errorf("%w: at most %d tickets per reservation", entity.ErrInvalidInput, s.cfg.MaxTicketsPerReservation)
	}

	var reservation *entity.Reservation
	err := s.withinListing(ctx, req.ListingID, "reserve", func(tx database.LedgerTx, batch *eventBatch) error {
		l := tx.Listing()
		if l.SellerID == req.BuyerID {
			return entity.ErrSellerOwnListing
		}

		r, err := tx.Allocate(database.AllocationRequest{
			BuyerID:   req.BuyerID,
			Quantity:  req.Quantity,
			Amount:    l.TicketPrice.Mul(decimal.NewFromInt(int64(req.Quantity))),
			Now:       batch.now,
			ExpiresAt: batch.now.Add(s.cfg.ReservationTTL),
		})
		if err != nil {
			return err
		}
		reservation = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"listing_id":     reservation.ListingID,
		"reservation_id": reservation.ID,
		"buyer_id":       reservation.BuyerID,
		"start_ticket":   reservation.StartTicket,
		"quantity":       reservation.Quantity,
	}).Info("Tickets reserved")

	return reservation, nil
}

// CancelReservation снимает ожидающую оплаты резервацию покупателя
func (s *saleService) CancelReservation(ctx context.Context, reservationID, buyerID int64) (*entity.Reservation, error) {
	current, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	var cancelled *entity.Reservation
	err = s.withinListing(ctx, current.ListingID, "cancel reservation", func(tx database.LedgerTx, batch *eventBatch) error {
		r, err := tx.Reservation(reservationID)
		if err != nil {
			return err
		}
		if r.BuyerID != buyerID {
			return fmt.Errorf("%w: reservation %d belongs to another buyer", entity.ErrInvalidInput, reservationID)
		}
		if r.State != entity.PaymentStatePending {
			return fmt.Errorf("%w: reservation %d is %s", entity.ErrReservationNotPending, reservationID, r.State)
		}
		if err := tx.Cancel(reservationID, batch.now); err != nil {
			return err
		}
		cancelled, err = tx.Reservation(reservationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// OnPaymentResult применяет результат оплаты. Unknown reservations are
// logged and ignored; a repeated idempotency key is a no-op.
func (s *saleService) OnPaymentResult(ctx context.Context, req *PaymentResult) (*PaymentReceipt, error) {
	if !req.Outcome.Valid() {
		return nil, fmt.Errorf("%w: unknown payment outcome %q", entity.ErrInvalidInput, req.Outcome)
	}
	if req.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", entity.ErrInvalidInput)
	}

	log := logrus.WithFields(logrus.Fields{
		"reservation_id":  req.ReservationID,
		"outcome":         req.Outcome,
		"idempotency_key": req.IdempotencyKey,
	})

	current, err := s.store.GetReservation(ctx, req.ReservationID)
	if errors.Is(err, entity.ErrReservationNotFound) {
		log.Warn("Payment for unknown reservation ignored")
		return &PaymentReceipt{ReservationID: req.ReservationID}, nil
	}
	if err != nil {
		return nil, err
	}

	var receipt *PaymentReceipt
	err = s.withinListing(ctx, current.ListingID, "payment", func(tx database.LedgerTx, batch *eventBatch) error {
		receipt = &PaymentReceipt{ReservationID: req.ReservationID}

		first, err := tx.ClaimPaymentKey(&entity.PaymentEvent{
			IdempotencyKey: req.IdempotencyKey,
			ReservationID:  req.ReservationID,
			Outcome:        req.Outcome,
			ReceivedAt:     batch.now,
		})
		if err != nil {
			return err
		}

		r, err := tx.Reservation(req.ReservationID)
		if err != nil {
			return err
		}
		receipt.State = r.State

		if !first {
			receipt.Duplicate = true
			return nil
		}

		if req.Outcome == entity.PaymentFailed {
			if r.State != entity.PaymentStatePending {
				return nil
			}
			if err := tx.Fail(r.ID, batch.now); err != nil {
				return err
			}
			receipt.Applied = true
			receipt.State = entity.PaymentStateFailed
			return nil
		}

		return s.applySuccess(tx, batch, r, receipt)
	})
	if err != nil {
		return nil, err
	}

	switch {
	case receipt.Duplicate:
		log.Info("Duplicate payment callback ignored")
	case receipt.RefundRequired:
		log.Warn("Late payment not applied, refund required")
	case !receipt.Applied:
		log.WithField("state", receipt.State).Info("Payment for settled reservation ignored")
	default:
		log.WithField("state", receipt.State).Info("Payment applied")
	}
	return receipt, nil
}

func (s *saleService) applySuccess(tx database.LedgerTx, batch *eventBatch, r *entity.Reservation, receipt *PaymentReceipt) error {
	if r.State == entity.PaymentStateConfirmed {
		return nil
	}

	l := tx.Listing()
	if r.State != entity.PaymentStatePending || l.State != entity.ListingStateOpen {
		if r.State == entity.PaymentStatePending {
			if err := tx.Fail(r.ID, batch.now); err != nil {
				return err
			}
			receipt.State = entity.PaymentStateFailed
		}
		receipt.RefundRequired = true
		batch.add(l.ID, entity.EventRefundRequired, map[string]interface{}{
			"reservation_id": r.ID,
			"buyer_id":       r.BuyerID,
			"amount":         r.Amount.String(),
			"reason":         fmt.Sprintf("reservation %s, listing %s", r.State, l.State),
		})
		return nil
	}

	if err := tx.Confirm(r.ID, batch.now); err != nil {
		return err
	}
	receipt.Applied = true
	receipt.State = entity.PaymentStateConfirmed
	batch.add(l.ID, entity.EventReservationConfirmed, map[string]interface{}{
		"reservation_id": r.ID,
		"buyer_id":       r.BuyerID,
		"start_ticket":   r.StartTicket,
		"quantity":       r.Quantity,
		"amount":         r.Amount.String(),
	})

	// Подтверждение может закрыть продажу по лимиту
	settlement, err := s.settle(tx, batch)
	if err != nil {
		return err
	}
	if settlement.Decision.Closes() {
		receipt.Settlement = settlement
	}
	return nil
}

// Draw закрывает продажу и проводит розыгрыш по запросу продавца или администратора
func (s *saleService) Draw(ctx context.Context, listingID int64) (*Settlement, error) {
	var settlement *Settlement
	err := s.withinListing(ctx, listingID, "draw", func(tx database.LedgerTx, batch *eventBatch) error {
		l := tx.Listing()
		switch l.State {
		case entity.ListingStateDrawn:
			return fmt.Errorf("%w: listing %d", entity.ErrAlreadyDrawn, listingID)
		case entity.ListingStateOpen:
			confirmed, err := tx.ConfirmedCount()
			if err != nil {
				return err
			}
			if !raffle.EvaluateClosing(l, confirmed, batch.now).Closes() {
				return fmt.Errorf("%w: listing %d", entity.ErrNotClosable, listingID)
			}
		case entity.ListingStateClosing:
		default:
			return fmt.Errorf("%w: cannot draw %s listing", entity.ErrInvalidTransition, l.State)
		}

		var err error
		settlement, err = s.settle(tx, batch)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logSettlement(settlement)
	return settlement, nil
}

// Evaluate re-checks the closing condition of one listing and finishes a
// listing left in closing. Terminal and draft listings are returned as is.
func (s *saleService) Evaluate(ctx context.Context, listingID int64) (*Settlement, error) {
	var settlement *Settlement
	err := s.withinListing(ctx, listingID, "evaluate", func(tx database.LedgerTx, batch *eventBatch) error {
		var err error
		settlement, err = s.settle(tx, batch)
		return err
	})
	if err != nil {
		return nil, err
	}
	if settlement.Decision.Closes() {
		s.logSettlement(settlement)
	}
	return settlement, nil
}

// settle drives open -> closing -> drawn (or cancelled) inside one unit of work.
func (s *saleService) settle(tx database.LedgerTx, batch *eventBatch) (*Settlement, error) {
	l := tx.Listing()
	settlement := &Settlement{Listing: l, Decision: raffle.StillOpen}

	switch l.State {
	case entity.ListingStateOpen:
		confirmed, err := tx.ConfirmedCount()
		if err != nil {
			return nil, err
		}
		settlement.Decision = raffle.EvaluateClosing(l, confirmed, batch.now)
		if !settlement.Decision.Closes() {
			return settlement, nil
		}

		if confirmed == 0 {
			if err := s.cancelOpen(tx, batch, "no_confirmed_tickets"); err != nil {
				return nil, err
			}
			settlement.Listing = tx.Listing()
			return settlement, nil
		}

		if err := tx.TransitionListing(entity.ListingStateOpen, entity.ListingStateClosing, batch.now); err != nil {
			return nil, err
		}
		batch.add(l.ID, entity.EventSaleClosing, map[string]interface{}{
			"decision":          string(settlement.Decision),
			"confirmed_tickets": confirmed,
		})
	case entity.ListingStateClosing:
		// Продажа уже закрыта, осталось провести розыгрыш
		confirmed, err := tx.ConfirmedCount()
		if err != nil {
			return nil, err
		}
		settlement.Decision = raffle.EvaluateClosing(l, confirmed, batch.now)
	default:
		return settlement, nil
	}

	if err := s.releasePending(tx, batch.now); err != nil {
		return nil, err
	}

	record, err := s.drawClosing(tx, batch)
	if err != nil {
		return nil, err
	}
	settlement.Listing = tx.Listing()
	settlement.Record = record
	return settlement, nil
}

// drawClosing runs the draw engine on a closing listing. Without confirmed
// tickets the listing is cancelled and the record is nil.
func (s *saleService) drawClosing(tx database.LedgerTx, batch *eventBatch) (*entity.DrawRecord, error) {
	l := tx.Listing()
	ledger, err := tx.ConfirmedTickets()
	if err != nil {
		return nil, err
	}

	if len(ledger) == 0 {
		if err := tx.TransitionListing(entity.ListingStateClosing, entity.ListingStateCancelled, batch.now); err != nil {
			return nil, err
		}
		batch.add(l.ID, entity.EventSaleCancelled, map[string]interface{}{
			"reason":                    "no_confirmed_tickets",
			"confirmed_reservation_ids": []int64{},
		})
		return nil, nil
	}

	record, err := s.engine.Draw(l, ledger, batch.now)
	if err != nil {
		return nil, err
	}
	if err := tx.SaveDrawRecord(record); err != nil {
		return nil, err
	}
	if err := tx.TransitionListing(entity.ListingStateClosing, entity.ListingStateDrawn, batch.now); err != nil {
		return nil, err
	}

	batch.add(l.ID, entity.EventDrawCompleted, map[string]interface{}{
		"winning_ticket":    record.WinningTicket,
		"winner_id":         record.WinnerID,
		"reservation_id":    record.ReservationID,
		"total_tickets":     record.TotalTickets,
		"seed":              record.Seed,
		"algorithm_version": record.AlgorithmVersion,
	})
	return record, nil
}

// cancelOpen moves an open listing to cancelled and reports the confirmed
// reservations that have to be refunded.
func (s *saleService) cancelOpen(tx database.LedgerTx, batch *eventBatch, reason string) error {
	if err := s.releasePending(tx, batch.now); err != nil {
		return err
	}
	ledger, err := tx.ConfirmedTickets()
	if err != nil {
		return err
	}
	if err := tx.TransitionListing(entity.ListingStateOpen, entity.ListingStateCancelled, batch.now); err != nil {
		return err
	}

	refunds := make([]int64, 0, len(ledger))
	for _, e := range ledger {
		refunds = append(refunds, e.ReservationID)
	}
	batch.add(tx.Listing().ID, entity.EventSaleCancelled, map[string]interface{}{
		"reason":                    reason,
		"confirmed_reservation_ids": refunds,
	})
	return nil
}

// releasePending fails every pending reservation of a listing that stops selling.
func (s *saleService) releasePending(tx database.LedgerTx, now time.Time) error {
	pending, err := tx.PendingReservations()
	if err != nil {
		return err
	}
	for _, r := range pending {
		if err := tx.Fail(r.ID, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *saleService) logSettlement(st *Settlement) {
	fields := logrus.Fields{
		"listing_id": st.Listing.ID,
		"state":      st.Listing.State,
		"decision":   st.Decision,
	}
	if st.Record != nil {
		fields["winning_ticket"] = st.Record.WinningTicket
		fields["winner_id"] = st.Record.WinnerID
	}
	logrus.WithFields(fields).Info("Listing settled")
}

// ExpireReservations истекает просроченные резервации и освобождает их номера
func (s *saleService) ExpireReservations(ctx context.Context, limit int) (int, error) {
	now := s.clock.Now().UTC()
	overdue, err := s.store.ListExpiredReservations(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired reservations: %w", err)
	}

	expired := 0
	var errs []error
	for _, r := range overdue {
		if err := ctx.Err(); err != nil {
			return expired, err
		}

		done := false
		err := s.withinListing(ctx, r.ListingID, "expire", func(tx database.LedgerTx, batch *eventBatch) error {
			done = false
			cur, err := tx.Reservation(r.ID)
			if err != nil {
				return err
			}
			if cur.State != entity.PaymentStatePending || batch.now.Before(cur.ExpiresAt) {
				return nil
			}
			if err := tx.Expire(cur.ID, batch.now); err != nil {
				return err
			}
			done = true
			return nil
		})
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"listing_id":     r.ListingID,
				"reservation_id": r.ID,
			}).WithError(err).Error("Failed to expire reservation")
			errs = append(errs, err)
			continue
		}
		if done {
			expired++
		}
	}

	if expired > 0 {
		logrus.WithField("count", expired).Info("Expired reservations released")
	}
	return expired, errors.Join(errs...)
}

func (s *saleService) ListSettlingListings(ctx context.Context) ([]int64, error) {
	return s.store.ListListingIDsByState(ctx, entity.ListingStateOpen, entity.ListingStateClosing)
}

func (s *saleService) GetListing(ctx context.Context, listingID int64) (*entity.Listing, error) {
	return s.store.GetListing(ctx, listingID)
}

func (s *saleService) GetReservation(ctx context.Context, reservationID int64) (*entity.Reservation, error) {
	return s.store.GetReservation(ctx, reservationID)
}

// GetDrawRecord returns the draw record, cached after the first read.
func (s *saleService) GetDrawRecord(ctx context.Context, listingID int64) (*entity.DrawRecord, error) {
	if record, ok := s.drawCache.Get(listingID); ok {
		return record.Clone(), nil
	}

	record, err := s.store.GetDrawRecord(ctx, listingID)
	if err != nil {
		return nil, err
	}
	s.drawCache.Add(listingID, record.Clone())
	return record, nil
}

// VerifyDraw пересчитывает розыгрыш по сохраненным данным
func (s *saleService) VerifyDraw(ctx context.Context, listingID int64) (*DrawVerification, error) {
	record, err := s.GetDrawRecord(ctx, listingID)
	if err != nil {
		return nil, err
	}
	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	ledger, err := s.store.ConfirmedTickets(ctx, listingID)
	if err != nil {
		return nil, err
	}

	result := &DrawVerification{ListingID: listingID, Record: record, Valid: true}
	if err := s.engine.Verify(record, listing, ledger); err != nil {
		if !errors.Is(err, entity.ErrDrawMismatch) && !errors.Is(err, entity.ErrNoConfirmedTickets) {
			return nil, err
		}
		result.Valid = false
		result.Reason = err.Error()
	}
	return result, nil
}

func (s *saleService) GetLedger(ctx context.Context, listingID int64) ([]entity.LedgerEntry, error) {
	if _, err := s.store.GetListing(ctx, listingID); err != nil {
		return nil, err
	}
	return s.store.ConfirmedTickets(ctx, listingID)
}

// GetStats собирает статистику продаж по лоту
func (s *saleService) GetStats(ctx context.Context, listingID int64) (*entity.SaleStats, error) {
	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	reservations, err := s.store.ListReservations(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	return entity.NewSaleStats(listing, reservations), nil
}

func (s *saleService) GetBuyerOdds(ctx context.Context, listingID, buyerID int64) (*entity.BuyerOdds, error) {
	ledger, err := s.GetLedger(ctx, listingID)
	if err != nil {
		return nil, err
	}
	return entity.NewBuyerOdds(listingID, buyerID, ledger), nil
}
