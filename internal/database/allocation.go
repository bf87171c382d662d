package database

import (
	"fmt"
	"sort"
	"time"

	"github.com/ds124wfegd/rafflr/internal/entity"
)

// PlanAllocation picks the first ticket number for a new reservation of
// quantity tickets. held are the reservations that currently hold numbers.
// Numbers released by failed or expired reservations are reused: the lowest
// gap that fits wins, otherwise the range starts after the highest held number.
// Capacity limits the count of held tickets, not the numbers themselves: a
// fragmented ledger may hand out numbers above capacity.
func PlanAllocation(l *entity.Listing, held []*entity.Reservation, quantity int, now time.Time) (int, error) {
	if quantity < 1 {
		return 0, fmt.Errorf("%w: quantity must be at least 1", entity.ErrInvalidInput)
	}
	if l.State != entity.ListingStateOpen {
		return 0, fmt.Errorf("%w: listing %d is %s: %w", entity.ErrCapacityExceeded, l.ID, l.State, entity.ErrSaleClosed)
	}
	if l.Deadline != nil && !now.Before(*l.Deadline) {
		return 0, fmt.Errorf("%w: deadline of listing %d has passed", entity.ErrSaleClosed, l.ID)
	}

	ranges := make([]*entity.Reservation, 0, len(held))
	holding := 0
	for _, r := range held {
		if r.State.HoldsTickets() {
			ranges = append(ranges, r)
			holding += r.Quantity
		}
	}

	if l.Capacity != nil && holding+quantity > *l.Capacity {
		return 0, fmt.Errorf("%w: requested %d, available %d", entity.ErrCapacityExceeded, quantity, *l.Capacity-holding)
	}

	sort.Slice(ranges, func(i, j int) bool {
		return ranges[i].StartTicket < ranges[j].StartTicket
	})

	next := 1
	for _, r := range ranges {
		if r.StartTicket-next >= quantity {
			break
		}
		if end := r.EndTicket() + 1; end > next {
			next = end
		}
	}

	return next, nil
}

// NextPaymentState validates a reservation state change. It returns false
// without error when the reservation is already in the target state.
func NextPaymentState(current, to entity.PaymentState) (bool, error) {
	if current == to {
		return false, nil
	}
	if current != entity.PaymentStatePending {
		return false, fmt.Errorf("%w: reservation is %s", entity.ErrReservationNotPending, current)
	}
	switch to {
	case entity.PaymentStateConfirmed, entity.PaymentStateFailed, entity.PaymentStateExpired, entity.PaymentStateCancelled:
		return true, nil
	}
	return false, fmt.Errorf("%w: unknown payment state %q", entity.ErrInvalidInput, to)
}

// CheckTransition validates a listing compare-and-set.
func CheckTransition(current, from, to entity.ListingState) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", entity.ErrInvalidTransition, from, to)
	}
	if current != from {
		return fmt.Errorf("%w: listing is %s, expected %s", entity.ErrInvalidTransition, current, from)
	}
	return nil
}
