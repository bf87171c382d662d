package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type ClosingMode string

const (
	ClosingModeLimit    ClosingMode = "limit"
	ClosingModeDeadline ClosingMode = "deadline"
	ClosingModeEither   ClosingMode = "either"
)

type ListingState string

const (
	ListingStateDraft     ListingState = "draft"
	ListingStateOpen      ListingState = "open"
	ListingStateClosing   ListingState = "closing"
	ListingStateDrawn     ListingState = "drawn"
	ListingStateCancelled ListingState = "cancelled"
)

// listingTransitions описывает допустимые переходы жизненного цикла лота
var listingTransitions = map[ListingState][]ListingState{
	ListingStateDraft:   {ListingStateOpen},
	ListingStateOpen:    {ListingStateOpen, ListingStateClosing, ListingStateCancelled},
	ListingStateClosing: {ListingStateDrawn, ListingStateCancelled},
}

// CanTransitionTo reports whether from -> to is an edge of the lifecycle graph.
func (s ListingState) CanTransitionTo(to ListingState) bool {
	for _, next := range listingTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s ListingState) IsTerminal() bool {
	return s == ListingStateDrawn || s == ListingStateCancelled
}

type Listing struct {
	ID           int64           `json:"id" db:"id"`
	SellerID     int64           `json:"seller_id" db:"seller_id"`
	TicketPrice  decimal.Decimal `json:"ticket_price" db:"ticket_price"`
	Capacity     *int            `json:"capacity,omitempty" db:"capacity"`
	Deadline     *time.Time      `json:"deadline,omitempty" db:"deadline"`
	Mode         ClosingMode     `json:"mode" db:"mode"`
	State        ListingState    `json:"state" db:"state"`
	SeedMaterial []byte          `json:"-" db:"seed_material"`
	WinnerID     *int64          `json:"winner_id,omitempty" db:"winner_id"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// Validate checks the closing configuration and price of a listing.
// PriceScale is the number of decimal places kept for money, NUMERIC(12, 2) in postgres
const PriceScale = 2

func (l *Listing) Validate() error {
	if l.SellerID <= 0 {
		return fmt.Errorf("%w: seller is required", ErrInvalidListing)
	}
	if !l.TicketPrice.IsPositive() {
		return fmt.Errorf("%w: ticket price must be positive", ErrInvalidListing)
	}
	if !l.TicketPrice.Equal(l.TicketPrice.Truncate(PriceScale)) {
		return fmt.Errorf("%w: ticket price has more than %d decimal places", ErrInvalidListing, PriceScale)
	}
	if l.Capacity != nil && *l.Capacity < 1 {
		return fmt.Errorf("%w: capacity must be at least 1", ErrInvalidListing)
	}

	switch l.Mode {
	case ClosingModeLimit:
		if l.Capacity == nil || l.Deadline != nil {
			return fmt.Errorf("%w: mode limit requires capacity and no deadline", ErrInvalidListing)
		}
	case ClosingModeDeadline:
		if l.Deadline == nil || l.Capacity != nil {
			return fmt.Errorf("%w: mode deadline requires deadline and no capacity", ErrInvalidListing)
		}
	case ClosingModeEither:
		if l.Capacity == nil || l.Deadline == nil {
			return fmt.Errorf("%w: mode either requires both capacity and deadline", ErrInvalidListing)
		}
	default:
		return fmt.Errorf("%w: unknown closing mode %q", ErrInvalidListing, l.Mode)
	}

	return nil
}

// Clone returns a deep copy so callers can't mutate shared state.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	c := *l
	if l.Capacity != nil {
		v := *l.Capacity
		c.Capacity = &v
	}
	if l.Deadline != nil {
		v := *l.Deadline
		c.Deadline = &v
	}
	if l.WinnerID != nil {
		v := *l.WinnerID
		c.WinnerID = &v
	}
	if l.SeedMaterial != nil {
		c.SeedMaterial = append([]byte(nil), l.SeedMaterial...)
	}
	return &c
}
