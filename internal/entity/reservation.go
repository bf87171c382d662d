package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentState string

const (
	PaymentStatePending   PaymentState = "pending"
	PaymentStateConfirmed PaymentState = "confirmed"
	PaymentStateFailed    PaymentState = "failed"
	PaymentStateExpired   PaymentState = "expired"
	PaymentStateCancelled PaymentState = "cancelled"
)

// HoldsTickets reports whether a reservation in this state keeps its ticket numbers.
func (s PaymentState) HoldsTickets() bool {
	return s == PaymentStatePending || s == PaymentStateConfirmed
}

type PaymentOutcome string

const (
	PaymentSucceeded PaymentOutcome = "succeeded"
	PaymentFailed    PaymentOutcome = "failed"
)

func (o PaymentOutcome) Valid() bool {
	return o == PaymentSucceeded || o == PaymentFailed
}

type Reservation struct {
	ID          int64           `json:"id" db:"id"`
	ListingID   int64           `json:"listing_id" db:"listing_id"`
	BuyerID     int64           `json:"buyer_id" db:"buyer_id"`
	StartTicket int             `json:"start_ticket" db:"start_ticket"`
	Quantity    int             `json:"quantity" db:"quantity"`
	State       PaymentState    `json:"state" db:"state"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	ExpiresAt   time.Time       `json:"expires_at" db:"expires_at"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// EndTicket is the last ticket number of the range, inclusive.
func (r *Reservation) EndTicket() int {
	return r.StartTicket + r.Quantity - 1
}

func (r *Reservation) Overlaps(start, quantity int) bool {
	return r.StartTicket <= start+quantity-1 && start <= r.EndTicket()
}

func (r *Reservation) Clone() *Reservation {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// LedgerEntry is a confirmed ticket range attributed to a buyer.
type LedgerEntry struct {
	ReservationID int64 `json:"reservation_id"`
	BuyerID       int64 `json:"buyer_id"`
	StartTicket   int   `json:"start_ticket"`
	Quantity      int   `json:"quantity"`
}

func (e LedgerEntry) EndTicket() int {
	return e.StartTicket + e.Quantity - 1
}

// TotalTickets sums the quantities of a ledger.
func TotalTickets(ledger []LedgerEntry) int {
	total := 0
	for _, e := range ledger {
		total += e.Quantity
	}
	return total
}

// PaymentEvent is a processed payment callback, keyed by its idempotency key.
type PaymentEvent struct {
	IdempotencyKey string         `json:"idempotency_key" db:"idempotency_key"`
	ReservationID  int64          `json:"reservation_id" db:"reservation_id"`
	Outcome        PaymentOutcome `json:"outcome" db:"outcome"`
	ReceivedAt     time.Time      `json:"received_at" db:"received_at"`
}
