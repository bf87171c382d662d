package entity

import (
	"time"
)

type EventKind string

const (
	EventReservationConfirmed EventKind = "reservation_confirmed"
	EventSaleClosing          EventKind = "sale_closing"
	EventDrawCompleted        EventKind = "draw_completed"
	EventSaleCancelled        EventKind = "sale_cancelled"
	EventRefundRequired       EventKind = "refund_required"
)

// Event is an outbound notification about a listing.
type Event struct {
	ID         string                 `json:"id"`
	ListingID  int64                  `json:"listing_id"`
	Kind       EventKind              `json:"kind"`
	Payload    map[string]interface{} `json:"payload"`
	OccurredAt time.Time              `json:"occurred_at"`
}
