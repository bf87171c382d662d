package entity

import "time"

const DrawAlgorithmV1 = "blake3-chacha20/v1"

// DrawRecord is the write-once outcome of a listing's draw.
type DrawRecord struct {
	ListingID        int64     `json:"listing_id" db:"listing_id"`
	WinningTicket    int       `json:"winning_ticket" db:"winning_ticket"`
	WinnerID         int64     `json:"winner_id" db:"winner_id"`
	ReservationID    int64     `json:"reservation_id" db:"reservation_id"`
	Position         int       `json:"position" db:"position"`
	TotalTickets     int       `json:"total_tickets" db:"total_tickets"`
	Seed             string    `json:"seed" db:"seed"`
	AlgorithmVersion string    `json:"algorithm_version" db:"algorithm_version"`
	DrawnAt          time.Time `json:"drawn_at" db:"drawn_at"`
}

func (d *DrawRecord) Clone() *DrawRecord {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}
