package entity

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SaleStats содержит сводную статистику продаж по лоту
type SaleStats struct {
	ListingID        int64           `json:"listing_id"`
	State            ListingState    `json:"state"`
	Capacity         *int            `json:"capacity,omitempty"`
	Reservations     int             `json:"reservations"`
	PendingTickets   int             `json:"pending_tickets"`
	ConfirmedTickets int             `json:"confirmed_tickets"`
	ReleasedTickets  int             `json:"released_tickets"` // failed, expired и cancelled
	Buyers           int             `json:"buyers"`
	Revenue          decimal.Decimal `json:"revenue"`
	FillRate         float64         `json:"fill_rate"`
	RemainingTickets *int            `json:"remaining_tickets,omitempty"`
}

// BuyerOdds шансы покупателя на победу в розыгрыше
type BuyerOdds struct {
	ListingID    int64   `json:"listing_id"`
	BuyerID      int64   `json:"buyer_id"`
	Tickets      int     `json:"tickets"`
	TotalTickets int     `json:"total_tickets"`
	Percent      float64 `json:"percent"`
}

// NewSaleStats считает статистику по резервациям лота
func NewSaleStats(listing *Listing, reservations []*Reservation) *SaleStats {
	stats := &SaleStats{
		ListingID:    listing.ID,
		State:        listing.State,
		Capacity:     listing.Capacity,
		Reservations: len(reservations),
		Revenue:      decimal.Zero,
	}

	buyers := make(map[int64]struct{})
	for _, r := range reservations {
		switch r.State {
		case PaymentStatePending:
			stats.PendingTickets += r.Quantity
		case PaymentStateConfirmed:
			stats.ConfirmedTickets += r.Quantity
			stats.Revenue = stats.Revenue.Add(r.Amount)
			buyers[r.BuyerID] = struct{}{}
		default:
			stats.ReleasedTickets += r.Quantity
		}
	}
	stats.Buyers = len(buyers)

	if listing.Capacity != nil {
		remaining := *listing.Capacity - stats.ConfirmedTickets - stats.PendingTickets
		if remaining < 0 {
			remaining = 0
		}
		stats.RemainingTickets = &remaining
		stats.FillRate = float64(stats.ConfirmedTickets) / float64(*listing.Capacity)
	}

	return stats
}

// NewBuyerOdds вычисляет шанс покупателя: его билеты / все подтвержденные * 100
func NewBuyerOdds(listingID, buyerID int64, ledger []LedgerEntry) *BuyerOdds {
	odds := &BuyerOdds{ListingID: listingID, BuyerID: buyerID}
	for _, e := range ledger {
		odds.TotalTickets += e.Quantity
		if e.BuyerID == buyerID {
			odds.Tickets += e.Quantity
		}
	}
	if odds.TotalTickets > 0 {
		odds.Percent = float64(odds.Tickets) / float64(odds.TotalTickets) * 100
	}
	return odds
}

func (s *SaleStats) String() string {
	return fmt.Sprintf(
		"Listing: %d, State: %s, Confirmed: %d, Pending: %d, Buyers: %d, Fill: %.1f%%",
		s.ListingID,
		s.State,
		s.ConfirmedTickets,
		s.PendingTickets,
		s.Buyers,
		s.FillRate*100,
	)
}
