package service

import (
	"context"

	"github.com/ds124wfegd/rafflr/internal/entity"
	"github.com/ds124wfegd/rafflr/internal/raffle"

	"github.com/shopspring/decimal"
)

// SaleService управляет продажей билетов и розыгрышем по лоту
type SaleService interface {
	// Жизненный цикл лота
	CreateListing(ctx context.Context, req *CreateListingRequest) (*entity.Listing, error)
	PublishListing(ctx context.Context, listingID int64) (*entity.Listing, error)
	CancelListing(ctx context.Context, listingID int64) (*entity.Listing, error)

	// Резервирование и оплата
	Reserve(ctx context.Context, req *ReserveRequest) (*entity.Reservation, error)
	CancelReservation(ctx context.Context, reservationID, buyerID int64) (*entity.Reservation, error)
	OnPaymentResult(ctx context.Context, req *PaymentResult) (*PaymentReceipt, error)

	// Закрытие продаж и розыгрыш
	Draw(ctx context.Context, listingID int64) (*Settlement, error)
	Evaluate(ctx context.Context, listingID int64) (*Settlement, error)
	ExpireReservations(ctx context.Context, limit int) (int, error)
	ListSettlingListings(ctx context.Context) ([]int64, error)

	// Чтение
	GetListing(ctx context.Context, listingID int64) (*entity.Listing, error)
	GetReservation(ctx context.Context, reservationID int64) (*entity.Reservation, error)
	GetDrawRecord(ctx context.Context, listingID int64) (*entity.DrawRecord, error)
	VerifyDraw(ctx context.Context, listingID int64) (*DrawVerification, error)
	GetLedger(ctx context.Context, listingID int64) ([]entity.LedgerEntry, error)
	GetStats(ctx context.Context, listingID int64) (*entity.SaleStats, error)
	GetBuyerOdds(ctx context.Context, listingID, buyerID int64) (*entity.BuyerOdds, error)
}

// EventEmitter is the outbound notification port. Emit is fire-and-forget:
// the service logs a failed delivery and moves on.
type EventEmitter interface {
	Emit(ctx context.Context, event *entity.Event) error
}

// CreateListingRequest данные для создания лота
type CreateListingRequest struct {
	SellerID    int64              `json:"seller_id" binding:"required,min=1"`
	TicketPrice decimal.Decimal    `json:"ticket_price"`
	Capacity    *int               `json:"capacity,omitempty"`
	Deadline    entity.CustomTime  `json:"deadline"`
	Mode        entity.ClosingMode `json:"mode" binding:"required,oneof=limit deadline either"`
}

// ReserveRequest данные для резервирования билетов
type ReserveRequest struct {
	ListingID int64 `json:"listing_id"`
	BuyerID   int64 `json:"buyer_id" binding:"required,min=1"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

// PaymentResult is the inbound payment provider callback.
type PaymentResult struct {
	ReservationID  int64                 `json:"reservation_id" binding:"required,min=1"`
	Outcome        entity.PaymentOutcome `json:"outcome" binding:"required,oneof=succeeded failed"`
	IdempotencyKey string                `json:"idempotency_key" binding:"required"`
}

// PaymentReceipt describes what a payment callback did
type PaymentReceipt struct {
	ReservationID  int64               `json:"reservation_id"`
	State          entity.PaymentState `json:"state,omitempty"`
	Applied        bool                `json:"applied"`
	Duplicate      bool                `json:"duplicate"`
	RefundRequired bool                `json:"refund_required"`
	Settlement     *Settlement         `json:"settlement,omitempty"`
}

// Settlement is the outcome of evaluating or drawing a listing. Record is
// nil unless the listing ended up drawn in this call.
type Settlement struct {
	Listing  *entity.Listing    `json:"listing"`
	Decision raffle.Decision    `json:"decision"`
	Record   *entity.DrawRecord `json:"draw_record,omitempty"`
}

type DrawVerification struct {
	ListingID int64              `json:"listing_id"`
	Valid     bool               `json:"valid"`
	Record    *entity.DrawRecord `json:"draw_record"`
	Reason    string             `json:"reason,omitempty"`
}
