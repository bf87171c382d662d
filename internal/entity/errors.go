package entity

import "errors"

var (
	// Listing errors
	ErrListingNotFound   = errors.New("listing not found")
	ErrInvalidListing    = errors.New("invalid listing")
	ErrInvalidTransition = errors.New("invalid listing state transition")
	ErrSaleClosed        = errors.New("sale closed")
	ErrNotClosable       = errors.New("listing closing condition not met")
	ErrAlreadyDrawn      = errors.New("listing already drawn")

	// Reservation errors
	ErrReservationNotFound   = errors.New("reservation not found")
	ErrCapacityExceeded      = errors.New("capacity exceeded")
	ErrSellerOwnListing      = errors.New("seller cannot buy tickets for own listing")
	ErrReservationNotPending = errors.New("reservation is not pending")

	// Draw errors
	ErrDrawNotFound       = errors.New("draw record not found")
	ErrNoConfirmedTickets = errors.New("no confirmed tickets to draw from")
	ErrDrawMismatch       = errors.New("draw record does not match recomputed draw")

	// General errors
	ErrInvalidInput        = errors.New("invalid input")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)
