package transport

import (
	"net/http"

	"github.com/ds124wfegd/rafflr/internal/service"

	"github.com/gin-gonic/gin"
)

type ReservationHandler struct {
	saleService service.SaleService
}

func NewReservationHandler(saleService service.SaleService) *ReservationHandler {
	return &ReservationHandler{saleService: saleService}
}

// CancelReservationRequest запрос покупателя на отмену резервации
type CancelReservationRequest struct {
	BuyerID int64 `json:"buyer_id" binding:"required,min=1"`
}

func (h *ReservationHandler) Reserve(c *gin.Context) {
	listingID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req service.ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	req.ListingID = listingID

	reservation, err := h.saleService.Reserve(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, "tickets reserved", reservation)
}

func (h *ReservationHandler) GetReservation(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	reservation, err := h.saleService.GetReservation(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "", reservation)
}

func (h *ReservationHandler) CancelReservation(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req CancelReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	reservation, err := h.saleService.CancelReservation(c.Request.Context(), id, req.BuyerID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "reservation cancelled", reservation)
}

// PaymentWebhook принимает результат оплаты от платежного провайдера
func (h *ReservationHandler) PaymentWebhook(c *gin.Context) {
	var req service.PaymentResult
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	receipt, err := h.saleService.OnPaymentResult(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "payment processed", receipt)
}
