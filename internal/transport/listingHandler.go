package transport

import (
	"net/http"

	"github.com/ds124wfegd/rafflr/internal/service"

	"github.com/gin-gonic/gin"
)

type ListingHandler struct {
	saleService service.SaleService
}

func NewListingHandler(saleService service.SaleService) *ListingHandler {
	return &ListingHandler{saleService: saleService}
}

func (h *ListingHandler) CreateListing(c *gin.Context) {
	var req service.CreateListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	listing, err := h.saleService.CreateListing(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, "listing created", listing)
}

func (h *ListingHandler) GetListing(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	listing, err := h.saleService.GetListing(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "", listing)
}

func (h *ListingHandler) PublishListing(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	listing, err := h.saleService.PublishListing(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "listing published", listing)
}

func (h *ListingHandler) CancelListing(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	listing, err := h.saleService.CancelListing(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "listing cancelled", listing)
}

// Draw закрывает продажу и разыгрывает приз вручную
func (h *ListingHandler) Draw(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	settlement, err := h.saleService.Draw(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "listing settled", settlement)
}

func (h *ListingHandler) GetDrawRecord(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	record, err := h.saleService.GetDrawRecord(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "", record)
}

func (h *ListingHandler) VerifyDraw(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	verification, err := h.saleService.VerifyDraw(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "", verification)
}

func (h *ListingHandler) GetLedger(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	ledger, err := h.saleService.GetLedger(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "", ledger)
}

func (h *ListingHandler) GetStats(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	stats, err := h.saleService.GetStats(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "", stats)
}

// GetBuyerOdds возвращает шанс покупателя на победу
func (h *ListingHandler) GetBuyerOdds(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	buyerID, ok := paramID(c, "buyer_id")
	if !ok {
		return
	}

	odds, err := h.saleService.GetBuyerOdds(c.Request.Context(), id, buyerID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "", odds)
}
