package transport

import (
	"context"
	"net/http"
	"strconv"

	"github.com/ds124wfegd/rafflr/internal/service"
	"github.com/ds124wfegd/rafflr/internal/worker"
	"github.com/ds124wfegd/rafflr/pkg/queue"

	"github.com/gin-gonic/gin"
)

// Ticker runs one scheduler pass on demand
type Ticker interface {
	RunOnce(ctx context.Context) (*worker.TickReport, error)
	GetStats() map[string]interface{}
}

// QueueInspector exposes the event queue of the redis notifier
type QueueInspector interface {
	Stats(ctx context.Context) (*queue.QueueStats, error)
	DLQ() queue.DLQHandler
}

type AdminHandler struct {
	saleService service.SaleService
	ticker      Ticker
	queue       QueueInspector
}

// NewAdminHandler создает обработчик админки. inspector может быть nil,
// если события не идут через очередь Redis.
func NewAdminHandler(saleService service.SaleService, ticker Ticker, inspector QueueInspector) *AdminHandler {
	return &AdminHandler{saleService: saleService, ticker: ticker, queue: inspector}
}

func (h *AdminHandler) Tick(c *gin.Context) {
	report, err := h.ticker.RunOnce(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "tick completed", report)
}

func (h *AdminHandler) WorkerStats(c *gin.Context) {
	respondOK(c, http.StatusOK, "", h.ticker.GetStats())
}

func (h *AdminHandler) SettlingListings(c *gin.Context) {
	ids, err := h.saleService.ListSettlingListings(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "", gin.H{"listing_ids": ids})
}

func (h *AdminHandler) QueueStats(c *gin.Context) {
	if h.queue == nil {
		queueDisabled(c)
		return
	}
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "", stats)
}

func (h *AdminHandler) FailedEvents(c *gin.Context) {
	dlq := h.deadLetters(c)
	if dlq == nil {
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			badRequest(c, "invalid limit")
			return
		}
		limit = n
	}

	failed, err := dlq.GetFailed(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "", failed)
}

func (h *AdminHandler) RequeueEvent(c *gin.Context) {
	dlq := h.deadLetters(c)
	if dlq == nil {
		return
	}

	id := c.Param("message_id")
	if err := dlq.Requeue(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, "event requeued", gin.H{"message_id": id})
}

func (h *AdminHandler) deadLetters(c *gin.Context) queue.DLQHandler {
	if h.queue == nil {
		queueDisabled(c)
		return nil
	}
	dlq := h.queue.DLQ()
	if dlq == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Success: false, Error: "dead letter queue is disabled"})
		return nil
	}
	return dlq
}

func queueDisabled(c *gin.Context) {
	c.JSON(http.StatusNotFound, ErrorResponse{Success: false, Error: "event queue is not configured"})
}
