package transport

import (
	"net/http"
	"time"

	"github.com/ds124wfegd/rafflr/internal/transport/middleware"

	"github.com/gin-gonic/gin"
)

type RouterConfig struct {
	RequestTimeout time.Duration
	WebhookSecret  string
	AppVersion     string
}

func InitRoutes(
	listingHandler *ListingHandler,
	reservationHandler *ReservationHandler,
	adminHandler *AdminHandler,
	cfg RouterConfig,
) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger())
	router.Use(middleware.Timeout(cfg.RequestTimeout))

	// API routes
	api := router.Group("/api/v1")
	{
		listings := api.Group("/listings")
		{
			listings.POST("", listingHandler.CreateListing)
			listings.GET("/:id", listingHandler.GetListing)
			listings.POST("/:id/publish", listingHandler.PublishListing)
			listings.POST("/:id/cancel", listingHandler.CancelListing)
			listings.POST("/:id/reservations", reservationHandler.Reserve)
			listings.POST("/:id/draw", listingHandler.Draw)
			listings.GET("/:id/draw", listingHandler.GetDrawRecord)
			listings.GET("/:id/draw/verify", listingHandler.VerifyDraw)
			listings.GET("/:id/ledger", listingHandler.GetLedger)
			listings.GET("/:id/stats", listingHandler.GetStats)
			listings.GET("/:id/odds/:buyer_id", listingHandler.GetBuyerOdds)
		}

		reservations := api.Group("/reservations")
		{
			reservations.GET("/:id", reservationHandler.GetReservation)
			reservations.POST("/:id/cancel", reservationHandler.CancelReservation)
		}

		// Payment provider callbacks
		api.POST("/payments/webhook", middleware.Signature(cfg.WebhookSecret), reservationHandler.PaymentWebhook)

		admin := api.Group("/admin")
		{
			admin.POST("/tick", adminHandler.Tick)
			admin.GET("/worker", adminHandler.WorkerStats)
			admin.GET("/listings/settling", adminHandler.SettlingListings)
			admin.GET("/queue", adminHandler.QueueStats)
			admin.GET("/queue/dlq", adminHandler.FailedEvents)
			admin.POST("/queue/dlq/:message_id/requeue", adminHandler.RequeueEvent)
		}
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": cfg.AppVersion,
		})
	})

	return router
}
