package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ds124wfegd/rafflr/internal/entity"
	"github.com/ds124wfegd/rafflr/internal/service"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// Settler is the part of the sale service driven by the tick
type Settler interface {
	ExpireReservations(ctx context.Context, limit int) (int, error)
	ListSettlingListings(ctx context.Context) ([]int64, error)
	Evaluate(ctx context.Context, listingID int64) (*service.Settlement, error)
}

// TickReport итог одного прохода планировщика
type TickReport struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Expired   int           `json:"expired"`
	Evaluated int           `json:"evaluated"`
	Drawn     int           `json:"drawn"`
	Cancelled int           `json:"cancelled"`
	Failed    int           `json:"failed"`
}

// TickWorker expires overdue reservations and re-evaluates every listing
// that is still selling. Running two ticks at once is safe.
type TickWorker struct {
	settler   Settler
	clock     clock.Clock
	interval  time.Duration
	batchSize int

	runs int64
	mu   sync.Mutex
	last *TickReport
}

func NewTickWorker(settler Settler, clk clock.Clock, interval time.Duration, batchSize int) *TickWorker {
	return &TickWorker{
		settler:   settler,
		clock:     clk,
		interval:  interval,
		batchSize: batchSize,
	}
}

func (w *TickWorker) Start(ctx context.Context) {
	ticker := w.clock.Ticker(w.interval)
	defer ticker.Stop()

	logrus.WithField("interval", w.interval.String()).Info("Tick worker started")

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Tick worker stopped")
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				logrus.WithError(err).Error("Tick failed")
			}
		}
	}
}

// RunOnce выполняет один проход: сначала истечение резерваций, затем
// переоценка открытых и закрывающихся лотов
func (w *TickWorker) RunOnce(ctx context.Context) (*TickReport, error) {
	report := &TickReport{StartedAt: w.clock.Now().UTC()}
	defer func() {
		report.Duration = w.clock.Since(report.StartedAt)
		atomic.AddInt64(&w.runs, 1)
		w.mu.Lock()
		w.last = report
		w.mu.Unlock()
	}()

	expired, err := w.settler.ExpireReservations(ctx, w.batchSize)
	report.Expired = expired
	if err != nil {
		// частичные ошибки не мешают переоценке лотов
		logrus.WithError(err).Warn("Some reservations failed to expire")
	}

	ids, err := w.settler.ListSettlingListings(ctx)
	if err != nil {
		return report, err
	}

	for _, id := range ids {
		select {
		case <-ctx.Done():
			logrus.Info("Tick interrupted by context cancellation")
			return report, ctx.Err()
		default:
		}

		settlement, err := w.settler.Evaluate(ctx, id)
		report.Evaluated++
		if err != nil {
			logrus.WithField("listing_id", id).WithError(err).Error("Failed to evaluate listing")
			report.Failed++
			continue
		}

		switch settlement.Listing.State {
		case entity.ListingStateDrawn:
			report.Drawn++
		case entity.ListingStateCancelled:
			report.Cancelled++
		}
	}

	logrus.WithFields(logrus.Fields{
		"expired":   report.Expired,
		"evaluated": report.Evaluated,
		"drawn":     report.Drawn,
		"cancelled": report.Cancelled,
		"failed":    report.Failed,
	}).Info("Tick completed")

	if report.Failed > 0 {
		logrus.Warnf("%d listings failed to evaluate during tick", report.Failed)
	}
	return report, nil
}

// Runs is the number of completed ticks
func (w *TickWorker) Runs() int64 {
	return atomic.LoadInt64(&w.runs)
}

// GetStats возвращает статистику работы воркера
func (w *TickWorker) GetStats() map[string]interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()

	stats := map[string]interface{}{
		"worker_type": "sale_tick",
		"interval":    w.interval.String(),
		"runs":        w.Runs(),
	}
	if w.last != nil {
		stats["last_tick"] = w.last
	}
	return stats
}
