package worker

import (
	"context"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/ds124wfegd/rafflr/config"
	"github.com/ds124wfegd/rafflr/internal/database/memory"
	"github.com/ds124wfegd/rafflr/internal/entity"
	"github.com/ds124wfegd/rafflr/internal/service"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSaleService(t *testing.T, mock *clock.Mock) service.SaleService {
	t.Helper()
	svc, err := service.NewSaleService(memory.NewStore(), nil, mock, rand.Reader, config.SaleConfig{
		ReservationTTL: 15 * time.Minute,
		MaxAttempts:    3,
	})
	require.NoError(t, err)
	return svc
}

func openDeadlineListing(t *testing.T, svc service.SaleService, deadline time.Time) *entity.Listing {
	t.Helper()
	ctx := context.Background()
	l, err := svc.CreateListing(ctx, &service.CreateListingRequest{
		SellerID:    1,
		TicketPrice: decimal.NewFromInt(3),
		Deadline:    entity.CustomTime{Time: deadline},
		Mode:        entity.ClosingModeDeadline,
	})
	require.NoError(t, err)
	l, err = svc.PublishListing(ctx, l.ID)
	require.NoError(t, err)
	return l
}

func TestRunOnceSettlesListings(t *testing.T) {
	mock := clock.NewMock()
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	mock.Set(start)
	svc := newSaleService(t, mock)
	ctx := context.Background()

	withTickets := openDeadlineListing(t, svc, start.Add(time.Hour))
	empty := openDeadlineListing(t, svc, start.Add(time.Hour))
	later := openDeadlineListing(t, svc, start.Add(24*time.Hour))

	r, err := svc.Reserve(ctx, &service.ReserveRequest{ListingID: withTickets.ID, BuyerID: 2, Quantity: 2})
	require.NoError(t, err)
	_, err = svc.OnPaymentResult(ctx, &service.PaymentResult{ReservationID: r.ID, Outcome: entity.PaymentSucceeded, IdempotencyKey: "a"})
	require.NoError(t, err)
	_, err = svc.Reserve(ctx, &service.ReserveRequest{ListingID: later.ID, BuyerID: 3, Quantity: 1})
	require.NoError(t, err)

	w := NewTickWorker(svc, mock, time.Minute, 100)

	report, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Evaluated)
	assert.Zero(t, report.Drawn)
	assert.Zero(t, report.Expired)

	mock.Add(time.Hour)
	report, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, 1, report.Drawn)
	assert.Equal(t, 1, report.Cancelled)

	got, err := svc.GetListing(ctx, empty.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ListingStateCancelled, got.State)

	got, err = svc.GetListing(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ListingStateOpen, got.State)

	assert.Equal(t, int64(2), w.Runs())
	assert.Equal(t, "sale_tick", w.GetStats()["worker_type"])
}

type failingSettler struct {
	service.SaleService
}

func (f failingSettler) ListSettlingListings(ctx context.Context) ([]int64, error) {
	return nil, errors.New("database is down")
}

func TestRunOnceReportsListingFailure(t *testing.T) {
	mock := clock.NewMock()
	w := NewTickWorker(failingSettler{newSaleService(t, mock)}, mock, time.Minute, 10)

	_, err := w.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int64(1), w.Runs())
}

func TestStartTicksOnInterval(t *testing.T) {
	mock := clock.NewMock()
	w := NewTickWorker(newSaleService(t, mock), mock, time.Minute, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		mock.Add(time.Minute)
		return w.Runs() > 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
