package raffle

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/ds124wfegd/rafflr/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closingListing(id int64, seed []byte) *entity.Listing {
	return &entity.Listing{ID: id, State: entity.ListingStateClosing, SeedMaterial: seed}
}

func TestDrawIsDeterministic(t *testing.T) {
	engine := NewEngine()
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	l := closingListing(42, []byte("fixed seed material"))
	ledger := []entity.LedgerEntry{
		{ReservationID: 1, BuyerID: 100, StartTicket: 1, Quantity: 1},
		{ReservationID: 2, BuyerID: 200, StartTicket: 2, Quantity: 1},
		{ReservationID: 3, BuyerID: 300, StartTicket: 3, Quantity: 1},
	}

	first, err := engine.Draw(l, ledger, at)
	require.NoError(t, err)
	second, err := engine.Draw(l, ledger, at)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, entity.DrawAlgorithmV1, first.AlgorithmVersion)
	assert.Equal(t, 3, first.TotalTickets)
	assert.Len(t, first.Seed, 64)
	assert.Contains(t, []int64{100, 200, 300}, first.WinnerID)
	assert.Equal(t, first.Position, first.WinningTicket)
	assert.Equal(t, first.WinnerID, ledger[first.WinningTicket-1].BuyerID)

	// input order does not matter, only ticket order does
	shuffled := []entity.LedgerEntry{ledger[2], ledger[0], ledger[1]}
	third, err := engine.Draw(l, shuffled, at)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}

// Known answer for blake3-chacha20/v1. Changing it breaks verification of
// every stored draw.
func TestDrawKnownAnswer(t *testing.T) {
	engine := NewEngine()
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	ledger := []entity.LedgerEntry{
		{ReservationID: 1, BuyerID: 100, StartTicket: 1, Quantity: 2},
		{ReservationID: 2, BuyerID: 200, StartTicket: 4, Quantity: 3},
		{ReservationID: 3, BuyerID: 300, StartTicket: 8, Quantity: 1},
	}

	rec, err := engine.Draw(closingListing(42, []byte("fixed seed material")), ledger, at)
	require.NoError(t, err)

	assert.Equal(t, "a26eec63e3a5f5c0bd1e5c1001a519b671f127d51c16b02034ae21c3d083d47f", rec.Seed)
	assert.Equal(t, 6, rec.TotalTickets)
	assert.Equal(t, 3, rec.Position)
	assert.Equal(t, 4, rec.WinningTicket)
	assert.Equal(t, int64(200), rec.WinnerID)
	assert.Equal(t, int64(2), rec.ReservationID)
}

func TestDrawMapsPositionToTicketRange(t *testing.T) {
	engine := NewEngine()
	// gaps in numbering: tickets 3 and 4 were released
	ledger := []entity.LedgerEntry{
		{ReservationID: 1, BuyerID: 1, StartTicket: 1, Quantity: 2},
		{ReservationID: 2, BuyerID: 2, StartTicket: 5, Quantity: 3},
	}

	for i := 0; i < 50; i++ {
		seed := make([]byte, 8)
		binary.BigEndian.PutUint64(seed, uint64(i))
		rec, err := engine.Draw(closingListing(7, seed), ledger, time.Time{})
		require.NoError(t, err)

		if rec.Position <= 2 {
			assert.Equal(t, int64(1), rec.WinnerID)
			assert.Equal(t, rec.Position, rec.WinningTicket)
		} else {
			assert.Equal(t, int64(2), rec.WinnerID)
			assert.Equal(t, int64(2), rec.ReservationID)
			assert.Equal(t, rec.Position+2, rec.WinningTicket)
		}
	}
}

func TestDrawWeightsByTicketCount(t *testing.T) {
	engine := NewEngine()
	ledger := []entity.LedgerEntry{
		{ReservationID: 1, BuyerID: 1, StartTicket: 1, Quantity: 1},
		{ReservationID: 2, BuyerID: 2, StartTicket: 2, Quantity: 3},
	}

	const rounds = 4000
	wins := 0
	for i := 0; i < rounds; i++ {
		seed := make([]byte, 8)
		binary.BigEndian.PutUint64(seed, uint64(i))
		rec, err := engine.Draw(closingListing(int64(i+1), seed), ledger, time.Time{})
		require.NoError(t, err)
		if rec.WinnerID == 2 {
			wins++
		}
	}

	assert.InDelta(t, 0.75, float64(wins)/rounds, 0.05)
}

func TestDrawPreconditions(t *testing.T) {
	engine := NewEngine()

	_, err := engine.Draw(closingListing(1, []byte("s")), nil, time.Time{})
	assert.ErrorIs(t, err, entity.ErrNoConfirmedTickets)

	open := &entity.Listing{ID: 1, State: entity.ListingStateOpen}
	_, err = engine.Draw(open, []entity.LedgerEntry{{BuyerID: 1, StartTicket: 1, Quantity: 1}}, time.Time{})
	assert.ErrorIs(t, err, entity.ErrInvalidTransition)
}

func TestDeriveSeedBindsInputs(t *testing.T) {
	base := DeriveSeed([]byte("m"), 1, 10)

	assert.Equal(t, base, DeriveSeed([]byte("m"), 1, 10))
	assert.NotEqual(t, base, DeriveSeed([]byte("m"), 2, 10))
	assert.NotEqual(t, base, DeriveSeed([]byte("m"), 1, 11))
	assert.NotEqual(t, base, DeriveSeed([]byte("n"), 1, 10))
}

func TestVerify(t *testing.T) {
	engine := NewEngine()
	l := closingListing(9, []byte("audit"))
	ledger := []entity.LedgerEntry{
		{ReservationID: 1, BuyerID: 1, StartTicket: 1, Quantity: 4},
		{ReservationID: 2, BuyerID: 2, StartTicket: 5, Quantity: 4},
	}

	rec, err := engine.Draw(l, ledger, time.Now())
	require.NoError(t, err)

	l.State = entity.ListingStateDrawn
	require.NoError(t, engine.Verify(rec, l, ledger))

	tampered := rec.Clone()
	tampered.WinningTicket = rec.WinningTicket%8 + 1
	assert.ErrorIs(t, engine.Verify(tampered, l, ledger), entity.ErrDrawMismatch)

	unknown := rec.Clone()
	unknown.AlgorithmVersion = "md5/v0"
	assert.ErrorIs(t, engine.Verify(unknown, l, ledger), entity.ErrDrawMismatch)
}

func TestSampleUniformRange(t *testing.T) {
	for n := uint64(1); n < 20; n++ {
		seed := DeriveSeed([]byte("range"), int64(n), int(n))
		v, err := sampleUniform(seed, n)
		require.NoError(t, err)
		assert.Less(t, v, n)
	}
}
