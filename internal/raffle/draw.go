package raffle

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/ds124wfegd/rafflr/internal/entity"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20"
)

const seedContext = "rafflr draw seed v1"

// Engine selects a winner from a confirmed ticket ledger. It keeps no state
// between draws.
type Engine struct {
	version string
}

func NewEngine() *Engine {
	return &Engine{version: entity.DrawAlgorithmV1}
}

func (e *Engine) Version() string {
	return e.version
}

// DeriveSeed binds the listing's seed material to the listing id and the
// size of the confirmed population.
func DeriveSeed(material []byte, listingID int64, total int) [32]byte {
	buf := make([]byte, 0, len(material)+16)
	buf = append(buf, material...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(listingID))
	buf = binary.BigEndian.AppendUint64(buf, uint64(total))

	var seed [32]byte
	blake3.DeriveKey(seedContext, buf, seed[:])
	return seed
}

// Draw picks the winning ticket of a closing listing. The result depends
// only on the seed material, the listing id and the ordered ledger.
func (e *Engine) Draw(l *entity.Listing, ledger []entity.LedgerEntry, at time.Time) (*entity.DrawRecord, error) {
	if l.State != entity.ListingStateClosing {
		return nil, fmt.Errorf("%w: draw requires closing listing, got %s", entity.ErrInvalidTransition, l.State)
	}
	return e.compute(l, ledger, at)
}

// Verify recomputes a stored draw and reports ErrDrawMismatch if it differs.
func (e *Engine) Verify(record *entity.DrawRecord, l *entity.Listing, ledger []entity.LedgerEntry) error {
	if record.AlgorithmVersion != e.version {
		return fmt.Errorf("%w: unsupported algorithm %q", entity.ErrDrawMismatch, record.AlgorithmVersion)
	}

	got, err := e.compute(l, ledger, record.DrawnAt)
	if err != nil {
		return err
	}

	if got.WinningTicket != record.WinningTicket ||
		got.WinnerID != record.WinnerID ||
		got.TotalTickets != record.TotalTickets ||
		got.Seed != record.Seed {
		return fmt.Errorf("%w: recomputed ticket %d, recorded %d",
			entity.ErrDrawMismatch, got.WinningTicket, record.WinningTicket)
	}
	return nil
}

func (e *Engine) compute(l *entity.Listing, ledger []entity.LedgerEntry, at time.Time) (*entity.DrawRecord, error) {
	ordered := make([]entity.LedgerEntry, len(ledger))
	copy(ordered, ledger)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].StartTicket < ordered[j].StartTicket
	})

	total := entity.TotalTickets(ordered)
	if total < 1 {
		return nil, entity.ErrNoConfirmedTickets
	}

	seed := DeriveSeed(l.SeedMaterial, l.ID, total)
	position, err := sampleUniform(seed, uint64(total))
	if err != nil {
		return nil, err
	}

	entry, ticket := locate(ordered, int(position))

	return &entity.DrawRecord{
		ListingID:        l.ID,
		WinningTicket:    ticket,
		WinnerID:         entry.BuyerID,
		ReservationID:    entry.ReservationID,
		Position:         int(position) + 1,
		TotalTickets:     total,
		Seed:             hex.EncodeToString(seed[:]),
		AlgorithmVersion: e.version,
		DrawnAt:          at,
	}, nil
}

// sampleUniform returns a value in [0, n) from the chacha20 keystream keyed
// by seed. Words below 2^64 mod n are rejected so every value is equally likely.
func sampleUniform(seed [32]byte, n uint64) (uint64, error) {
	nonce := make([]byte, chacha20.NonceSize)
	stream, err := chacha20.NewUnauthenticatedCipher(seed[:], nonce)
	if err != nil {
		return 0, fmt.Errorf("failed to init draw stream: %w", err)
	}

	threshold := -n % n
	word := make([]byte, 8)
	for {
		for i := range word {
			word[i] = 0
		}
		stream.XORKeyStream(word, word)
		v := binary.BigEndian.Uint64(word)
		if v >= threshold {
			return v % n, nil
		}
	}
}

// locate maps a 0-based position in the ordered population to its range.
func locate(ordered []entity.LedgerEntry, position int) (entity.LedgerEntry, int) {
	for _, e := range ordered {
		if position < e.Quantity {
			return e, e.StartTicket + position
		}
		position -= e.Quantity
	}
	// unreachable while position < total
	last := ordered[len(ordered)-1]
	return last, last.EndTicket()
}
