package raffle

import (
	"testing"
	"time"

	"github.com/ds124wfegd/rafflr/internal/entity"
	"github.com/stretchr/testify/assert"
)

func TestEvaluateClosing(t *testing.T) {
	deadline := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	capacity := 5

	limit := &entity.Listing{Mode: entity.ClosingModeLimit, Capacity: &capacity}
	byDeadline := &entity.Listing{Mode: entity.ClosingModeDeadline, Deadline: &deadline}
	either := &entity.Listing{Mode: entity.ClosingModeEither, Capacity: &capacity, Deadline: &deadline}

	tests := []struct {
		name      string
		listing   *entity.Listing
		confirmed int
		now       time.Time
		want      Decision
	}{
		{"limit below capacity", limit, 4, deadline, StillOpen},
		{"limit at capacity", limit, 5, deadline.Add(-time.Hour), CloseByLimit},
		{"deadline before", byDeadline, 100, deadline.Add(-time.Second), StillOpen},
		{"deadline exactly", byDeadline, 0, deadline, CloseByDeadline},
		{"deadline after", byDeadline, 3, deadline.Add(time.Minute), CloseByDeadline},
		{"either limit first", either, 5, deadline.Add(-time.Second), CloseByLimit},
		{"either deadline first", either, 2, deadline, CloseByDeadline},
		{"either both hold limit wins", either, 5, deadline.Add(time.Hour), CloseByLimit},
		{"either neither", either, 4, deadline.Add(-time.Minute), StillOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateClosing(tt.listing, tt.confirmed, tt.now)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want != StillOpen, got.Closes())
		})
	}
}
