// Package raffle holds the pure decision logic of a sale: when it closes and who wins.
package raffle

import (
	"time"

	"github.com/ds124wfegd/rafflr/internal/entity"
)

type Decision string

const (
	StillOpen       Decision = "still_open"
	CloseByLimit    Decision = "close_by_limit"
	CloseByDeadline Decision = "close_by_deadline"
)

func (d Decision) Closes() bool {
	return d == CloseByLimit || d == CloseByDeadline
}

// EvaluateClosing decides whether the sale of l should close at now given
// its confirmed ticket count. When both conditions hold the limit wins.
func EvaluateClosing(l *entity.Listing, confirmed int, now time.Time) Decision {
	limitReached := l.Capacity != nil && confirmed >= *l.Capacity
	deadlinePassed := l.Deadline != nil && !now.Before(*l.Deadline)

	switch l.Mode {
	case entity.ClosingModeLimit:
		if limitReached {
			return CloseByLimit
		}
	case entity.ClosingModeDeadline:
		if deadlinePassed {
			return CloseByDeadline
		}
	case entity.ClosingModeEither:
		if limitReached {
			return CloseByLimit
		}
		if deadlinePassed {
			return CloseByDeadline
		}
	}
	return StillOpen
}
