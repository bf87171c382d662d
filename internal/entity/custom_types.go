package entity

import (
	"fmt"
	"time"
)

// CustomTime accepts both the form layout and RFC3339 in request bodies.
type CustomTime struct {
	time.Time
}

const customTimeLayout = "2006-01-02T15:04"

func (ct *CustomTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		ct.Time = time.Time{}
		return nil
	}
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("%w: time must be a string", ErrInvalidInput)
	}
	s := string(b[1 : len(b)-1]) // Remove quotes
	if s == "" {
		ct.Time = time.Time{}
		return nil
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse(customTimeLayout, s)
		if err != nil {
			return fmt.Errorf("%w: cannot parse time %q", ErrInvalidInput, s)
		}
	}
	ct.Time = t.UTC()
	return nil
}

func (ct CustomTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + ct.Format(time.RFC3339) + `"`), nil
}

// Ptr returns nil for the zero time.
func (ct *CustomTime) Ptr() *time.Time {
	if ct == nil || ct.IsZero() {
		return nil
	}
	t := ct.Time
	return &t
}
