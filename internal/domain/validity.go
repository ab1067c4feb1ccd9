package domain

import (
	"fmt"

	"cloud.google.com/go/civil"
)

// Validity is an inclusive range of calendar dates. Start == End is a
// single-day window.
type Validity struct {
	Start civil.Date `json:"start"`
	End   civil.Date `json:"end"`
}

func NewValidity(start, end civil.Date) (*Validity, error) {
	v := &Validity{Start: start, End: end}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Validity) Validate() error {
	if v == nil {
		return nil
	}
	if !v.Start.IsValid() || !v.End.IsValid() {
		return fmt.Errorf("%w: invalid date", ErrInvalidDateRange)
	}
	if v.Start.After(v.End) {
		return fmt.Errorf("%w: %s > %s", ErrInvalidDateRange, v.Start, v.End)
	}
	return nil
}

// Contains reports whether date falls inside the window. A nil window
// contains every date.
func (v *Validity) Contains(date civil.Date) bool {
	if v == nil {
		return true
	}
	return !date.Before(v.Start) && !date.After(v.End)
}
