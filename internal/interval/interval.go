// Package interval validates timer bounds: a closed segment must not
// stop before it starts. An open (running) segment is always valid.
package interval

import (
	"fmt"
	"time"
)

type Error struct {
	Field string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid interval: %s precedes start", e.Field)
}

// Check validates a (start, stop) pair. stop nil means the timer is
// running, which is always valid. Equal instants are accepted: a
// zero-length segment is odd but not contradictory.
func Check(start time.Time, stop *time.Time) error {
	if stop == nil {
		return nil
	}
	if stop.Before(start) {
		return &Error{Field: "stop"}
	}
	return nil
}
