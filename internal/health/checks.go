package health

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotReady is wrapped by the audio readiness checks.
var ErrNotReady = errors.New("health: not ready")

// TickRecent reports ready while the scheduler has ticked within maxAge.
// last returns the time of the most recent tick, or the zero time before the
// first one.
func TickRecent(last func() time.Time, maxAge time.Duration) Checker {
	return TickRecentAt(last, maxAge, time.Now)
}

// TickRecentAt is [TickRecent] with an explicit clock.
func TickRecentAt(last func() time.Time, maxAge time.Duration, now func() time.Time) Checker {
	return Checker{
		Name: "scheduler",
		Check: func(context.Context) error {
			t := last()
			if t.IsZero() {
				return fmt.Errorf("%w: no tick yet", ErrNotReady)
			}
			if age := now().Sub(t); age > maxAge {
				return fmt.Errorf("%w: last tick %s ago", ErrNotReady, age.Round(time.Millisecond))
			}
			return nil
		},
	}
}

// LibraryLoaded reports ready once at least want sounds are decoded.
func LibraryLoaded(count func() int, want int) Checker {
	return Checker{
		Name: "library",
		Check: func(context.Context) error {
			if n := count(); n < want {
				return fmt.Errorf("%w: %d of %d sounds loaded", ErrNotReady, n, want)
			}
			return nil
		},
	}
}

// SinkOpen reports ready while an output backend is open. active returns
// the backend name, or "" when none is open.
func SinkOpen(active func() string) Checker {
	return Checker{
		Name: "sink",
		Check: func(context.Context) error {
			if active() == "" {
				return fmt.Errorf("%w: no output backend open", ErrNotReady)
			}
			return nil
		},
	}
}
