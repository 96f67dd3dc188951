package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has an
// open circuit breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

// FallbackConfig sets the breaker template applied to every entry of a
// [FallbackGroup]. The entry's name replaces the template's Name.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type candidate[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds interchangeable backends tried in registration order.
// The app uses it to open the first working output sink: a failing device
// trips its breaker and the next backend is tried.
//
// Entries are added during setup; Execute is safe for concurrent use.
type FallbackGroup[T any] struct {
	cfg        FallbackConfig
	candidates []candidate[T]
}

// NewFallbackGroup returns a group whose first entry is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a backend after the existing ones.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	bc := fg.cfg.CircuitBreaker
	bc.Name = name
	fg.candidates = append(fg.candidates, candidate[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(bc),
	})
}

// Names lists the entries in trial order.
func (fg *FallbackGroup[T]) Names() []string {
	out := make([]string, 0, len(fg.candidates))
	for _, c := range fg.candidates {
		out = append(out, c.name)
	}
	return out
}

// Execute calls fn with each entry until one returns nil. Entries whose
// breaker is open are skipped. When all fail the result wraps
// [ErrAllFailed] and the last error.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for functions that produce a
// value, such as an opened sink.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range fg.candidates {
		c := &fg.candidates[i]
		var out R
		err := c.breaker.Execute(func() (err error) {
			out, err = fn(c.value)
			return err
		})
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("fallback: backend skipped, circuit open", "backend", c.name)
		default:
			slog.Warn("fallback: backend failed", "backend", c.name, "err", err)
		}
		lastErr = err
	}
	var zero R
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
