package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every member of a [FallbackGroup] either
// failed or was skipped because its breaker is open.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures the breaker created for each member of a
// [FallbackGroup].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary and zero or more fallback instances of one
// dependency type, each guarded by its own [CircuitBreaker]. Calls go to the
// first member whose breaker admits them and whose call succeeds.
//
// FallbackGroup is safe for concurrent use after all fallbacks are added.
type FallbackGroup[T any] struct {
	members []member[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group with primary as its first member. Register
// alternates with [FallbackGroup.AddFallback] before first use.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.add(primaryName, primary)
	return fg
}

// AddFallback appends a member tried after all earlier ones.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.add(name, fallback)
}

func (fg *FallbackGroup[T]) add(name string, value T) {
	bc := fg.cfg.CircuitBreaker
	bc.Name = name
	fg.members = append(fg.members, member[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(bc),
	})
}

// Execute tries fn against each member in order until one succeeds. Members
// with an open breaker are skipped. If no member succeeds, the result wraps
// [ErrAllFailed] around the last error seen.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a value.
// It is a package-level function because methods cannot introduce their own
// type parameters.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range fg.members {
		m := &fg.members[i]
		var out R
		err := m.breaker.Execute(func() error {
			var callErr error
			out, callErr = fn(m.value)
			return callErr
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("provider skipped, circuit open", "provider", m.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", m.name, "error", err)
		}
	}
	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
