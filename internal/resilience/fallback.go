package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wmaitre1/teen-adhd-assistan-sub000/internal/observe"
)

// ErrAllFailed is returned when no engine in a [FallbackGroup] succeeded.
// The last engine error is wrapped alongside it.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for every engine's breaker. Name and
	// OnStateChange are set by the group.
	CircuitBreaker CircuitBreakerConfig

	// Kind labels metrics and logs ("stt", "tts").
	Kind string

	// Metrics, when set, receives one provider request per attempt and one
	// transition per breaker state change.
	Metrics *observe.Metrics
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup tries a primary engine and then its fallbacks in
// registration order, skipping engines whose breaker is open.
//
// Entries must all be added before the group is shared between goroutines.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup returns a group with primary as the preferred entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an engine, tried after every entry added before it.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	cbCfg.OnStateChange = fg.transition
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the entry names in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// Ping fails with [ErrCircuitOpen] when every entry's breaker is open. It
// makes no calls to the engines.
func (fg *FallbackGroup[T]) Ping(context.Context) error {
	for _, e := range fg.entries {
		if e.breaker.State() != StateOpen {
			return nil
		}
	}
	return fmt.Errorf("%w: all %d %s engines", ErrCircuitOpen, len(fg.entries), fg.cfg.Kind)
}

// Execute runs fn against each entry until one succeeds. A cancelled
// context stops the walk at once and returns the cancellation.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a
// value.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(entry.value)
			return callErr
		})
		fg.record(entry.name, err)

		switch {
		case err == nil:
			return result, nil
		case errors.Is(err, context.Canceled):
			return zero, err
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("resilience: skipping provider", "kind", fg.cfg.Kind, "provider", entry.name)
		default:
			slog.Warn("resilience: provider failed, trying next", "kind", fg.cfg.Kind, "provider", entry.name, "err", err)
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// record counts one attempt against the named entry.
func (fg *FallbackGroup[T]) record(name string, err error) {
	if fg.cfg.Metrics == nil || fg.cfg.Kind == "" {
		return
	}
	status := "ok"
	switch {
	case errors.Is(err, context.Canceled):
		status = "cancelled"
	case errors.Is(err, ErrCircuitOpen):
		status = "skipped"
	case err != nil:
		status = "error"
	}
	fg.cfg.Metrics.RecordProviderRequest(context.Background(), name, fg.cfg.Kind, status)
}

func (fg *FallbackGroup[T]) transition(name string, _, to State) {
	if fg.cfg.Metrics == nil || fg.cfg.Kind == "" {
		return
	}
	fg.cfg.Metrics.RecordBreakerTransition(context.Background(), name, fg.cfg.Kind, to.String())
}
