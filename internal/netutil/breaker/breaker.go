// Package breaker wraps sony/gobreaker with the trip policy this pipeline
// uses in front of every REST historical fetch (spec.md §4.1). The
// websocket adapters do not go through a breaker.
package breaker

import (
	"time"

	gobreaker "github.com/sony/gobreaker"
)

// Breaker trips after three consecutive failures, or after a failure rate
// above 5% once at least twenty requests have been observed in the current
// sixty-second window, then stays open for sixty seconds before allowing a
// single probe request through.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New builds a Breaker identified by name, used in zerolog fields and in
// gobreaker's own state-change callback.
func New(name string, onStateChange func(name string, from, to gobreaker.State)) *Breaker {
	settings := gobreaker.Settings{
		Name:     name,
		Interval: 60 * time.Second,
		Timeout:  60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 3 {
				return true
			}
			if counts.Requests < 20 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
		},
	}
	if onStateChange != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			onStateChange(name, from, to)
		}
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn through the breaker, returning gobreaker.ErrOpenState
// without calling fn if the breaker is currently open.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	return b.cb.Execute(fn)
}

// State reports the breaker's current state, for metrics/logging.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
