package observability

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"
)

var (
	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "moviechat_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		},
		[]string{"name"},
	)
	breakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moviechat_circuit_breaker_requests_total",
			Help: "Calls through a circuit breaker by outcome.",
		},
		[]string{"name", "result"},
	)
)

func init() {
	prometheus.MustRegister(breakerState, breakerRequests)
}

// Breaker guards calls to one upstream. Upstream calls are wrapped with
// Execute so a failing dependency stops being hammered and callers fail fast
// with gobreaker.ErrOpenState.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker[any]
}

// NewBreaker opens after 5 consecutive failures, or a 60% failure ratio over
// at least 10 calls, and probes again after timeout.
func NewBreaker(name string, timeout time.Duration) *Breaker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	breakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.ConsecutiveFailures >= 5 {
				return true
			}
			return c.Requests >= 10 && float64(c.TotalFailures)/float64(c.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
			breakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	return &Breaker{name: name, cb: cb}
}

// Name returns the breaker name used in logs and metrics.
func (b *Breaker) Name() string { return b.name }

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State { return b.cb.State() }

// Rejected reports whether err came from the breaker itself rather than the
// wrapped call.
func Rejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Execute runs fn through b. A nil breaker runs fn directly.
func Execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	if b == nil {
		return fn()
	}
	res, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		if Rejected(err) {
			breakerRequests.WithLabelValues(b.name, "rejected").Inc()
		} else {
			breakerRequests.WithLabelValues(b.name, "failure").Inc()
		}
		var zero T
		return zero, err
	}
	breakerRequests.WithLabelValues(b.name, "success").Inc()
	out, _ := res.(T)
	return out, nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
