package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSettings configures the circuit breaker in front of a resolver.
type BreakerSettings struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerSettings trips after five calls with at least 60% transport
// failures and probes again after 30s.
func DefaultBreakerSettings(name string) BreakerSettings {
	return BreakerSettings{
		Name:             name,
		MaxRequests:      1,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// Breaker stops calling a failing model for a while. Only transport errors
// count as failures; an invalid document means the model is up.
type Breaker struct {
	next Resolver
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker wraps next in a circuit breaker. onChange, if non-nil, is told
// about every state transition.
func WithBreaker(next Resolver, s BreakerSettings, onChange func(from, to string)) *Breaker {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("resolver circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			if onChange != nil {
				onChange(from.String(), to.String())
			}
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrTransport)
		},
	})
	return &Breaker{next: next, cb: cb}
}

func (b *Breaker) Resolve(ctx context.Context, req Request) (Response, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return b.next.Resolve(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Response{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if err != nil {
		return Response{}, err
	}
	return out.(Response), nil
}

// State reports the breaker state: closed, half-open or open.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
