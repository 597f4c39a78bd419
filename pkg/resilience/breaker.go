// Package resilience wraps outbound calls in a circuit breaker and a
// per-call deadline. There is no retry: a failed upstream call is final for
// that attempt.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned without calling upstream while the breaker is open.
var ErrCircuitOpen = errors.New("circuit_open")

type BreakerConfig struct {
	Name string
	// FailureThreshold failures out of FailureWindow executions open the breaker.
	FailureThreshold uint
	FailureWindow    uint
	OpenDelay        time.Duration
	SuccessThreshold uint
	Timeout          time.Duration
	// CountsAsFailure decides which errors trip the breaker. Errors that
	// describe the input rather than upstream health should return false.
	CountsAsFailure func(error) bool
}

type Breaker struct {
	name    string
	timeout time.Duration
	cb      circuitbreaker.CircuitBreaker[any]
}

func NewBreaker(cfg BreakerConfig, log *zap.Logger) *Breaker {
	if cfg.FailureWindow == 0 {
		cfg.FailureWindow = 10
	}
	if cfg.FailureThreshold == 0 || cfg.FailureThreshold > cfg.FailureWindow {
		cfg.FailureThreshold = cfg.FailureWindow / 2
	}
	if cfg.OpenDelay <= 0 {
		cfg.OpenDelay = 30 * time.Second
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 1
	}
	countsAsFailure := cfg.CountsAsFailure
	if countsAsFailure == nil {
		countsAsFailure = func(err error) bool { return err != nil }
	}
	if log == nil {
		log = zap.NewNop()
	}

	cb := circuitbreaker.NewBuilder[any]().
		WithFailureThresholdRatio(cfg.FailureThreshold, cfg.FailureWindow).
		WithDelay(cfg.OpenDelay).
		WithSuccessThreshold(cfg.SuccessThreshold).
		HandleIf(func(_ any, err error) bool {
			return err != nil && countsAsFailure(err)
		}).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			log.Warn("circuit breaker state change",
				zap.String("circuit_breaker", cfg.Name),
				zap.String("from_state", stateName(event.OldState)),
				zap.String("to_state", stateName(event.NewState)),
			)
		}).
		Build()

	return &Breaker{name: cfg.Name, timeout: cfg.Timeout, cb: cb}
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) IsOpen() bool { return b.cb.IsOpen() }

// Execute runs fn through the breaker with the configured deadline applied
// on top of ctx.
func Execute[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	out, err := failsafe.With[any](b.cb).WithContext(ctx).Get(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return zero, ErrCircuitOpen
		}
		return zero, err
	}
	value, _ := out.(T)
	return value, nil
}

func stateName(state circuitbreaker.State) string {
	switch state {
	case circuitbreaker.ClosedState:
		return "closed"
	case circuitbreaker.OpenState:
		return "open"
	case circuitbreaker.HalfOpenState:
		return "half_open"
	default:
		return "unknown"
	}
}
