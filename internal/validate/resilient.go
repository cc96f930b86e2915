package validate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/receiptguard/internal/llm"
	"github.com/ppiankov/receiptguard/internal/logging"
	"github.com/ppiankov/receiptguard/internal/metrics"
	"github.com/ppiankov/receiptguard/internal/model"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// validateSleepFunc waits between attempts (injectable for tests). It
// returns early when ctx is done.
var validateSleepFunc = func(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Resilient wraps a Validator with a rate limiter, a circuit breaker,
// bounded retries and a per-attempt timeout. It always returns a record;
// when no answer was obtained the record is the unavailable one and the
// error wraps ErrUnavailable.
type Resilient struct {
	inner          Validator
	name           string
	limiter        *Limiter
	breaker        *gobreaker.CircuitBreaker
	maxAttempts    int
	attemptTimeout time.Duration
	backoff        time.Duration
}

// NewResilient wraps inner. limiter may be shared between wrappers; nil
// disables rate limiting.
func NewResilient(inner Validator, name string, cfg model.ValidatorConfig, limiter *Limiter) *Resilient {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// a rejected request says nothing about provider health
			return err == nil || !llm.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn("Validator circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.RecordBreakerState(name, to)
		},
	})

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	return &Resilient{
		inner:          inner,
		name:           name,
		limiter:        limiter,
		breaker:        breaker,
		maxAttempts:    attempts,
		attemptTimeout: cfg.AttemptTimeout,
		backoff:        time.Second,
	}
}

// Name returns the breaker name, normally the provider name
func (r *Resilient) Name() string {
	return r.name
}

// Validate retries the inner validator with exponential backoff
func (r *Resilient) Validate(ctx context.Context, req Request) (*model.ContentValidation, error) {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx, r.name); err != nil {
				lastErr = err
				break
			}
		}

		attempts++
		cv, err := r.attempt(ctx, req)
		if err == nil {
			cv.Attempts = attempts
			metrics.IncValidatorCall(r.name, "ok")
			return cv, nil
		}
		lastErr = err
		metrics.IncValidatorCall(r.name, outcome(err))

		logging.Warn("Content validation attempt failed",
			zap.String("provider", r.name),
			zap.Int("attempt", attempts),
			zap.Int("max_attempts", r.maxAttempts),
			zap.Error(err))

		if !r.shouldRetry(ctx, err) {
			break
		}
		if attempt < r.maxAttempts-1 {
			validateSleepFunc(ctx, time.Duration(1<<uint(attempt))*r.backoff)
		}
	}

	if lastErr == nil {
		lastErr = ctx.Err()
	}
	logging.Error("Content validation unavailable",
		zap.String("provider", r.name),
		zap.Int("attempts", attempts),
		zap.Error(lastErr))

	cv := model.UnavailableValidation(r.name, attempts, lastErr)
	return &cv, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (r *Resilient) attempt(ctx context.Context, req Request) (*model.ContentValidation, error) {
	actx := ctx
	if r.attemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, r.attemptTimeout)
		defer cancel()
	}

	res, err := r.breaker.Execute(func() (interface{}, error) {
		return r.inner.Validate(actx, req)
	})
	if err != nil {
		return nil, err
	}
	cv, ok := res.(*model.ContentValidation)
	if !ok || cv == nil {
		return nil, errors.New("validator returned no result")
	}
	return cv, nil
}

func (r *Resilient) shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	return llm.IsRetryable(err)
}

func outcome(err error) string {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
