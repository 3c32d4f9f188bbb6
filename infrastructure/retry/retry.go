// Package retry implements the exponential-backoff-with-jitter retry
// engine used to re-attempt transiently failing ingestion operations
// before they are routed to the dead-letter queue.
package retry

import (
	"context"
	"time"
)

// Config controls the backoff schedule.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64
}

// DefaultConfig mirrors the ingestion pipeline's default retry policy: three
// attempts, starting at 200ms, doubling up to a 10s ceiling.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// Classifier decides whether a failed attempt's error should be retried.
// A classifier returning false stops the retry loop immediately, even if
// attempts remain, and surfaces the error as permanent.
type Classifier func(err error) bool

// Op is the operation the engine retries. ctx is the caller's context,
// passed unchanged to every attempt (no per-attempt deadline is added);
// attempt is 0-indexed.
type Op func(ctx context.Context, attempt int) error

// Result reports the outcome of a retried operation.
type Result struct {
	Err      error
	Attempts int
	Permanent bool
}

// Engine executes an Op under the configured backoff schedule, stopping
// early when the classifier reports a permanent error.
type Engine struct {
	config     Config
	classifier Classifier
}

// NewEngine builds a retry Engine. A nil classifier treats every error as
// transient (always retried until attempts are exhausted).
func NewEngine(cfg Config, classifier Classifier) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0.1
	}
	if classifier == nil {
		classifier = func(error) bool { return true }
	}
	return &Engine{config: cfg, classifier: classifier}
}

// Execute runs op, retrying transient failures per the backoff schedule.
func (e *Engine) Execute(ctx context.Context, op Op) Result {
	var lastErr error

	for attempt := 0; attempt < e.config.MaxAttempts; attempt++ {
		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return Result{Attempts: attempt + 1}
		}

		if !e.classifier(lastErr) {
			return Result{Err: lastErr, Attempts: attempt + 1, Permanent: true}
		}

		if attempt < e.config.MaxAttempts-1 {
			delay := e.calculateDelay(attempt)
			select {
			case <-ctx.Done():
				return Result{Err: ctx.Err(), Attempts: attempt + 1}
			case <-time.After(delay):
			}
		}
	}

	return Result{Err: lastErr, Attempts: e.config.MaxAttempts}
}

func (e *Engine) calculateDelay(attempt int) time.Duration {
	delay := float64(e.config.BaseDelay) * pow(e.config.Multiplier, float64(attempt))
	if delay > float64(e.config.MaxDelay) {
		delay = float64(e.config.MaxDelay)
	}

	jitterRange := delay * e.config.Jitter
	if jitterRange <= 0 {
		return time.Duration(delay)
	}

	jitter := time.Duration(time.Now().UnixNano()) % time.Duration(2*jitterRange)
	delay = delay - jitterRange + float64(jitter)

	if delay < 0 {
		delay = 0
	}

	return time.Duration(delay)
}

func pow(base, exp float64) float64 {
	result := 1.0
	expInt := int(exp)
	for expInt > 0 {
		if expInt%2 == 1 {
			result *= base
		}
		base *= base
		expInt /= 2
	}
	return result
}
