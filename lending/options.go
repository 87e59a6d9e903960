package lending

import (
	"errors"
	"time"
)

const defaultStoreTimeout = 2 * time.Second

var (
	// ErrNilStore is returned when NewEngine is called without one of its collaborators.
	ErrNilStore = errors.New("catalog, member, and ledger stores must not be nil")

	// ErrNilClock is returned when a nil clock is provided to WithClock.
	ErrNilClock = errors.New("clock must not be nil")

	// ErrNonPositiveStoreTimeout is returned when the store call timeout is not positive.
	ErrNonPositiveStoreTimeout = errors.New("store timeout must be positive")

	// ErrNegativeFinePerDay is returned when a negative daily fine is configured.
	ErrNegativeFinePerDay = errors.New("fine per day must not be negative")
)

// Option defines a functional option for configuring the Engine.
type Option func(*Engine) error

// WithClock replaces time.Now as the source of borrow, due, and return dates.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) error {
		if clock == nil {
			return ErrNilClock
		}

		e.clock = clock

		return nil
	}
}

// WithLoanPeriod sets the loan period in days used when Borrow is called without one.
func WithLoanPeriod(days int) Option {
	return func(e *Engine) error {
		if days < 1 {
			return ErrInvalidLoanPeriod
		}

		e.loanDays = days

		return nil
	}
}

// WithFinePerDay sets the fine charged for each started day a copy is returned late.
func WithFinePerDay(fine int64) Option {
	return func(e *Engine) error {
		if fine < 0 {
			return ErrNegativeFinePerDay
		}

		e.finePerDay = fine

		return nil
	}
}

// WithStoreTimeout bounds every single call to a store. An expired call fails with ErrTimeout.
func WithStoreTimeout(timeout time.Duration) Option {
	return func(e *Engine) error {
		if timeout <= 0 {
			return ErrNonPositiveStoreTimeout
		}

		e.storeTimeout = timeout

		return nil
	}
}

// WithRetryOptions configures how transient store failures inside borrow and return are retried.
func WithRetryOptions(options ...RetryOption) Option {
	return func(e *Engine) error {
		for _, option := range options {
			if err := option(&e.retry); err != nil {
				return err
			}
		}

		return nil
	}
}

// WithLogger sets the logger for the Engine.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Info level: completed operations and expected business failures with duration_ms
// Warn level: retries and compensating actions
// Error level: failed operations, failed compensations, and invariant violations.
func WithLogger(logger Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithContextualLogger sets a context-aware logger, e.g. one correlating log records with trace spans.
func WithContextualLogger(logger ContextualLogger) Option {
	return func(e *Engine) error {
		e.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Engine. Retry metrics are reported to the same collector.
func WithMetrics(collector MetricsCollector) Option {
	return func(e *Engine) error {
		e.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the Engine.
func WithTracing(collector TracingCollector) Option {
	return func(e *Engine) error {
		e.tracingCollector = collector
		return nil
	}
}
