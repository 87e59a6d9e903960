package lending

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Logger interface for operational logging, warnings, and error reporting.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ContextualLogger interface for context-aware logging with automatic trace correlation.
// It follows the same dependency-free pattern as MetricsCollector and TracingCollector,
// so any backend supporting context-based correlation can be plugged in.
type ContextualLogger interface {
	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)
}

// MetricsCollector interface for collecting lending performance and operational metrics.
type MetricsCollector interface {
	RecordDuration(metric string, duration time.Duration, labels map[string]string)
	IncrementCounter(metric string, labels map[string]string)
	RecordValue(metric string, value float64, labels map[string]string)
}

// ContextualMetricsCollector extends MetricsCollector with context-aware methods.
// It is optional: the engine uses the context-aware methods when available.
type ContextualMetricsCollector interface {
	MetricsCollector
	RecordDurationContext(ctx context.Context, metric string, duration time.Duration, labels map[string]string)
	IncrementCounterContext(ctx context.Context, metric string, labels map[string]string)
	RecordValueContext(ctx context.Context, metric string, value float64, labels map[string]string)
}

// SpanContext represents an active tracing span that can be finished and updated with attributes.
type SpanContext interface {
	SetStatus(status string)
	AddAttribute(key, value string)
}

// TracingCollector interface for collecting distributed tracing information from lending operations.
type TracingCollector interface {
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, SpanContext)
	FinishSpan(spanCtx SpanContext, status string, attrs map[string]string)
}

const (
	// OperationDurationMetric tracks engine operation duration.
	OperationDurationMetric = "lending_operation_duration_seconds"

	// OperationCallsMetric tracks engine operation calls by outcome.
	OperationCallsMetric = "lending_operation_calls_total"

	// CompensationsMetric counts compensating actions applied after a failed step.
	CompensationsMetric = "lending_compensations_total"

	// RetriesMetric counts retried storage steps.
	RetriesMetric = "lending_retries_total"

	// InvariantViolationsMetric counts observed invariant violations. Alert on any increase.
	InvariantViolationsMetric = "lending_invariant_violations_total"

	// FinesAssessedMetric counts returns that were charged a fine.
	FinesAssessedMetric = "lending_fines_assessed_total"

	// OverdueRecordsMetric records the size of the latest overdue scan.
	OverdueRecordsMetric = "lending_overdue_records"

	StatusSuccess     = "success"
	StatusError       = "error"
	StatusTimeout     = "timeout"
	StatusCanceled    = "canceled"
	StatusConflict    = "conflict"
	StatusRejected    = "rejected"
	StatusInvariant   = "invariant_violation"
	StatusUnavailable = "unavailable"

	OperationBorrow         = "borrow"
	OperationReturn         = "return"
	OperationGetRecord      = "get_record"
	OperationListRecords    = "list_records"
	OperationListOverdue    = "list_overdue"
	OperationReconcileTotal = "reconcile_total_copies"
	OperationDescribe       = "describe_records"

	LogAttrOperation  = "operation"
	LogAttrStatus     = "status"
	LogAttrDurationMS = "duration_ms"
	LogAttrError      = "error"
	LogAttrErrorCode  = "error_code"
	LogAttrRecordID   = "record_id"
	LogAttrBookID     = "book_id"
	LogAttrMemberID   = "member_id"
	LogAttrStep       = "step"
	LogAttrAttempt    = "attempt"
	LogAttrFine       = "fine"
	LogAttrCount      = "count"

	logMsgOperationCompleted = "lending operation completed"
	logMsgOperationFailed    = "lending operation failed"
	logMsgCompensating       = "compensating partially applied step"
	logMsgCompensationFailed = "compensation failed, manual repair required"
	logMsgInvariantViolation = "lending invariant violation observed"

	spanNamePrefix = "lending."
)

// operationObserver encapsulates metrics, tracing, and logging of one engine operation.
type operationObserver struct {
	e         *Engine
	ctx       context.Context
	operation string
	start     time.Time
	span      SpanContext
	attrs     []any
}

// observe starts instrumentation for one operation and returns the context carrying its span.
func (e *Engine) observe(ctx context.Context, operation string, attrs ...any) (*operationObserver, context.Context) {
	o := &operationObserver{e: e, operation: operation, start: time.Now(), attrs: attrs}

	if e.tracingCollector != nil {
		spanAttrs := map[string]string{LogAttrOperation: operation}
		for i := 0; i+1 < len(attrs); i += 2 {
			if key, ok := attrs[i].(string); ok {
				spanAttrs[key] = fmt.Sprint(attrs[i+1])
			}
		}
		ctx, o.span = e.tracingCollector.StartSpan(ctx, spanNamePrefix+operation, spanAttrs)
	}

	o.ctx = ctx

	return o, ctx
}

// finish records the outcome of the operation.
func (o *operationObserver) finish(err error) {
	duration := time.Since(o.start)
	status := statusFor(err)

	o.e.recordDuration(o.ctx, OperationDurationMetric, duration, map[string]string{LogAttrOperation: o.operation, LogAttrStatus: status})
	o.e.incrementCounter(o.ctx, OperationCallsMetric, map[string]string{LogAttrOperation: o.operation, LogAttrStatus: status})

	if o.e.tracingCollector != nil && o.span != nil {
		spanAttrs := map[string]string{LogAttrDurationMS: formatMS(duration)}
		if err != nil {
			spanAttrs[LogAttrError] = err.Error()
			spanAttrs[LogAttrErrorCode] = CodeOf(err)
		}
		o.e.tracingCollector.FinishSpan(o.span, status, spanAttrs)
	}

	args := append([]any{LogAttrOperation, o.operation, LogAttrStatus, status, LogAttrDurationMS, toMilliseconds(duration)}, o.attrs...)

	switch {
	case err == nil:
		o.e.logInfo(o.ctx, logMsgOperationCompleted, args...)
	case KindOf(err) == KindInternal || KindOf(err) == KindUnavailable || KindOf(err) == KindUnknown:
		o.e.logError(o.ctx, logMsgOperationFailed, append(args, LogAttrError, err.Error(), LogAttrErrorCode, CodeOf(err))...)
	default:
		// Expected business outcomes: not found, conflicts, inactive members.
		o.e.logInfo(o.ctx, logMsgOperationFailed, append(args, LogAttrError, err.Error(), LogAttrErrorCode, CodeOf(err))...)
	}
}

// statusFor maps an operation error to a low-cardinality status label.
func statusFor(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, context.Canceled):
		return StatusCanceled
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return StatusTimeout
	}

	switch KindOf(err) {
	case KindConflict:
		return StatusConflict
	case KindInvalidArgument, KindNotFound, KindForbidden:
		return StatusRejected
	case KindInternal:
		return StatusInvariant
	case KindUnavailable:
		return StatusUnavailable
	default:
		return StatusError
	}
}

func (e *Engine) recordDuration(ctx context.Context, metric string, duration time.Duration, labels map[string]string) {
	if e.metricsCollector == nil {
		return
	}

	if contextual, ok := e.metricsCollector.(ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, metric, duration, labels)
		return
	}

	e.metricsCollector.RecordDuration(metric, duration, labels)
}

func (e *Engine) incrementCounter(ctx context.Context, metric string, labels map[string]string) {
	if e.metricsCollector == nil {
		return
	}

	if contextual, ok := e.metricsCollector.(ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, metric, labels)
		return
	}

	e.metricsCollector.IncrementCounter(metric, labels)
}

func (e *Engine) recordValue(ctx context.Context, metric string, value float64, labels map[string]string) {
	if e.metricsCollector == nil {
		return
	}

	if contextual, ok := e.metricsCollector.(ContextualMetricsCollector); ok {
		contextual.RecordValueContext(ctx, metric, value, labels)
		return
	}

	e.metricsCollector.RecordValue(metric, value, labels)
}

// reportInvariantViolation makes an invariant violation visible to operators.
func (e *Engine) reportInvariantViolation(ctx context.Context, operation string, err error, args ...any) {
	e.incrementCounter(ctx, InvariantViolationsMetric, map[string]string{LogAttrOperation: operation})
	e.logError(ctx, logMsgInvariantViolation, append([]any{LogAttrOperation, operation, LogAttrError, err.Error()}, args...)...)
}

func (e *Engine) logInfo(ctx context.Context, msg string, args ...any) {
	if e.logger != nil {
		e.logger.Info(msg, args...)
	}

	if e.contextualLogger != nil {
		e.contextualLogger.InfoContext(ctx, msg, args...)
	}
}

func (e *Engine) logWarn(ctx context.Context, msg string, args ...any) {
	if e.logger != nil {
		e.logger.Warn(msg, args...)
	}

	if e.contextualLogger != nil {
		e.contextualLogger.WarnContext(ctx, msg, args...)
	}
}

func (e *Engine) logError(ctx context.Context, msg string, args ...any) {
	if e.logger != nil {
		e.logger.Error(msg, args...)
	}

	if e.contextualLogger != nil {
		e.contextualLogger.ErrorContext(ctx, msg, args...)
	}
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

func formatMS(d time.Duration) string {
	return strconv.FormatFloat(float64(d.Nanoseconds())/1e6, 'f', 2, 64)
}
