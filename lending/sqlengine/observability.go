package sqlengine

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/AntonStoeckl/library-lending-go/lending"
)

const (
	// QueryDurationMetric tracks the duration of single store statements.
	QueryDurationMetric = "lendingstore_query_duration_seconds"

	// DatabaseErrorsMetric counts failed store statements.
	DatabaseErrorsMetric = "lendingstore_database_errors_total"

	logMsgBuildQueryFailed  = "failed to build sql statement"
	logMsgDBStatementFailed = "database statement execution failed"
	logMsgCloseRowsFailed   = "failed to close database rows"
	logMsgScanRowFailed     = "failed to convert database row"
	logMsgRollbackFailed    = "failed to roll back transaction"
	logMsgSQLExecuted       = "executed sql for: "
	logAttrError            = "error"
	logAttrQuery            = "query"
	logAttrOperation        = "operation"
	logAttrDurationMS       = "duration_ms"
	logAttrStatus           = "status"

	spanNamePrefix = "lendingstore."
	statusSuccess  = "success"
	statusError    = "error"
)

// logQueryWithDuration logs SQL statements with execution time at debug level if a logger is configured.
func (s *Store) logQueryWithDuration(ctx context.Context, operation string, sqlQuery string, duration time.Duration) {
	if s.logger != nil {
		s.logger.Debug(logMsgSQLExecuted+operation, logAttrDurationMS, toMilliseconds(duration), logAttrQuery, sqlQuery)
	}

	if s.contextualLogger != nil {
		s.contextualLogger.DebugContext(ctx, logMsgSQLExecuted+operation, logAttrDurationMS, toMilliseconds(duration), logAttrQuery, sqlQuery)
	}
}

func (s *Store) logWarn(ctx context.Context, msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}

	if s.contextualLogger != nil {
		s.contextualLogger.WarnContext(ctx, msg, args...)
	}
}

// logError logs error information at the error level if a logger is configured.
func (s *Store) logError(ctx context.Context, msg string, err error, args ...any) {
	allArgs := append([]any{logAttrError, err.Error()}, args...)

	if s.logger != nil {
		s.logger.Error(msg, allArgs...)
	}

	if s.contextualLogger != nil {
		s.contextualLogger.ErrorContext(ctx, msg, allArgs...)
	}
}

func (s *Store) recordDatabaseError(ctx context.Context, operation string) {
	if s.metricsCollector == nil {
		return
	}

	labels := map[string]string{logAttrOperation: operation, logAttrStatus: statusError}

	if contextual, ok := s.metricsCollector.(lending.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, DatabaseErrorsMetric, labels)
		return
	}

	s.metricsCollector.IncrementCounter(DatabaseErrorsMetric, labels)
}

func (s *Store) recordDuration(ctx context.Context, operation string, status string, duration time.Duration) {
	if s.metricsCollector == nil {
		return
	}

	labels := map[string]string{logAttrOperation: operation, logAttrStatus: status}

	if contextual, ok := s.metricsCollector.(lending.ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, QueryDurationMetric, duration, labels)
		return
	}

	s.metricsCollector.RecordDuration(QueryDurationMetric, duration, labels)
}

type statementSpan struct {
	ctx  context.Context
	span lending.SpanContext
}

// startSpan starts a tracing span for one statement if a tracing collector is configured.
func (s *Store) startSpan(ctx context.Context, operation string) (context.Context, statementSpan) {
	if s.tracingCollector == nil {
		return ctx, statementSpan{ctx: ctx}
	}

	spanCtx, span := s.tracingCollector.StartSpan(ctx, spanNamePrefix+operation, map[string]string{
		logAttrOperation: operation,
		"db.system":      s.dialect,
	})

	return spanCtx, statementSpan{ctx: spanCtx, span: span}
}

// finishSpan records the statement duration and finishes its span.
func (s *Store) finishSpan(span statementSpan, operation string, duration time.Duration, err error) {
	status := statusSuccess
	if err != nil {
		status = statusError
	}

	s.recordDuration(span.ctx, operation, status, duration)

	if s.tracingCollector == nil || span.span == nil {
		return
	}

	attrs := map[string]string{logAttrDurationMS: strconv.FormatFloat(toMilliseconds(duration), 'f', 3, 64)}
	if err != nil {
		attrs[logAttrError] = err.Error()
	}

	s.tracingCollector.FinishSpan(span.span, status, attrs)
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
