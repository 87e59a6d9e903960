package lending

import (
	"context"
	"errors"
)

type compensation struct {
	step string
	undo func(ctx context.Context) error
}

// saga tracks the compensating actions for the steps of one borrow or return applied so far.
type saga struct {
	e             *Engine
	ctx           context.Context
	operation     string
	record        BorrowRecord
	compensations []compensation
}

func (e *Engine) newSaga(ctx context.Context, operation string, record BorrowRecord) *saga {
	return &saga{e: e, ctx: ctx, operation: operation, record: record}
}

// onFailure registers undo to run if a later step fails.
func (s *saga) onFailure(step string, undo func(ctx context.Context) error) {
	s.compensations = append(s.compensations, compensation{step: step, undo: undo})
}

// fail undoes all registered steps in reverse order and returns the error to report for failedStep.
//
// If every compensation succeeds the original error is returned unchanged. Otherwise the state is
// left inconsistent and the result is classified as ErrInvariantViolation.
func (s *saga) fail(failedStep string, cause error) error {
	var compensationErrs []error

	for i := len(s.compensations) - 1; i >= 0; i-- {
		c := s.compensations[i]

		s.e.incrementCounter(s.ctx, CompensationsMetric, map[string]string{LogAttrOperation: s.operation, LogAttrStep: c.step})
		s.e.logWarn(s.ctx, logMsgCompensating,
			LogAttrOperation, s.operation,
			LogAttrStep, c.step,
			"failed_step", failedStep,
			LogAttrRecordID, s.record.ID.String(),
			LogAttrError, cause.Error(),
		)

		if err := s.e.retrying(s.ctx, s.operation, c.step, c.undo); err != nil {
			s.e.logError(s.ctx, logMsgCompensationFailed,
				LogAttrOperation, s.operation,
				LogAttrStep, c.step,
				LogAttrRecordID, s.record.ID.String(),
				LogAttrBookID, s.record.BookID.String(),
				LogAttrMemberID, s.record.MemberID.String(),
				LogAttrError, err.Error(),
			)
			compensationErrs = append(compensationErrs, err)
		}
	}

	if len(compensationErrs) == 0 {
		return cause
	}

	err := errors.Join(append([]error{ErrInvariantViolation, cause}, compensationErrs...)...)
	s.e.reportInvariantViolation(s.ctx, s.operation, err, LogAttrRecordID, s.record.ID.String())

	return err
}
