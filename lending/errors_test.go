package lending

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_KindOf(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		kind Kind
		code string
	}{
		{"nil", nil, KindUnknown, ""},
		{"plain error", errors.New("boom"), KindUnknown, ""},
		{"sentinel", ErrBookNotFound, KindNotFound, "NotFound:Book"},
		{"joined with cause", errors.Join(ErrStorageUnavailable, errors.New("dial tcp")), KindUnavailable, "Unavailable:Storage"},
		{"wrapped", fmt.Errorf("borrowing: %w", ErrInactiveMember), KindForbidden, "Forbidden:InactiveMember"},
		{"deadline", context.DeadlineExceeded, KindUnavailable, "Unavailable:Timeout"},
		{"invariant", errors.Join(ErrInvariantViolation, ErrStorageUnavailable), KindInternal, "Internal:InvariantViolation"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, KindOf(tc.err))
			assert.Equal(t, tc.code, CodeOf(tc.err))
		})
	}
}

func Test_IsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrTimeout))
	assert.True(t, IsRetryable(fmt.Errorf("query: %w", context.DeadlineExceeded)))
	assert.False(t, IsRetryable(ErrBookUnavailable))
	assert.False(t, IsRetryable(ErrInvariantViolation))
	assert.False(t, IsRetryable(context.Canceled))
}

func Test_asTimeout_KeepsOriginalChain(t *testing.T) {
	err := asTimeout(fmt.Errorf("select: %w", context.DeadlineExceeded))

	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NoError(t, asTimeout(nil))
	assert.Equal(t, ErrBookNotFound, asTimeout(ErrBookNotFound))
}
