package serviceerror_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orchestrator/workflow-core/common/serviceerror"
)

func TestToStatus_MapsEachTaggedKind(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		httpCode   int
		grpcStatus string
	}{
		{"invalid request", &serviceerror.InvalidRequest{Message: "bad"}, 400, "INVALID_ARGUMENT"},
		{"history event error", &serviceerror.HistoryEventError{Message: "gap"}, 400, "INVALID_ARGUMENT"},
		{"not found", &serviceerror.NotFound{Message: "missing"}, 404, "NOT_FOUND"},
		{"already exists", &serviceerror.AlreadyExists{Message: "dup"}, 409, "ALREADY_EXISTS"},
		{"invalid workflow state", &serviceerror.InvalidWorkflowState{Message: "terminal"}, 409, "FAILED_PRECONDITION"},
		{"concurrency conflict", &serviceerror.ConcurrencyConflict{ExpectedVersion: 1, ActualVersion: 2}, 409, "FAILED_PRECONDITION"},
		{"unmapped kind falls back to internal", &serviceerror.TaskLeaseExpired{LeaseID: "lease-1"}, 500, "INTERNAL"},
		{"plain error falls back to internal", errors.New("boom"), 500, "INTERNAL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, status := serviceerror.ToStatus(tc.err)
			assert.Equal(t, tc.httpCode, code)
			assert.Equal(t, tc.grpcStatus, status)
		})
	}
}

func TestRecover_ConvertsErrorPanicToPersistenceError(t *testing.T) {
	fn := func() (err error) {
		defer serviceerror.Recover(&err)
		panic(errors.New("store exploded"))
	}

	err := fn()
	var persistErr *serviceerror.PersistenceError
	require := assert.New(t)
	require.ErrorAs(err, &persistErr)
	require.Equal("store exploded", persistErr.Cause.Error())
}

func TestRecover_ConvertsNonErrorPanicToPersistenceError(t *testing.T) {
	fn := func() (err error) {
		defer serviceerror.Recover(&err)
		panic("raw string panic")
	}

	err := fn()
	var persistErr *serviceerror.PersistenceError
	assert.ErrorAs(t, err, &persistErr)
}

func TestRecover_NoPanicLeavesErrUntouched(t *testing.T) {
	fn := func() (err error) {
		defer serviceerror.Recover(&err)
		return errors.New("ordinary failure")
	}

	err := fn()
	assert.EqualError(t, err, "ordinary failure")
}

func TestPersistenceError_UnwrapsToCause(t *testing.T) {
	cause := errors.New("underlying")
	err := &serviceerror.PersistenceError{Cause: cause}
	assert.ErrorIs(t, err, cause)
}

func TestWorkflowExecutionFailed_UnwrapsToCause(t *testing.T) {
	cause := errors.New("application error")
	err := &serviceerror.WorkflowExecutionFailed{Cause: cause}
	assert.ErrorIs(t, err, cause)
}
