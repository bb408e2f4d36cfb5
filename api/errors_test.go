package api_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	apiserviceerror "go.temporal.io/api/serviceerror"

	"github.com/orchestrator/workflow-core/api"
	"github.com/orchestrator/workflow-core/common/serviceerror"
)

func TestToTemporalError_NilReturnsNil(t *testing.T) {
	assert.Nil(t, api.ToTemporalError(nil))
}

func TestToTemporalError_MapsEachTaggedKind(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want interface{}
	}{
		{"not found", &serviceerror.NotFound{Message: "x"}, &apiserviceerror.NotFound{}},
		{"already exists", &serviceerror.AlreadyExists{Message: "x"}, &apiserviceerror.WorkflowExecutionAlreadyStarted{}},
		{"invalid request", &serviceerror.InvalidRequest{Message: "x"}, &apiserviceerror.InvalidArgument{}},
		{"history event error", &serviceerror.HistoryEventError{Message: "x"}, &apiserviceerror.InvalidArgument{}},
		{"invalid workflow state", &serviceerror.InvalidWorkflowState{Message: "x"}, &apiserviceerror.FailedPrecondition{}},
		{"concurrency conflict", &serviceerror.ConcurrencyConflict{}, &apiserviceerror.FailedPrecondition{}},
		{"shard unavailable", &serviceerror.ShardUnavailable{ShardID: 1, Message: "x"}, &apiserviceerror.Unavailable{}},
		{"task lease expired", &serviceerror.TaskLeaseExpired{LeaseID: "l"}, &apiserviceerror.NotFound{}},
		{"canceled", &serviceerror.Canceled{Message: "x"}, &apiserviceerror.Canceled{}},
		{"workflow not registered", &serviceerror.WorkflowNotRegistered{WorkflowType: "t"}, &apiserviceerror.InvalidArgument{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := api.ToTemporalError(tc.in)
			assert.IsType(t, tc.want, got)
		})
	}
}

func TestToTemporalError_UnknownErrorMapsToInternal(t *testing.T) {
	got := api.ToTemporalError(assertErr{})
	assert.IsType(t, &apiserviceerror.Internal{}, got)
}

type assertErr struct{}

func (assertErr) Error() string { return "unmapped failure" }
