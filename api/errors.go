package api

import (
	"errors"
	"fmt"

	apiserviceerror "go.temporal.io/api/serviceerror"

	"github.com/orchestrator/workflow-core/common/serviceerror"
)

// ToTemporalError translates an internal serviceerror kind into the
// corresponding go.temporal.io/api/serviceerror type, so gRPC clients
// written against the Temporal SDK get the error types they already know
// how to branch on.
func ToTemporalError(err error) error {
	if err == nil {
		return nil
	}
	var (
		notFound      *serviceerror.NotFound
		alreadyExists *serviceerror.AlreadyExists
		invalidReq    *serviceerror.InvalidRequest
		historyErr    *serviceerror.HistoryEventError
		invalidState  *serviceerror.InvalidWorkflowState
		conflict      *serviceerror.ConcurrencyConflict
		shardErr      *serviceerror.ShardUnavailable
		leaseErr      *serviceerror.TaskLeaseExpired
		canceled      *serviceerror.Canceled
		notRegistered *serviceerror.WorkflowNotRegistered
	)
	switch {
	case errors.As(err, &notFound):
		return apiserviceerror.NewNotFound(notFound.Error())
	case errors.As(err, &alreadyExists):
		return apiserviceerror.NewWorkflowExecutionAlreadyStarted(alreadyExists.Error(), "", "")
	case errors.As(err, &invalidReq):
		return apiserviceerror.NewInvalidArgument(invalidReq.Error())
	case errors.As(err, &historyErr):
		return apiserviceerror.NewInvalidArgument(historyErr.Error())
	case errors.As(err, &invalidState):
		return apiserviceerror.NewFailedPrecondition(invalidState.Error())
	case errors.As(err, &conflict):
		return apiserviceerror.NewFailedPrecondition(conflict.Error())
	case errors.As(err, &shardErr):
		return apiserviceerror.NewUnavailable(shardErr.Error())
	case errors.As(err, &leaseErr):
		return apiserviceerror.NewNotFound(leaseErr.Error())
	case errors.As(err, &canceled):
		return apiserviceerror.NewCanceled(canceled.Error())
	case errors.As(err, &notRegistered):
		return apiserviceerror.NewInvalidArgument(notRegistered.Error())
	default:
		return apiserviceerror.NewInternal(fmt.Sprintf("internal error: %v", err))
	}
}
