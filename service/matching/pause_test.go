package matching_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/orchestrator/workflow-core/common/log"
	"github.com/orchestrator/workflow-core/common/metrics"
	"github.com/orchestrator/workflow-core/common/persistence"
	"github.com/orchestrator/workflow-core/common/persistence/memstore"
	"github.com/orchestrator/workflow-core/service/matching"
)

type PauseTaskTestSuite struct {
	suite.Suite
	store  *memstore.Store
	engine matching.Engine
}

func TestPauseTaskTestSuite(t *testing.T) {
	suite.Run(t, new(PauseTaskTestSuite))
}

func (s *PauseTaskTestSuite) SetupTest() {
	s.store = memstore.New()
	s.engine = matching.NewEngine(matching.Config{
		LongPollTimeout:   6 * time.Second, // longer than the 5s requeue backoff FailTask applies
		PollRetryInterval: 10 * time.Millisecond,
		TaskLeaseDuration: time.Second,
	}, s.store.TaskQueues(), log.NewDefault(), metrics.NoopHandler())
}

func (s *PauseTaskTestSuite) enqueueActivityTask(namespaceID, workflowID, runID string) {
	err := s.engine.EnqueueTask(context.Background(), &persistence.TaskQueueItem{
		NamespaceID:   namespaceID,
		TaskQueueName: "tq",
		TaskQueueType: persistence.TaskQueueTypeActivity,
		TaskID:        1,
		WorkflowID:    workflowID,
		RunID:         runID,
		ScheduledAt:   time.Now().UTC(),
		TaskData:      []byte(`{"ActivityType":"do-thing"}`),
	})
	s.Require().NoError(err)
}

// TestPauseBlocksRedispatch verifies that pausing the task belonging to a
// workflow run prevents it from being handed to a poller until unpaused.
func (s *PauseTaskTestSuite) TestPauseBlocksRedispatch() {
	ctx := context.Background()
	s.enqueueActivityTask("ns", "wf-1", "run-1")

	err := s.engine.PauseTask(ctx, "ns", "wf-1", "run-1", persistence.TaskQueueTypeActivity, "test-identity", "test-reason")
	s.Require().NoError(err)

	item, lease, err := s.engine.PollTask(ctx, "ns", "tq", persistence.TaskQueueTypeActivity, "worker-1")
	s.Require().NoError(err)
	s.Nil(item)
	s.Nil(lease)

	err = s.engine.UnpauseTask(ctx, "ns", "wf-1", "run-1", persistence.TaskQueueTypeActivity, false)
	s.Require().NoError(err)

	item, lease, err = s.engine.PollTask(ctx, "ns", "tq", persistence.TaskQueueTypeActivity, "worker-1")
	s.Require().NoError(err)
	s.Require().NotNil(item)
	s.Require().NotNil(lease)
	s.Equal(int32(1), lease.AttemptCount)
}

// TestUnpauseWithResetAttemptsClearsAttemptCount verifies that unpausing
// with resetAttempts set reports AttemptCount == 1 on the next poll even
// after the task had previously been failed and requeued.
func (s *PauseTaskTestSuite) TestUnpauseWithResetAttemptsClearsAttemptCount() {
	ctx := context.Background()
	s.enqueueActivityTask("ns", "wf-2", "run-2")

	_, lease, err := s.engine.PollTask(ctx, "ns", "tq", persistence.TaskQueueTypeActivity, "worker-1")
	s.Require().NoError(err)
	s.Require().NotNil(lease)
	err = s.engine.FailTask(ctx, lease.LeaseID, "transient failure", true)
	s.Require().NoError(err)

	err = s.engine.PauseTask(ctx, "ns", "wf-2", "run-2", persistence.TaskQueueTypeActivity, "test-identity", "test-reason")
	s.Require().NoError(err)
	err = s.engine.UnpauseTask(ctx, "ns", "wf-2", "run-2", persistence.TaskQueueTypeActivity, true)
	s.Require().NoError(err)

	_, lease, err = s.engine.PollTask(ctx, "ns", "tq", persistence.TaskQueueTypeActivity, "worker-1")
	s.Require().NoError(err)
	s.Require().NotNil(lease)
	s.Equal(int32(1), lease.AttemptCount)
}

// TestUnpauseWithoutResetPreservesAttemptCount verifies the default
// unpause path (resetAttempts == false) keeps accumulating from where the
// attempt count was before the pause.
func (s *PauseTaskTestSuite) TestUnpauseWithoutResetPreservesAttemptCount() {
	ctx := context.Background()
	s.enqueueActivityTask("ns", "wf-3", "run-3")

	_, lease, err := s.engine.PollTask(ctx, "ns", "tq", persistence.TaskQueueTypeActivity, "worker-1")
	s.Require().NoError(err)
	err = s.engine.FailTask(ctx, lease.LeaseID, "transient failure", true)
	s.Require().NoError(err)

	err = s.engine.PauseTask(ctx, "ns", "wf-3", "run-3", persistence.TaskQueueTypeActivity, "test-identity", "test-reason")
	s.Require().NoError(err)
	err = s.engine.UnpauseTask(ctx, "ns", "wf-3", "run-3", persistence.TaskQueueTypeActivity, false)
	s.Require().NoError(err)

	_, lease, err = s.engine.PollTask(ctx, "ns", "tq", persistence.TaskQueueTypeActivity, "worker-1")
	s.Require().NoError(err)
	s.Require().NotNil(lease)
	s.Equal(int32(2), lease.AttemptCount)
}

func (s *PauseTaskTestSuite) TestPauseUnknownExecutionReturnsNotFound() {
	err := s.engine.PauseTask(context.Background(), "ns", "no-such-workflow", "no-such-run", persistence.TaskQueueTypeActivity, "id", "reason")
	s.Error(err)
}
