package log_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/orchestrator/workflow-core/common/log"
	"github.com/orchestrator/workflow-core/common/log/tag"
)

func newObserved() (log.Logger, *observer.ObservedLogs) {
	core, observed := observer.New(zapcore.DebugLevel)
	return log.NewZapLogger(zap.New(core)), observed
}

func TestLogger_InfoRecordsMessageAndTags(t *testing.T) {
	logger, observed := newObserved()

	logger.Info("workflow started", tag.WorkflowID("wf-1"), tag.RunID("run-1"))

	require.Equal(t, 1, observed.Len())
	entry := observed.All()[0]
	assert.Equal(t, "workflow started", entry.Message)
	assert.Equal(t, zapcore.InfoLevel, entry.Level)
	fields := entry.ContextMap()
	assert.Equal(t, "wf-1", fields["workflow-id"])
	assert.Equal(t, "run-1", fields["run-id"])
}

func TestLogger_ErrorTagCarriesUnderlyingError(t *testing.T) {
	logger, observed := newObserved()
	cause := errors.New("lease expired")

	logger.Error("heartbeat failed", tag.Error(cause))

	require.Equal(t, 1, observed.Len())
	assert.Equal(t, "lease expired", observed.All()[0].ContextMap()["error"])
}

func TestLogger_WithAttachesPersistentTags(t *testing.T) {
	logger, observed := newObserved()
	scoped := logger.With(tag.ComponentName("matching-engine"))

	scoped.Warn("task failed")
	scoped.Info("task requeued")

	require.Equal(t, 2, observed.Len())
	for _, entry := range observed.All() {
		assert.Equal(t, "matching-engine", entry.ContextMap()["component"])
	}
}

func TestNewDefault_ReturnsUsableLogger(t *testing.T) {
	logger := log.NewDefault()
	assert.NotPanics(t, func() {
		logger.Info("smoke test")
	})
}
