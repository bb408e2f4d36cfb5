package runtime_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestrator/workflow-core/service/runtime"
)

func TestEffectStore_FirstExecutionCapturesAndRecords(t *testing.T) {
	ctx := runtime.NewContext(context.Background(), "ns", "wf-1", "run-1", 0, false, runtime.NewFixedTimeProvider(time.Unix(0, 0)), nil)

	calls := 0
	v, err := ctx.Effects().CaptureAsync(func() ([]byte, error) {
		calls++
		return []byte("generated-uuid"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "generated-uuid", string(v))
	assert.Equal(t, 1, calls)

	records := ctx.Effects().PendingRecords()
	require.Len(t, records, 1)
	assert.Equal(t, 0, records[0].Sequence)
	assert.Equal(t, "generated-uuid", string(records[0].Value))
}

func TestEffectStore_ReplayReturnsRecordedValueWithoutCallingProduce(t *testing.T) {
	recorded := []runtime.EffectRecord{{Sequence: 0, Value: []byte("original-value")}}
	ctx := runtime.NewContext(context.Background(), "ns", "wf-1", "run-1", 1, true, runtime.NewFixedTimeProvider(time.Unix(0, 0)), recorded)

	called := false
	v, err := ctx.Effects().CaptureAsync(func() ([]byte, error) {
		called = true
		return []byte("different-value"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "original-value", string(v))
	assert.False(t, called, "produce must not run again during replay")
}

func TestEffectStore_ReplayMissingRecordReturnsInvalidWorkflowState(t *testing.T) {
	ctx := runtime.NewContext(context.Background(), "ns", "wf-1", "run-1", 1, true, runtime.NewFixedTimeProvider(time.Unix(0, 0)), nil)

	_, err := ctx.Effects().CaptureAsync(func() ([]byte, error) { return nil, nil })
	assert.Error(t, err)
}

func TestEffectStore_SequencePositionsAdvanceAcrossCalls(t *testing.T) {
	ctx := runtime.NewContext(context.Background(), "ns", "wf-1", "run-1", 0, false, runtime.NewFixedTimeProvider(time.Unix(0, 0)), nil)

	_, _ = ctx.Effects().CaptureAsync(func() ([]byte, error) { return []byte("a"), nil })
	_, _ = ctx.Effects().CaptureAsync(func() ([]byte, error) { return []byte("b"), nil })

	records := ctx.Effects().PendingRecords()
	require.Len(t, records, 2)
	assert.Equal(t, 0, records[0].Sequence)
	assert.Equal(t, 1, records[1].Sequence)
}

func TestVersionGate_FirstExecutionCommitsToInitial(t *testing.T) {
	ctx := runtime.NewContext(context.Background(), "ns", "wf-1", "run-1", 0, false, runtime.NewFixedTimeProvider(time.Unix(0, 0)), nil)

	v, err := ctx.Version().Require("add-timeout-field", 1, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, int32(3), v)
}

func TestVersionGate_SameChangeIDReturnsPreviouslyDecidedVersion(t *testing.T) {
	ctx := runtime.NewContext(context.Background(), "ns", "wf-1", "run-1", 0, false, runtime.NewFixedTimeProvider(time.Unix(0, 0)), nil)

	first, err := ctx.Version().Require("add-timeout-field", 1, 3, 2)
	require.NoError(t, err)
	second, err := ctx.Version().Require("add-timeout-field", 1, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestVersionGate_OutOfRangeVersionIsError(t *testing.T) {
	ctx := runtime.NewContext(context.Background(), "ns", "wf-1", "run-1", 0, false, runtime.NewFixedTimeProvider(time.Unix(0, 0)), nil)

	_, err := ctx.Version().Require("removed-code-path", 2, 3, 1)
	assert.Error(t, err)
}

func TestFixedTimeProvider_AlwaysReturnsPinnedTime(t *testing.T) {
	pinned := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tp := runtime.NewFixedTimeProvider(pinned)
	assert.Equal(t, pinned, tp.Now())
	assert.Equal(t, pinned, tp.Now())
}
