package runtime_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestrator/workflow-core/common/serviceerror"
	"github.com/orchestrator/workflow-core/service/runtime"
)

func TestRegistry_ResolveWorkflowReturnsRegisteredFunc(t *testing.T) {
	r := runtime.NewRegistry()
	r.RegisterWorkflow("order-fulfillment", func(ctx *runtime.Context, input []byte) ([]byte, error) {
		return append([]byte("handled:"), input...), nil
	})

	fn, err := r.ResolveWorkflow("order-fulfillment")
	require.NoError(t, err)
	out, err := fn(nil, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "handled:abc", string(out))
}

func TestRegistry_ResolveWorkflowUnknownTypeReturnsNotRegistered(t *testing.T) {
	r := runtime.NewRegistry()
	_, err := r.ResolveWorkflow("missing")
	var notRegistered *serviceerror.WorkflowNotRegistered
	assert.ErrorAs(t, err, &notRegistered)
	assert.Equal(t, "missing", notRegistered.WorkflowType)
}

func TestRegistry_ResolveActivityReturnsRegisteredFunc(t *testing.T) {
	r := runtime.NewRegistry()
	r.RegisterActivity("charge-card", func(ctx context.Context, input []byte) ([]byte, error) {
		return []byte("charged"), nil
	})

	fn, err := r.ResolveActivity("charge-card")
	require.NoError(t, err)
	out, err := fn(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "charged", string(out))
}

func TestRegistry_ResolveActivityUnknownTypeReturnsNotRegistered(t *testing.T) {
	r := runtime.NewRegistry()
	_, err := r.ResolveActivity("missing")
	assert.Error(t, err)
}

func TestRegistry_RegisterOverwritesPriorRegistration(t *testing.T) {
	r := runtime.NewRegistry()
	r.RegisterWorkflow("wf", func(ctx *runtime.Context, input []byte) ([]byte, error) { return []byte("v1"), nil })
	r.RegisterWorkflow("wf", func(ctx *runtime.Context, input []byte) ([]byte, error) { return []byte("v2"), nil })

	fn, err := r.ResolveWorkflow("wf")
	require.NoError(t, err)
	out, err := fn(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(out))
}
