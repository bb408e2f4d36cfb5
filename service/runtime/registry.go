package runtime

import (
	"context"
	"sync"

	"github.com/orchestrator/workflow-core/common/serviceerror"
)

// WorkflowFunc is one registered workflow implementation: given a Context
// and the raw input bytes recorded on WorkflowExecutionStarted, it returns
// the workflow's result or an application error.
type WorkflowFunc func(ctx *Context, input []byte) ([]byte, error)

// ActivityFunc is one registered activity implementation: a plain,
// non-deterministic function invoked at most once per scheduled attempt.
type ActivityFunc func(ctx context.Context, input []byte) ([]byte, error)

// Registry resolves workflow and activity type names to their
// implementations, symmetric to how the dispatcher polls both a workflow
// and an activity task queue.
type Registry struct {
	mu         sync.RWMutex
	workflows  map[string]WorkflowFunc
	activities map[string]ActivityFunc
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{workflows: map[string]WorkflowFunc{}, activities: map[string]ActivityFunc{}}
}

// RegisterWorkflow associates workflowType with fn, overwriting any prior
// registration for the same name.
func (r *Registry) RegisterWorkflow(workflowType string, fn WorkflowFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows[workflowType] = fn
}

// RegisterActivity associates activityType with fn.
func (r *Registry) RegisterActivity(activityType string, fn ActivityFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activities[activityType] = fn
}

// ResolveWorkflow returns the registered WorkflowFunc for workflowType, or
// serviceerror.WorkflowNotRegistered if none was registered.
func (r *Registry) ResolveWorkflow(workflowType string) (WorkflowFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.workflows[workflowType]
	if !ok {
		return nil, &serviceerror.WorkflowNotRegistered{WorkflowType: workflowType}
	}
	return fn, nil
}

// ResolveActivity returns the registered ActivityFunc for activityType, or
// serviceerror.WorkflowNotRegistered (the taxonomy has no separate activity
// variant; the field still names the unresolved type) if none was
// registered.
func (r *Registry) ResolveActivity(activityType string) (ActivityFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.activities[activityType]
	if !ok {
		return nil, &serviceerror.WorkflowNotRegistered{WorkflowType: activityType}
	}
	return fn, nil
}
