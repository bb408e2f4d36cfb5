// Package runtime defines the deterministic execution contract that
// workflow functions run under: a logical clock instead of wall time, an
// effect store that captures non-deterministic results once during the
// original execution and replays them thereafter, and a version gate for
// evolving workflow code without breaking in-flight replays.
package runtime

import (
	"context"
	"strconv"
	"time"

	"github.com/orchestrator/workflow-core/common/serviceerror"
)

// TimeProvider supplies the logical clock a workflow function must use in
// place of time.Now, so replay reproduces the original execution's timeline
// rather than the wall-clock time of the replaying process.
type TimeProvider interface {
	Now() time.Time
}

type fixedTimeProvider struct{ t time.Time }

func (f fixedTimeProvider) Now() time.Time { return f.t }

// NewFixedTimeProvider returns a TimeProvider pinned to t, used during
// replay to reproduce the timestamp recorded at original-execution time.
func NewFixedTimeProvider(t time.Time) TimeProvider { return fixedTimeProvider{t} }

// Context is the per-invocation state threaded through one workflow
// function call: a logical clock, a counter of how many times this
// execution has been replayed, caller-supplied metadata, and the effect
// store / version gate the function consults for non-deterministic
// decisions.
type Context struct {
	context.Context

	NamespaceID  string
	WorkflowID   string
	RunID        string
	ReplayCount  int
	Metadata     map[string]string
	TimeProvider TimeProvider

	effects *EffectStore
	gate    *VersionGate
}

// NewContext builds a runtime Context for one invocation. isReplay
// indicates whether this call is rebuilding state from history (true) or
// advancing it for the first time (false); the effect store keys its
// behavior on it. The version gate keeps the flag but does not read it.
func NewContext(parent context.Context, namespaceID, workflowID, runID string, replayCount int, isReplay bool, tp TimeProvider, recorded []EffectRecord) *Context {
	return &Context{
		Context:      parent,
		NamespaceID:  namespaceID,
		WorkflowID:   workflowID,
		RunID:        runID,
		ReplayCount:  replayCount,
		Metadata:     map[string]string{},
		TimeProvider: tp,
		effects:      newEffectStore(isReplay, recorded),
		gate:         newVersionGate(isReplay),
	}
}

// Effects returns the Context's EffectStore for capturing non-deterministic
// values (random numbers, UUIDs, external calls) exactly once per logical
// position in the workflow function.
func (c *Context) Effects() *EffectStore { return c.effects }

// Version returns the Context's VersionGate for guarded code-path changes.
func (c *Context) Version() *VersionGate { return c.gate }

// EffectRecord is one previously-captured effect, keyed by the order it was
// captured in, as persisted in history so replay can return the same value
// without re-running the side effect.
type EffectRecord struct {
	Sequence int
	Value    []byte
}

// EffectStore captures the result of a non-deterministic operation the
// first time a workflow function runs it, then replays the recorded value
// on every subsequent replay of the same execution so the function's
// decisions stay reproducible.
type EffectStore struct {
	isReplay bool
	recorded map[int][]byte
	next     int
	pending  []EffectRecord
}

func newEffectStore(isReplay bool, recorded []EffectRecord) *EffectStore {
	byIndex := make(map[int][]byte, len(recorded))
	for _, r := range recorded {
		byIndex[r.Sequence] = r.Value
	}
	return &EffectStore{isReplay: isReplay, recorded: byIndex}
}

// CaptureAsync runs produce exactly once per logical position: on first
// execution it calls produce and records the result for history; on replay
// it returns the recorded value without calling produce again.
func (s *EffectStore) CaptureAsync(produce func() ([]byte, error)) ([]byte, error) {
	seq := s.next
	s.next++
	if s.isReplay {
		v, ok := s.recorded[seq]
		if !ok {
			return nil, &serviceerror.InvalidWorkflowState{Message: "replay missing recorded effect at sequence position"}
		}
		return v, nil
	}
	v, err := produce()
	if err != nil {
		return nil, err
	}
	s.pending = append(s.pending, EffectRecord{Sequence: seq, Value: v})
	return v, nil
}

// PendingRecords returns the effects captured during this invocation that
// have not yet been persisted to history, so the dispatcher can append them
// alongside the workflow task's other output events.
func (s *EffectStore) PendingRecords() []EffectRecord { return s.pending }

// VersionGate lets a workflow function branch on a monotonically increasing
// version number at a call site: within one Context, the first version
// chosen for a changeID is returned again by every later request for that
// changeID. Chosen versions are not persisted beyond the Context.
type VersionGate struct {
	isReplay bool
	decided  map[string]int32
}

func newVersionGate(isReplay bool) *VersionGate {
	return &VersionGate{isReplay: isReplay, decided: map[string]int32{}}
}

// Require resolves the version in effect at changeID. minSupported and
// maxSupported bound the versions the current code is willing to execute.
// The first call for a changeID on this Context commits to initial
// (normally maxSupported); later calls on the same Context return that
// committed version without re-evaluating initial. Decisions are kept only
// in this Context and are not written to history, so a replay Context, which
// starts with no decisions, commits to initial again. A version outside [minSupported, maxSupported] is an error: the
// code no longer supports replaying that execution.
func (g *VersionGate) Require(changeID string, minSupported, maxSupported, initial int32) (int32, error) {
	if v, ok := g.decided[changeID]; ok {
		return g.checkRange(changeID, v, minSupported, maxSupported)
	}
	v := initial
	g.decided[changeID] = v
	return g.checkRange(changeID, v, minSupported, maxSupported)
}

func (g *VersionGate) checkRange(changeID string, v, min, max int32) (int32, error) {
	if v < min || v > max {
		return 0, &serviceerror.InvalidWorkflowState{
			Message: "version " + changeIDVersion(changeID, v) + " is outside the range this code supports",
		}
	}
	return v, nil
}

func changeIDVersion(changeID string, v int32) string {
	return changeID + "@" + strconv.FormatInt(int64(v), 10)
}
