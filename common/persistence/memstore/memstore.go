// Package memstore is an in-memory persistence.Store used by unit tests for
// the components layered on top of common/persistence (shard manager,
// history engine, matching engine, visibility indexer), so those tests
// exercise real repository semantics (optimistic concurrency, lease
// exclusivity, sequence validation) without a live database.
package memstore

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pborman/uuid"

	"github.com/orchestrator/workflow-core/common/hashring"
	"github.com/orchestrator/workflow-core/common/persistence"
	"github.com/orchestrator/workflow-core/common/persistence/query"
	"github.com/orchestrator/workflow-core/common/serviceerror"
)

// Store is a single-process, mutex-guarded implementation of
// persistence.Store. It has no durability and is intended for tests only.
type Store struct {
	mu sync.Mutex

	namespaces map[string]*persistence.Namespace // by namespaceID
	namesIndex map[string]string                 // namespace name -> namespaceID

	shards map[int32]*persistence.Shard

	executions map[execKey]*persistence.WorkflowExecution

	events map[execKey][]*persistence.HistoryEvent

	tasks    map[taskKey]*persistence.TaskQueueItem
	attempts map[taskKey]int32 // survives across leases for the same task
	leases   map[string]*persistence.TaskLease // by leaseID

	visibility map[execKey]*persistence.VisibilityRecord
}

type execKey struct {
	namespaceID, workflowID, runID string
}

type taskKey struct {
	namespaceID, queueName string
	queueType              persistence.TaskQueueType
	taskID                 int64
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		namespaces: map[string]*persistence.Namespace{},
		namesIndex: map[string]string{},
		shards:     map[int32]*persistence.Shard{},
		executions: map[execKey]*persistence.WorkflowExecution{},
		events:     map[execKey][]*persistence.HistoryEvent{},
		tasks:      map[taskKey]*persistence.TaskQueueItem{},
		attempts:   map[taskKey]int32{},
		leases:     map[string]*persistence.TaskLease{},
		visibility: map[execKey]*persistence.VisibilityRecord{},
	}
}

func (s *Store) Namespaces() persistence.NamespaceRepository { return (*namespaceRepo)(s) }
func (s *Store) Shards() persistence.ShardRepository         { return (*shardRepo)(s) }
func (s *Store) Executions() persistence.ExecutionRepository { return (*executionRepo)(s) }
func (s *Store) History() persistence.HistoryRepository      { return (*historyRepo)(s) }
func (s *Store) TaskQueues() persistence.TaskQueueRepository { return (*taskQueueRepo)(s) }
func (s *Store) Visibility() persistence.VisibilityRepository { return (*visibilityRepo)(s) }
func (s *Store) Healthcheck(ctx context.Context) error       { return nil }
func (s *Store) Close() error                                { return nil }

// ---- namespaces ----

type namespaceRepo Store

func (r *namespaceRepo) Create(ctx context.Context, ns *persistence.Namespace) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.namesIndex[ns.Name]; ok {
		if existing := s.namespaces[id]; existing != nil && existing.Status != persistence.NamespaceStatusDeleted {
			return &serviceerror.AlreadyExists{Message: "namespace " + ns.Name + " already exists"}
		}
	}
	cp := *ns
	s.namespaces[ns.NamespaceID] = &cp
	s.namesIndex[ns.Name] = ns.NamespaceID
	return nil
}

func (r *namespaceRepo) GetByName(ctx context.Context, name string) (*persistence.Namespace, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.namesIndex[name]
	if !ok {
		return nil, &serviceerror.NotFound{Message: "namespace " + name + " not found"}
	}
	ns := s.namespaces[id]
	if ns == nil || ns.Status == persistence.NamespaceStatusDeleted {
		return nil, &serviceerror.NotFound{Message: "namespace " + name + " not found"}
	}
	cp := *ns
	return &cp, nil
}

func (r *namespaceRepo) GetByID(ctx context.Context, id string) (*persistence.Namespace, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[id]
	if !ok {
		return nil, &serviceerror.NotFound{Message: "namespace id " + id + " not found"}
	}
	cp := *ns
	return &cp, nil
}

func (r *namespaceRepo) Update(ctx context.Context, ns *persistence.Namespace) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[ns.NamespaceID]; !ok {
		return &serviceerror.NotFound{Message: "namespace id " + ns.NamespaceID + " not found"}
	}
	cp := *ns
	s.namespaces[ns.NamespaceID] = &cp
	return nil
}

func (r *namespaceRepo) List(ctx context.Context, pageSize int, token persistence.PageToken) ([]*persistence.Namespace, persistence.PageToken, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*persistence.Namespace
	for _, ns := range s.namespaces {
		if ns.Status != persistence.NamespaceStatusDeleted {
			cp := *ns
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].NamespaceID < all[j].NamespaceID })
	start := decodeOffset(token)
	if start > len(all) {
		start = len(all)
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	var next persistence.PageToken
	if end < len(all) {
		next = encodeOffset(end)
	}
	return all[start:end], next, nil
}

func (r *namespaceRepo) Exists(ctx context.Context, name string) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.namesIndex[name]
	if !ok {
		return false, nil
	}
	ns := s.namespaces[id]
	return ns != nil && ns.Status != persistence.NamespaceStatusDeleted, nil
}

func (r *namespaceRepo) Archive(ctx context.Context, name string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.namesIndex[name]
	if !ok {
		return nil // idempotent: archiving an unknown namespace is a no-op
	}
	ns := s.namespaces[id]
	if ns == nil {
		return nil
	}
	ns.Status = persistence.NamespaceStatusDeleted
	ns.UpdatedAt = time.Now().UTC()
	return nil
}

// ---- shards ----

type shardRepo Store

func (r *shardRepo) InitializeShards(ctx context.Context, shardCount int32) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range hashring.ShardIDsForRange(shardCount) {
		if _, ok := s.shards[id]; ok {
			continue
		}
		start, end := hashring.HashRange(id, shardCount)
		s.shards[id] = &persistence.Shard{ShardID: id, HashRangeStart: start, HashRangeEnd: end}
	}
	return nil
}

func (r *shardRepo) AcquireLease(ctx context.Context, shardID int32, owner string, duration time.Duration) (*persistence.Shard, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	shard, ok := s.shards[shardID]
	if !ok {
		return nil, &serviceerror.NotFound{Message: "shard not initialized"}
	}
	now := time.Now().UTC()
	if shard.IsOwned(now) {
		return nil, &serviceerror.ShardUnavailable{ShardID: shardID, Message: "lease held by " + *shard.OwnerIdentity}
	}
	expires := now.Add(duration)
	shard.OwnerIdentity = &owner
	shard.LeaseExpiresAt = &expires
	shard.AcquiredAt = &now
	shard.LastHeartbeat = &now
	cp := *shard
	return &cp, nil
}

func (r *shardRepo) RenewLease(ctx context.Context, shardID int32, owner string, duration time.Duration) (*persistence.Shard, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	shard, ok := s.shards[shardID]
	if !ok {
		return nil, &serviceerror.NotFound{Message: "shard not initialized"}
	}
	now := time.Now().UTC()
	if shard.OwnerIdentity == nil || *shard.OwnerIdentity != owner || !shard.IsOwned(now) {
		return nil, &serviceerror.ShardUnavailable{ShardID: shardID, Message: "caller is not the current owner"}
	}
	expires := now.Add(duration)
	shard.LeaseExpiresAt = &expires
	shard.LastHeartbeat = &now
	cp := *shard
	return &cp, nil
}

func (r *shardRepo) ReleaseLease(ctx context.Context, shardID int32, owner string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	shard, ok := s.shards[shardID]
	if !ok {
		return &serviceerror.NotFound{Message: "shard not initialized"}
	}
	if shard.OwnerIdentity == nil || *shard.OwnerIdentity != owner {
		return &serviceerror.ShardUnavailable{ShardID: shardID, Message: "caller does not own shard"}
	}
	shard.OwnerIdentity = nil
	shard.LeaseExpiresAt = nil
	shard.AcquiredAt = nil
	return nil
}

func (r *shardRepo) GetLease(ctx context.Context, shardID int32) (*persistence.Shard, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	shard, ok := s.shards[shardID]
	if !ok {
		return nil, &serviceerror.NotFound{Message: "shard not initialized"}
	}
	cp := *shard
	return &cp, nil
}

func (r *shardRepo) ListOwned(ctx context.Context, owner string) ([]*persistence.Shard, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var out []*persistence.Shard
	for _, shard := range s.shards {
		if shard.OwnerIdentity != nil && *shard.OwnerIdentity == owner && shard.IsOwned(now) {
			cp := *shard
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShardID < out[j].ShardID })
	return out, nil
}

func (r *shardRepo) ListAll(ctx context.Context) ([]*persistence.Shard, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*persistence.Shard
	for _, shard := range s.shards {
		cp := *shard
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShardID < out[j].ShardID })
	return out, nil
}

func (r *shardRepo) ReclaimExpired(ctx context.Context) (int, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for _, shard := range s.shards {
		if shard.OwnerIdentity != nil && shard.LeaseExpiresAt != nil && !shard.LeaseExpiresAt.After(now) {
			shard.OwnerIdentity = nil
			shard.LeaseExpiresAt = nil
			shard.AcquiredAt = nil
			n++
		}
	}
	return n, nil
}

// ---- executions ----

type executionRepo Store

func (r *executionRepo) Create(ctx context.Context, exec *persistence.WorkflowExecution) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	key := execKey{exec.NamespaceID, exec.WorkflowID, exec.RunID}
	if _, ok := s.executions[key]; ok {
		return &serviceerror.AlreadyExists{Message: "execution already exists for run " + exec.RunID}
	}
	cp := *exec
	s.executions[key] = &cp
	return nil
}

func (r *executionRepo) Get(ctx context.Context, namespaceID, workflowID, runID string) (*persistence.WorkflowExecution, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[execKey{namespaceID, workflowID, runID}]
	if !ok {
		return nil, &serviceerror.NotFound{Message: "execution not found: " + workflowID + "/" + runID}
	}
	cp := *exec
	return &cp, nil
}

func (r *executionRepo) GetCurrent(ctx context.Context, namespaceID, workflowID string) (*persistence.WorkflowExecution, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *persistence.WorkflowExecution
	for k, exec := range s.executions {
		if k.namespaceID != namespaceID || k.workflowID != workflowID {
			continue
		}
		if latest == nil || exec.StartedAt.After(latest.StartedAt) {
			latest = exec
		}
	}
	if latest == nil {
		return nil, &serviceerror.NotFound{Message: "no execution found for workflow " + workflowID}
	}
	cp := *latest
	return &cp, nil
}

func (r *executionRepo) Update(ctx context.Context, exec *persistence.WorkflowExecution, expectedVersion int64) error {
	return (*Store)(r).updateExecution(exec, expectedVersion, nil)
}

func (r *executionRepo) UpdateWithNextEventID(ctx context.Context, exec *persistence.WorkflowExecution, expectedVersion int64, nextEventID int64) error {
	return (*Store)(r).updateExecution(exec, expectedVersion, &nextEventID)
}

func (s *Store) updateExecution(exec *persistence.WorkflowExecution, expectedVersion int64, nextEventID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := execKey{exec.NamespaceID, exec.WorkflowID, exec.RunID}
	current, ok := s.executions[key]
	if !ok {
		return &serviceerror.NotFound{Message: "execution not found: " + exec.WorkflowID + "/" + exec.RunID}
	}
	if current.Version != expectedVersion {
		return &serviceerror.ConcurrencyConflict{ExpectedVersion: expectedVersion, ActualVersion: current.Version}
	}
	if current.State.IsTerminal() {
		return &serviceerror.InvalidWorkflowState{Message: "execution " + exec.RunID + " is already terminal"}
	}
	cp := *exec
	cp.Version = expectedVersion + 1
	cp.LastUpdatedAt = time.Now().UTC()
	if nextEventID != nil {
		cp.NextEventID = *nextEventID
	} else {
		cp.NextEventID = current.NextEventID
	}
	s.executions[key] = &cp
	exec.Version = cp.Version
	return nil
}

func (r *executionRepo) List(ctx context.Context, namespaceID string, state *persistence.WorkflowState, pageSize int, token persistence.PageToken) ([]*persistence.WorkflowExecution, persistence.PageToken, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*persistence.WorkflowExecution
	for k, exec := range s.executions {
		if k.namespaceID != namespaceID {
			continue
		}
		if state != nil && exec.State != *state {
			continue
		}
		cp := *exec
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].WorkflowID < all[j].WorkflowID })
	start := decodeOffset(token)
	if start > len(all) {
		start = len(all)
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	var next persistence.PageToken
	if end < len(all) {
		next = encodeOffset(end)
	}
	return all[start:end], next, nil
}

func (r *executionRepo) Terminate(ctx context.Context, namespaceID, workflowID, runID, reason string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	key := execKey{namespaceID, workflowID, runID}
	exec, ok := s.executions[key]
	if !ok {
		return &serviceerror.NotFound{Message: "execution not found: " + workflowID + "/" + runID}
	}
	if exec.State.IsTerminal() {
		return &serviceerror.InvalidWorkflowState{Message: "execution already terminal"}
	}
	now := time.Now().UTC()
	exec.State = persistence.WorkflowStateTerminated
	exec.CompletedAt = &now
	completionID := exec.LastProcessedEventID + 1
	exec.CompletionEventID = &completionID
	exec.LastUpdatedAt = now
	exec.Version++
	return nil
}

// ---- history ----

type historyRepo Store

func (r *historyRepo) AppendEvents(ctx context.Context, namespaceID, workflowID, runID string, events []*persistence.HistoryEvent) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(events) == 0 {
		return &serviceerror.InvalidRequest{Message: "AppendEvents called with empty batch"}
	}
	for i := 1; i < len(events); i++ {
		if events[i].EventID != events[i-1].EventID+1 {
			return &serviceerror.HistoryEventError{Message: "intra-batch event id gap"}
		}
	}
	key := execKey{namespaceID, workflowID, runID}
	existing := s.events[key]
	var lastEventID int64
	if len(existing) > 0 {
		lastEventID = existing[len(existing)-1].EventID
	}
	if events[0].EventID != lastEventID+1 {
		return &serviceerror.HistoryEventError{Message: "append does not continue from last event id"}
	}
	for _, e := range events {
		cp := *e
		existing = append(existing, &cp)
	}
	s.events[key] = existing
	return nil
}

func (r *historyRepo) GetHistory(ctx context.Context, namespaceID, workflowID, runID string, fromEventID int64, maxEvents int) ([]*persistence.HistoryEvent, persistence.PageToken, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	limit := clampMaxEvents(maxEvents)
	all := s.events[execKey{namespaceID, workflowID, runID}]
	var page []*persistence.HistoryEvent
	for _, e := range all {
		if e.EventID >= fromEventID {
			page = append(page, e)
		}
		if len(page) == limit {
			break
		}
	}
	var next persistence.PageToken
	if len(page) == limit {
		next = encodeOffset64(page[len(page)-1].EventID + 1)
	}
	return page, next, nil
}

func clampMaxEvents(requested int) int {
	const (
		maxHistoryPage     = 5000
		defaultHistoryPage = 1000
	)
	if requested <= 0 {
		return defaultHistoryPage
	}
	if requested > maxHistoryPage {
		return maxHistoryPage
	}
	return requested
}

func (r *historyRepo) GetEvent(ctx context.Context, namespaceID, workflowID, runID string, eventID int64) (*persistence.HistoryEvent, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events[execKey{namespaceID, workflowID, runID}] {
		if e.EventID == eventID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, &serviceerror.NotFound{Message: "event not found"}
}

func (r *historyRepo) GetEventCount(ctx context.Context, namespaceID, workflowID, runID string) (int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.events[execKey{namespaceID, workflowID, runID}])), nil
}

func (r *historyRepo) ValidateSequence(ctx context.Context, namespaceID, workflowID, runID string) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.events[execKey{namespaceID, workflowID, runID}]
	for i, e := range events {
		if e.EventID != int64(i+1) {
			return false, nil
		}
	}
	return true, nil
}

func (r *historyRepo) ArchiveOlderThan(ctx context.Context, namespaceID string, threshold time.Time, batchSize int) (int, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, events := range s.events {
		if key.namespaceID != namespaceID {
			continue
		}
		var kept []*persistence.HistoryEvent
		for _, e := range events {
			if e.EventTimestamp.Before(threshold) && n < batchSize {
				n++
				continue
			}
			kept = append(kept, e)
		}
		s.events[key] = kept
	}
	return n, nil
}

// ---- task queues ----

type taskQueueRepo Store

func (r *taskQueueRepo) Enqueue(ctx context.Context, item *persistence.TaskQueueItem) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	key := taskKey{item.NamespaceID, item.TaskQueueName, item.TaskQueueType, item.TaskID}
	if _, ok := s.tasks[key]; ok {
		return &serviceerror.AlreadyExists{Message: "task already enqueued"}
	}
	cp := *item
	s.tasks[key] = &cp
	return nil
}

func (r *taskQueueRepo) Poll(ctx context.Context, namespaceID, queueName string, queueType persistence.TaskQueueType, worker string, leaseDuration time.Duration) (*persistence.TaskQueueItem, *persistence.TaskLease, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()

	var candidates []*persistence.TaskQueueItem
	for k, item := range s.tasks {
		if k.namespaceID != namespaceID || k.queueName != queueName || k.queueType != queueType {
			continue
		}
		if item.ScheduledAt.After(now) {
			continue
		}
		if item.ExpiryAt != nil && !item.ExpiryAt.After(now) {
			continue
		}
		if item.Paused {
			continue
		}
		if s.hasLiveLease(k, now) {
			continue
		}
		candidates = append(candidates, item)
	}
	if len(candidates) == 0 {
		return nil, nil, &serviceerror.NotFound{Message: "no ready task"}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].ScheduledAt.Equal(candidates[j].ScheduledAt) {
			return candidates[i].ScheduledAt.Before(candidates[j].ScheduledAt)
		}
		return candidates[i].TaskID < candidates[j].TaskID
	})
	task := candidates[0]
	key := taskKey{namespaceID, queueName, queueType, task.TaskID}
	lease := &persistence.TaskLease{
		LeaseID:        uuid.New(),
		NamespaceID:    namespaceID,
		TaskQueueName:  queueName,
		TaskQueueType:  queueType,
		TaskID:         task.TaskID,
		WorkerIdentity: worker,
		LeasedAt:       now,
		LeaseExpiresAt: now.Add(leaseDuration),
		HeartbeatAt:    now,
		AttemptCount:   s.attempts[key] + 1,
	}
	s.leases[lease.LeaseID] = lease
	cpTask := *task
	cpLease := *lease
	return &cpTask, &cpLease, nil
}

// hasLiveLease reports whether any currently-held lease (not yet completed,
// failed, or reclaimed) exists for this task, enforcing at-most-one-worker
// delivery at a time.
func (s *Store) hasLiveLease(k taskKey, now time.Time) bool {
	for _, l := range s.leases {
		if l.NamespaceID == k.namespaceID && l.TaskQueueName == k.queueName && l.TaskQueueType == k.queueType && l.TaskID == k.taskID {
			if !l.IsExpired(now) {
				return true
			}
		}
	}
	return false
}

func (r *taskQueueRepo) Heartbeat(ctx context.Context, leaseID string, extension time.Duration) (*persistence.TaskLease, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	lease, ok := s.leases[leaseID]
	if !ok {
		return nil, &serviceerror.TaskLeaseExpired{LeaseID: leaseID}
	}
	now := time.Now().UTC()
	if lease.IsExpired(now) {
		return nil, &serviceerror.TaskLeaseExpired{LeaseID: leaseID}
	}
	lease.LeaseExpiresAt = now.Add(extension)
	lease.HeartbeatAt = now
	cp := *lease
	return &cp, nil
}

func (r *taskQueueRepo) Complete(ctx context.Context, leaseID string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	lease, ok := s.leases[leaseID]
	if !ok {
		return &serviceerror.TaskLeaseExpired{LeaseID: leaseID}
	}
	delete(s.leases, leaseID)
	key := taskKey{lease.NamespaceID, lease.TaskQueueName, lease.TaskQueueType, lease.TaskID}
	delete(s.tasks, key)
	delete(s.attempts, key)
	return nil
}

func (r *taskQueueRepo) Fail(ctx context.Context, leaseID string, reason string, requeue bool, backoff time.Duration) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	lease, ok := s.leases[leaseID]
	if !ok {
		return &serviceerror.TaskLeaseExpired{LeaseID: leaseID}
	}
	delete(s.leases, leaseID)
	key := taskKey{lease.NamespaceID, lease.TaskQueueName, lease.TaskQueueType, lease.TaskID}
	if !requeue {
		delete(s.tasks, key)
		delete(s.attempts, key)
		return nil
	}
	s.attempts[key]++
	if task, ok := s.tasks[key]; ok {
		task.ScheduledAt = time.Now().UTC().Add(backoff)
	}
	return nil
}

func (r *taskQueueRepo) Pause(ctx context.Context, namespaceID, workflowID, runID string, queueType persistence.TaskQueueType, identity, reason string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	task, _, ok := s.findTaskForExecution(namespaceID, workflowID, runID, queueType)
	if !ok {
		return &serviceerror.NotFound{Message: "no pending task for execution " + workflowID + "/" + runID}
	}
	task.Paused = true
	task.PauseIdentity = identity
	task.PauseReason = reason
	return nil
}

func (r *taskQueueRepo) Unpause(ctx context.Context, namespaceID, workflowID, runID string, queueType persistence.TaskQueueType, resetAttempts bool) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	task, key, ok := s.findTaskForExecution(namespaceID, workflowID, runID, queueType)
	if !ok {
		return &serviceerror.NotFound{Message: "no pending task for execution " + workflowID + "/" + runID}
	}
	task.Paused = false
	task.PauseIdentity = ""
	task.PauseReason = ""
	if resetAttempts {
		delete(s.attempts, key)
	}
	return nil
}

// findTaskForExecution locates a pending task belonging to one workflow run
// on a given queue type. When the run has several such tasks (one per
// outstanding activity), it returns whichever one map iteration reaches
// first; which one that is, is not defined.
func (s *Store) findTaskForExecution(namespaceID, workflowID, runID string, queueType persistence.TaskQueueType) (*persistence.TaskQueueItem, taskKey, bool) {
	for k, item := range s.tasks {
		if k.namespaceID == namespaceID && k.queueType == queueType && item.WorkflowID == workflowID && item.RunID == runID {
			return item, k, true
		}
	}
	return nil, taskKey{}, false
}

func (r *taskQueueRepo) Depth(ctx context.Context, namespaceID, queueName string, queueType persistence.TaskQueueType) (int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k := range s.tasks {
		if k.namespaceID == namespaceID && k.queueName == queueName && k.queueType == queueType {
			n++
		}
	}
	return n, nil
}

func (r *taskQueueRepo) DepthByPartition(ctx context.Context, namespaceID, queueName string, queueType persistence.TaskQueueType) (map[int32]int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[int32]int64{}
	for k, item := range s.tasks {
		if k.namespaceID == namespaceID && k.queueName == queueName && k.queueType == queueType {
			out[item.PartitionHash]++
		}
	}
	return out, nil
}

func (r *taskQueueRepo) ListQueues(ctx context.Context, namespaceID string) (map[string]int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]int64{}
	for k := range s.tasks {
		if namespaceID == "" || k.namespaceID == namespaceID {
			out[k.queueName]++
		}
	}
	return out, nil
}

func (r *taskQueueRepo) ReclaimExpiredLeases(ctx context.Context) (int, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for id, lease := range s.leases {
		if lease.IsExpired(now) {
			delete(s.leases, id)
			s.attempts[taskKey{lease.NamespaceID, lease.TaskQueueName, lease.TaskQueueType, lease.TaskID}]++
			n++
		}
	}
	return n, nil
}

func (r *taskQueueRepo) PurgeOlderThan(ctx context.Context, threshold time.Time) (int, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, item := range s.tasks {
		if item.ScheduledAt.Before(threshold) {
			delete(s.tasks, k)
			delete(s.attempts, k)
			n++
		}
	}
	return n, nil
}

// ---- visibility ----

type visibilityRepo Store

func (r *visibilityRepo) Upsert(ctx context.Context, rec *persistence.VisibilityRecord) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.visibility[execKey{rec.NamespaceID, rec.WorkflowID, rec.RunID}] = &cp
	return nil
}

func (r *visibilityRepo) List(ctx context.Context, req *persistence.ListRequest) ([]*persistence.VisibilityRecord, persistence.PageToken, error) {
	return (*Store)(r).queryVisibility(req.NamespaceID, req.Query, req.PageSize, req.PageToken)
}

func (r *visibilityRepo) Search(ctx context.Context, namespaceID string, q string, pageSize int, token persistence.PageToken) ([]*persistence.VisibilityRecord, persistence.PageToken, error) {
	return (*Store)(r).queryVisibility(namespaceID, q, pageSize, token)
}

func (s *Store) queryVisibility(namespaceID, rawQuery string, pageSize int, token persistence.PageToken) ([]*persistence.VisibilityRecord, persistence.PageToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pageSize = persistence.ClampPageSize(pageSize)
	ast := query.Parse(rawQuery)

	var all []*persistence.VisibilityRecord
	for k, rec := range s.visibility {
		if k.namespaceID != namespaceID {
			continue
		}
		if !ast.Match(visFields(rec), visFreeText(rec)) {
			continue
		}
		cp := *rec
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartTime.After(all[j].StartTime) })

	offset := decodeOffset(token)
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + pageSize
	if end > len(all) {
		end = len(all)
	}
	var next persistence.PageToken
	if end < len(all) {
		next = encodeOffset(end)
	}
	return all[offset:end], next, nil
}

func visFields(v *persistence.VisibilityRecord) map[query.Field]string {
	fields := map[query.Field]string{
		query.FieldWorkflowType: v.WorkflowType,
		query.FieldWorkflowID:   v.WorkflowID,
		query.FieldStatus:       stateName(v.Status),
		query.FieldTaskQueue:    v.TaskQueue,
		query.FieldState:        stateName(v.Status),
		query.FieldStartTime:    v.StartTime.UTC().Format(time.RFC3339),
	}
	if v.CloseTime != nil {
		fields[query.FieldCloseTime] = v.CloseTime.UTC().Format(time.RFC3339)
	}
	return fields
}

func visFreeText(v *persistence.VisibilityRecord) []string {
	return []string{v.WorkflowID, v.WorkflowType, stateName(v.Status), v.TaskQueue}
}

func stateName(s persistence.WorkflowState) string {
	names := map[persistence.WorkflowState]string{
		persistence.WorkflowStateRunning:        "Running",
		persistence.WorkflowStateCompleted:      "Completed",
		persistence.WorkflowStateFailed:         "Failed",
		persistence.WorkflowStateCanceled:       "Canceled",
		persistence.WorkflowStateTerminated:     "Terminated",
		persistence.WorkflowStateContinuedAsNew: "ContinuedAsNew",
		persistence.WorkflowStateTimedOut:       "TimedOut",
	}
	if n, ok := names[s]; ok {
		return n
	}
	return "Unknown"
}

func (r *visibilityRepo) Count(ctx context.Context, namespaceID string, q string) (int64, error) {
	recs, _, err := (*Store)(r).queryVisibility(namespaceID, q, 1<<30, nil)
	if err != nil {
		return 0, err
	}
	return int64(len(recs)), nil
}

func (r *visibilityRepo) UpdateTags(ctx context.Context, namespaceID, workflowID, runID string, tags map[string]string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.visibility[execKey{namespaceID, workflowID, runID}]
	if !ok {
		return &serviceerror.NotFound{Message: "visibility record not found"}
	}
	rec.Tags = tags
	return nil
}

func (r *visibilityRepo) SearchByTags(ctx context.Context, namespaceID string, tags map[string]string, matchAll bool, pageSize int, token persistence.PageToken) ([]*persistence.VisibilityRecord, persistence.PageToken, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	pageSize = persistence.ClampPageSize(pageSize)
	var all []*persistence.VisibilityRecord
	for k, rec := range s.visibility {
		if k.namespaceID != namespaceID {
			continue
		}
		if !tagsMatch(rec.Tags, tags, matchAll) {
			continue
		}
		cp := *rec
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartTime.After(all[j].StartTime) })
	offset := decodeOffset(token)
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + pageSize
	if end > len(all) {
		end = len(all)
	}
	var next persistence.PageToken
	if end < len(all) {
		next = encodeOffset(end)
	}
	return all[offset:end], next, nil
}

func tagsMatch(have, want map[string]string, matchAll bool) bool {
	if len(want) == 0 {
		return true
	}
	matches := 0
	for k, v := range want {
		if have[k] == v {
			matches++
		}
	}
	if matchAll {
		return matches == len(want)
	}
	return matches > 0
}

func (r *visibilityRepo) ArchiveOlderThan(ctx context.Context, namespaceID string, threshold time.Time) (int, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, rec := range s.visibility {
		if k.namespaceID != namespaceID {
			continue
		}
		if rec.CloseTime != nil && rec.CloseTime.Before(threshold) {
			delete(s.visibility, k)
			n++
		}
	}
	return n, nil
}

func (r *visibilityRepo) Delete(ctx context.Context, namespaceID, workflowID, runID string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.visibility, execKey{namespaceID, workflowID, runID})
	return nil
}

func decodeOffset(token persistence.PageToken) int {
	if len(token) == 0 {
		return 0
	}
	n, err := strconv.Atoi(string(token))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func encodeOffset(n int) persistence.PageToken { return persistence.PageToken(strconv.Itoa(n)) }

func encodeOffset64(n int64) persistence.PageToken {
	return persistence.PageToken(strconv.FormatInt(n, 10))
}
