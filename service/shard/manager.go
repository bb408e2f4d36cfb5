// Package shard owns the lifecycle of shard leases for one process: it
// periodically tries to acquire unowned shards up to a target count, renews
// leases it holds, and releases them cleanly on shutdown. Ownership state is
// backed by a persistence.ShardRepository (SQL by default, etcd as an
// alternate lease backend under shard/etcd).
package shard

import (
	"context"
	"sync"
	"time"

	"github.com/orchestrator/workflow-core/common/hashring"
	"github.com/orchestrator/workflow-core/common/log"
	"github.com/orchestrator/workflow-core/common/log/tag"
	"github.com/orchestrator/workflow-core/common/metrics"
	"github.com/orchestrator/workflow-core/common/persistence"
	"github.com/orchestrator/workflow-core/common/serviceerror"
)

// Manager owns this process's membership in the shard ring: which shards it
// currently holds leases for, and a way to look one up by workflowId.
type Manager interface {
	// Start begins the background acquire/heartbeat/reclaim loops. It
	// returns once the initial acquisition pass has completed.
	Start(ctx context.Context) error
	Stop()
	// Owns reports whether this process currently holds a live lease on the
	// shard that owns workflowID.
	Owns(workflowID string) bool
	// ShardFor returns the shardID that owns workflowID under the
	// configured shard count, independent of local ownership.
	ShardFor(workflowID string) int32
	OwnedShards() []int32
}

// Config bounds the manager's acquisition and renewal cadence.
type Config struct {
	Identity             string
	ShardCount           int32
	LeaseDuration        time.Duration
	HeartbeatInterval    time.Duration
	HeartbeatExtension   time.Duration
	ReclaimSweepInterval time.Duration
}

type managerImpl struct {
	cfg     Config
	repo    persistence.ShardRepository
	logger  log.Logger
	metrics metrics.Handler

	mu     sync.RWMutex
	owned  map[int32]time.Time // shardID -> local lease-expiry estimate
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager constructs a shard Manager against repo, which may be the SQL
// store's ShardRepository or an etcd-backed implementation satisfying the
// same interface.
func NewManager(cfg Config, repo persistence.ShardRepository, logger log.Logger, metricsHandler metrics.Handler) Manager {
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 30 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = cfg.LeaseDuration / 3
	}
	if cfg.HeartbeatExtension <= 0 {
		cfg.HeartbeatExtension = cfg.LeaseDuration
	}
	if cfg.ReclaimSweepInterval <= 0 {
		cfg.ReclaimSweepInterval = cfg.LeaseDuration / 2
	}
	return &managerImpl{
		cfg:     cfg,
		repo:    repo,
		logger:  logger.With(tag.ComponentName("shard-manager")),
		metrics: metricsHandler,
		owned:   map[int32]time.Time{},
	}
}

func (m *managerImpl) Start(ctx context.Context) error {
	if err := m.repo.InitializeShards(ctx, m.cfg.ShardCount); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.acquireAvailable(ctx)

	m.wg.Add(2)
	go m.heartbeatLoop(runCtx)
	go m.reclaimLoop(runCtx)
	return nil
}

func (m *managerImpl) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	m.mu.Lock()
	owned := make([]int32, 0, len(m.owned))
	for id := range m.owned {
		owned = append(owned, id)
	}
	m.owned = map[int32]time.Time{}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, id := range owned {
		if err := m.repo.ReleaseLease(ctx, id, m.cfg.Identity); err != nil {
			m.logger.Warn("failed to release shard lease on shutdown", tag.ShardID(id), tag.Error(err))
		}
	}
}

func (m *managerImpl) acquireAvailable(ctx context.Context) {
	all, err := m.repo.ListAll(ctx)
	if err != nil {
		m.logger.Error("failed to list shards during acquisition pass", tag.Error(err))
		return
	}
	now := time.Now().UTC()
	for _, s := range all {
		if s.IsOwned(now) {
			continue
		}
		acquired, err := m.repo.AcquireLease(ctx, s.ShardID, m.cfg.Identity, m.cfg.LeaseDuration)
		if err != nil {
			if _, ok := err.(*serviceerror.ShardUnavailable); ok {
				continue // lost the race to another process
			}
			m.logger.Warn("failed to acquire shard lease", tag.ShardID(s.ShardID), tag.Error(err))
			continue
		}
		m.mu.Lock()
		m.owned[s.ShardID] = *acquired.LeaseExpiresAt
		m.mu.Unlock()
		m.metrics.Counter("shard_acquired").Inc()
		m.logger.Info("acquired shard lease", tag.ShardID(s.ShardID))
	}
}

func (m *managerImpl) heartbeatLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.renewOwned(ctx)
			m.acquireAvailable(ctx)
		}
	}
}

func (m *managerImpl) renewOwned(ctx context.Context) {
	m.mu.RLock()
	ids := make([]int32, 0, len(m.owned))
	for id := range m.owned {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		renewed, err := m.repo.RenewLease(ctx, id, m.cfg.Identity, m.cfg.HeartbeatExtension)
		if err != nil {
			m.logger.Warn("lost shard lease on renewal", tag.ShardID(id), tag.Error(err))
			m.mu.Lock()
			delete(m.owned, id)
			m.mu.Unlock()
			m.metrics.Counter("shard_lost").Inc()
			continue
		}
		m.mu.Lock()
		m.owned[id] = *renewed.LeaseExpiresAt
		m.mu.Unlock()
	}
}

func (m *managerImpl) reclaimLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.ReclaimSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.repo.ReclaimExpired(ctx)
			if err != nil {
				m.logger.Warn("shard reclaim sweep failed", tag.Error(err))
				continue
			}
			if n > 0 {
				m.metrics.Counter("shard_reclaimed").Add(float64(n))
				m.logger.Info("reclaimed expired shard leases", tag.Value("count", n))
			}
		}
	}
}

func (m *managerImpl) Owns(workflowID string) bool {
	shardID := m.ShardFor(workflowID)
	m.mu.RLock()
	defer m.mu.RUnlock()
	expiry, ok := m.owned[shardID]
	return ok && expiry.After(time.Now().UTC())
}

func (m *managerImpl) ShardFor(workflowID string) int32 {
	return hashring.ShardID(workflowID, m.cfg.ShardCount)
}

func (m *managerImpl) OwnedShards() []int32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int32, 0, len(m.owned))
	now := time.Now().UTC()
	for id, expiry := range m.owned {
		if expiry.After(now) {
			out = append(out, id)
		}
	}
	return out
}
