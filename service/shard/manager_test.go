package shard_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestrator/workflow-core/common/log"
	"github.com/orchestrator/workflow-core/common/metrics"
	"github.com/orchestrator/workflow-core/common/persistence/memstore"
	"github.com/orchestrator/workflow-core/service/shard"
)

func newManager(t *testing.T, cfg shard.Config) (shard.Manager, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	if cfg.ShardCount == 0 {
		cfg.ShardCount = 4
	}
	if cfg.Identity == "" {
		cfg.Identity = "host-a"
	}
	mgr := shard.NewManager(cfg, store.Shards(), log.NewDefault(), metrics.NoopHandler())
	return mgr, store
}

func TestManager_StartAcquiresAllShardsWhenUnowned(t *testing.T) {
	mgr, _ := newManager(t, shard.Config{ShardCount: 4, LeaseDuration: time.Second})
	require.NoError(t, mgr.Start(context.Background()))
	defer mgr.Stop()

	assert.Len(t, mgr.OwnedShards(), 4)
}

func TestManager_OwnsReflectsShardOwnershipForWorkflowID(t *testing.T) {
	mgr, _ := newManager(t, shard.Config{ShardCount: 4, LeaseDuration: time.Second})
	require.NoError(t, mgr.Start(context.Background()))
	defer mgr.Stop()

	shardID := mgr.ShardFor("wf-123")
	assert.Contains(t, mgr.OwnedShards(), shardID)
	assert.True(t, mgr.Owns("wf-123"))
}

func TestManager_ShardForIsStableAcrossCalls(t *testing.T) {
	mgr, _ := newManager(t, shard.Config{ShardCount: 8, LeaseDuration: time.Second})
	first := mgr.ShardFor("wf-stable")
	second := mgr.ShardFor("wf-stable")
	assert.Equal(t, first, second)
}

func TestManager_StopReleasesOwnedLeases(t *testing.T) {
	mgr, store := newManager(t, shard.Config{ShardCount: 2, LeaseDuration: time.Second})
	require.NoError(t, mgr.Start(context.Background()))
	mgr.Stop()

	assert.Empty(t, mgr.OwnedShards())

	all, err := store.Shards().ListAll(context.Background())
	require.NoError(t, err)
	for _, s := range all {
		assert.False(t, s.IsOwned(time.Now().UTC()), "shard %d should be released", s.ShardID)
	}
}

func TestManager_DoesNotAcquireShardAlreadyOwnedByAnotherProcess(t *testing.T) {
	store := memstore.New()
	require.NoError(t, store.Shards().InitializeShards(context.Background(), 2))
	_, err := store.Shards().AcquireLease(context.Background(), 0, "other-host", time.Minute)
	require.NoError(t, err)

	mgr := shard.NewManager(shard.Config{Identity: "host-a", ShardCount: 2, LeaseDuration: time.Second}, store.Shards(), log.NewDefault(), metrics.NoopHandler())
	require.NoError(t, mgr.Start(context.Background()))
	defer mgr.Stop()

	assert.NotContains(t, mgr.OwnedShards(), int32(0))
	assert.Contains(t, mgr.OwnedShards(), int32(1))
}
