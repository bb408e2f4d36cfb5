package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestrator/workflow-core/common/config"
)

func TestDefault_PopulatesBaselineValues(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, "pgx", cfg.Persistence.Driver)
	assert.Equal(t, int32(512), cfg.Shard.Count)
	assert.Equal(t, "sql", cfg.Shard.LeaseBackend)
	assert.Equal(t, 60*time.Second, cfg.Shard.LeaseDuration)
	assert.Equal(t, 60*time.Second, cfg.Shard.HeartbeatExtension)
	assert.Equal(t, 30, cfg.History.RetentionDays)
	assert.Equal(t, ":7233", cfg.RPC.ListenAddr)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_OverridesDefaultsFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
persistence:
  dsn: "postgres://localhost/orchestrator"
shard:
  count: 16
  leaseBackend: etcd
log:
  level: debug
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/orchestrator", cfg.Persistence.DSN)
	assert.Equal(t, int32(16), cfg.Shard.Count)
	assert.Equal(t, "etcd", cfg.Shard.LeaseBackend)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Fields absent from the file keep Default()'s values.
	assert.Equal(t, "pgx", cfg.Persistence.Driver)
	assert.Equal(t, float64(1000), cfg.Matching.RateLimitPerSecond)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverlayTakesPrecedenceOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
persistence:
  dsn: "postgres://file-value/orchestrator"
shard:
  count: 16
`), 0o600))

	t.Setenv("ORCH_DB_CONNECTION", "postgres://env-value/orchestrator")
	t.Setenv("ORCH_SHARD_COUNT", "64")
	t.Setenv("ORCH_ETCD_ENDPOINTS", "etcd-0:2379,etcd-1:2379")
	t.Setenv("ORCH_HISTORY_RETENTION_DAYS", "90")
	t.Setenv("ORCH_LEASE_DURATION_SECONDS", "45")
	t.Setenv("ORCH_HEARTBEAT_EXTENSION_SECONDS", "20")
	t.Setenv("ORCH_REQUEUE_DELAY_SECONDS", "9")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env-value/orchestrator", cfg.Persistence.DSN)
	assert.Equal(t, int32(64), cfg.Shard.Count)
	assert.Equal(t, []string{"etcd-0:2379", "etcd-1:2379"}, cfg.Shard.EtcdEndpoints)
	assert.Equal(t, 90, cfg.History.RetentionDays)
	assert.Equal(t, 45*time.Second, cfg.Shard.LeaseDuration)
	assert.Equal(t, 20*time.Second, cfg.Shard.HeartbeatExtension)
	assert.Equal(t, int32(9), cfg.Matching.RequeueDelaySeconds)
}

func TestLoad_EmptyEnvVarDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: warn
`), 0o600))

	t.Setenv("ORCH_LOG_LEVEL", "")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}
