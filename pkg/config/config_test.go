package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  port: 9090
database:
  driver: sqlite
  dsn: "file::memory:"
redis:
  enabled: true
  host: redis.internal
engine:
  visibility_timeout: 90s
  default_retry:
    max_attempts: 4
    factor: 3
run_queue:
  scheduler: weighted
  environment_limits:
    env_prod: 500
auth:
  worker_groups:
    - name: default
      token: wg-secret
      environment_id: env_prod
      organization_id: org_1
  api_keys:
    - key: sk-test
      environment_id: env_prod
`

// TestLoad 测试配置加载与默认值合并
func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.internal", cfg.Redis.Host)
	assert.Equal(t, 6379, cfg.Redis.Port)

	assert.Equal(t, 90*time.Second, cfg.Engine.VisibilityTimeout)
	assert.Equal(t, 4, cfg.Engine.DefaultRetry.MaxAttempts)
	assert.Equal(t, 3.0, cfg.Engine.DefaultRetry.Factor)
	assert.Equal(t, 1000, cfg.Engine.DefaultRetry.MinTimeoutInMs)

	assert.Equal(t, "weighted", cfg.RunQueue.Scheduler)
	assert.Equal(t, 500, cfg.RunQueue.EnvironmentLimit("env_prod"))
	assert.Equal(t, 100, cfg.RunQueue.EnvironmentLimit("env_dev"))

	require.Len(t, cfg.Auth.WorkerGroups, 1)
	assert.Equal(t, "wg-secret", cfg.Auth.WorkerGroups[0].Token)
	require.Len(t, cfg.Auth.APIKeys, 1)
	assert.Equal(t, "env_prod", cfg.Auth.APIKeys[0].EnvironmentID)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "drr", cfg.RunQueue.Scheduler)
	assert.Equal(t, 5*time.Minute, cfg.Engine.VisibilityTimeout)
	assert.Equal(t, 3, cfg.Engine.DefaultRetry.MaxAttempts)
	assert.False(t, cfg.Redis.Enabled)
}
