package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envVars = []string{
	"ETL_WORKERS", "ETL_FAIL_FAST", "ETL_DATASET_TIMEOUT", "ETL_RATE_LIMIT_RPS",
	"ETL_LOG_LEVEL", "ETL_LOG_FORMAT", "ETL_DISTRIBUTED_ROOT", "ETL_DISTRIBUTED_SCHEME",
	"ETL_HDFS_NAMENODES", "ETL_HDFS_USER", "ETL_HDFS_SOURCE", "ETL_HISTORY_PATH",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range envVars {
		t.Setenv(v, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, "data/", cfg.RawFolder)
	assert.Equal(t, "scripts/", cfg.ScriptFolder)
	assert.Empty(t, cfg.ProjectDir, "folders resolve against the working directory")
	assert.Equal(t, "/data_out/", cfg.DistributedRoot)
	assert.Equal(t, "hdfs", cfg.DistributedScheme)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
raw_folder: raw/
project_dir: /srv/etl/
workers: 2
dataset_timeout: 30s
hdfs:
  namenodes: [nn1:8020]
  user: etl
log:
  level: debug
`)
	t.Setenv("ETL_WORKERS", "8")
	t.Setenv("ETL_HDFS_NAMENODES", "a:8020, b:8020")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "raw/", cfg.RawFolder)
	assert.Equal(t, "/srv/etl/", cfg.ProjectDir)
	assert.Equal(t, "scripts/", cfg.ScriptFolder, "unset keys keep defaults")
	assert.Equal(t, 8, cfg.Workers, "env overrides file")
	assert.Equal(t, 30*time.Second, cfg.DatasetTimeout)
	assert.Equal(t, []string{"a:8020", "b:8020"}, cfg.HDFS.Namenodes)
	assert.Equal(t, "etl", cfg.HDFS.User)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("explicit missing file", func(t *testing.T) {
		clearEnv(t)
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		clearEnv(t)
		_, err := Load(writeConfig(t, "workers: [1, 2"))
		require.Error(t, err)
	})

	t.Run("invalid env", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ETL_FAIL_FAST", "sometimes")
		_, err := Load("")
		require.ErrorContains(t, err, "ETL_FAIL_FAST")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "workers", mutate: func(c *Config) { c.Workers = 0 }, want: "workers"},
		{name: "timeout", mutate: func(c *Config) { c.DatasetTimeout = -time.Second }, want: "timeout"},
		{name: "rate", mutate: func(c *Config) { c.RateLimitRPS = -1 }, want: "rate limit"},
		{name: "scheme", mutate: func(c *Config) { c.DistributedScheme = "s3" }, want: "scheme"},
		{name: "log format", mutate: func(c *Config) { c.Log.Format = "xml" }, want: "log format"},
		{name: "hdfs without namenodes", mutate: func(c *Config) { c.Distributed = true }, want: "namenode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	cfg := Default()
	cfg.Distributed = true
	cfg.DistributedScheme = "foundry"
	require.NoError(t, cfg.Validate())

	cfg = Default()
	cfg.Distributed = true
	cfg.HDFS.Source = "hdfs"
	require.NoError(t, cfg.Validate(), "namenodes may come from source credentials")
}
