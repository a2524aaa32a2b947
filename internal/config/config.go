// Package config resolves run settings from defaults, an optional YAML file,
// and ETL_* environment variables. Command-line flags are applied on top by
// the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/palantir/palantir-compute-module-dataset-etl/internal/dataset"
	"github.com/palantir/palantir-compute-module-dataset-etl/pkg/pipeline/worker"
)

// DefaultPath is read when no config file is named explicitly and it exists.
const DefaultPath = ".etl/config.yaml"

type Config struct {
	RawFolder    string `yaml:"raw_folder"`
	ScriptFolder string `yaml:"script_folder"`
	ProjectDir   string `yaml:"project_dir"`

	DistributedRoot   string `yaml:"distributed_root"`
	DistributedScheme string `yaml:"distributed_scheme"`
	Distributed       bool   `yaml:"distributed"`

	Workers        int           `yaml:"workers"`
	FailFast       bool          `yaml:"fail_fast"`
	DatasetTimeout time.Duration `yaml:"dataset_timeout"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`

	HDFS HDFS `yaml:"hdfs"`
	Log  Log  `yaml:"log"`

	// HistoryPath is the run ledger database. Empty disables the ledger.
	HistoryPath string `yaml:"history_path"`
}

type HDFS struct {
	Namenodes []string `yaml:"namenodes"`
	User      string   `yaml:"user"`
	// Source names a compute module source in SOURCE_CREDENTIALS whose
	// "Namenodes" and "User" secrets fill the fields above when they are empty.
	Source string `yaml:"source"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		RawFolder:         dataset.DefaultRawFolder,
		ScriptFolder:      dataset.DefaultScriptFolder,
		DistributedRoot:   dataset.DefaultDistributedRoot,
		DistributedScheme: dataset.DefaultDistributedScheme,
		Workers:           worker.DefaultWorkers,
		Log:               Log{Level: "info", Format: "console"},
	}
}

// Load layers the file at path (or DefaultPath when path is empty and the
// file exists) and then the environment over Default.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	if err := cfg.mergeFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}
	if err := cfg.mergeEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) mergeEnv() error {
	var err error
	if c.Workers, err = envInt("ETL_WORKERS", c.Workers); err != nil {
		return err
	}
	if c.FailFast, err = envBool("ETL_FAIL_FAST", c.FailFast); err != nil {
		return err
	}
	if c.DatasetTimeout, err = envDuration("ETL_DATASET_TIMEOUT", c.DatasetTimeout); err != nil {
		return err
	}
	if c.RateLimitRPS, err = envFloat("ETL_RATE_LIMIT_RPS", c.RateLimitRPS); err != nil {
		return err
	}
	c.Log.Level = envString("ETL_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envString("ETL_LOG_FORMAT", c.Log.Format)
	c.DistributedRoot = envString("ETL_DISTRIBUTED_ROOT", c.DistributedRoot)
	c.DistributedScheme = envString("ETL_DISTRIBUTED_SCHEME", c.DistributedScheme)
	c.HDFS.User = envString("ETL_HDFS_USER", c.HDFS.User)
	c.HDFS.Source = envString("ETL_HDFS_SOURCE", c.HDFS.Source)
	if v := strings.TrimSpace(os.Getenv("ETL_HDFS_NAMENODES")); v != "" {
		c.HDFS.Namenodes = SplitList(v)
	}
	c.HistoryPath = envString("ETL_HISTORY_PATH", c.HistoryPath)
	return nil
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.DatasetTimeout < 0 {
		return fmt.Errorf("dataset timeout must be >= 0, got %s", c.DatasetTimeout)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("rate limit must be >= 0, got %g", c.RateLimitRPS)
	}
	switch strings.ToLower(c.DistributedScheme) {
	case "hdfs", "file", "foundry":
	default:
		return fmt.Errorf("unsupported distributed scheme %q (want hdfs, file or foundry)", c.DistributedScheme)
	}
	if c.Distributed && strings.EqualFold(c.DistributedScheme, "hdfs") && len(c.HDFS.Namenodes) == 0 && c.HDFS.Source == "" {
		return fmt.Errorf("distributed output to hdfs requires at least one namenode (ETL_HDFS_NAMENODES or ETL_HDFS_SOURCE)")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unsupported log format %q (want console or json)", c.Log.Format)
	}
	return nil
}

// SplitList splits a comma-separated list, dropping empty entries.
func SplitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envString(varName, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(varName)); v != "" {
		return v
	}
	return fallback
}

func envInt(varName string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envFloat(varName string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envDuration(varName string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envBool(varName string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}
