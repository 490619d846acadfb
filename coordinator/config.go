// Package coordinator wires storage, the participant queue, the task
// dispatcher, and the round engine behind a single read-write lock, and
// runs the background services (queue tick, verification sweep) that
// drive the ceremony forward.
package coordinator

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds the full ceremony environment configuration, loaded from
// a YAML file structured into Round/Storage/Queue/Timeouts sections.
type Config struct {
	DataDir string `yaml:"data_dir"`

	Round struct {
		NumberOfChunks uint64   `yaml:"number_of_chunks"`
		Contributors   []string `yaml:"contributors"`
		Verifiers      []string `yaml:"verifiers"`
		ChunkVerifiers []string `yaml:"chunk_verifiers"`
	} `yaml:"round"`

	Storage struct {
		BlobCacheBytes int `yaml:"blob_cache_bytes"`
	} `yaml:"storage"`

	Queue struct {
		PerIPCapacity int  `yaml:"per_ip_capacity"`
		MaxEvictions  int  `yaml:"max_evictions"`
		AllowDropouts bool `yaml:"allow_dropouts"`
	} `yaml:"queue"`

	Timeouts struct {
		HeartbeatSeconds int `yaml:"heartbeat_seconds"`
		UpdateSeconds    int `yaml:"update_seconds"`
		OfflineWindowMin int `yaml:"offline_window_minutes"`
	} `yaml:"timeouts"`

	HTTP struct {
		Addr       string `yaml:"addr"`
		AdminToken string `yaml:"admin_token"`
	} `yaml:"http"`

	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns a Config with sensible defaults, mirroring the
// reference timeouts (heartbeat 300s, update tick 15s, offline window
// 15 minutes).
func DefaultConfig() Config {
	var c Config
	c.DataDir = "./data"
	c.Round.NumberOfChunks = 64
	c.Storage.BlobCacheBytes = 64 * 1024 * 1024
	c.Queue.PerIPCapacity = 1
	c.Queue.MaxEvictions = 3
	c.Timeouts.HeartbeatSeconds = 300
	c.Timeouts.UpdateSeconds = 15
	c.Timeouts.OfflineWindowMin = 15
	c.HTTP.Addr = "127.0.0.1:8080"
	c.LogLevel = "info"
	return c
}

// LoadEnvironment reads and parses a YAML ceremony environment file at
// path, merging its fields over DefaultConfig.
func LoadEnvironment(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("coordinator: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("coordinator: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("coordinator: data_dir must not be empty")
	}
	if c.Round.NumberOfChunks == 0 {
		return fmt.Errorf("coordinator: round.number_of_chunks must be greater than 0")
	}
	if uint64(len(c.Round.ChunkVerifiers)) != 0 && uint64(len(c.Round.ChunkVerifiers)) != c.Round.NumberOfChunks {
		return fmt.Errorf("coordinator: round.chunk_verifiers length must equal number_of_chunks")
	}
	if c.Queue.PerIPCapacity <= 0 {
		return fmt.Errorf("coordinator: queue.per_ip_capacity must be greater than 0")
	}
	if c.Timeouts.HeartbeatSeconds <= 0 {
		return fmt.Errorf("coordinator: timeouts.heartbeat_seconds must be greater than 0")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error", "trace":
	default:
		return fmt.Errorf("coordinator: unknown log_level %q", c.LogLevel)
	}
	return nil
}

// HeartbeatTimeout returns the configured heartbeat timeout as a
// time.Duration.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.Timeouts.HeartbeatSeconds) * time.Second
}

// UpdateInterval returns the configured queue-tick interval.
func (c *Config) UpdateInterval() time.Duration {
	return time.Duration(c.Timeouts.UpdateSeconds) * time.Second
}

// OfflineWindow returns the configured offline-mode polling window.
func (c *Config) OfflineWindow() time.Duration {
	return time.Duration(c.Timeouts.OfflineWindowMin) * time.Minute
}
