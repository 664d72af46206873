// Package config loads and validates the leaderqueue process's YAML
// configuration file, the way the teacher does for its storage node:
// LoadConfig reads and unmarshals, setDefaults fills in anything left
// unspecified, and Validate rejects anything still unusable.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds the process's own network identity.
type ServerConfig struct {
	TabletID        string        `yaml:"tablet_id"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	MaxConnections  int           `yaml:"max_connections"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// QueueConfig holds the admission and peer-topology knobs of spec §6.
type QueueConfig struct {
	QuorumSize      int   `yaml:"quorum_size"`
	TotalPeers      int   `yaml:"total_peers"`
	LocalSoftMB     int64 `yaml:"local_soft_mb"`
	LocalHardMB     int64 `yaml:"local_hard_mb"`
	GlobalSoftMB    int64 `yaml:"global_soft_mb"`
	GlobalHardMB    int64 `yaml:"global_hard_mb"`
	MaxBatchBytes   int64 `yaml:"max_batch_bytes"`
	DumpQueueOnFull bool  `yaml:"dump_queue_on_full"`
}

// LocalSoftBytes, LocalHardBytes, GlobalSoftBytes, GlobalHardBytes convert
// the configured MB knobs to the byte values the memtracker package wants.
func (c QueueConfig) LocalSoftBytes() int64  { return c.LocalSoftMB * 1024 * 1024 }
func (c QueueConfig) LocalHardBytes() int64  { return c.LocalHardMB * 1024 * 1024 }
func (c QueueConfig) GlobalSoftBytes() int64 { return c.GlobalSoftMB * 1024 * 1024 }
func (c QueueConfig) GlobalHardBytes() int64 { return c.GlobalHardMB * 1024 * 1024 }

// MembershipConfig holds the gossip membership knobs driving peer
// tracking (spec §B.2), adapted from the teacher's GossipConfig.
type MembershipConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BindPort       int           `yaml:"bind_port"`
	SeedNodes      []string      `yaml:"seed_nodes"`
	GossipInterval time.Duration `yaml:"gossip_interval"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
}

// TransportConfig holds the peer RPC client knobs, adapted from the
// teacher's CoordinatorConfig.
type TransportConfig struct {
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	MaxRetries    int           `yaml:"max_retries"`
}

// MetricsConfig holds the metrics HTTP endpoint's knobs.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds the zap logger's knobs.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the complete configuration for a leaderqueue process.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Queue      QueueConfig      `yaml:"queue"`
	Membership MembershipConfig `yaml:"membership"`
	Transport  TransportConfig  `yaml:"transport"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoadConfig reads, defaults and validates the config file at filePath.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults fills in the values of spec §6's defaults table, plus
// sensible ambient defaults for everything the spec doesn't name.
func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 50052
	}
	if cfg.Server.MaxConnections == 0 {
		cfg.Server.MaxConnections = 1000
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Queue.QuorumSize == 0 {
		cfg.Queue.QuorumSize = 2
	}
	if cfg.Queue.TotalPeers == 0 {
		cfg.Queue.TotalPeers = 3
	}
	if cfg.Queue.LocalSoftMB == 0 {
		cfg.Queue.LocalSoftMB = 128
	}
	if cfg.Queue.LocalHardMB == 0 {
		cfg.Queue.LocalHardMB = 256
	}
	if cfg.Queue.GlobalSoftMB == 0 {
		cfg.Queue.GlobalSoftMB = 1024
	}
	if cfg.Queue.GlobalHardMB == 0 {
		cfg.Queue.GlobalHardMB = 1024
	}
	if cfg.Queue.MaxBatchBytes == 0 {
		cfg.Queue.MaxBatchBytes = 1024 * 1024
	}

	if cfg.Membership.BindPort == 0 {
		cfg.Membership.BindPort = 7946
	}
	if cfg.Membership.GossipInterval == 0 {
		cfg.Membership.GossipInterval = 200 * time.Millisecond
	}
	if cfg.Membership.ProbeTimeout == 0 {
		cfg.Membership.ProbeTimeout = 500 * time.Millisecond
	}
	if cfg.Membership.ProbeInterval == 0 {
		cfg.Membership.ProbeInterval = time.Second
	}

	if cfg.Transport.DialTimeout == 0 {
		cfg.Transport.DialTimeout = 5 * time.Second
	}
	if cfg.Transport.RetryInterval == 0 {
		cfg.Transport.RetryInterval = 5 * time.Second
	}
	if cfg.Transport.MaxRetries == 0 {
		cfg.Transport.MaxRetries = 10
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9102
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate rejects configuration that cannot be used to start a queue.
func (c *Config) Validate() error {
	if c.Server.TabletID == "" {
		return fmt.Errorf("server.tablet_id is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Queue.QuorumSize < 1 {
		return fmt.Errorf("queue.quorum_size must be at least 1")
	}
	if c.Queue.TotalPeers < c.Queue.QuorumSize {
		return fmt.Errorf("queue.total_peers must be at least queue.quorum_size")
	}
	if c.Queue.LocalSoftMB > c.Queue.LocalHardMB {
		return fmt.Errorf("queue.local_soft_mb must not exceed queue.local_hard_mb")
	}
	if c.Queue.GlobalSoftMB > c.Queue.GlobalHardMB {
		return fmt.Errorf("queue.global_soft_mb must not exceed queue.global_hard_mb")
	}
	if c.Queue.MaxBatchBytes < 1 {
		return fmt.Errorf("queue.max_batch_bytes must be positive")
	}
	return nil
}
