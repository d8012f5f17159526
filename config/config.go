package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config is the single runtime configuration object, loaded once at
// startup. Ambient fields (env, log level, metrics port) come from
// environment variables the way the job scheduler this runtime descends
// from loads them; the cluster/gateway/database/observability sections
// come from an optional TOML file and are merged in by Load.
type Config struct {
	Env string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`

	ConfigFile string `env:"FORGE_CONFIG_FILE" envDefault:"forge.toml"`

	// DatabaseURL wins over the TOML [database].url when set, per the
	// environment section of the external interfaces contract.
	DatabaseURL string `env:"DATABASE_URL"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`

	JWTSecret    string `env:"JWT_SECRET"`
	JWTAlgorithm string `env:"JWT_ALGORITHM" envDefault:"HS256" validate:"oneof=HS256 HS384 HS512"`

	ResendAPIKey  string `env:"RESEND_API_KEY" validate:"required_if=Env production,required_if=Env staging"`
	ResendFrom    string `env:"RESEND_FROM" validate:"required_if=Env production,required_if=Env staging"`
	MagicLinkBase string `env:"MAGIC_LINK_BASE_URL" envDefault:"http://localhost:8080"`

	Database      DatabaseConfig
	Gateway       GatewayConfig
	Cluster       ClusterConfig
	Observability ObservabilityConfig
}

// DatabaseConfig is the TOML [database] section.
type DatabaseConfig struct {
	URL            string `toml:"url"`
	MaxConns       int32  `toml:"max_conns"`
	MinConns       int32  `toml:"min_conns"`
	MaxConnLifeSec int    `toml:"max_conn_lifetime_sec"`
	MaxConnIdleSec int    `toml:"max_conn_idle_sec"`
}

// GatewayConfig is the TOML [gateway] section: the RPC/HTTP surface and
// its auth verification path.
type GatewayConfig struct {
	Port         int    `toml:"port"`
	JWKSURL      string `toml:"jwks_url"`
	ReadTimeoutS int    `toml:"read_timeout_sec"`
}

// ClusterConfig is the TOML [cluster] section: node identity, roles, and
// the timing constants driving §4.1–§4.3.
type ClusterConfig struct {
	NodeID              string   `toml:"node_id"`
	Hostname            string   `toml:"hostname"`
	Address             string   `toml:"address"`
	HTTPPort            int      `toml:"http_port"`
	RPCPort             int      `toml:"rpc_port"`
	Roles               []string `toml:"roles"`
	Capabilities        []string `toml:"capabilities"`
	WorkerCount         int      `toml:"worker_count"`
	HeartbeatIntervalSec int     `toml:"heartbeat_interval_sec"`
	DeadThresholdSec    int      `toml:"dead_threshold_sec"`
	LeaseDurationSec    int      `toml:"lease_duration_sec"`
	DrainTimeoutSec     int      `toml:"drain_timeout_sec"`
	StuckThresholdSec   int      `toml:"stuck_threshold_sec"`
	PollIntervalSec     int      `toml:"poll_interval_sec"`
	CronTickIntervalSec int      `toml:"cron_tick_interval_sec"`
}

// ObservabilityConfig is the TOML [observability] section.
type ObservabilityConfig struct {
	FlushIntervalSec int  `toml:"flush_interval_sec"`
	BatchSize        int  `toml:"batch_size"`
	TracingEnabled   bool `toml:"tracing_enabled"`
}

func defaultClusterConfig() ClusterConfig {
	return ClusterConfig{
		Roles:                []string{"scheduler"},
		HTTPPort:             8080,
		RPCPort:              8080,
		WorkerCount:          5,
		HeartbeatIntervalSec: 5,
		DeadThresholdSec:     15,
		LeaseDurationSec:     15,
		DrainTimeoutSec:      30,
		StuckThresholdSec:    60,
		PollIntervalSec:      1,
		CronTickIntervalSec:  1,
	}
}

func defaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		MaxConns:       25,
		MinConns:       5,
		MaxConnLifeSec: 3600,
		MaxConnIdleSec: 1800,
	}
}

func defaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		FlushIntervalSec: 10,
		BatchSize:        500,
	}
}

// tomlFile mirrors Config's nested sections for unmarshaling; only the
// sections named in the external interfaces contract are read from file.
type tomlFile struct {
	Database      DatabaseConfig      `toml:"database"`
	Gateway       GatewayConfig       `toml:"gateway"`
	Cluster       ClusterConfig       `toml:"cluster"`
	Observability ObservabilityConfig `toml:"observability"`
}

// Load parses environment variables, then overlays an optional TOML file
// (Config.ConfigFile, default "forge.toml") for the database/gateway/
// cluster/observability sections. A missing TOML file is not an error:
// compiled-in defaults apply and DATABASE_URL alone is enough to run.
func Load() (*Config, error) {
	cfg := &Config{
		Database:      defaultDatabaseConfig(),
		Cluster:       defaultClusterConfig(),
		Observability: defaultObservabilityConfig(),
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if data, err := os.ReadFile(cfg.ConfigFile); err == nil {
		var tf tomlFile
		if err := toml.Unmarshal(data, &tf); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", cfg.ConfigFile, err)
		}
		mergeTOML(cfg, &tf)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file %s: %w", cfg.ConfigFile, err)
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = cfg.Database.URL
	} else {
		cfg.Database.URL = cfg.DatabaseURL
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("invalid config: database url is required (DATABASE_URL or [database].url)")
	}

	return cfg, nil
}

// mergeTOML overlays non-zero fields from the parsed file onto the
// default-seeded sections. Zero-valued TOML fields leave defaults intact.
func mergeTOML(cfg *Config, tf *tomlFile) {
	if tf.Database.URL != "" {
		cfg.Database.URL = tf.Database.URL
	}
	if tf.Database.MaxConns != 0 {
		cfg.Database.MaxConns = tf.Database.MaxConns
	}
	if tf.Database.MinConns != 0 {
		cfg.Database.MinConns = tf.Database.MinConns
	}
	if tf.Database.MaxConnLifeSec != 0 {
		cfg.Database.MaxConnLifeSec = tf.Database.MaxConnLifeSec
	}
	if tf.Database.MaxConnIdleSec != 0 {
		cfg.Database.MaxConnIdleSec = tf.Database.MaxConnIdleSec
	}

	cfg.Gateway = tf.Gateway

	if len(tf.Cluster.Roles) > 0 {
		cfg.Cluster.Roles = tf.Cluster.Roles
	}
	if len(tf.Cluster.Capabilities) > 0 {
		cfg.Cluster.Capabilities = tf.Cluster.Capabilities
	}
	if tf.Cluster.NodeID != "" {
		cfg.Cluster.NodeID = tf.Cluster.NodeID
	}
	if tf.Cluster.Hostname != "" {
		cfg.Cluster.Hostname = tf.Cluster.Hostname
	}
	if tf.Cluster.Address != "" {
		cfg.Cluster.Address = tf.Cluster.Address
	}
	if tf.Cluster.HTTPPort != 0 {
		cfg.Cluster.HTTPPort = tf.Cluster.HTTPPort
	}
	if tf.Cluster.RPCPort != 0 {
		cfg.Cluster.RPCPort = tf.Cluster.RPCPort
	}
	if tf.Cluster.WorkerCount != 0 {
		cfg.Cluster.WorkerCount = tf.Cluster.WorkerCount
	}
	if tf.Cluster.HeartbeatIntervalSec != 0 {
		cfg.Cluster.HeartbeatIntervalSec = tf.Cluster.HeartbeatIntervalSec
	}
	if tf.Cluster.DeadThresholdSec != 0 {
		cfg.Cluster.DeadThresholdSec = tf.Cluster.DeadThresholdSec
	}
	if tf.Cluster.LeaseDurationSec != 0 {
		cfg.Cluster.LeaseDurationSec = tf.Cluster.LeaseDurationSec
	}
	if tf.Cluster.DrainTimeoutSec != 0 {
		cfg.Cluster.DrainTimeoutSec = tf.Cluster.DrainTimeoutSec
	}
	if tf.Cluster.StuckThresholdSec != 0 {
		cfg.Cluster.StuckThresholdSec = tf.Cluster.StuckThresholdSec
	}
	if tf.Cluster.PollIntervalSec != 0 {
		cfg.Cluster.PollIntervalSec = tf.Cluster.PollIntervalSec
	}
	if tf.Cluster.CronTickIntervalSec != 0 {
		cfg.Cluster.CronTickIntervalSec = tf.Cluster.CronTickIntervalSec
	}

	if tf.Observability.FlushIntervalSec != 0 {
		cfg.Observability.FlushIntervalSec = tf.Observability.FlushIntervalSec
	}
	if tf.Observability.BatchSize != 0 {
		cfg.Observability.BatchSize = tf.Observability.BatchSize
	}
	cfg.Observability.TracingEnabled = tf.Observability.TracingEnabled
}

// SlogLevel converts the LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
