package domain

import (
	"time"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Component configurations
	History  HistoryConfig  `json:"history"`
	Cache    CacheConfig    `json:"cache"`
	EventBus EventBusConfig `json:"eventBus"`
	Artifact ArtifactConfig `json:"artifact"`
	Alert    AlertConfig    `json:"alert"`
	Audit    AuditConfig    `json:"audit"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// ArtifactConfig points at the versioned model bundle loaded at startup.
// The classifier artifact and encoder tables are versioned together;
// a mismatch is an initialization error, never a request-time error.
type ArtifactConfig struct {
	ModelPath    string `json:"modelPath"`
	EncodersPath string `json:"encodersPath"`

	// RulesPath optionally overrides the built-in heuristics with an
	// ordered JSON list. Empty means built-ins.
	RulesPath string `json:"rulesPath"`
}

// AuditConfig holds audit log settings.
type AuditConfig struct {
	Path string `json:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// DefaultConfig returns the default single-node configuration:
// SQLite history store, in-memory cache, channel event bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		History: HistoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Artifact: ArtifactConfig{
			ModelPath:    "./artifacts/model.json",
			EncodersPath: "./artifacts/encoders.json",
		},
		Alert: AlertConfig{
			QueueSize:       256,
			DispatchTimeout: 5 * time.Second,
		},
		Audit: AuditConfig{
			Path: "./predictions.log",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// DistributedConfig returns a configuration for multi-node deployments:
// PostgreSQL history store, Redis cache, NATS event bus.
func DistributedConfig() *Config {
	cfg := DefaultConfig()
	cfg.History = HistoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
