// Package config handles loading and parsing of chunkstore configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for chunkstore.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Store         StoreConfig         `yaml:"store"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	CORS          CORSConfig          `yaml:"cors"`
	Archive       ArchiveConfig       `yaml:"archive"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ShutdownTimeout is the graceful shutdown budget in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`
	// MaxNameLength caps object names in bytes.
	MaxNameLength int `yaml:"max_name_length"`
}

// ShutdownDuration returns ShutdownTimeout as a time.Duration.
func (s ServerConfig) ShutdownDuration() time.Duration {
	return time.Duration(s.ShutdownTimeout) * time.Second
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StoreConfig holds in-memory object store settings.
type StoreConfig struct {
	// BroadcastCapacity is the per-subscriber buffer, in events.
	BroadcastCapacity int `yaml:"broadcast_capacity"`
	// ReadChunkSize is the largest single read from an upload body, in bytes.
	ReadChunkSize int `yaml:"read_chunk_size"`
}

// LoggingConfig holds log/slog settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ObservabilityConfig toggles the metrics and health endpoints.
type ObservabilityConfig struct {
	Metrics     bool `yaml:"metrics"`
	HealthCheck bool `yaml:"health_check"`
}

// CORSConfig holds cross-origin settings.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ArchiveConfig holds settings for copying completed objects to a sink.
type ArchiveConfig struct {
	Enabled bool `yaml:"enabled"`
	// Backend is the sink type: "local", "sqlite", "aws", "gcp" or "azure".
	Backend string `yaml:"backend"`
	// IncludeSuffixes restricts archiving to names with one of these
	// suffixes. Empty means every object.
	IncludeSuffixes  []string `yaml:"include_suffixes"`
	QueueSize        int      `yaml:"queue_size"`
	Workers          int      `yaml:"workers"`
	Prefix           string   `yaml:"prefix"`
	Compression      string   `yaml:"compression"`
	PropagateDeletes bool     `yaml:"propagate_deletes"`
	// DrainTimeout bounds, in seconds, how long shutdown waits for queued
	// archive jobs after the HTTP server has stopped.
	DrainTimeout int `yaml:"drain_timeout"`

	Local  ArchiveLocalConfig  `yaml:"local"`
	SQLite ArchiveSQLiteConfig `yaml:"sqlite"`
	AWS    ArchiveAWSConfig    `yaml:"aws"`
	GCP    ArchiveGCPConfig    `yaml:"gcp"`
	Azure  ArchiveAzureConfig  `yaml:"azure"`
}

// DrainDuration returns DrainTimeout as a time.Duration.
func (a ArchiveConfig) DrainDuration() time.Duration {
	return time.Duration(a.DrainTimeout) * time.Second
}

// ArchiveLocalConfig holds filesystem sink settings.
type ArchiveLocalConfig struct {
	RootDir string `yaml:"root_dir"`
}

// ArchiveSQLiteConfig holds SQLite sink settings.
type ArchiveSQLiteConfig struct {
	Path string `yaml:"path"`
}

// ArchiveAWSConfig holds S3 sink settings.
type ArchiveAWSConfig struct {
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
	// EndpointURL overrides the S3 endpoint (MinIO, LocalStack, ...).
	EndpointURL     string `yaml:"endpoint_url"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// ArchiveGCPConfig holds Cloud Storage sink settings.
type ArchiveGCPConfig struct {
	Bucket          string `yaml:"bucket"`
	Project         string `yaml:"project"`
	CredentialsFile string `yaml:"credentials_file"`
	// EndpointURL points the client at an emulator when set.
	EndpointURL string `yaml:"endpoint_url"`
}

// ArchiveAzureConfig holds Blob Storage sink settings.
type ArchiveAzureConfig struct {
	Container string `yaml:"container"`
	Account   string `yaml:"account"`
	// AccountURL defaults to https://{account}.blob.core.windows.net.
	AccountURL         string `yaml:"account_url"`
	ConnectionString   string `yaml:"connection_string"`
	UseManagedIdentity bool   `yaml:"use_managed_identity"`
}

// Load reads a YAML configuration file from the given path and returns
// a parsed Config. An empty path yields the defaults. Environment
// overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Apply defaults for empty fields that YAML didn't set
	applyDefaults(cfg)

	if err := applyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 30,
			MaxNameLength:   1024,
		},
		Store: StoreConfig{
			BroadcastCapacity: 1024,
			ReadChunkSize:     64 << 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Observability: ObservabilityConfig{
			Metrics:     true,
			HealthCheck: true,
		},
		CORS: CORSConfig{
			Enabled:        true,
			AllowedOrigins: []string{"*"},
		},
		Archive: ArchiveConfig{
			Backend:      "local",
			QueueSize:    256,
			Workers:      2,
			Compression:  "none",
			DrainTimeout: 10,
			Local:        ArchiveLocalConfig{RootDir: "./data/archive"},
			SQLite:       ArchiveSQLiteConfig{Path: "./data/archive.db"},
		},
	}
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling.
func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.Server.Host == "" {
		cfg.Server.Host = d.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = d.Server.Port
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if cfg.Server.MaxNameLength == 0 {
		cfg.Server.MaxNameLength = d.Server.MaxNameLength
	}
	if cfg.Store.BroadcastCapacity == 0 {
		cfg.Store.BroadcastCapacity = d.Store.BroadcastCapacity
	}
	if cfg.Store.ReadChunkSize == 0 {
		cfg.Store.ReadChunkSize = d.Store.ReadChunkSize
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = d.Logging.Format
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = d.CORS.AllowedOrigins
	}
	if cfg.Archive.Backend == "" {
		cfg.Archive.Backend = d.Archive.Backend
	}
	if cfg.Archive.QueueSize == 0 {
		cfg.Archive.QueueSize = d.Archive.QueueSize
	}
	if cfg.Archive.Workers == 0 {
		cfg.Archive.Workers = d.Archive.Workers
	}
	if cfg.Archive.Compression == "" {
		cfg.Archive.Compression = d.Archive.Compression
	}
	if cfg.Archive.DrainTimeout == 0 {
		cfg.Archive.DrainTimeout = d.Archive.DrainTimeout
	}
	if cfg.Archive.Local.RootDir == "" {
		cfg.Archive.Local.RootDir = d.Archive.Local.RootDir
	}
	if cfg.Archive.SQLite.Path == "" {
		cfg.Archive.SQLite.Path = d.Archive.SQLite.Path
	}
	if cfg.Archive.Azure.AccountURL == "" && cfg.Archive.Azure.Account != "" {
		cfg.Archive.Azure.AccountURL = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.Archive.Azure.Account)
	}
}

// applyEnv overrides the port and log level from PORT and
// CHUNKSTORE_LOG_LEVEL.
func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := getenv("CHUNKSTORE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range 1-65535", c.Server.Port)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout must not be negative")
	}
	if c.Server.MaxNameLength <= 0 {
		return fmt.Errorf("server.max_name_length must be positive")
	}
	if c.Store.BroadcastCapacity <= 0 {
		return fmt.Errorf("store.broadcast_capacity must be positive")
	}
	if c.Store.ReadChunkSize <= 0 {
		return fmt.Errorf("store.read_chunk_size must be positive")
	}
	if !c.Archive.Enabled {
		return nil
	}
	switch c.Archive.Compression {
	case "none", "zstd":
	default:
		return fmt.Errorf("unknown archive.compression %q", c.Archive.Compression)
	}
	if c.Archive.QueueSize <= 0 || c.Archive.Workers <= 0 {
		return fmt.Errorf("archive.queue_size and archive.workers must be positive")
	}
	if c.Archive.DrainTimeout < 0 {
		return fmt.Errorf("archive.drain_timeout must not be negative")
	}
	switch strings.ToLower(c.Archive.Backend) {
	case "local", "sqlite":
	case "aws":
		if c.Archive.AWS.Bucket == "" {
			return fmt.Errorf("archive.aws.bucket is required")
		}
	case "gcp":
		if c.Archive.GCP.Bucket == "" {
			return fmt.Errorf("archive.gcp.bucket is required")
		}
	case "azure":
		if c.Archive.Azure.Container == "" {
			return fmt.Errorf("archive.azure.container is required")
		}
		if c.Archive.Azure.AccountURL == "" && c.Archive.Azure.ConnectionString == "" {
			return fmt.Errorf("archive.azure needs account, account_url or connection_string")
		}
	default:
		return fmt.Errorf("unknown archive.backend %q", c.Archive.Backend)
	}
	return nil
}
