// Package config handles kvgraph configuration via YAML files and environment variables.
//
// Configuration Precedence (highest to lowest):
//  1. Command-line flags (--backend, --data-dir, --log-level)
//  2. Environment variables (KVGRAPH_*)
//  3. Config file (kvgraph.yaml)
//  4. Built-in defaults
//
// Example Usage:
//
//	cfg, err := config.LoadFromFile(config.FindConfigFile())
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
// Environment Variables (all use KVGRAPH_ prefix):
//
// Store:
//   - KVGRAPH_STORE_BACKEND="memory", "badger", "redis" or "nats"
//   - KVGRAPH_BADGER_DATA_DIR="./data"
//   - KVGRAPH_BADGER_IN_MEMORY=false
//   - KVGRAPH_BADGER_SYNC_WRITES=false
//   - KVGRAPH_REDIS_URL="redis://localhost:6379/0"
//   - KVGRAPH_REDIS_KEY_PREFIX="kvgraph"
//   - KVGRAPH_REDIS_DATABASE=0
//   - KVGRAPH_NATS_URL="nats://127.0.0.1:4222"
//   - KVGRAPH_NATS_BUCKET="kvgraph"
//
// Graph:
//   - KVGRAPH_CHUNK_SIZE=128
//   - KVGRAPH_LEGACY_INDEX_WRITES=false
//   - KVGRAPH_LEGACY_SCAN_FALLBACK=true
//
// Logging:
//   - KVGRAPH_LOG_LEVEL="INFO"
//   - KVGRAPH_LOG_FORMAT="text" or "json"
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	kverrors "github.com/orneryd/kvgraph/pkg/errors"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendRedis  = "redis"
	BackendNATS   = "nats"
)

// Backends lists every supported store backend.
var Backends = []string{BackendMemory, BackendBadger, BackendRedis, BackendNATS}

// Config holds all kvgraph configuration.
//
// Configuration is organized into logical sections:
//   - Store: which key-value backend to open and how
//   - Graph: traversal engine tuning and legacy index behaviour
//   - Logging: logging configuration
type Config struct {
	Store   StoreConfig
	Graph   GraphConfig
	Logging LoggingConfig
}

// StoreConfig selects and configures the key-value backend.
type StoreConfig struct {
	// Backend is one of memory, badger, redis or nats.
	Backend string

	Badger BadgerConfig
	Redis  RedisConfig
	NATS   NATSConfig
}

// BadgerConfig holds BadgerDB settings.
type BadgerConfig struct {
	// DataDir is the directory for data files. Required unless InMemory.
	DataDir string
	// InMemory keeps everything in RAM (nothing is persisted).
	InMemory bool
	// SyncWrites fsyncs after each write.
	SyncWrites bool
}

// RedisConfig holds Redis settings.
type RedisConfig struct {
	// URL is the connection string, e.g. redis://localhost:6379/0.
	URL string
	// KeyPrefix namespaces every stored key.
	KeyPrefix string
	// Database overrides the database selected by URL when non-zero.
	Database int
}

// NATSConfig holds NATS JetStream key-value settings.
type NATSConfig struct {
	URL    string
	Bucket string
}

// GraphConfig tunes the traversal engine.
type GraphConfig struct {
	// ChunkSize is the number of entries per adjacency chunk.
	ChunkSize int
	// LegacyIndexWrites also writes the pre-chunking pointer keys and JSON
	// array indices on edge creation.
	LegacyIndexWrites bool
	// LegacyScanFallback scans legacy pointer keys when a chunked set is
	// empty.
	LegacyScanFallback bool
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level (DEBUG, INFO, WARN, ERROR)
	Level string
	// Format (json, text)
	Format string
}

// YAMLConfig represents the YAML configuration file structure.
// Pointer fields distinguish "unset" from an explicit zero value.
type YAMLConfig struct {
	Store struct {
		Backend string `yaml:"backend"`
		Badger  struct {
			DataDir    string `yaml:"data_dir"`
			InMemory   *bool  `yaml:"in_memory"`
			SyncWrites *bool  `yaml:"sync_writes"`
		} `yaml:"badger"`
		Redis struct {
			URL       string `yaml:"url"`
			KeyPrefix string `yaml:"key_prefix"`
			Database  *int   `yaml:"database"`
		} `yaml:"redis"`
		NATS struct {
			URL    string `yaml:"url"`
			Bucket string `yaml:"bucket"`
		} `yaml:"nats"`
	} `yaml:"store"`

	Graph struct {
		ChunkSize          int   `yaml:"chunk_size"`
		LegacyIndexWrites  *bool `yaml:"legacy_index_writes"`
		LegacyScanFallback *bool `yaml:"legacy_scan_fallback"`
	} `yaml:"graph"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// LoadDefaults returns a Config with built-in defaults only.
func LoadDefaults() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: BackendMemory,
			Badger: BadgerConfig{
				DataDir: "./data",
			},
			Redis: RedisConfig{
				KeyPrefix: "kvgraph",
			},
			NATS: NATSConfig{
				Bucket: "kvgraph",
			},
		},
		Graph: GraphConfig{
			ChunkSize:          128,
			LegacyScanFallback: true,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

// DefaultConfig is an alias of LoadDefaults.
func DefaultConfig() *Config { return LoadDefaults() }

// LoadFromEnv returns the defaults overridden by KVGRAPH_* variables.
func LoadFromEnv() *Config {
	cfg := LoadDefaults()
	ApplyEnvVars(cfg)
	return cfg
}

// LoadFromFile loads defaults, then the YAML file at configPath, then the
// environment. A missing file (or an empty path) is not an error.
func LoadFromFile(configPath string) (*Config, error) {
	cfg := LoadDefaults()
	if configPath == "" {
		ApplyEnvVars(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvVars(cfg)
			return cfg, nil
		}
		return nil, kverrors.Wrap(err, kverrors.CodeConfigLoadReadFailure, "failed to read config file",
			kverrors.Field("path", configPath))
	}

	var yamlCfg YAMLConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, kverrors.Wrap(err, kverrors.CodeConfigParseInvalidFormat, "failed to parse config file",
			kverrors.Field("path", configPath))
	}
	applyYAML(cfg, &yamlCfg)

	ApplyEnvVars(cfg)
	return cfg, nil
}

func applyYAML(cfg *Config, y *YAMLConfig) {
	// === Store Settings ===
	if y.Store.Backend != "" {
		cfg.Store.Backend = y.Store.Backend
	}
	if y.Store.Badger.DataDir != "" {
		cfg.Store.Badger.DataDir = y.Store.Badger.DataDir
	}
	if y.Store.Badger.InMemory != nil {
		cfg.Store.Badger.InMemory = *y.Store.Badger.InMemory
	}
	if y.Store.Badger.SyncWrites != nil {
		cfg.Store.Badger.SyncWrites = *y.Store.Badger.SyncWrites
	}
	if y.Store.Redis.URL != "" {
		cfg.Store.Redis.URL = y.Store.Redis.URL
	}
	if y.Store.Redis.KeyPrefix != "" {
		cfg.Store.Redis.KeyPrefix = y.Store.Redis.KeyPrefix
	}
	if y.Store.Redis.Database != nil {
		cfg.Store.Redis.Database = *y.Store.Redis.Database
	}
	if y.Store.NATS.URL != "" {
		cfg.Store.NATS.URL = y.Store.NATS.URL
	}
	if y.Store.NATS.Bucket != "" {
		cfg.Store.NATS.Bucket = y.Store.NATS.Bucket
	}

	// === Graph Settings ===
	if y.Graph.ChunkSize != 0 {
		cfg.Graph.ChunkSize = y.Graph.ChunkSize
	}
	if y.Graph.LegacyIndexWrites != nil {
		cfg.Graph.LegacyIndexWrites = *y.Graph.LegacyIndexWrites
	}
	if y.Graph.LegacyScanFallback != nil {
		cfg.Graph.LegacyScanFallback = *y.Graph.LegacyScanFallback
	}

	// === Logging Settings ===
	if y.Logging.Level != "" {
		cfg.Logging.Level = y.Logging.Level
	}
	if y.Logging.Format != "" {
		cfg.Logging.Format = y.Logging.Format
	}
}

// ApplyEnvVars overrides cfg with any KVGRAPH_* variables that are set.
func ApplyEnvVars(cfg *Config) {
	cfg.Store.Backend = getEnv("KVGRAPH_STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.Badger.DataDir = getEnv("KVGRAPH_BADGER_DATA_DIR", cfg.Store.Badger.DataDir)
	cfg.Store.Badger.InMemory = getEnvBool("KVGRAPH_BADGER_IN_MEMORY", cfg.Store.Badger.InMemory)
	cfg.Store.Badger.SyncWrites = getEnvBool("KVGRAPH_BADGER_SYNC_WRITES", cfg.Store.Badger.SyncWrites)
	cfg.Store.Redis.URL = getEnv("KVGRAPH_REDIS_URL", cfg.Store.Redis.URL)
	cfg.Store.Redis.KeyPrefix = getEnv("KVGRAPH_REDIS_KEY_PREFIX", cfg.Store.Redis.KeyPrefix)
	cfg.Store.Redis.Database = getEnvInt("KVGRAPH_REDIS_DATABASE", cfg.Store.Redis.Database)
	cfg.Store.NATS.URL = getEnv("KVGRAPH_NATS_URL", cfg.Store.NATS.URL)
	cfg.Store.NATS.Bucket = getEnv("KVGRAPH_NATS_BUCKET", cfg.Store.NATS.Bucket)

	cfg.Graph.ChunkSize = getEnvInt("KVGRAPH_CHUNK_SIZE", cfg.Graph.ChunkSize)
	cfg.Graph.LegacyIndexWrites = getEnvBool("KVGRAPH_LEGACY_INDEX_WRITES", cfg.Graph.LegacyIndexWrites)
	cfg.Graph.LegacyScanFallback = getEnvBool("KVGRAPH_LEGACY_SCAN_FALLBACK", cfg.Graph.LegacyScanFallback)

	cfg.Logging.Level = getEnv("KVGRAPH_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("KVGRAPH_LOG_FORMAT", cfg.Logging.Format)
}

// Validate checks the configuration and reports every problem at once.
//
// Example:
//
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Configuration error: %v", err)
//	}
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendBadger:
		if c.Store.Badger.DataDir == "" && !c.Store.Badger.InMemory {
			add("store.badger.data_dir is required unless store.badger.in_memory is set")
		}
	case BackendRedis:
		if c.Store.Redis.URL == "" {
			add("store.redis.url is required for the redis backend")
		}
		if c.Store.Redis.KeyPrefix == "" {
			add("store.redis.key_prefix must not be empty")
		}
		if c.Store.Redis.Database < 0 {
			add("store.redis.database must be >= 0, got %d", c.Store.Redis.Database)
		}
	case BackendNATS:
		if c.Store.NATS.URL == "" {
			add("store.nats.url is required for the nats backend")
		}
		if c.Store.NATS.Bucket == "" {
			add("store.nats.bucket must not be empty")
		}
	default:
		add("store.backend must be one of %s, got %q", strings.Join(Backends, ", "), c.Store.Backend)
	}

	if c.Graph.ChunkSize <= 0 {
		add("graph.chunk_size must be positive, got %d", c.Graph.ChunkSize)
	}

	if _, err := parseLevel(c.Logging.Level); err != nil {
		add("logging.level: %v", err)
	}
	if f := strings.ToLower(c.Logging.Format); f != "text" && f != "json" {
		add("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if len(problems) == 0 {
		return nil
	}
	return kverrors.New(kverrors.CodeConfigValidateInvalidValue,
		"invalid configuration: "+strings.Join(problems, "; "),
		kverrors.Field("problems", problems))
}

// String returns a one-line summary safe for logging.
func (c *Config) String() string {
	target := ""
	switch c.Store.Backend {
	case BackendBadger:
		target = c.Store.Badger.DataDir
		if c.Store.Badger.InMemory {
			target = "in-memory"
		}
	case BackendRedis:
		target = redactURL(c.Store.Redis.URL)
	case BackendNATS:
		target = c.Store.NATS.URL + "/" + c.Store.NATS.Bucket
	}
	return fmt.Sprintf("Config{Backend: %s, Target: %s, ChunkSize: %d, LegacyWrites: %v, LegacyFallback: %v}",
		c.Store.Backend, target, c.Graph.ChunkSize, c.Graph.LegacyIndexWrites, c.Graph.LegacyScanFallback)
}

// redactURL drops credentials from a connection URL.
func redactURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = "***@" + rest[at+1:]
	}
	return scheme + "://" + rest
}

// NewLogger builds the process logger described by Logging.
func (c *Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Logging.Level)
	if err != nil {
		return nil, kverrors.Wrap(err, kverrors.CodeConfigValidateInvalidValue, "invalid log level",
			kverrors.Field("field", "logging.level"))
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Logging.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	err := level.UnmarshalText([]byte(s))
	return level, err
}

// FindConfigFile searches for a config file in standard locations.
// Returns the path to the first config file found, or an empty string.
// Search order:
//  1. ~/.kvgraph/config.yaml
//  2. Current working directory (kvgraph.yaml, config.yaml)
//  3. ~/.config/kvgraph/config.yaml (XDG)
func FindConfigFile() string {
	var candidates []string

	home, homeErr := os.UserHomeDir()
	if homeErr == nil {
		candidates = append(candidates, filepath.Join(home, ".kvgraph", "config.yaml"))
	}
	candidates = append(candidates, "kvgraph.yaml", "config.yaml")
	if homeErr == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "kvgraph", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// SupportedBackend reports whether name is a known store backend.
func SupportedBackend(name string) bool {
	return slices.Contains(Backends, name)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}
