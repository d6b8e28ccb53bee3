package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Storage     StorageConfig   `toml:"storage"`
	Remote      RemoteConfig    `toml:"remote"`
	Connector   ConnectorConfig `toml:"connector"`
	Retry       RetryConfig     `toml:"retry"`
	Context     ContextConfig   `toml:"context"`
	Corpus      CorpusConfig    `toml:"corpus"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Logging     LoggingConfig   `toml:"logging"`
}

// StorageConfig selects and configures the persistence backend
type StorageConfig struct {
	Type       string       `toml:"type" validate:"omitempty,oneof=badger memory"` // "badger" (default) or "memory"
	QuotaBytes int64        `toml:"quota_bytes" validate:"gte=0"`                  // Total byte budget, 0 = unlimited
	Badger     BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// RemoteConfig configures the remote knowledge API client
type RemoteConfig struct {
	BaseURL   string `toml:"base_url" validate:"omitempty,url"` // Remote knowledge service base URL
	APIKey    string `toml:"api_key"`                           // Bearer token, empty = unauthenticated
	RateLimit int    `toml:"rate_limit" validate:"gte=0"`       // Requests per second, 0 = unlimited
}

// ConnectorConfig governs the knowledge connector state machine
type ConnectorConfig struct {
	MaxAttempts   int           `toml:"max_attempts" validate:"gte=1"` // Consecutive failures before fallback mode latches
	ProbeCooldown time.Duration `toml:"probe_cooldown"`                // Minimum gap between health probes
	CacheTTL      time.Duration `toml:"cache_ttl"`                     // Freshness window for cached query results
	FetchTimeout  time.Duration `toml:"fetch_timeout"`                 // Per-fetch deadline including retries
}

// RetryConfig governs retry backoff for remote fetches
type RetryConfig struct {
	MaxRetries    int           `toml:"max_retries" validate:"gte=0"`    // Retries after the first attempt
	BaseDelay     time.Duration `toml:"base_delay"`                      // First retry delay
	MaxDelay      time.Duration `toml:"max_delay"`                       // Delay ceiling
	BackoffFactor float64       `toml:"backoff_factor" validate:"gte=1"` // Multiplier applied per retry
}

// ContextConfig governs conversation persistence and the degrade ladder
type ContextConfig struct {
	BudgetFraction float64 `toml:"budget_fraction" validate:"gt=0,lte=1"` // Fraction of quota one snapshot may use
	MaxDocContent  int     `toml:"max_doc_content" validate:"gt=0"`       // Inline content cap when truncating
	MaxMessages    int     `toml:"max_messages" validate:"gt=0"`          // Messages kept when pruning
	MaxDocuments   int     `toml:"max_documents" validate:"gt=0"`         // Documents kept when pruning
	ChunkThreshold int     `toml:"chunk_threshold" validate:"gt=0"`       // Content length that triggers chunked storage
	ChunkSize      int     `toml:"chunk_size" validate:"gt=0"`            // Bytes per chunk record
	MinMessages    int     `toml:"min_messages" validate:"gt=0"`          // Messages kept in a minimal context
}

// CorpusConfig configures the offline fallback corpus
type CorpusConfig struct {
	MaxItems int    `toml:"max_items" validate:"gt=0"` // Cap on items returned per fallback query
	Dir      string `toml:"dir"`                       // Optional directory of corpus override files (TOML)
}

// SchedulerConfig configures background maintenance jobs
type SchedulerConfig struct {
	Enabled           bool   `toml:"enabled"`
	ReprobeSchedule   string `toml:"reprobe_schedule"`   // Cron schedule for fallback re-probe
	IntegritySchedule string `toml:"integrity_schedule"` // Cron schedule for integrity sweep
}

// LoggingConfig controls log output
type LoggingConfig struct {
	Level  string   `toml:"level" validate:"omitempty,oneof=debug info warn error"` // "debug", "info", "warn", "error"
	Output []string `toml:"output"`                                                 // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			Type:       "badger",
			QuotaBytes: 0, // Unlimited unless the deployment sets a budget
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Remote: RemoteConfig{
			BaseURL:   "",
			RateLimit: 5, // 5 requests per second
		},
		Connector: ConnectorConfig{
			MaxAttempts:   3,
			ProbeCooldown: 30 * time.Second,
			CacheTTL:      5 * time.Minute,
			FetchTimeout:  30 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries:    2,
			BaseDelay:     1 * time.Second,
			MaxDelay:      30 * time.Second,
			BackoffFactor: 1.5,
		},
		Context: ContextConfig{
			BudgetFraction: 0.8,
			MaxDocContent:  10000,
			MaxMessages:    50,
			MaxDocuments:   10,
			ChunkThreshold: 100000,
			ChunkSize:      50000,
			MinMessages:    3,
		},
		Corpus: CorpusConfig{
			MaxItems: 8,
		},
		Scheduler: SchedulerConfig{
			Enabled:           true,
			ReprobeSchedule:   "0 */5 * * * *", // Every 5 minutes
			IntegritySchedule: "0 0 */6 * * *", // Every 6 hours
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, storageType, corpusDir string) {
	if storageType != "" {
		config.Storage.Type = storageType
	}
	if corpusDir != "" {
		config.Corpus.Dir = corpusDir
	}
}

// Validate checks the configuration against field constraints
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: MEMORIA_ENV, fallback: GO_ENV)
	if env := os.Getenv("MEMORIA_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Storage configuration
	if storageType := os.Getenv("MEMORIA_STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = storageType
	}
	if quota := os.Getenv("MEMORIA_STORAGE_QUOTA_BYTES"); quota != "" {
		if q, err := strconv.ParseInt(quota, 10, 64); err == nil {
			config.Storage.QuotaBytes = q
		}
	}
	if badgerPath := os.Getenv("MEMORIA_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if reset := os.Getenv("MEMORIA_BADGER_RESET_ON_STARTUP"); reset != "" {
		if r, err := strconv.ParseBool(reset); err == nil {
			config.Storage.Badger.ResetOnStartup = r
		}
	}

	// Remote configuration
	if baseURL := os.Getenv("MEMORIA_REMOTE_BASE_URL"); baseURL != "" {
		config.Remote.BaseURL = baseURL
	}
	if apiKey := os.Getenv("MEMORIA_REMOTE_API_KEY"); apiKey != "" {
		config.Remote.APIKey = apiKey
	}
	if rateLimit := os.Getenv("MEMORIA_REMOTE_RATE_LIMIT"); rateLimit != "" {
		if rl, err := strconv.Atoi(rateLimit); err == nil {
			config.Remote.RateLimit = rl
		}
	}

	// Connector configuration
	if maxAttempts := os.Getenv("MEMORIA_CONNECTOR_MAX_ATTEMPTS"); maxAttempts != "" {
		if ma, err := strconv.Atoi(maxAttempts); err == nil {
			config.Connector.MaxAttempts = ma
		}
	}
	if cooldown := os.Getenv("MEMORIA_CONNECTOR_PROBE_COOLDOWN"); cooldown != "" {
		if cd, err := time.ParseDuration(cooldown); err == nil {
			config.Connector.ProbeCooldown = cd
		}
	}
	if cacheTTL := os.Getenv("MEMORIA_CONNECTOR_CACHE_TTL"); cacheTTL != "" {
		if ttl, err := time.ParseDuration(cacheTTL); err == nil {
			config.Connector.CacheTTL = ttl
		}
	}
	if fetchTimeout := os.Getenv("MEMORIA_CONNECTOR_FETCH_TIMEOUT"); fetchTimeout != "" {
		if ft, err := time.ParseDuration(fetchTimeout); err == nil {
			config.Connector.FetchTimeout = ft
		}
	}

	// Retry configuration
	if maxRetries := os.Getenv("MEMORIA_RETRY_MAX_RETRIES"); maxRetries != "" {
		if mr, err := strconv.Atoi(maxRetries); err == nil {
			config.Retry.MaxRetries = mr
		}
	}
	if baseDelay := os.Getenv("MEMORIA_RETRY_BASE_DELAY"); baseDelay != "" {
		if bd, err := time.ParseDuration(baseDelay); err == nil {
			config.Retry.BaseDelay = bd
		}
	}
	if maxDelay := os.Getenv("MEMORIA_RETRY_MAX_DELAY"); maxDelay != "" {
		if md, err := time.ParseDuration(maxDelay); err == nil {
			config.Retry.MaxDelay = md
		}
	}
	if factor := os.Getenv("MEMORIA_RETRY_BACKOFF_FACTOR"); factor != "" {
		if f, err := strconv.ParseFloat(factor, 64); err == nil {
			config.Retry.BackoffFactor = f
		}
	}

	// Corpus configuration
	if corpusDir := os.Getenv("MEMORIA_CORPUS_DIR"); corpusDir != "" {
		config.Corpus.Dir = corpusDir
	}

	// Scheduler configuration
	if enabled := os.Getenv("MEMORIA_SCHEDULER_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Scheduler.Enabled = e
		}
	}

	// Logging configuration
	if level := os.Getenv("MEMORIA_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("MEMORIA_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			trimmed := strings.TrimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}
