package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Queue       QueueConfig     `toml:"queue"`
	Embedding   EmbeddingConfig `toml:"embedding"`
	Storage     StorageConfig   `toml:"storage"`
	Fetch       FetchConfig     `toml:"fetch"`
	Logging     LoggingConfig   `toml:"logging"`
	Gemini      GeminiConfig    `toml:"gemini"`
	Claude      ClaudeConfig    `toml:"claude"`
	LLM         LLMConfig       `toml:"llm"`
	Cleanup     CleanupConfig   `toml:"cleanup"`
	WebSocket   WebSocketConfig `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type QueueConfig struct {
	PollInterval string `toml:"poll_interval"` // e.g., "5s" - how often the scheduler polls for runnable jobs
	Concurrency  int    `toml:"concurrency"`   // Number of jobs processed concurrently
	MaxRetries   int    `toml:"max_retries"`   // Retries after the first attempt before a job fails permanently
	RetryDelay   string `toml:"retry_delay"`   // Base delay before the first retry, doubled per attempt
}

type EmbeddingConfig struct {
	Interval string `toml:"interval"` // e.g., "30s" - embedding worker tick interval
	Model    string `toml:"model"`    // Embedding model identifier recorded on each link
	Dim      int    `toml:"dim"`      // Output dimensionality requested from the provider
}

type StorageConfig struct {
	SQLite  SQLiteConfig  `toml:"sqlite"`
	Vectors VectorsConfig `toml:"vectors"`
	Files   FilesConfig   `toml:"files"`
}

// SQLiteConfig represents SQLite-specific configuration
type SQLiteConfig struct {
	Path          string `toml:"path"`            // Database file path
	CacheSizeMB   int    `toml:"cache_size_mb"`   // Page cache size in megabytes
	BusyTimeoutMS int    `toml:"busy_timeout_ms"` // Lock wait timeout in milliseconds
	WALMode       bool   `toml:"wal_mode"`        // Enable write-ahead logging
}

// VectorsConfig represents the local vector store configuration
type VectorsConfig struct {
	Path           string `toml:"path"`             // Vector database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete vector database on startup for clean test runs
}

type FilesConfig struct {
	Dir              string `toml:"dir"`                 // Root directory for stored source files (PDFs)
	MaxFileSizeBytes int64  `toml:"max_file_size_bytes"` // Reject uploads larger than this
}

// FetchConfig contains HTML fetching configuration
type FetchConfig struct {
	UserAgent          string        `toml:"user_agent"`           // User agent string sent on every request
	RequestTimeout     time.Duration `toml:"request_timeout"`      // HTTP request timeout
	MaxBodySize        int64         `toml:"max_body_size"`        // Maximum response body size in bytes
	EnableJavaScript   bool          `toml:"enable_javascript"`    // Fall back to headless rendering for JS-heavy pages
	JavaScriptWaitTime time.Duration `toml:"javascript_wait_time"` // Wait after navigation for scripts to render
	MinTextLength      int           `toml:"min_text_length"`      // Below this extracted length the JS fallback kicks in
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// GeminiConfig contains Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`     // User must provide API key (no fallback)
	Model       string  `toml:"model"`       // Model for chunking and metadata generation
	EmbedModel  string  `toml:"embed_model"` // Model for embeddings
	Timeout     string  `toml:"timeout"`     // e.g., "5m"
	RateLimit   string  `toml:"rate_limit"`  // Minimum interval between requests
	Temperature float32 `toml:"temperature"`
}

// ClaudeConfig contains Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Timeout     string  `toml:"timeout"`
	RateLimit   string  `toml:"rate_limit"`
	Temperature float32 `toml:"temperature"`
}

// LLMProvider identifies which LLM backend to use
type LLMProvider string

const (
	LLMProviderGemini LLMProvider = "gemini"
	LLMProviderClaude LLMProvider = "claude"
)

type LLMConfig struct {
	DefaultProvider LLMProvider `toml:"default_provider"` // "gemini" or "claude"
}

// CleanupConfig controls periodic deletion of old terminal jobs
type CleanupConfig struct {
	Enabled       bool   `toml:"enabled"`
	Schedule      string `toml:"schedule"`       // Cron schedule with seconds field
	RetentionDays int    `toml:"retention_days"` // Terminal jobs older than this are deleted
}

// WebSocketConfig controls the event push channel
type WebSocketConfig struct {
	Enabled       bool   `toml:"enabled"`
	RatePerSecond int    `toml:"rate_per_second"` // Max events pushed per client per second
	Burst         int    `toml:"burst"`
	WriteTimeout  string `toml:"write_timeout"`
}

func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Queue: QueueConfig{
			PollInterval: "5s",
			Concurrency:  4,
			MaxRetries:   3,
			RetryDelay:   "60s",
		},
		Embedding: EmbeddingConfig{
			Interval: "30s",
			Model:    "gemini-embedding-001",
			Dim:      768,
		},
		Storage: StorageConfig{
			SQLite: SQLiteConfig{
				Path:          "./data/colligo.db",
				CacheSizeMB:   64,
				BusyTimeoutMS: 5000,
				WALMode:       true,
			},
			Vectors: VectorsConfig{
				Path: "./data/vectors",
			},
			Files: FilesConfig{
				Dir:              "./data/files",
				MaxFileSizeBytes: 50 * 1024 * 1024, // 50MB
			},
		},
		Fetch: FetchConfig{
			UserAgent:          "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			RequestTimeout:     30 * time.Second,
			MaxBodySize:        10 * 1024 * 1024, // 10MB
			EnableJavaScript:   true,
			JavaScriptWaitTime: 3 * time.Second,
			MinTextLength:      200,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Gemini: GeminiConfig{
			APIKey:      "", // User must provide API key (no fallback)
			Model:       "gemini-3-flash-preview",
			EmbedModel:  "gemini-embedding-001",
			Timeout:     "5m",
			RateLimit:   "4s", // 15 RPM free tier
			Temperature: 0.2,
		},
		Claude: ClaudeConfig{
			APIKey:      "",
			Model:       "claude-haiku-3-5-20241022",
			MaxTokens:   8192,
			Timeout:     "5m",
			RateLimit:   "1s",
			Temperature: 0.2,
		},
		LLM: LLMConfig{
			DefaultProvider: LLMProviderGemini,
		},
		Cleanup: CleanupConfig{
			Enabled:       true,
			Schedule:      "0 0 */6 * * *", // Every 6 hours
			RetentionDays: 30,
		},
		WebSocket: WebSocketConfig{
			Enabled:       true,
			RatePerSecond: 10,
			Burst:         20,
			WriteTimeout:  "5s",
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files, later files
// overriding earlier ones. Priority: CLI flags > environment variables >
// last config file > ... > defaults.
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

		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("COLLIGO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("COLLIGO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("COLLIGO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Queue configuration
	if pollInterval := os.Getenv("COLLIGO_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if concurrency := os.Getenv("COLLIGO_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = c
		}
	}
	if maxRetries := os.Getenv("COLLIGO_QUEUE_MAX_RETRIES"); maxRetries != "" {
		if m, err := strconv.Atoi(maxRetries); err == nil {
			config.Queue.MaxRetries = m
		}
	}
	if retryDelay := os.Getenv("COLLIGO_QUEUE_RETRY_DELAY"); retryDelay != "" {
		config.Queue.RetryDelay = retryDelay
	}

	// Embedding configuration
	if interval := os.Getenv("COLLIGO_EMBEDDING_INTERVAL"); interval != "" {
		config.Embedding.Interval = interval
	}
	if model := os.Getenv("COLLIGO_EMBEDDING_MODEL"); model != "" {
		config.Embedding.Model = model
	}

	// Storage configuration
	if sqlitePath := os.Getenv("COLLIGO_SQLITE_PATH"); sqlitePath != "" {
		config.Storage.SQLite.Path = sqlitePath
	}
	if vectorsPath := os.Getenv("COLLIGO_VECTORS_PATH"); vectorsPath != "" {
		config.Storage.Vectors.Path = vectorsPath
	}
	if filesDir := os.Getenv("COLLIGO_FILES_DIR"); filesDir != "" {
		config.Storage.Files.Dir = filesDir
	}
	if maxFileSize := os.Getenv("COLLIGO_MAX_FILE_SIZE_BYTES"); maxFileSize != "" {
		if m, err := strconv.ParseInt(maxFileSize, 10, 64); err == nil {
			config.Storage.Files.MaxFileSizeBytes = m
		}
	}

	// Fetch configuration
	if userAgent := os.Getenv("COLLIGO_FETCH_USER_AGENT"); userAgent != "" {
		config.Fetch.UserAgent = userAgent
	}
	if requestTimeout := os.Getenv("COLLIGO_FETCH_REQUEST_TIMEOUT"); requestTimeout != "" {
		if d, err := time.ParseDuration(requestTimeout); err == nil {
			config.Fetch.RequestTimeout = d
		}
	}
	if maxBodySize := os.Getenv("COLLIGO_FETCH_MAX_BODY_SIZE"); maxBodySize != "" {
		if m, err := strconv.ParseInt(maxBodySize, 10, 64); err == nil {
			config.Fetch.MaxBodySize = m
		}
	}
	if enableJS := os.Getenv("COLLIGO_FETCH_ENABLE_JAVASCRIPT"); enableJS != "" {
		if b, err := strconv.ParseBool(enableJS); err == nil {
			config.Fetch.EnableJavaScript = b
		}
	}

	// Logging configuration
	if level := os.Getenv("COLLIGO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("COLLIGO_LOG_OUTPUT"); output != "" {
		parts := strings.Split(output, ",")
		outputs := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Gemini configuration
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	}
	if apiKey := os.Getenv("COLLIGO_GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey // COLLIGO_ prefix takes priority
	}
	if model := os.Getenv("COLLIGO_GEMINI_MODEL"); model != "" {
		config.Gemini.Model = model
	}
	if embedModel := os.Getenv("COLLIGO_GEMINI_EMBED_MODEL"); embedModel != "" {
		config.Gemini.EmbedModel = embedModel
	}
	if rateLimit := os.Getenv("COLLIGO_GEMINI_RATE_LIMIT"); rateLimit != "" {
		config.Gemini.RateLimit = rateLimit
	}

	// Claude configuration
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey
	}
	if apiKey := os.Getenv("COLLIGO_CLAUDE_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey // COLLIGO_ prefix takes priority
	}
	if model := os.Getenv("COLLIGO_CLAUDE_MODEL"); model != "" {
		config.Claude.Model = model
	}
	if maxTokens := os.Getenv("COLLIGO_CLAUDE_MAX_TOKENS"); maxTokens != "" {
		if mt, err := strconv.Atoi(maxTokens); err == nil {
			config.Claude.MaxTokens = mt
		}
	}

	// LLM provider configuration
	if provider := os.Getenv("COLLIGO_LLM_DEFAULT_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = LLMProvider(provider)
	}

	// Cleanup configuration
	if schedule := os.Getenv("COLLIGO_CLEANUP_SCHEDULE"); schedule != "" {
		config.Cleanup.Schedule = schedule
	}
	if retention := os.Getenv("COLLIGO_CLEANUP_RETENTION_DAYS"); retention != "" {
		if d, err := strconv.Atoi(retention); err == nil {
			config.Cleanup.RetentionDays = d
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// GetPollInterval parses the queue poll interval, falling back to 5s
func (c *Config) GetPollInterval() time.Duration {
	if d, err := time.ParseDuration(c.Queue.PollInterval); err == nil && d > 0 {
		return d
	}
	return 5 * time.Second
}

// GetRetryDelay parses the queue retry delay, falling back to 60s
func (c *Config) GetRetryDelay() time.Duration {
	if d, err := time.ParseDuration(c.Queue.RetryDelay); err == nil && d > 0 {
		return d
	}
	return 60 * time.Second
}

// GetEmbeddingInterval parses the embedding worker interval, falling back to 30s
func (c *Config) GetEmbeddingInterval() time.Duration {
	if d, err := time.ParseDuration(c.Embedding.Interval); err == nil && d > 0 {
		return d
	}
	return 30 * time.Second
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
