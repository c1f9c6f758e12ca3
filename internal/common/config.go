package common

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	LogLevel   string                `yaml:"log_level"`
	LogFormat  string                `yaml:"log_format"`
	Store      StoreConfig           `yaml:"store"`
	Server     ServerConfig          `yaml:"server"`
	Workflow   WorkflowConfig        `yaml:"workflow"`
	Retry      RetryConfig           `yaml:"retry"`
	Vault      VaultConfig           `yaml:"vault"`
	LLM        LLMConfig             `yaml:"llm"`
	Extraction ExtractionConfig      `yaml:"extraction"`
	Sweep      SweepConfig           `yaml:"sweep"`
	Queue      QueueConfig           `yaml:"queue"`
	Events     EventsConfig          `yaml:"events"`
	Pricing    map[string]PriceEntry `yaml:"pricing"`
}

// StoreConfig holds record store configuration. A postgres:// DSN selects Postgres, anything else is a SQLite path.
type StoreConfig struct {
	DSN              string        `yaml:"dsn"`
	MaxConns         int32         `yaml:"max_conns"`
	MinConns         int32         `yaml:"min_conns"`
	MaxConnLifetime  time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `yaml:"max_conn_idle_time"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr       string        `yaml:"grpc_addr"`
	HealthInterval time.Duration `yaml:"health_interval"`
}

// WorkflowConfig holds the workflow service endpoint and polling policy.
type WorkflowConfig struct {
	BaseURL              string        `yaml:"base_url"`
	APIKey               string        `yaml:"-"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	DownloadTimeout      time.Duration `yaml:"download_timeout"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	PollBudget           time.Duration `yaml:"poll_budget"`
	MaxConsecutiveErrors int           `yaml:"max_consecutive_errors"`
	BackoffBase          time.Duration `yaml:"backoff_base"`
	BackoffMax           time.Duration `yaml:"backoff_max"`
	ExpectedMime         string        `yaml:"expected_mime"`
}

// RetryConfig parameterizes the shared HTTP retry helper.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// VaultConfig holds the document vault and optional S3 blob placement.
type VaultConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"-"`
	PresignTTL    time.Duration `yaml:"presign_ttl"`
	S3Endpoint    string        `yaml:"s3_endpoint"`
	S3AccessKey   string        `yaml:"-"`
	S3SecretKey   string        `yaml:"-"`
	S3Bucket      string        `yaml:"s3_bucket"`
	S3UseSSL      bool          `yaml:"s3_use_ssl"`
	IngestPoll    time.Duration `yaml:"ingest_poll"`
	IngestTimeout time.Duration `yaml:"ingest_timeout"`

	// RequestTimeout bounds one vault HTTP call, upload bodies included.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"-"`
	VisionModel   string        `yaml:"vision_model"`
	Temperature   float32       `yaml:"temperature"`
	VisionTimeout time.Duration `yaml:"vision_timeout"`
	MaxVisionMB   int           `yaml:"max_vision_mb"`
}

// ExtractionConfig holds the minimum-content thresholds per document size class.
type ExtractionConfig struct {
	MinCharsSmall  int `yaml:"min_chars_small"`
	MinCharsMedium int `yaml:"min_chars_medium"`
	MinCharsLarge  int `yaml:"min_chars_large"`
}

// SweepConfig holds reconciliation settings.
type SweepConfig struct {
	Interval            time.Duration `yaml:"interval"`
	Concurrency         int           `yaml:"concurrency"`
	RetryMissingContent bool          `yaml:"retry_missing_content"`
}

// QueueConfig sizes the submission worker pool.
type QueueConfig struct {
	Workers    int           `yaml:"workers"`
	Size       int           `yaml:"size"`
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// EventsConfig configures completion events. An empty AMQPURL logs events instead of publishing.
type EventsConfig struct {
	AMQPURL string `yaml:"amqp_url"`
	Queue   string `yaml:"queue"`
}

// PriceEntry is USD per one million tokens.
type PriceEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Store: StoreConfig{
			DSN:             "docflow.db",
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
		},
		Server: ServerConfig{
			GRPCAddr:       ":8080",
			HealthInterval: 15 * time.Second,
		},
		Workflow: WorkflowConfig{
			RequestTimeout:       30 * time.Second,
			DownloadTimeout:      2 * time.Minute,
			PollInterval:         2 * time.Second,
			PollBudget:           30 * time.Minute,
			MaxConsecutiveErrors: 3,
			BackoffBase:          2 * time.Second,
			BackoffMax:           30 * time.Second,
			ExpectedMime:         "application/pdf",
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    8 * time.Second,
		},
		Vault: VaultConfig{
			PresignTTL:     15 * time.Minute,
			IngestPoll:     3 * time.Second,
			IngestTimeout:  10 * time.Minute,
			RequestTimeout: 30 * time.Second,
		},
		LLM: LLMConfig{
			BaseURL:       "https://api.openai.com/v1",
			VisionModel:   "gpt-4o",
			VisionTimeout: 5 * time.Minute,
			MaxVisionMB:   20,
		},
		Extraction: ExtractionConfig{
			MinCharsSmall:  50,
			MinCharsMedium: 100,
			MinCharsLarge:  200,
		},
		Sweep: SweepConfig{
			Interval:    10 * time.Minute,
			Concurrency: 4,
		},
		Queue: QueueConfig{
			Workers:    4,
			Size:       256,
			JobTimeout: 45 * time.Minute,
		},
		Events: EventsConfig{
			Queue: "docflow.completed",
		},
	}
}

// LoadConfig loads .env (if present), then the YAML file named by DOCFLOW_CONFIG (if set),
// then applies environment overrides.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, NewAppError(KindConfig, "config.load", "read .env", err)
	}

	cfg := DefaultConfig()
	if path := os.Getenv("DOCFLOW_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewAppError(KindConfig, "config.load", fmt.Sprintf("read %s", path), err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return NewAppError(KindConfig, "config.load", fmt.Sprintf("parse %s", path), err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)

	c.Store.DSN = getEnv("DB_URL", c.Store.DSN)
	c.Store.MaxConns = getEnvAsInt32("DB_MAX_CONNS", c.Store.MaxConns)
	c.Store.MinConns = getEnvAsInt32("DB_MIN_CONNS", c.Store.MinConns)
	c.Store.DialTimeout = getEnvAsDuration("DB_DIAL_TIMEOUT", c.Store.DialTimeout)
	c.Store.StatementTimeout = getEnvAsDuration("DB_STATEMENT_TIMEOUT", c.Store.StatementTimeout)

	c.Server.GRPCAddr = getEnv("GRPC_ADDR", c.Server.GRPCAddr)
	c.Server.HealthInterval = getEnvAsDuration("HEALTH_INTERVAL", c.Server.HealthInterval)

	c.Workflow.BaseURL = getEnv("WORKFLOW_BASE_URL", c.Workflow.BaseURL)
	c.Workflow.APIKey = getEnv("WORKFLOW_API_KEY", c.Workflow.APIKey)
	c.Workflow.PollInterval = getEnvAsDuration("WORKFLOW_POLL_INTERVAL", c.Workflow.PollInterval)
	c.Workflow.PollBudget = getEnvAsDuration("WORKFLOW_POLL_BUDGET", c.Workflow.PollBudget)
	c.Workflow.MaxConsecutiveErrors = getEnvAsInt("WORKFLOW_MAX_CONSECUTIVE_ERRORS", c.Workflow.MaxConsecutiveErrors)

	c.Retry.MaxAttempts = getEnvAsInt("HTTP_RETRY_MAX_ATTEMPTS", c.Retry.MaxAttempts)
	c.Retry.BaseDelay = getEnvAsDuration("HTTP_RETRY_BASE_DELAY", c.Retry.BaseDelay)

	c.Vault.BaseURL = getEnv("VAULT_BASE_URL", c.Vault.BaseURL)
	c.Vault.APIKey = getEnv("VAULT_API_KEY", c.Vault.APIKey)
	c.Vault.S3Endpoint = getEnv("S3_ENDPOINT", c.Vault.S3Endpoint)
	c.Vault.S3AccessKey = getEnv("S3_ACCESS_KEY", c.Vault.S3AccessKey)
	c.Vault.S3SecretKey = getEnv("S3_SECRET_KEY", c.Vault.S3SecretKey)
	c.Vault.S3Bucket = getEnv("S3_BUCKET", c.Vault.S3Bucket)
	c.Vault.S3UseSSL = getEnvAsBool("S3_USE_SSL", c.Vault.S3UseSSL)
	c.Vault.RequestTimeout = getEnvAsDuration("VAULT_REQUEST_TIMEOUT", c.Vault.RequestTimeout)

	c.LLM.BaseURL = getEnv("OPENAI_BASE_URL", c.LLM.BaseURL)
	c.LLM.APIKey = getEnv("OPENAI_API_KEY", c.LLM.APIKey)
	c.LLM.VisionModel = getEnv("OPENAI_VISION_MODEL", c.LLM.VisionModel)
	c.LLM.Temperature = getEnvAsFloat32("OPENAI_TEMPERATURE", c.LLM.Temperature)
	c.LLM.VisionTimeout = getEnvAsDuration("OPENAI_VISION_TIMEOUT", c.LLM.VisionTimeout)

	c.Sweep.Interval = getEnvAsDuration("SWEEP_INTERVAL", c.Sweep.Interval)
	c.Sweep.Concurrency = getEnvAsInt("SWEEP_CONCURRENCY", c.Sweep.Concurrency)
	c.Sweep.RetryMissingContent = getEnvAsBool("SWEEP_RETRY_MISSING_CONTENT", c.Sweep.RetryMissingContent)

	c.Queue.Workers = getEnvAsInt("QUEUE_WORKERS", c.Queue.Workers)
	c.Queue.Size = getEnvAsInt("QUEUE_SIZE", c.Queue.Size)
	c.Queue.JobTimeout = getEnvAsDuration("QUEUE_JOB_TIMEOUT", c.Queue.JobTimeout)

	c.Events.AMQPURL = getEnv("AMQP_URL", c.Events.AMQPURL)
	c.Events.Queue = getEnv("AMQP_QUEUE", c.Events.Queue)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Store.DSN == "" {
		return NewAppError(KindConfig, "config.validate", "DB_URL is required", ErrInvalidInput)
	}
	if c.Workflow.BaseURL == "" {
		return NewAppError(KindConfig, "config.validate", "WORKFLOW_BASE_URL is required", ErrInvalidInput)
	}
	if c.Workflow.APIKey == "" {
		return NewAppError(KindConfig, "config.validate", "WORKFLOW_API_KEY is required", ErrInvalidInput)
	}
	if c.Workflow.PollInterval <= 0 || c.Workflow.PollBudget <= 0 {
		return NewAppError(KindConfig, "config.validate", "poll interval and budget must be positive", ErrInvalidInput)
	}
	if c.Workflow.MaxConsecutiveErrors < 0 {
		return NewAppError(KindConfig, "config.validate", "WORKFLOW_MAX_CONSECUTIVE_ERRORS must not be negative", ErrInvalidInput)
	}
	if c.Retry.MaxAttempts < 1 {
		return NewAppError(KindConfig, "config.validate", "HTTP_RETRY_MAX_ATTEMPTS must be at least 1", ErrInvalidInput)
	}
	if c.Sweep.Concurrency < 1 {
		return NewAppError(KindConfig, "config.validate", "SWEEP_CONCURRENCY must be at least 1", ErrInvalidInput)
	}
	return nil
}
