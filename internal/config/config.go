// Package config provides unified configuration loading for the corpus engine.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the corpus engine.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Store         StoreConfig         `yaml:"store"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Ingestion     IngestionConfig     `yaml:"ingestion"`
	Vision        VisionConfig        `yaml:"vision"`
	Cache         CacheConfig         `yaml:"cache"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxUploadMB      int           `yaml:"max_upload_mb"`
	MaxFilesPerReq   int           `yaml:"max_files_per_request"`
}

// StoreConfig holds vector-store connection and schema settings.
type StoreConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	User              string        `yaml:"user"`
	Password          string        `yaml:"password"`
	ChunkTable        string        `yaml:"chunk_table"`
	HeaderTable       string        `yaml:"header_table"`
	ImageTable        string        `yaml:"image_table"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	ConnectRetries    int           `yaml:"connect_retries"`
	ConnectRetryDelay time.Duration `yaml:"connect_retry_delay"`
	ConnectRetryCap   time.Duration `yaml:"connect_retry_cap"`
	ExecuteTimeout    time.Duration `yaml:"execute_timeout"`
}

// GatewayConfig holds the inference-gateway settings shared by the
// embedding, chat, and vision clients.
type GatewayConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	ResourceGroup string        `yaml:"resource_group"`
	MetadataModel string        `yaml:"metadata_model"`
	VisionModel   string        `yaml:"vision_model"`
	ChatTimeout   time.Duration `yaml:"chat_timeout"`
	VisionTimeout time.Duration `yaml:"vision_timeout"`
}

// EmbeddingConfig holds embedding model settings.
type EmbeddingConfig struct {
	Model     string        `yaml:"model"`
	Dimension int           `yaml:"dimension"`
	BatchSize int           `yaml:"batch_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

// IngestionConfig holds ingestion pipeline settings.
type IngestionConfig struct {
	ChunkSize            int    `yaml:"chunk_size"`
	ChunkOverlap         int    `yaml:"chunk_overlap"`
	DefaultTenant        string `yaml:"default_tenant"`
	SummaryInputMaxPages int    `yaml:"summary_input_max_pages"`
	SummaryInputMaxChars int    `yaml:"summary_input_max_chars"`
}

// VisionConfig holds embedded-image extraction settings.
type VisionConfig struct {
	EnableImageExtraction   bool          `yaml:"enable_image_extraction"`
	MaxImagePages           int           `yaml:"max_image_pages"`
	ImageStorageConcurrency int           `yaml:"image_storage_concurrency"`
	ImageStorageRetries     int           `yaml:"image_storage_retries"`
	ImageStorageRetryDelay  time.Duration `yaml:"image_storage_retry_delay"`
}

// CacheConfig holds search-cache settings.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
	Redis   RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8090,
			ReadTimeout:      30 * time.Second,
			RequestTimeout:   300 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
			MaxUploadMB:      50,
			MaxFilesPerReq:   10,
		},
		Store: StoreConfig{
			Port:              443,
			ChunkTable:        "RAG_CHUNKS",
			HeaderTable:       "RAG_DOCUMENTS",
			ImageTable:        "RAG_IMAGES",
			ConnectTimeout:    30 * time.Second,
			ConnectRetries:    6,
			ConnectRetryDelay: 1 * time.Second,
			ConnectRetryCap:   30 * time.Second,
			ExecuteTimeout:    30 * time.Second,
		},
		Gateway: GatewayConfig{
			BaseURL:       "http://localhost:11000/v1",
			MetadataModel: "gpt-4o-mini",
			VisionModel:   "gpt-4o",
			ChatTimeout:   30 * time.Second,
			VisionTimeout: 60 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Model:     "text-embedding-3-small",
			Dimension: 1536,
			BatchSize: 16,
			Timeout:   30 * time.Second,
		},
		Ingestion: IngestionConfig{
			ChunkSize:            2000,
			ChunkOverlap:         200,
			DefaultTenant:        "default",
			SummaryInputMaxPages: 3,
			SummaryInputMaxChars: 4000,
		},
		Vision: VisionConfig{
			EnableImageExtraction:   true,
			MaxImagePages:           0,
			ImageStorageConcurrency: 5,
			ImageStorageRetries:     3,
			ImageStorageRetryDelay:  1 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: false,
			TTL:     5 * time.Minute,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Store.Host == "" {
		return fmt.Errorf("store host is required (DB_HOST)")
	}

	if c.Store.User == "" || c.Store.Password == "" {
		return fmt.Errorf("store credentials are required (DB_USER, DB_PASSWORD)")
	}

	if c.Embedding.Dimension < 1 {
		return fmt.Errorf("invalid embedding dimension: %d", c.Embedding.Dimension)
	}

	if c.Embedding.BatchSize < 1 {
		return fmt.Errorf("invalid embedding batch size: %d", c.Embedding.BatchSize)
	}

	if c.Ingestion.ChunkSize < 1 {
		return fmt.Errorf("invalid chunk size: %d", c.Ingestion.ChunkSize)
	}

	if c.Ingestion.ChunkOverlap < 0 || c.Ingestion.ChunkOverlap >= c.Ingestion.ChunkSize {
		return fmt.Errorf("chunk overlap must be in [0, chunk_size): %d", c.Ingestion.ChunkOverlap)
	}

	if c.Vision.ImageStorageConcurrency < 1 {
		return fmt.Errorf("invalid image storage concurrency: %d", c.Vision.ImageStorageConcurrency)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("MAX_UPLOAD_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MaxUploadMB = n
		}
	}

	if v := os.Getenv("MAX_FILES_PER_REQUEST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MaxFilesPerReq = n
		}
	}

	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Store.Host = v
	}

	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Store.Port = port
		}
	}

	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Store.User = v
	}

	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Store.Password = v
	}

	if v := os.Getenv("CHUNK_TABLE"); v != "" {
		cfg.Store.ChunkTable = v
	}

	if v := os.Getenv("HEADER_TABLE"); v != "" {
		cfg.Store.HeaderTable = v
	}

	if v := os.Getenv("IMAGE_TABLE"); v != "" {
		cfg.Store.ImageTable = v
	}

	if v := os.Getenv("CONNECT_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Store.ConnectTimeout = time.Duration(ms) * time.Millisecond
		}
	}

	if v := os.Getenv("CONNECT_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Store.ConnectRetries = n
		}
	}

	if v := os.Getenv("CONNECT_RETRY_DELAY_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Store.ConnectRetryDelay = time.Duration(ms) * time.Millisecond
		}
	}

	if v := os.Getenv("GATEWAY_BASE_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}

	if v := os.Getenv("GATEWAY_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}

	if v := os.Getenv("RESOURCE_GROUP"); v != "" {
		cfg.Gateway.ResourceGroup = v
	}

	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}

	if v := os.Getenv("METADATA_MODEL"); v != "" {
		cfg.Gateway.MetadataModel = v
	}

	if v := os.Getenv("VISION_MODEL"); v != "" {
		cfg.Gateway.VisionModel = v
	}

	if v := os.Getenv("EMBEDDING_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Embedding.BatchSize = n
		}
	}

	if v := os.Getenv("CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingestion.ChunkSize = n
		}
	}

	if v := os.Getenv("CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingestion.ChunkOverlap = n
		}
	}

	if v := os.Getenv("DEFAULT_TENANT_ID"); v != "" {
		cfg.Ingestion.DefaultTenant = v
	}

	if v := os.Getenv("SUMMARY_INPUT_MAX_PAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingestion.SummaryInputMaxPages = n
		}
	}

	if v := os.Getenv("SUMMARY_INPUT_MAX_CHARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingestion.SummaryInputMaxChars = n
		}
	}

	if v := os.Getenv("ENABLE_IMAGE_EXTRACTION"); v != "" {
		cfg.Vision.EnableImageExtraction = v == "true" || v == "1"
	}

	if v := os.Getenv("MAX_IMAGE_PAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.MaxImagePages = n
		}
	}

	if v := os.Getenv("IMAGE_STORAGE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.ImageStorageConcurrency = n
		}
	}

	if v := os.Getenv("IMAGE_STORAGE_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.ImageStorageRetries = n
		}
	}

	if v := os.Getenv("IMAGE_STORAGE_RETRY_DELAY_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Vision.ImageStorageRetryDelay = time.Duration(ms) * time.Millisecond
		}
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.Enabled = true
		cfg.Cache.Redis.Addr = v
	}

	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Cache.Redis.Password = v
	}

	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.Redis.DB = n
		}
	}

	if v := os.Getenv("CACHE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.TTL = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
