// Package config loads application configuration from file and environment
// variables via viper, with sane defaults for every knob.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	Governor  GovernorConfig  `mapstructure:"governor"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Search    SearchConfig    `mapstructure:"search"`
	Graph     GraphConfig     `mapstructure:"graph"`
	Lexical   LexicalConfig   `mapstructure:"lexical"`
	Vector    VectorConfig    `mapstructure:"vector"`
	NLP       NLPConfig       `mapstructure:"nlp"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	OCR       OCRConfig       `mapstructure:"ocr"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Status    StatusConfig    `mapstructure:"status"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug, release, test
}

// GovernorConfig holds resource governor tuning.
type GovernorConfig struct {
	CPUThreshold       float64 `mapstructure:"cpu_threshold"`
	MemoryThreshold    float64 `mapstructure:"memory_threshold"`
	GPUMemoryThreshold float64 `mapstructure:"gpu_memory_threshold"`
	MonitorIntervalSec int     `mapstructure:"monitor_interval_sec"`
	SweepIntervalSec   int     `mapstructure:"sweep_interval_sec"`
}

// BatchWindowConfig holds one batch window's parameters.
type BatchWindowConfig struct {
	Size       int `mapstructure:"size"`
	MaxWaitSec int `mapstructure:"max_wait_sec"`
}

// BatchConfig holds the per-kind scheduler windows.
type BatchConfig struct {
	Embedding BatchWindowConfig `mapstructure:"embedding"`
	OCR       BatchWindowConfig `mapstructure:"ocr"`
	Image     BatchWindowConfig `mapstructure:"image"`
}

// SearchConfig holds hybrid retrieval tuning.
type SearchConfig struct {
	RankConstant    int     `mapstructure:"rank_constant"`
	ScoreThreshold  float64 `mapstructure:"score_threshold"`
	StageCandidates int     `mapstructure:"stage_candidates"`
	MaxHops         int     `mapstructure:"max_hops"`
	Limit           int     `mapstructure:"limit"`
	StageTimeoutSec int     `mapstructure:"stage_timeout_sec"`
	MinSimilarity   float64 `mapstructure:"min_similarity"`
	PatternRules    string  `mapstructure:"pattern_rules"` // optional YAML path
	// Rerank enables the LLM cross-encoder pass over fused evidence.
	Rerank bool `mapstructure:"rerank"`
}

// GraphConfig holds graph store connection settings.
type GraphConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// LexicalConfig holds the full-text store settings.
type LexicalConfig struct {
	Path string `mapstructure:"path"` // SQLite file, ":memory:" for tests
}

// VectorConfig holds the vector store settings.
type VectorConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
	Collection string `mapstructure:"collection"`
}

// NLPConfig holds language model settings.
type NLPConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	MaxRetries  int     `mapstructure:"max_retries"`
}

// EmbeddingConfig holds embedding settings.
type EmbeddingConfig struct {
	APIKey        string `mapstructure:"api_key"`
	Model         string `mapstructure:"model"`
	BaseURL       string `mapstructure:"base_url"`
	Dimensions    int    `mapstructure:"dimensions"`
	CacheMB       int    `mapstructure:"cache_mb"`
	CacheTTLHours int    `mapstructure:"cache_ttl_hours"`
}

// OCRConfig holds OCR backend settings.
type OCRConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	APIKey     string `mapstructure:"api_key"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

// ExtractConfig holds document extraction settings.
type ExtractConfig struct {
	MaxTokensPerChunk int `mapstructure:"max_tokens_per_chunk"`
}

// StatusConfig holds the status store settings.
type StatusConfig struct {
	Path string `mapstructure:"path"`
}

// TelemetryConfig holds telemetry output settings.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ParquetPath string `mapstructure:"parquet_path"`
	BatchSize   int    `mapstructure:"batch_size"`
}

// Load loads configuration from file and environment variables.
func Load() (*Config, error) {
	setDefaults()

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	overrideWithEnv(config)
	return config, nil
}

func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "debug")

	viper.SetDefault("governor.cpu_threshold", 80.0)
	viper.SetDefault("governor.memory_threshold", 85.0)
	viper.SetDefault("governor.gpu_memory_threshold", 90.0)
	viper.SetDefault("governor.monitor_interval_sec", 10)
	viper.SetDefault("governor.sweep_interval_sec", 30)

	viper.SetDefault("batch.embedding.size", 8)
	viper.SetDefault("batch.embedding.max_wait_sec", 2)
	viper.SetDefault("batch.ocr.size", 4)
	viper.SetDefault("batch.ocr.max_wait_sec", 3)
	viper.SetDefault("batch.image.size", 8)
	viper.SetDefault("batch.image.max_wait_sec", 5)

	viper.SetDefault("search.rank_constant", 60)
	viper.SetDefault("search.score_threshold", 0.0)
	viper.SetDefault("search.stage_candidates", 20)
	viper.SetDefault("search.max_hops", 2)
	viper.SetDefault("search.limit", 10)
	viper.SetDefault("search.stage_timeout_sec", 10)
	viper.SetDefault("search.min_similarity", 0.8)
	viper.SetDefault("search.rerank", false)

	viper.SetDefault("graph.uri", "bolt://localhost:7687")
	viper.SetDefault("graph.username", "neo4j")
	viper.SetDefault("graph.database", "neo4j")

	viper.SetDefault("lexical.path", "./docfuse.db")

	viper.SetDefault("vector.host", "localhost")
	viper.SetDefault("vector.port", 6334)
	viper.SetDefault("vector.collection", "docfuse")

	viper.SetDefault("nlp.model", "gpt-4o-mini")
	viper.SetDefault("nlp.temperature", 0.1)
	viper.SetDefault("nlp.max_tokens", 2048)
	viper.SetDefault("nlp.max_retries", 3)

	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("embedding.dimensions", 1536)
	viper.SetDefault("embedding.cache_mb", 64)
	viper.SetDefault("embedding.cache_ttl_hours", 1)

	viper.SetDefault("ocr.timeout_sec", 30)

	viper.SetDefault("extract.max_tokens_per_chunk", 512)

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.batch_size", 100)

	home, err := os.UserHomeDir()
	if err == nil {
		viper.SetDefault("status.path", home+"/.docfuse/status")
		viper.SetDefault("telemetry.parquet_path", home+"/.docfuse/telemetry")
	}
}

// overrideWithEnv applies the credential environment variables that
// deployments conventionally set instead of config files.
func overrideWithEnv(config *Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		if config.NLP.APIKey == "" {
			config.NLP.APIKey = apiKey
		}
		if config.Embedding.APIKey == "" {
			config.Embedding.APIKey = apiKey
		}
	}

	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		config.Graph.URI = uri
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		config.Graph.Username = user
	}
	if pass := os.Getenv("NEO4J_PASSWORD"); pass != "" {
		config.Graph.Password = pass
	}

	if host := os.Getenv("QDRANT_HOST"); host != "" {
		config.Vector.Host = host
	}
	if key := os.Getenv("QDRANT_API_KEY"); key != "" {
		config.Vector.APIKey = key
	}
}
