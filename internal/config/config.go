// Package config loads codeqa configuration.
//
// Values come from, in increasing precedence: built-in defaults, a YAML file
// (~/.config/codeqa/config.yaml) and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Config holds the complete codeqa configuration.
type Config struct {
	Storage    StorageConfig    `koanf:"storage"`
	Qdrant     QdrantConfig     `koanf:"qdrant"`
	OpenAI     OpenAIConfig     `koanf:"openai"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Chunking   ChunkingConfig   `koanf:"chunking"`
	Ingestion  IngestionConfig  `koanf:"ingestion"`
	Answer     AnswerConfig     `koanf:"answer"`
	Query      QueryConfig      `koanf:"query"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// StorageConfig locates indexes and checkouts.
type StorageConfig struct {
	IndexDir string `koanf:"index_dir"`
	ReposDir string `koanf:"repos_dir"`
	Backend  string `koanf:"backend"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig holds the optional Qdrant index backend connection.
type QdrantConfig struct {
	Host             string `koanf:"host"`
	Port             int    `koanf:"port"`
	UseTLS           bool   `koanf:"use_tls"`
	APIKey           Secret `koanf:"api_key"`
	CollectionPrefix string `koanf:"collection_prefix"`
}

// OpenAIConfig holds the credential shared by remote embeddings and answers.
// OPENAI_API_KEY maps here.
type OpenAIConfig struct {
	APIKey  Secret `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
}

// EmbeddingsConfig configures the embedding service.
type EmbeddingsConfig struct {
	Mode                   string   `koanf:"mode"`
	Model                  string   `koanf:"model"`
	BaseURL                string   `koanf:"base_url"`
	LocalModel             string   `koanf:"local_model"`
	CacheDir               string   `koanf:"cache_dir"`
	Dimension              int      `koanf:"dimension"`
	DeterministicDimension int      `koanf:"deterministic_dimension"`
	BatchSize              int      `koanf:"batch_size"`
	Timeout                Duration `koanf:"timeout"`
	MaxConcurrency         int      `koanf:"max_concurrency"`
	CacheSize              int      `koanf:"cache_size"`
}

// ChunkingConfig sets chunk budgets in tokens.
type ChunkingConfig struct {
	MaxTokens     int    `koanf:"max_tokens"`
	OverlapTokens int    `koanf:"overlap_tokens"`
	Tokenizer     string `koanf:"tokenizer"`
}

// IngestionConfig configures the ingestion pipeline.
type IngestionConfig struct {
	MaxFileSize     int64    `koanf:"max_file_size"`
	BatchSize       int      `koanf:"batch_size"`
	Workers         int      `koanf:"workers"`
	BatchPause      Duration `koanf:"batch_pause"`
	Include         []string `koanf:"include"`
	Exclude         []string `koanf:"exclude"`
	RedactSecrets   bool     `koanf:"redact_secrets"`
	SecretAllowlist []string `koanf:"secret_allowlist"`
}

// AnswerConfig configures answer generation.
type AnswerConfig struct {
	Mode        string   `koanf:"mode"`
	Model       string   `koanf:"model"`
	Temperature float64  `koanf:"temperature"`
	MaxTokens   int      `koanf:"max_tokens"`
	Timeout     Duration `koanf:"timeout"`
	RateLimit   float64  `koanf:"rate_limit"`
	Burst       int      `koanf:"burst"`
}

// QueryConfig configures the query orchestrator.
type QueryConfig struct {
	DefaultK            int      `koanf:"default_k"`
	Timeout             Duration `koanf:"timeout"`
	SnippetContextLines int      `koanf:"snippet_context_lines"`
	SnippetMaxChars     int      `koanf:"snippet_max_chars"`
	PreviewLines        int      `koanf:"preview_lines"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig selects log level and encoding. The rest of the logger's
// settings use logging.NewDefaultConfig.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig enables OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	Endpoint     string  `koanf:"endpoint"`
	Protocol     string  `koanf:"protocol"`
	Insecure     bool    `koanf:"insecure"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

// Default returns the built-in configuration. Paths are rooted at the
// user's home directory when it can be determined.
func Default() *Config {
	dataDir := filepath.Join(".codeqa")
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".local", "share", "codeqa")
	}

	return &Config{
		Storage: StorageConfig{
			IndexDir: filepath.Join(dataDir, "indexes"),
			ReposDir: filepath.Join(dataDir, "repos"),
			Backend:  "chromem",
		},
		Qdrant: QdrantConfig{
			Host:             "localhost",
			Port:             6334,
			CollectionPrefix: "codeqa",
		},
		Embeddings: EmbeddingsConfig{
			Mode:                   "auto",
			Model:                  "text-embedding-ada-002",
			LocalModel:             "BAAI/bge-small-en-v1.5",
			CacheDir:               filepath.Join(dataDir, "models"),
			Dimension:              1536,
			DeterministicDimension: 384,
			BatchSize:              64,
			Timeout:                Duration(30 * time.Second),
			MaxConcurrency:         2,
			CacheSize:              256,
		},
		Chunking: ChunkingConfig{
			MaxTokens:     300,
			OverlapTokens: 50,
			Tokenizer:     "tiktoken",
		},
		Ingestion: IngestionConfig{
			MaxFileSize:   256 * 1024,
			BatchSize:     10,
			Workers:       2,
			Include:       []string{"**/*.py", "**/*.ts", "**/*.js", "**/*.go"},
			Exclude:       []string{".git/**", "node_modules/**", "dist/**", "build/**", ".venv/**"},
			RedactSecrets: true,
		},
		Answer: AnswerConfig{
			Mode:        "auto",
			Model:       "gpt-4o-mini",
			Temperature: 0.1,
			MaxTokens:   1000,
			Timeout:     Duration(30 * time.Second),
			RateLimit:   1,
			Burst:       2,
		},
		Query: QueryConfig{
			DefaultK:            6,
			Timeout:             Duration(60 * time.Second),
			SnippetContextLines: 6,
			SnippetMaxChars:     1200,
			PreviewLines:        6,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9191,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Telemetry: TelemetryConfig{
			Endpoint:     "localhost:4317",
			Protocol:     "grpc",
			Insecure:     true,
			SamplingRate: 1.0,
		},
	}
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q: must be one of %s", field, value, strings.Join(allowed, ", "))
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	positive := func(field string, v int64) {
		if v <= 0 {
			add(fmt.Errorf("%s must be positive, got %d", field, v))
		}
	}

	if c.Storage.IndexDir == "" {
		add(errors.New("storage.index_dir is required"))
	}
	if c.Storage.ReposDir == "" {
		add(errors.New("storage.repos_dir is required"))
	}
	add(oneOf("storage.backend", c.Storage.Backend, "chromem", "qdrant"))
	if c.Storage.Backend == "qdrant" && (c.Qdrant.Port < 1 || c.Qdrant.Port > 65535) {
		add(fmt.Errorf("invalid qdrant port: %d (must be 1-65535)", c.Qdrant.Port))
	}

	add(oneOf("embeddings.mode", c.Embeddings.Mode, "auto", "remote", "local", "deterministic"))
	positive("embeddings.dimension", int64(c.Embeddings.Dimension))
	positive("embeddings.deterministic_dimension", int64(c.Embeddings.DeterministicDimension))
	positive("embeddings.batch_size", int64(c.Embeddings.BatchSize))
	positive("embeddings.max_concurrency", int64(c.Embeddings.MaxConcurrency))
	if c.Embeddings.CacheSize < 0 {
		add(fmt.Errorf("embeddings.cache_size must be non-negative, got %d", c.Embeddings.CacheSize))
	}

	positive("chunking.max_tokens", int64(c.Chunking.MaxTokens))
	if c.Chunking.OverlapTokens < 0 || c.Chunking.OverlapTokens >= c.Chunking.MaxTokens {
		add(fmt.Errorf("chunking.overlap_tokens (%d) must be in [0, max_tokens)", c.Chunking.OverlapTokens))
	}
	add(oneOf("chunking.tokenizer", c.Chunking.Tokenizer, "chars", "tiktoken"))

	positive("ingestion.max_file_size", c.Ingestion.MaxFileSize)
	positive("ingestion.batch_size", int64(c.Ingestion.BatchSize))
	positive("ingestion.workers", int64(c.Ingestion.Workers))
	for _, p := range c.Ingestion.SecretAllowlist {
		if _, err := regexp.Compile(p); err != nil {
			add(fmt.Errorf("ingestion.secret_allowlist: invalid pattern %q: %w", p, err))
		}
	}

	add(oneOf("answer.mode", c.Answer.Mode, "auto", "llm", "mock"))
	positive("answer.max_tokens", int64(c.Answer.MaxTokens))
	if c.Answer.Temperature < 0 || c.Answer.Temperature > 2 {
		add(fmt.Errorf("answer.temperature must be in [0, 2], got %g", c.Answer.Temperature))
	}
	if c.Answer.RateLimit < 0 {
		add(fmt.Errorf("answer.rate_limit must be non-negative, got %g", c.Answer.RateLimit))
	}

	if c.Query.DefaultK < 1 || c.Query.DefaultK > 20 {
		add(fmt.Errorf("query.default_k must be 1-20, got %d", c.Query.DefaultK))
	}
	positive("query.snippet_max_chars", int64(c.Query.SnippetMaxChars))
	positive("query.preview_lines", int64(c.Query.PreviewLines))

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add(fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port))
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		add(errors.New("server.shutdown_timeout must be positive"))
	}

	add(oneOf("logging.format", c.Logging.Format, "json", "console"))
	if c.Telemetry.Enabled {
		add(oneOf("telemetry.protocol", c.Telemetry.Protocol, "grpc", "http/protobuf"))
	}
	return errors.Join(errs...)
}
