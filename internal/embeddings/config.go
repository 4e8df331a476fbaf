package embeddings

import (
	"fmt"
	"time"
)

// LocalConfig configures the in-process ONNX backend.
type LocalConfig struct {
	// Model defaults to BAAI/bge-small-en-v1.5 (384 dimensions).
	Model string

	// CacheDir holds downloaded model files.
	CacheDir string

	// MaxLength is the maximum input sequence length. Defaults to 512.
	MaxLength int

	// BatchSize is the ONNX inference batch size. Defaults to 64.
	BatchSize int
}

// ApplyDefaults fills unset fields.
func (c *LocalConfig) ApplyDefaults() {
	if c.Model == "" {
		c.Model = "BAAI/bge-small-en-v1.5"
	}
	if c.CacheDir == "" {
		c.CacheDir = "local_cache"
	}
	if c.MaxLength <= 0 {
		c.MaxLength = 512
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
}

// Config configures a Service.
type Config struct {
	// Mode is the requested backend. Defaults to auto.
	Mode Mode

	Remote RemoteConfig
	Local  LocalConfig

	// DeterministicDimension is the vector length when deterministic mode is
	// selected outright. Fallback vectors always match the selected backend.
	DeterministicDimension int

	// Timeout bounds each backend call. Defaults to 30s.
	Timeout time.Duration

	// MaxConcurrency bounds in-flight backend calls. Defaults to 2.
	MaxConcurrency int

	// CacheSize is the number of query vectors kept in memory. Zero disables
	// the cache.
	CacheSize int
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeAuto
	}
	if c.DeterministicDimension <= 0 {
		c.DeterministicDimension = DeterministicDimension
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 2
	}
	c.Remote.ApplyDefaults()
	c.Local.ApplyDefaults()
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("%w: cache size must be non-negative", ErrInvalidConfig)
	}
	return nil
}
