package ingestion

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/codeqa/internal/chunker"
)

// Config holds pipeline settings.
type Config struct {
	// MaxFileSize skips larger files. Default: 256 KiB.
	MaxFileSize int64

	// BatchSize is the number of files per embed/store call. Default: 10.
	BatchSize int

	// Workers bounds concurrently processed batches. Default: 2.
	Workers int

	// BatchPause is the minimum interval between batch starts. Zero disables pacing.
	BatchPause time.Duration

	// MaxTokens and OverlapTokens configure the chunker.
	MaxTokens     int
	OverlapTokens int
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 256 * 1024
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = chunker.DefaultMaxTokens
	}
	if c.OverlapTokens < 0 {
		c.OverlapTokens = 0
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.OverlapTokens >= c.MaxTokens {
		return fmt.Errorf("overlap tokens (%d) must be smaller than max tokens (%d)", c.OverlapTokens, c.MaxTokens)
	}
	return nil
}
