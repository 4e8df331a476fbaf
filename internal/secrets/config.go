package secrets

import (
	"fmt"
	"regexp"
)

// Config configures the Scrubber.
type Config struct {
	// Enabled turns redaction on. A disabled Scrubber returns content unchanged.
	Enabled bool

	// Allowlist holds content regexes that are never redacted.
	Allowlist []string
}

// DefaultConfig returns an enabled configuration with an empty allowlist.
func DefaultConfig() Config {
	return Config{Enabled: true}
}

// Validate checks that every allowlist pattern compiles.
func (c Config) Validate() error {
	for i, p := range c.Allowlist {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("secret allowlist %d: invalid pattern %q: %w", i, p, err)
		}
	}
	return nil
}
