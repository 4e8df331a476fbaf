package ingestion

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// OverridesFile is the optional per-repository pattern file.
const OverridesFile = ".codeqa.toml"

// Overrides are pattern additions read from OverridesFile.
type Overrides struct {
	Include []string `toml:"include"`
	Exclude []string `toml:"exclude"`
}

// LoadOverrides reads root/.codeqa.toml. A missing file yields empty overrides.
func LoadOverrides(root string) (Overrides, error) {
	var o Overrides
	path := filepath.Join(root, OverridesFile)
	if _, err := toml.DecodeFile(path, &o); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Overrides{}, nil
		}
		return Overrides{}, fmt.Errorf("parsing %s: %w", OverridesFile, err)
	}
	return o, nil
}
