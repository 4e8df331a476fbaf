package vectorstore

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const sidecarName = "meta.json"

// Sidecar records facts about a repository index that must survive restarts.
type Sidecar struct {
	EmbeddingDimension int       `json:"embedding_dimension"`
	RepoID             string    `json:"repo_id"`
	CreatedAt          time.Time `json:"created_at"`
	IndexBackend       string    `json:"index_backend"`
}

// readSidecar loads dir/meta.json. A missing file returns (nil, nil).
func readSidecar(dir string) (*Sidecar, error) {
	data, err := os.ReadFile(filepath.Join(dir, sidecarName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading sidecar: %w", err)
	}

	var sc Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("%w: decoding sidecar: %v", ErrCorruptIndex, err)
	}
	return &sc, nil
}

// writeSidecar replaces dir/meta.json atomically.
func writeSidecar(dir string, sc Sidecar) error {
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding sidecar: %w", err)
	}

	path := filepath.Join(dir, sidecarName)
	tmpPath := path + ".tmp." + randomSuffix()

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating sidecar: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing sidecar: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing sidecar: %w", err)
	}
	f.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("finalizing sidecar: %w", err)
	}
	return nil
}

func randomSuffix() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x", b)
}
