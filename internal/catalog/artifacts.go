package catalog

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirArtifacts stores uploaded topic documents as files under a
// directory, one per topic key. It backs the ArtifactStore interface
// used by the delete cascade.
type DirArtifacts struct {
	Dir string
}

// Save writes the raw uploaded document for a topic key.
func (d DirArtifacts) Save(key string, data []byte) error {
	if d.Dir == "" {
		return nil
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return fmt.Errorf("artifact dir: %w", err)
	}
	return os.WriteFile(d.path(key), data, 0o644)
}

// Remove deletes the stored document. A missing file is not an error;
// the delete cascade tolerates artifact failures either way.
func (d DirArtifacts) Remove(key string) error {
	if d.Dir == "" {
		return nil
	}
	err := os.Remove(d.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (d DirArtifacts) path(key string) string {
	return filepath.Join(d.Dir, key+".json")
}
