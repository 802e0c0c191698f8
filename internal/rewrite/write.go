package rewrite

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFile atomically replaces path with data, keeping its permission bits.
// The data is written to a temporary file in the same directory and renamed
// over the original, so readers see either the old or the new content.
func WriteFile(path string, data []byte) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("rewrite: write %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".agentspec-*.tmp")
	if err != nil {
		return fmt.Errorf("rewrite: write %s: %w", path, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("rewrite: write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("rewrite: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("rewrite: write %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, info.Mode().Perm()); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rewrite: write %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rewrite: write %s: %w", path, err)
	}
	return nil
}
