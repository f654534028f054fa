package infra

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

// EnsureDir expands base, joins the optional parts and creates the
// resulting directory.
func EnsureDir(base string, path ...string) (string, error) {
	dir, err := homedir.Expand(filepath.Join(append([]string{base}, path...)...))
	if err != nil {
		return "", fmt.Errorf("failed to expand %s: %w", base, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return dir, nil
}
