package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrPathTraversal is returned when a path escapes the directory it must stay in.
var ErrPathTraversal = errors.New("path traversal detected")

// ValidatePathWithinDirectory checks lexically that filePath resolves inside
// dir. Both are cleaned and made absolute first; the filesystem is not
// consulted, so it works for in-memory filesystems too.
func ValidatePathWithinDirectory(filePath, dir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absDir, err := filepath.Abs(filepath.Clean(dir))
	if err != nil {
		return fmt.Errorf("failed to resolve directory path: %w", err)
	}

	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return fmt.Errorf("%w: %s is outside %s", ErrPathTraversal, filePath, dir)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s attempts to escape %s", ErrPathTraversal, filePath, dir)
	}
	return nil
}
