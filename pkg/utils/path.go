package utils

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFileName checks that name can be used as a single path element
// inside a directory: it must be non-empty, must not contain a path
// separator, and must not be "." or "..".
//
// Spill file prefixes go through this check so that "<prefix>-<N>.dat"
// always lands directly inside the spill directory.
func ValidateFileName(name string) error {
	if name == "" {
		return fmt.Errorf("file name cannot be empty")
	}
	if name == "." || name == ".." {
		return fmt.Errorf("file name cannot be %q", name)
	}
	if strings.ContainsRune(name, '/') || strings.ContainsRune(name, filepath.Separator) {
		return fmt.Errorf("file name contains a path separator: %s", name)
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("file name contains a NUL byte")
	}
	return nil
}

// SecureJoin safely joins path elements and ensures the result stays within the base directory.
// Unlike filepath.Join, this function validates that the result doesn't escape the base through
// directory traversal.
//
// Example usage:
//
//	safePath, err := SecureJoin("/var/cache", "user", filename)
//	if err != nil {
//		return fmt.Errorf("invalid path combination: %w", err)
//	}
func SecureJoin(base string, elements ...string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("base path cannot be empty")
	}

	cleanBase := filepath.Clean(base)
	fullPath := filepath.Join(append([]string{cleanBase}, elements...)...)

	if !strings.HasPrefix(fullPath, cleanBase+string(filepath.Separator)) &&
		fullPath != cleanBase {
		return "", fmt.Errorf("path escapes base directory")
	}

	return fullPath, nil
}
