// Package filex resolves where a store file lives on disk.
package filex

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnsureDir creates dir (and parents) if needed and returns its absolute path.
// An empty dir means the current working directory.
func EnsureDir(dir string) (string, error) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getwd: %w", err)
		}
		dir = cwd
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("abs %s: %w", dir, err)
	}

	if err := os.MkdirAll(abs, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", abs, err)
	}

	return abs, nil
}

// StorePath returns the store file for an app key and optional tag:
// <dir>/<appKey>.sqlite or <dir>/<appKey>_<tag>.sqlite.
func StorePath(dir, appKey, tag string) (string, error) {
	if strings.TrimSpace(appKey) == "" {
		return "", fmt.Errorf("app key is required")
	}
	base, err := EnsureDir(dir)
	if err != nil {
		return "", err
	}
	name := sanitize(appKey)
	if tag != "" {
		name += "_" + sanitize(tag)
	}
	return filepath.Join(base, name+".sqlite"), nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
