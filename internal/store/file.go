package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File persists each key as one file inside a spool directory. Writes are
// crash-safe: data lands in a temp file, is synced, renamed over the target,
// and the directory is synced so the rename survives power loss.
type File struct {
	dir string
}

// NewFile creates the spool directory if needed and returns a file-backed KV.
func NewFile(dir string) (*File, error) {
	if dir == "" {
		return nil, fmt.Errorf("store: spool directory not set")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("store: create spool directory: %w", err)
	}
	return &File{dir: dir}, nil
}

// Dir returns the spool directory path.
func (f *File) Dir() string {
	return f.dir
}

// Get reads the value stored under key. Missing or empty files report absent.
func (f *File) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(f.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: read %s: %w", key, err)
	}
	if len(data) == 0 {
		return nil, false, nil
	}
	return data, true, nil
}

// Set writes value under key atomically. An empty value removes the file.
func (f *File) Set(_ context.Context, key string, value []byte) error {
	path := f.path(key)

	if len(value) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("store: clear %s: %w", key, err)
		}
		f.syncDir()
		return nil
	}

	// Write to temp file first
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, value, 0600); err != nil {
		return fmt.Errorf("store: write %s: %w", key, err)
	}

	// Sync the temp file
	tmpFile, err := os.Open(tmpPath)
	if err == nil {
		_ = tmpFile.Sync()
		tmpFile.Close()
	}

	// Atomic rename
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("store: rename %s: %w", key, err)
	}

	f.syncDir()
	return nil
}

// syncDir syncs the spool directory so renames and removals are durable.
// Best effort; a failed directory sync does not fail the write.
func (f *File) syncDir() {
	dir, err := os.Open(f.dir)
	if err == nil {
		_ = dir.Sync()
		dir.Close()
	}
}

func (f *File) path(key string) string {
	return filepath.Join(f.dir, sanitizeKey(key))
}

// sanitizeKey maps a store key onto a safe flat file name.
func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, key)
}
