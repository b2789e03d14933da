package rawstore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FSStore is a filesystem-backed Store rooted at a single directory.
// Each key maps to a file at root/<key>; the "/" separators in keys become
// directories.
type FSStore struct {
	root string
}

// Compile-time interface verification.
var _ Store = (*FSStore)(nil)

// NewFSStore creates a filesystem store rooted at dir, creating the
// directory if needed.
func NewFSStore(dir string) (*FSStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("rawstore: root directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("rawstore: create root %q: %w", dir, err)
	}
	return &FSStore{root: dir}, nil
}

// Root returns the root directory of the store.
func (s *FSStore) Root() string {
	return s.root
}

// Put stores the payload at root/<key>. The write goes through a temp file
// and rename so a crashed write never leaves a truncated page behind.
func (s *FSStore) Put(ctx context.Context, key string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("rawstore: create dir for %q: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return fmt.Errorf("rawstore: create temp for %q: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("rawstore: write %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rawstore: close %q: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rawstore: rename %q: %w", key, err)
	}
	return nil
}

// Get retrieves the payload stored under key.
func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("rawstore: read %q: %w", key, err)
	}
	return data, nil
}

// List returns all keys beginning with prefix, in lexical order.
func (s *FSStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".put-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rawstore: list %q: %w", prefix, err)
	}

	sort.Strings(keys)
	return keys, nil
}

// path maps a key to a filesystem path, rejecting keys that would escape
// the root directory.
func (s *FSStore) path(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("rawstore: empty key")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("rawstore: invalid key %q", key)
	}
	return filepath.Join(s.root, clean), nil
}
