// Package store keeps rendered views in a dated directory tree on local disk.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cjeanneret/vibecast/internal/debug"
	"github.com/cjeanneret/vibecast/internal/fault"
)

// RotatedSuffix marks a stored rotated variant: <base>_rotated.<ext>.
const RotatedSuffix = "_rotated"

// ErrNotFound is returned for keys with no stored object.
var ErrNotFound = errors.New("not found")

// Key builds YYYY/MM/DD/YYYYMMDD_HHMMSS_<label>.<ext> for ts.
func Key(ts time.Time, label, ext string) string {
	return path.Join(
		ts.Format("2006"), ts.Format("01"), ts.Format("02"),
		fmt.Sprintf("%s_%s.%s", ts.Format("20060102_150405"), label, strings.TrimPrefix(ext, ".")),
	)
}

// RotatedKey returns the key of the rotated variant of key.
// A key that is already rotated maps to itself.
func RotatedKey(key string) string {
	if IsRotated(key) {
		return key
	}
	ext := path.Ext(key)
	return strings.TrimSuffix(key, ext) + RotatedSuffix + ext
}

// IsRotated reports whether key names a rotated variant.
func IsRotated(key string) bool {
	return strings.HasSuffix(strings.TrimSuffix(key, path.Ext(key)), RotatedSuffix)
}

// Local is a store rooted at a directory.
type Local struct {
	root string
}

// NewLocal creates the root directory if needed.
func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve store root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &Local{root: abs}, nil
}

// Root returns the absolute root directory.
func (s *Local) Root() string { return s.root }

// Path maps key to a file path under the root. Keys must be relative,
// slash-separated and free of ".." components.
func (s *Local) Path(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fault.Validationf("invalid key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fault.Validationf("invalid key %q", key)
		}
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Put writes data under key, replacing any previous object.
func (s *Local) Put(key string, data []byte) error {
	p, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", key, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".put-*")
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("put %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	debug.Trace("Store: wrote %s (%d bytes)", key, len(data))
	return nil
}

// Get reads the object stored under key.
func (s *Local) Get(key string) ([]byte, error) {
	p, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return data, nil
}

// Delete removes the object stored under key.
func (s *Local) Delete(key string) error {
	p, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("delete %s: %w", key, err)
	}
	debug.Trace("Store: deleted %s", key)
	return nil
}

// List returns every stored key, sorted. Temporary files are skipped.
func (s *Local) List() ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list store: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}
