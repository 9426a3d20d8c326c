// Package fsrepo stores the archive on the local filesystem: every key
// segment is a directory level, every document a file. The layout is plain
// enough to sync with generic file synchronizers, which is the point.
package fsrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/feedvault/feedvault/ports"
)

// Repository is a filesystem-backed ports.Repository rooted at one directory.
type Repository struct {
	root string
}

// Open opens (creating if needed) a repository rooted at dir.
func Open(dir string) (*Repository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fsrepo: create root: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("fsrepo: resolve root: %w", err)
	}
	return &Repository{root: abs}, nil
}

// Root returns the repository's root directory.
func (r *Repository) Root() string { return r.root }

// path maps a key onto a filesystem path under the root. Segments must not
// escape the root or address directory structure themselves.
func (r *Repository) path(key []string) (string, error) {
	if len(key) == 0 {
		return r.root, nil
	}
	for _, seg := range key {
		if seg == "" || seg == "." || seg == ".." ||
			strings.ContainsAny(seg, `/\`) {
			return "", fmt.Errorf("fsrepo: invalid key segment %q", seg)
		}
	}
	return filepath.Join(append([]string{r.root}, key...)...), nil
}

// Read implements ports.Repository.
func (r *Repository) Read(ctx context.Context, key []string) (io.ReadCloser, error) {
	p, err := r.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, ports.ErrNotFound
	}
	return f, nil
}

// Write implements ports.Repository. The content lands in a temporary file
// first and is renamed into place, so concurrent readers never observe a
// half-written document.
func (r *Repository) Write(ctx context.Context, key []string, src io.Reader) error {
	if len(key) == 0 {
		return fmt.Errorf("fsrepo: empty key")
	}
	p, err := r.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("fsrepo: create parents: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), "."+filepath.Base(p)+".tmp*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// Exists implements ports.Repository.
func (r *Repository) Exists(ctx context.Context, key []string) (bool, error) {
	p, err := r.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List implements ports.Repository.
func (r *Repository) List(ctx context.Context, key []string) ([]string, error) {
	p, err := r.path(key)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(p)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
