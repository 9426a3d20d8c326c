// Package memory provides in-memory adapter implementations, used in tests
// and for throwaway archives.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/feedvault/feedvault/ports"
)

// Repository is an in-memory hierarchical store. It is safe for concurrent
// use.
type Repository struct {
	mu   sync.RWMutex
	root *node
}

type node struct {
	children map[string]*node
	content  []byte
	leaf     bool
}

// NewRepository creates an empty in-memory repository.
func NewRepository() *Repository {
	return &Repository{root: &node{children: make(map[string]*node)}}
}

// lookup walks the tree without creating anything.
func (r *Repository) lookup(key []string) *node {
	n := r.root
	for _, seg := range key {
		n = n.children[seg]
		if n == nil {
			return nil
		}
	}
	return n
}

// Read implements ports.Repository.
func (r *Repository) Read(ctx context.Context, key []string) (io.ReadCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := r.lookup(key)
	if n == nil || !n.leaf {
		return nil, ports.ErrNotFound
	}
	buf := make([]byte, len(n.content))
	copy(buf, n.content)
	return io.NopCloser(bytes.NewReader(buf)), nil
}

// Write implements ports.Repository.
func (r *Repository) Write(ctx context.Context, key []string, src io.Reader) error {
	if err := validateKey(key); err != nil {
		return err
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.root
	for i, seg := range key {
		child := n.children[seg]
		last := i == len(key)-1
		if child == nil {
			child = &node{}
			if !last {
				child.children = make(map[string]*node)
			}
			n.children[seg] = child
		}
		if !last && child.leaf {
			return fmt.Errorf("memory: %q is a document, not a directory", key[:i+1])
		}
		if last && len(child.children) > 0 {
			return fmt.Errorf("memory: %q is a directory", key)
		}
		n = child
	}
	n.leaf = true
	n.content = data
	return nil
}

// Exists implements ports.Repository.
func (r *Repository) Exists(ctx context.Context, key []string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookup(key) != nil, nil
}

// List implements ports.Repository.
func (r *Repository) List(ctx context.Context, key []string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := r.lookup(key)
	if n == nil || n.leaf {
		return nil, ports.ErrNotFound
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func validateKey(key []string) error {
	if len(key) == 0 {
		return fmt.Errorf("memory: empty key")
	}
	for _, seg := range key {
		if seg == "" {
			return fmt.Errorf("memory: empty key segment in %q", key)
		}
	}
	return nil
}
