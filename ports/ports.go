// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when a repository key does not exist.
var ErrNotFound = errors.New("not found")

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// Repository is a hierarchical key to byte-stream store. Keys are non-empty
// ordered sequences of path segments, like file paths split on separators.
// Implementations must not assume any particular physical storage.
type Repository interface {
	// Read opens the content stored at key. It returns ErrNotFound when
	// the key is absent or names an intermediate node.
	Read(ctx context.Context, key []string) (io.ReadCloser, error)

	// Write replaces the content at key, creating intermediate nodes
	// as needed.
	Write(ctx context.Context, key []string, r io.Reader) error

	// Exists reports whether the key exists. Absence is not an error.
	Exists(ctx context.Context, key []string) (bool, error)

	// List returns the child segments under key. It returns ErrNotFound
	// when the key is absent or is a leaf.
	List(ctx context.Context, key []string) ([]string, error)
}

// StageObserver receives counters from stage activity. The zero observer is
// a no-op; the Prometheus-backed implementation lives in adapters/metrics.
type StageObserver interface {
	TransactionBegun()
	TransactionCommitted()
	TransactionDiscarded()
	DocumentFlushed()
	MergePerformed()
	FlushConflict()
}
