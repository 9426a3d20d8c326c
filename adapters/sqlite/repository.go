package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/feedvault/feedvault/ports"
)

// Repository implements ports.Repository over a documents table. Keys join
// into a path with "/"; intermediate directory levels are implied by the
// stored leaf paths, never materialized as rows.
type Repository struct {
	db *DB
}

// NewRepository creates a repository over an opened, migrated database.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

func joinKey(key []string) (string, error) {
	if len(key) == 0 {
		return "", fmt.Errorf("sqlite: empty key")
	}
	for _, seg := range key {
		if seg == "" || strings.Contains(seg, "/") {
			return "", fmt.Errorf("sqlite: invalid key segment %q", seg)
		}
	}
	return strings.Join(key, "/"), nil
}

// Read implements ports.Repository.
func (r *Repository) Read(ctx context.Context, key []string) (io.ReadCloser, error) {
	path, err := joinKey(key)
	if err != nil {
		return nil, err
	}
	var content []byte
	err = r.db.QueryRowContext(ctx,
		"SELECT content FROM documents WHERE path = ?", path).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: read %s: %w", path, err)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

// Write implements ports.Repository.
func (r *Repository) Write(ctx context.Context, key []string, src io.Reader) error {
	path, err := joinKey(key)
	if err != nil {
		return err
	}
	content, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO documents (path, content, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(path) DO UPDATE SET content = excluded.content, updated_at = CURRENT_TIMESTAMP
	`, path, content)
	if err != nil {
		return fmt.Errorf("sqlite: write %s: %w", path, err)
	}
	return nil
}

// Exists implements ports.Repository. A key exists as a leaf row or as an
// implied directory level above one.
func (r *Repository) Exists(ctx context.Context, key []string) (bool, error) {
	path, err := joinKey(key)
	if err != nil {
		return false, err
	}
	var one int
	err = r.db.QueryRowContext(ctx, `
		SELECT 1 FROM documents
		WHERE path = ? OR substr(path, 1, ?) = ?
		LIMIT 1
	`, path, len(path)+1, path+"/").Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: exists %s: %w", path, err)
	}
	return true, nil
}

// List implements ports.Repository.
func (r *Repository) List(ctx context.Context, key []string) ([]string, error) {
	prefix := ""
	if len(key) > 0 {
		path, err := joinKey(key)
		if err != nil {
			return nil, err
		}
		prefix = path + "/"
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT path FROM documents WHERE substr(path, 1, ?) = ?
	`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list %s: %w", prefix, err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var names []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		rest := path[len(prefix):]
		name, _, _ := strings.Cut(rest, "/")
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, ports.ErrNotFound
	}
	sort.Strings(names)
	return names, nil
}
