package sqldoc

import (
	"context"
	"database/sql"
	"errors"

	"github.com/kailas-cloud/mailrag/internal/db"
)

// CacheTier is the persistent embedding cache tier backed by the embedding_cache table.
type CacheTier struct {
	db *sql.DB
}

// Cache returns the embedding cache view of the store.
func (s *Store) Cache() *CacheTier {
	return &CacheTier{db: s.db}
}

// Get returns a cached embedding blob or db.ErrKeyNotFound.
func (c *CacheTier) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := c.db.QueryRowContext(ctx, "SELECT vector FROM embedding_cache WHERE key = ?", key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrKeyNotFound
	}
	if err != nil {
		return nil, &db.Error{Op: db.OpGet, Err: err}
	}
	return data, nil
}

// Set stores an embedding blob under key.
func (c *CacheTier) Set(ctx context.Context, key string, value []byte) error {
	_, err := c.db.ExecContext(ctx,
		"INSERT INTO embedding_cache (key, vector) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET vector = excluded.vector",
		key, value)
	if err != nil {
		return &db.Error{Op: db.OpSet, Err: err}
	}
	return nil
}
