package sqldoc

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

type migration struct {
	version string
	up      string
	// post runs after up, for data changes SQL alone cannot express.
	post func(ctx context.Context, db *sql.DB) error
}

var migrations = []migration{
	{
		version: "1.0.0",
		up: `
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    sender TEXT NOT NULL DEFAULT '',
    subject TEXT NOT NULL,
    summary TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL,
    priority TEXT NOT NULL,
    status TEXT NOT NULL,
    ts_unix_ns INTEGER NOT NULL,
    entities TEXT NOT NULL DEFAULT '{}',
    deleted INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_documents_category ON documents(category);
CREATE INDEX IF NOT EXISTS idx_documents_ts ON documents(ts_unix_ns);

CREATE TABLE IF NOT EXISTS embedding_cache (
    key TEXT PRIMARY KEY,
    vector BLOB NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`,
	},
	{
		version: "1.1.0",
		up: `
CREATE TABLE IF NOT EXISTS query_history (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    query TEXT NOT NULL,
    results_count INTEGER NOT NULL,
    execution_ns INTEGER NOT NULL,
    created_unix_ns INTEGER NOT NULL
);
`,
	},
	{
		version: "1.2.0",
		up:      `ALTER TABLE documents ADD COLUMN entities_folded TEXT NOT NULL DEFAULT '{}';`,
		post:    backfillFoldedEntities,
	},
}

// applyMigrations runs every migration newer than the recorded schema version.
func applyMigrations(ctx context.Context, db *sql.DB) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		v, err := semver.NewVersion(m.version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", m.version, err)
		}
		if !current.LessThan(v) {
			continue
		}
		if _, err := db.ExecContext(ctx, m.up); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.version, err)
		}
		if m.post != nil {
			if err := m.post(ctx, db); err != nil {
				return fmt.Errorf("apply migration %s: %w", m.version, err)
			}
		}
		if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("record migration %s: %w", m.version, err)
		}
		current = v
	}
	return nil
}

func currentVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	var name string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("check schema_version table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	latest := semver.MustParse("0.0.0")
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan schema_version: %w", err)
		}
		v, err := semver.NewVersion(s)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %s: %w", s, err)
		}
		if latest.LessThan(v) {
			latest = v
		}
	}
	return latest, rows.Err()
}

// backfillFoldedEntities recomputes entities_folded for every stored row.
func backfillFoldedEntities(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, "SELECT id, entities FROM documents")
	if err != nil {
		return fmt.Errorf("read entities: %w", err)
	}
	folded := make(map[string]string)
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan entities: %w", err)
		}
		var entities map[string]string
		if err := json.Unmarshal([]byte(raw), &entities); err != nil {
			_ = rows.Close()
			return fmt.Errorf("parse entities of %s: %w", id, err)
		}
		if folded[id], err = foldEntities(entities); err != nil {
			_ = rows.Close()
			return err
		}
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("read entities: %w", err)
	}

	for id, f := range folded {
		if _, err := db.ExecContext(ctx, "UPDATE documents SET entities_folded = ? WHERE id = ?", f, id); err != nil {
			return fmt.Errorf("backfill %s: %w", id, err)
		}
	}
	return nil
}
