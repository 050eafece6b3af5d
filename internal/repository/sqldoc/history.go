package sqldoc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/mailrag/internal/db"
	domhist "github.com/kailas-cloud/mailrag/internal/domain/history"
)

// Record appends a history entry and trims the table to maxHistory rows.
func (s *Store) Record(ctx context.Context, e domhist.Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO query_history (id, query, results_count, execution_ns, created_unix_ns) VALUES (?, ?, ?, ?, ?)`,
		e.ID.String(), e.Query, e.ResultsCount, e.Elapsed.Nanoseconds(), e.CreatedAt.UnixNano())
	if err != nil {
		return &db.Error{Op: db.OpExec, Err: fmt.Errorf("insert history: %w", err)}
	}

	if s.maxHistory > 0 {
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM query_history WHERE seq NOT IN (SELECT seq FROM query_history ORDER BY seq DESC LIMIT ?)`,
			s.maxHistory)
		if err != nil {
			return &db.Error{Op: db.OpExec, Err: fmt.Errorf("trim history: %w", err)}
		}
	}
	return nil
}

// Recent returns up to limit entries, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]domhist.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, query, results_count, execution_ns, created_unix_ns FROM query_history ORDER BY seq DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, &db.Error{Op: db.OpQuery, Err: err}
	}
	defer func() { _ = rows.Close() }()

	var out []domhist.Entry
	for rows.Next() {
		var (
			rawID            string
			e                domhist.Entry
			execNs, createNs int64
		)
		if err := rows.Scan(&rawID, &e.Query, &e.ResultsCount, &execNs, &createNs); err != nil {
			return nil, &db.Error{Op: db.OpQuery, Err: err}
		}
		if e.ID, err = uuid.Parse(rawID); err != nil {
			return nil, fmt.Errorf("parse history id %q: %w", rawID, err)
		}
		e.Elapsed = time.Duration(execNs)
		e.CreatedAt = time.Unix(0, createNs).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &db.Error{Op: db.OpQuery, Err: err}
	}
	return out, nil
}
