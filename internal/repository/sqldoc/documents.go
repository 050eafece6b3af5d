package sqldoc

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/mailrag/internal/db"
	"github.com/kailas-cloud/mailrag/internal/domain"
	domdoc "github.com/kailas-cloud/mailrag/internal/domain/document"
	"github.com/kailas-cloud/mailrag/internal/domain/search/filter"
)

const upsertDocument = `
INSERT INTO documents (id, sender, subject, summary, category, priority, status, ts_unix_ns, entities, entities_folded, deleted)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    sender = excluded.sender,
    subject = excluded.subject,
    summary = excluded.summary,
    category = excluded.category,
    priority = excluded.priority,
    status = excluded.status,
    ts_unix_ns = excluded.ts_unix_ns,
    entities = excluded.entities,
    entities_folded = excluded.entities_folded,
    deleted = excluded.deleted`

const selectDocument = `SELECT id, sender, subject, summary, category, priority, status, ts_unix_ns, entities, deleted FROM documents`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Save creates or replaces a document. Returns true if created.
func (s *Store) Save(ctx context.Context, doc *domdoc.Document) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM documents WHERE id = ?", doc.ID()).Scan(&exists)
	if err != nil {
		return false, &db.Error{Op: db.OpQuery, Err: err}
	}
	if err := saveWith(ctx, s.db, doc); err != nil {
		return false, err
	}
	return exists == 0, nil
}

// SaveBatch writes many documents in one transaction.
func (s *Store) SaveBatch(ctx context.Context, docs []domdoc.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &db.Error{Op: db.OpExec, Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	for i := range docs {
		if err := saveWith(ctx, tx, &docs[i]); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return &db.Error{Op: db.OpExec, Err: err}
	}
	return nil
}

func saveWith(ctx context.Context, ex execer, doc *domdoc.Document) error {
	entities, err := marshalEntities(doc.Entities())
	if err != nil {
		return err
	}
	folded, err := foldEntities(doc.Entities())
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, upsertDocument,
		doc.ID(), doc.Sender(), doc.Subject(), doc.Summary(),
		string(doc.Category()), string(doc.Priority()), string(doc.Status()),
		doc.Timestamp().UnixNano(), entities, folded, boolToInt(doc.Deleted()))
	if err != nil {
		return &db.Error{Op: db.OpExec, Err: fmt.Errorf("upsert %s: %w", doc.ID(), err)}
	}
	return nil
}

// Get returns a document by ID, including soft-deleted ones.
func (s *Store) Get(ctx context.Context, id string) (domdoc.Document, error) {
	row := s.db.QueryRowContext(ctx, selectDocument+" WHERE id = ?", id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domdoc.Document{}, domain.ErrNotFound
	}
	return doc, err
}

// SoftDelete flags a document as deleted.
func (s *Store) SoftDelete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE documents SET deleted = 1 WHERE id = ?", id)
	if err != nil {
		return &db.Error{Op: db.OpExec, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &db.Error{Op: db.OpExec, Err: err}
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns every non-deleted document matching spec, ordered by ID.
// Keywords in spec are ignored.
func (s *Store) List(ctx context.Context, spec filter.Spec) ([]domdoc.Document, error) {
	where, args := buildWhere(spec)
	rows, err := s.db.QueryContext(ctx, selectDocument+" WHERE "+where+" ORDER BY id", args...)
	if err != nil {
		return nil, &db.Error{Op: db.OpQuery, Err: err}
	}
	defer func() { _ = rows.Close() }()

	var docs []domdoc.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, &db.Error{Op: db.OpQuery, Err: err}
	}
	return docs, nil
}

// buildWhere translates the structured part of spec into a conjunctive SQL clause.
func buildWhere(spec filter.Spec) (string, []any) {
	clauses := []string{"deleted = 0"}
	var args []any

	if cats := spec.Categories(); len(cats) > 0 {
		ph := make([]string, len(cats))
		for i, c := range cats {
			ph[i] = "?"
			args = append(args, string(c))
		}
		clauses = append(clauses, "category IN ("+strings.Join(ph, ", ")+")")
	}
	if p := spec.Priority(); p != "" {
		clauses = append(clauses, "priority = ?")
		args = append(args, string(p))
	}
	if st := spec.Status(); st != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(st))
	}
	if from := spec.TimeRange().From(); from != nil {
		clauses = append(clauses, "ts_unix_ns >= ?")
		args = append(args, from.UnixNano())
	}
	if to := spec.TimeRange().To(); to != nil {
		clauses = append(clauses, "ts_unix_ns <= ?")
		args = append(args, to.UnixNano())
	}
	for _, e := range spec.Entities() {
		path := "$." + strconv.Quote(e.Key())
		if e.Op() == filter.OpEquals {
			clauses = append(clauses, "json_extract(entities, ?) = ?")
			args = append(args, path, e.Value())
			continue
		}
		// SQLite lower() folds ASCII only; match against values folded in Go.
		clauses = append(clauses, "instr(json_extract(entities_folded, ?), ?) > 0")
		args = append(args, path, strings.ToLower(e.Value()))
	}
	return strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (domdoc.Document, error) {
	var (
		id, sender, subject, summary string
		category, priority, status   string
		tsNano                       int64
		entitiesRaw                  string
		deleted                      int
	)
	if err := r.Scan(&id, &sender, &subject, &summary, &category, &priority, &status, &tsNano, &entitiesRaw, &deleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domdoc.Document{}, err
		}
		return domdoc.Document{}, &db.Error{Op: db.OpQuery, Err: err}
	}

	var entities map[string]string
	if entitiesRaw != "" && entitiesRaw != "{}" {
		if err := json.Unmarshal([]byte(entitiesRaw), &entities); err != nil {
			return domdoc.Document{}, fmt.Errorf("parse entities of %s: %w", id, err)
		}
	}

	return domdoc.Reconstruct(
		id, sender, subject, summary,
		domdoc.Category(category), domdoc.Priority(priority), domdoc.Status(status),
		time.Unix(0, tsNano).UTC(), entities, deleted != 0,
	), nil
}

func marshalEntities(entities map[string]string) (string, error) {
	if len(entities) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(entities)
	if err != nil {
		return "", fmt.Errorf("marshal entities: %w", err)
	}
	return string(raw), nil
}

// foldEntities lowercases every entity value with Unicode case folding.
func foldEntities(entities map[string]string) (string, error) {
	folded := make(map[string]string, len(entities))
	for k, v := range entities {
		folded[k] = strings.ToLower(v)
	}
	return marshalEntities(folded)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
