package document

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kailas-cloud/mailrag/internal/db"
	"github.com/kailas-cloud/mailrag/internal/domain"
	domdoc "github.com/kailas-cloud/mailrag/internal/domain/document"
	"github.com/kailas-cloud/mailrag/internal/domain/search/filter"
)

var keyPrefix = domain.KeyPrefix + "doc:"

// fetchBatch bounds the number of hashes read per pipelined round-trip.
const fetchBatch = 500

// store is the consumer interface for documents (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Repo stores documents as Redis hashes and filters them in memory.
type Repo struct {
	store store
}

// New creates a document repository.
func New(s store) *Repo {
	return &Repo{store: s}
}

// Save creates or replaces a document. Returns true if created.
func (r *Repo) Save(ctx context.Context, doc *domdoc.Document) (bool, error) {
	key := docKey(doc.ID())
	fields, err := buildHashFields(doc)
	if err != nil {
		return false, err
	}

	exists, err := r.store.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("check exists %s: %w", key, err)
	}
	if err := r.store.HSet(ctx, key, fields); err != nil {
		return false, fmt.Errorf("hset %s: %w", key, err)
	}
	return !exists, nil
}

// SaveBatch writes many documents in one pipeline.
func (r *Repo) SaveBatch(ctx context.Context, docs []domdoc.Document) error {
	items := make([]db.HashSetItem, 0, len(docs))
	for i := range docs {
		fields, err := buildHashFields(&docs[i])
		if err != nil {
			return err
		}
		items = append(items, db.HashSetItem{Key: docKey(docs[i].ID()), Fields: fields})
	}
	if err := r.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("hset batch: %w", err)
	}
	return nil
}

// Get returns a document by ID, including soft-deleted ones.
func (r *Repo) Get(ctx context.Context, id string) (domdoc.Document, error) {
	key := docKey(id)
	m, err := r.store.HGetAll(ctx, key)
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("hgetall %s: %w", key, err)
	}
	if len(m) == 0 {
		return domdoc.Document{}, domain.ErrNotFound
	}
	return parseHashFields(id, m)
}

// SoftDelete flags a document as deleted.
func (r *Repo) SoftDelete(ctx context.Context, id string) error {
	key := docKey(id)

	exists, err := r.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check exists %s: %w", key, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	if err := r.store.HSet(ctx, key, map[string]string{fieldDeleted: "1"}); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

// List returns every non-deleted document matching spec, ordered by ID.
// Keywords in spec are ignored.
func (r *Repo) List(ctx context.Context, spec filter.Spec) ([]domdoc.Document, error) {
	keys, err := r.store.Scan(ctx, keyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("scan documents: %w", err)
	}
	sort.Strings(keys)

	var docs []domdoc.Document
	for start := 0; start < len(keys); start += fetchBatch {
		end := min(start+fetchBatch, len(keys))
		batch := keys[start:end]

		maps, err := r.store.HGetAllMulti(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("fetch documents: %w", err)
		}
		for i, m := range maps {
			if len(m) == 0 {
				continue // removed between SCAN and HGETALL
			}
			doc, err := parseHashFields(strings.TrimPrefix(batch[i], keyPrefix), m)
			if err != nil {
				return nil, err
			}
			if spec.Matches(&doc) {
				docs = append(docs, doc)
			}
		}
	}
	return docs, nil
}

func docKey(id string) string {
	return keyPrefix + id
}
