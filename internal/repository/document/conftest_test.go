package document

import (
	"context"
	"testing"
	"time"

	"github.com/kailas-cloud/mailrag/internal/db"
	domdoc "github.com/kailas-cloud/mailrag/internal/domain/document"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	hsetFn         func(ctx context.Context, key string, fields map[string]string) error
	hsetMultiFn    func(ctx context.Context, items []db.HashSetItem) error
	hgetAllFn      func(ctx context.Context, key string) (map[string]string, error)
	hgetAllMultiFn func(ctx context.Context, keys []string) ([]map[string]string, error)
	existsFn       func(ctx context.Context, key string) (bool, error)
	scanFn         func(ctx context.Context, pattern string) ([]string, error)
}

func (m *mockStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if m.hsetFn != nil {
		return m.hsetFn(ctx, key, fields)
	}
	return nil
}

func (m *mockStore) HSetMulti(ctx context.Context, items []db.HashSetItem) error {
	if m.hsetMultiFn != nil {
		return m.hsetMultiFn(ctx, items)
	}
	return nil
}

func (m *mockStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if m.hgetAllFn != nil {
		return m.hgetAllFn(ctx, key)
	}
	return map[string]string{}, nil
}

func (m *mockStore) HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error) {
	if m.hgetAllMultiFn != nil {
		return m.hgetAllMultiFn(ctx, keys)
	}
	return make([]map[string]string, len(keys)), nil
}

func (m *mockStore) Exists(ctx context.Context, key string) (bool, error) {
	if m.existsFn != nil {
		return m.existsFn(ctx, key)
	}
	return false, nil
}

func (m *mockStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	if m.scanFn != nil {
		return m.scanFn(ctx, pattern)
	}
	return nil, nil
}

func newTestRepo(t *testing.T) (*Repo, *mockStore) {
	t.Helper()
	ms := &mockStore{}
	return New(ms), ms
}

func strp(s string) *string { return &s }

func testDocument(t *testing.T, p domdoc.Params) domdoc.Document {
	t.Helper()
	if p.Subject == "" {
		p.Subject = "subject of " + p.ID
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	}
	doc, err := domdoc.New(p)
	if err != nil {
		t.Fatalf("domdoc.New: %v", err)
	}
	return doc
}

// hashOf returns the stored representation of doc.
func hashOf(t *testing.T, doc domdoc.Document) map[string]string {
	t.Helper()
	m, err := buildHashFields(&doc)
	if err != nil {
		t.Fatalf("buildHashFields: %v", err)
	}
	return m
}
