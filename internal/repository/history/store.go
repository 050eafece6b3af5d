package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/mailrag/internal/domain"
	domhist "github.com/kailas-cloud/mailrag/internal/domain/history"
)

var listKey = domain.KeyPrefix + "query_history"

// store is the consumer interface for the history list (ISP).
type store interface {
	PushCapped(ctx context.Context, key string, value []byte, maxLen int) error
	Range(ctx context.Context, key string, start, stop int) ([][]byte, error)
}

type entryJSON struct {
	ID           string  `json:"id"`
	Query        string  `json:"query"`
	ResultsCount int     `json:"results_count"`
	ElapsedSec   float64 `json:"execution_time"`
	CreatedAt    string  `json:"created_at"`
}

// Store keeps the most recent query executions in a capped Redis list.
type Store struct {
	store      store
	maxEntries int
}

// New creates a history store. maxEntries <= 0 keeps every entry.
func New(s store, maxEntries int) *Store {
	return &Store{store: s, maxEntries: maxEntries}
}

// Record appends an entry.
func (s *Store) Record(ctx context.Context, e domhist.Entry) error {
	data, err := json.Marshal(entryJSON{
		ID:           e.ID.String(),
		Query:        e.Query,
		ResultsCount: e.ResultsCount,
		ElapsedSec:   e.Elapsed.Seconds(),
		CreatedAt:    e.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	if err := s.store.PushCapped(ctx, listKey, data, s.maxEntries); err != nil {
		return fmt.Errorf("push history entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]domhist.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	raw, err := s.store.Range(ctx, listKey, 0, limit-1)
	if err != nil {
		return nil, fmt.Errorf("range history: %w", err)
	}

	out := make([]domhist.Entry, 0, len(raw))
	for _, b := range raw {
		var j entryJSON
		if err := json.Unmarshal(b, &j); err != nil {
			return nil, fmt.Errorf("unmarshal history entry: %w", err)
		}
		id, err := uuid.Parse(j.ID)
		if err != nil {
			return nil, fmt.Errorf("parse history id %q: %w", j.ID, err)
		}
		created, err := time.Parse(time.RFC3339Nano, j.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("parse history time %q: %w", j.CreatedAt, err)
		}
		out = append(out, domhist.Entry{
			ID:           id,
			Query:        j.Query,
			ResultsCount: j.ResultsCount,
			Elapsed:      time.Duration(j.ElapsedSec * float64(time.Second)),
			CreatedAt:    created,
		})
	}
	return out, nil
}
