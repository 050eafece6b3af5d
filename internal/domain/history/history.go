package history

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry is one recorded query execution.
type Entry struct {
	ID           uuid.UUID
	Query        string
	ResultsCount int
	Elapsed      time.Duration
	CreatedAt    time.Time
}

// NewEntry creates an entry with a fresh random ID.
func NewEntry(query string, resultsCount int, elapsed time.Duration, at time.Time) (Entry, error) {
	if query == "" {
		return Entry{}, fmt.Errorf("query is required")
	}
	if resultsCount < 0 {
		return Entry{}, fmt.Errorf("results count must be non-negative")
	}
	return Entry{
		ID:           uuid.New(),
		Query:        query,
		ResultsCount: resultsCount,
		Elapsed:      elapsed,
		CreatedAt:    at.UTC(),
	}, nil
}
