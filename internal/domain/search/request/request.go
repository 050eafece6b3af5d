package request

import (
	"fmt"
	"strings"
	"time"

	"github.com/kailas-cloud/mailrag/internal/domain"
)

// MaxQueryLength is the maximum allowed query length in bytes.
const MaxQueryLength = 4096

// Request is a validated natural-language query.
type Request struct {
	query string
	asOf  time.Time
}

// New validates and normalizes a query. Whitespace runs collapse to single spaces.
// A zero asOf means "now" at execution time.
func New(query string, asOf time.Time) (Request, error) {
	if len(query) > MaxQueryLength {
		return Request{}, fmt.Errorf("%w: query too long (max %d chars)", domain.ErrInvalidQuery, MaxQueryLength)
	}
	query = strings.Join(strings.Fields(query), " ")
	if query == "" {
		return Request{}, fmt.Errorf("%w: query is required", domain.ErrInvalidQuery)
	}
	return Request{query: query, asOf: asOf}, nil
}

// Query returns the normalized query text.
func (r *Request) Query() string { return r.query }

// AsOf returns the reference time for relative date expressions.
func (r *Request) AsOf() time.Time { return r.asOf }

// ResolveAsOf returns AsOf, or now when it was not set.
func (r *Request) ResolveAsOf(now func() time.Time) time.Time {
	if r.asOf.IsZero() {
		return now()
	}
	return r.asOf
}
