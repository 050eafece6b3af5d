package result

import (
	"time"

	"github.com/kailas-cloud/mailrag/internal/domain/document"
	"github.com/kailas-cloud/mailrag/internal/domain/search/filter"
	"github.com/kailas-cloud/mailrag/internal/domain/search/mode"
)

// Degradation stages.
const (
	StageIndex = "index"
	StageBuild = "build"
	StageParse = "parse"
	StageEmbed = "embed"
)

// Degradation records a quality loss the query recovered from.
type Degradation struct {
	Stage  string
	Reason string
}

// Result is the answer to one query.
type Result struct {
	query        string
	documents    []document.Document
	elapsed      time.Duration
	indexVersion uint64
	mode         mode.Mode
	spec         filter.Spec
	degradations []Degradation
}

// New creates a query result.
func New(
	query string, docs []document.Document, elapsed time.Duration,
	indexVersion uint64, m mode.Mode, spec filter.Spec, degradations []Degradation,
) Result {
	return Result{
		query: query, documents: docs, elapsed: elapsed,
		indexVersion: indexVersion, mode: m, spec: spec, degradations: degradations,
	}
}

// Query returns the query text.
func (r *Result) Query() string { return r.query }

// Documents returns the ordered matches.
func (r *Result) Documents() []document.Document { return r.documents }

// Count returns the number of matches.
func (r *Result) Count() int { return len(r.documents) }

// Elapsed returns the wall-clock execution time.
func (r *Result) Elapsed() time.Duration { return r.elapsed }

// IndexVersion returns the snapshot version used, 0 if none.
func (r *Result) IndexVersion() uint64 { return r.indexVersion }

// Mode returns the ranking strategy applied.
func (r *Result) Mode() mode.Mode { return r.mode }

// Spec returns the parsed filter.
func (r *Result) Spec() filter.Spec { return r.spec }

// Degradations returns recovered failures, in occurrence order.
func (r *Result) Degradations() []Degradation { return r.degradations }

// Degraded reports whether any stage fell back.
func (r *Result) Degraded() bool { return len(r.degradations) > 0 }
