package retrieval

import (
	"context"
	"time"

	domdoc "github.com/kailas-cloud/mailrag/internal/domain/document"
	domhist "github.com/kailas-cloud/mailrag/internal/domain/history"
	"github.com/kailas-cloud/mailrag/internal/domain/search/filter"
	"github.com/kailas-cloud/mailrag/internal/usecase/queryparse"
)

// DocumentLister lists non-deleted documents matching every structured field of spec.
type DocumentLister interface {
	List(ctx context.Context, spec filter.Spec) ([]domdoc.Document, error)
}

// QueryParser translates query text into a filter spec. It never fails.
type QueryParser interface {
	Parse(ctx context.Context, text string, asOf time.Time) queryparse.Outcome
}

// HistoryRecorder persists one entry per answered query.
type HistoryRecorder interface {
	Record(ctx context.Context, e domhist.Entry) error
}
