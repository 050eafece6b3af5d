package chi

import (
	"math"
	"time"

	domdoc "github.com/kailas-cloud/mailrag/internal/domain/document"
	domhist "github.com/kailas-cloud/mailrag/internal/domain/history"
	"github.com/kailas-cloud/mailrag/internal/domain/search/result"
	"github.com/kailas-cloud/mailrag/internal/usecase/retrieval"
)

// ErrorCode is a stable machine-readable error identifier.
type ErrorCode string

// Error codes.
const (
	CodeBadRequest       ErrorCode = "bad_request"
	CodeUnauthorized     ErrorCode = "unauthorized"
	CodeValidationFailed ErrorCode = "validation_failed"
	CodeNotFound         ErrorCode = "not_found"
	CodeProviderError    ErrorCode = "provider_error"
	CodeIndexNotReady    ErrorCode = "index_not_ready"
	CodeInternalError    ErrorCode = "internal_error"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// QueryRequest is the body of POST /query. AsOf accepts RFC 3339 or YYYY-MM-DD.
type QueryRequest struct {
	Query string  `json:"query"`
	AsOf  *string `json:"as_of,omitempty"`
}

// DegradationItem reports one recovered failure.
type DegradationItem struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// DocumentItem is a document in a query response.
type DocumentItem struct {
	ID        string            `json:"id"`
	Sender    string            `json:"sender,omitempty"`
	Subject   string            `json:"subject"`
	Summary   string            `json:"summary,omitempty"`
	Category  string            `json:"category"`
	Priority  string            `json:"priority"`
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Entities  map[string]string `json:"entities,omitempty"`
}

// QueryResponse is the body returned by POST /query.
type QueryResponse struct {
	Query         string            `json:"query"`
	ResultsCount  int               `json:"results_count"`
	ExecutionTime float64           `json:"execution_time"`
	IndexVersion  uint64            `json:"index_version"`
	Mode          string            `json:"mode"`
	Degradations  []DegradationItem `json:"degradations"`
	Results       []DocumentItem    `json:"results"`
}

// IndexStatusResponse describes the published vector index.
type IndexStatusResponse struct {
	State        string     `json:"state"`
	Version      uint64     `json:"version"`
	BuiltAt      *time.Time `json:"built_at,omitempty"`
	Size         int        `json:"size"`
	DegradedRows int        `json:"degraded_rows"`
	AgeSeconds   float64    `json:"age_seconds"`
	Stale        bool       `json:"stale"`
}

// HistoryItem is one entry of GET /history.
type HistoryItem struct {
	ID            string    `json:"id"`
	Query         string    `json:"query"`
	ResultsCount  int       `json:"results_count"`
	ExecutionTime float64   `json:"execution_time"`
	CreatedAt     time.Time `json:"created_at"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}

func queryResultToResponse(r *result.Result) QueryResponse {
	docs := r.Documents()
	items := make([]DocumentItem, len(docs))
	for i := range docs {
		items[i] = documentToItem(&docs[i])
	}

	degr := make([]DegradationItem, 0, len(r.Degradations()))
	for _, d := range r.Degradations() {
		degr = append(degr, DegradationItem{Stage: d.Stage, Reason: d.Reason})
	}

	return QueryResponse{
		Query:         r.Query(),
		ResultsCount:  r.Count(),
		ExecutionTime: seconds(r.Elapsed()),
		IndexVersion:  r.IndexVersion(),
		Mode:          string(r.Mode()),
		Degradations:  degr,
		Results:       items,
	}
}

func documentToItem(d *domdoc.Document) DocumentItem {
	return DocumentItem{
		ID:        d.ID(),
		Sender:    d.Sender(),
		Subject:   d.Subject(),
		Summary:   d.Summary(),
		Category:  string(d.Category()),
		Priority:  string(d.Priority()),
		Status:    string(d.Status()),
		Timestamp: d.Timestamp(),
		Entities:  d.Entities(),
	}
}

func statusToResponse(st retrieval.Status) IndexStatusResponse {
	resp := IndexStatusResponse{
		State:        string(st.State),
		Version:      st.Version,
		Size:         st.Size,
		DegradedRows: st.DegradedRows,
		AgeSeconds:   seconds(st.Age),
		Stale:        st.Stale,
	}
	if !st.BuiltAt.IsZero() {
		b := st.BuiltAt
		resp.BuiltAt = &b
	}
	return resp
}

func historyToItems(entries []domhist.Entry) []HistoryItem {
	items := make([]HistoryItem, len(entries))
	for i, e := range entries {
		items[i] = HistoryItem{
			ID:            e.ID.String(),
			Query:         e.Query,
			ResultsCount:  e.ResultsCount,
			ExecutionTime: seconds(e.Elapsed),
			CreatedAt:     e.CreatedAt,
		}
	}
	return items
}
