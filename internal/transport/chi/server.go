package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/mailrag/internal/domain"
	domhist "github.com/kailas-cloud/mailrag/internal/domain/history"
	"github.com/kailas-cloud/mailrag/internal/domain/search/request"
	"github.com/kailas-cloud/mailrag/internal/domain/search/result"
	logpkg "github.com/kailas-cloud/mailrag/internal/logger"
	healthuc "github.com/kailas-cloud/mailrag/internal/usecase/health"
	"github.com/kailas-cloud/mailrag/internal/usecase/retrieval"
)

// History listing bounds for GET /history.
const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// Retriever is the query engine and index lifecycle surface used by the handlers.
type Retriever interface {
	Query(ctx context.Context, req *request.Request) (result.Result, error)
	BuildIndex(ctx context.Context, force bool) (retrieval.Status, error)
	RebuildIndex(ctx context.Context) (retrieval.Status, error)
	Status() retrieval.Status
}

// HistoryReader lists recent queries, most recent first.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]domhist.Entry, error)
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server holds the HTTP handlers.
type Server struct {
	retriever     Retriever
	history       HistoryReader
	health        *healthuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. history may be nil when history is disabled.
func NewServer(retriever Retriever, history HistoryReader, health *healthuc.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		retriever: retriever,
		history:   history,
		health:    health,
		logger:    logger,
		errorHandlers: []errorHandler{
			sentinelHandler(domain.ErrInvalidQuery, http.StatusBadRequest, CodeValidationFailed),
			sentinelHandler(domain.ErrNotFound, http.StatusNotFound, CodeNotFound),
			sentinelHandler(domain.ErrIndexNotReady, http.StatusServiceUnavailable, CodeIndexNotReady),
			sentinelHandler(domain.ErrProvider, http.StatusBadGateway, CodeProviderError),
		},
	}
}

// Query handles POST /query.
func (s *Server) Query(w http.ResponseWriter, r *http.Request) {
	var body QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	var asOf time.Time
	if body.AsOf != nil && *body.AsOf != "" {
		t, err := parseAsOf(*body.AsOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
			return
		}
		asOf = t
	}

	req, err := request.New(body.Query, asOf)
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	res, err := s.retriever.Query(ctx, &req)
	if err != nil {
		s.handleDomainError(ctx, w, err)
		return
	}

	setEmbeddingHeaders(w, usage)
	writeJSON(w, http.StatusOK, queryResultToResponse(&res))
}

// BuildIndex handles POST /index/build?force=.
func (s *Server) BuildIndex(w http.ResponseWriter, r *http.Request) {
	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeValidationFailed, "force must be a boolean")
			return
		}
		force = b
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	st, err := s.retriever.BuildIndex(ctx, force)
	if err != nil {
		s.handleDomainError(ctx, w, err)
		return
	}
	setEmbeddingHeaders(w, usage)
	writeJSON(w, http.StatusOK, statusToResponse(st))
}

// RebuildIndex handles POST /index/rebuild.
func (s *Server) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	ctx, usage := domain.NewContextWithUsage(r.Context())
	st, err := s.retriever.RebuildIndex(ctx)
	if err != nil {
		s.handleDomainError(ctx, w, err)
		return
	}
	setEmbeddingHeaders(w, usage)
	writeJSON(w, http.StatusOK, statusToResponse(st))
}

// IndexStatus handles GET /index/status.
func (s *Server) IndexStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusToResponse(s.retriever.Status()))
}

// History handles GET /history?limit=.
func (s *Server) History(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "query history is disabled")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			writeError(w, http.StatusBadRequest, CodeValidationFailed,
				fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit))
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, historyToItems(entries))
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, HealthResponse{Status: string(report.Status), Checks: checks})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func parseAsOf(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, errors.New("as_of must be RFC 3339 or YYYY-MM-DD")
	}
	return t, nil
}

func setEmbeddingHeaders(w http.ResponseWriter, usage *domain.EmbeddingUsage) {
	if usage.Used() {
		w.Header().Set("X-Embedding-Tokens", strconv.Itoa(usage.TotalTokens()))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
// Invalid-query messages are the caller's own input and pass through.
func safeDomainMessage(err error) string {
	if errors.Is(err, domain.ErrInvalidQuery) {
		return err.Error()
	}
	sentinels := []error{
		domain.ErrNotFound,
		domain.ErrIndexNotReady,
		domain.ErrEmbeddingProviderError,
		domain.ErrInterpreterError,
		domain.ErrProvider,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := logpkg.FromContext(ctx)
	logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
