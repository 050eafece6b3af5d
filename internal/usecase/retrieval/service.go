package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/mailrag/internal/domain"
	domdoc "github.com/kailas-cloud/mailrag/internal/domain/document"
	domhist "github.com/kailas-cloud/mailrag/internal/domain/history"
	"github.com/kailas-cloud/mailrag/internal/domain/search/filter"
	"github.com/kailas-cloud/mailrag/internal/domain/search/mode"
	"github.com/kailas-cloud/mailrag/internal/domain/search/request"
	"github.com/kailas-cloud/mailrag/internal/domain/search/result"
	"github.com/kailas-cloud/mailrag/internal/metrics"
	"github.com/kailas-cloud/mailrag/internal/vectorindex"
)

// Defaults applied by New to zero Config fields.
const (
	DefaultOverFetchK   = 50
	DefaultResultLimit  = 100
	DefaultBuildWorkers = 4
)

const buildKey = "index"

// Config tunes the engine.
type Config struct {
	Dimensions   int
	OverFetchK   int
	ResultLimit  int
	BuildWorkers int
	// MaxStaleness > 0 lets a query trigger one background rebuild when the
	// published snapshot is older.
	MaxStaleness time.Duration
	LazyBuild    bool
	Now          func() time.Time
}

// Service is the hybrid retrieval engine. It owns the published index
// snapshot; queries read it with a single atomic load.
type Service struct {
	docs       DocumentLister
	embed      domain.Embedder
	queryEmbed domain.Embedder
	parser     QueryParser
	history    HistoryRecorder
	cfg        Config
	logger     *zap.Logger

	current    atomic.Pointer[vectorindex.Snapshot]
	building   atomic.Bool
	refreshing atomic.Bool
	group      singleflight.Group
	pool       *ants.Pool

	// closeMu orders background.Add against Close.
	closeMu    sync.Mutex
	closed     bool
	background sync.WaitGroup
}

// New creates the engine. history may be nil.
func New(
	docs DocumentLister, embed domain.Embedder, parser QueryParser,
	history HistoryRecorder, cfg Config, logger *zap.Logger,
) (*Service, error) {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = domain.DefaultDimensions
	}
	if cfg.OverFetchK <= 0 {
		cfg.OverFetchK = DefaultOverFetchK
	}
	if cfg.ResultLimit <= 0 {
		cfg.ResultLimit = DefaultResultLimit
	}
	if cfg.BuildWorkers <= 0 {
		cfg.BuildWorkers = DefaultBuildWorkers
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := ants.NewPool(cfg.BuildWorkers)
	if err != nil {
		return nil, fmt.Errorf("create build pool: %w", err)
	}

	return &Service{
		docs:       docs,
		embed:      embed,
		queryEmbed: embed,
		parser:     parser,
		history:    history,
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
	}, nil
}

// WithQueryEmbedder sets a separate embedder for query keywords, e.g. one
// carrying a query-side instruction prefix. It must produce vectors in the
// same space as the document embedder.
func (s *Service) WithQueryEmbedder(e domain.Embedder) *Service {
	if e != nil {
		s.queryEmbed = e
	}
	return s
}

// BuildIndex publishes a snapshot of every non-deleted document. Without
// force it is a no-op once a snapshot exists. Concurrent calls share one
// build, which keeps running if the caller gives up.
func (s *Service) BuildIndex(ctx context.Context, force bool) (Status, error) {
	if !force && s.current.Load() != nil {
		return s.Status(), nil
	}

	ch := s.group.DoChan(buildKey, func() (any, error) {
		if !force && s.current.Load() != nil {
			return nil, nil
		}
		return nil, s.build(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return s.Status(), res.Err
		}
		return s.Status(), nil
	case <-ctx.Done():
		return s.Status(), fmt.Errorf("wait for index build: %w", ctx.Err())
	}
}

// RebuildIndex always builds a new snapshot.
func (s *Service) RebuildIndex(ctx context.Context) (Status, error) {
	return s.BuildIndex(ctx, true)
}

func (s *Service) build(ctx context.Context) error {
	s.building.Store(true)
	defer s.building.Store(false)

	start := time.Now()
	docs, err := s.docs.List(ctx, filter.Spec{})
	if err != nil {
		metrics.IndexBuildsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("list documents: %w", err)
	}

	entries, err := s.embedAll(ctx, docs)
	if err != nil {
		metrics.IndexBuildsTotal.WithLabelValues("error").Inc()
		return err
	}

	var version uint64 = 1
	if prev := s.current.Load(); prev != nil {
		version = prev.Version() + 1
	}

	snap, err := vectorindex.Build(version, entries, s.cfg.Dimensions, s.cfg.Now())
	if err != nil {
		metrics.IndexBuildsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("build snapshot: %w", err)
	}
	s.current.Store(snap)

	duration := time.Since(start)
	metrics.IndexBuildsTotal.WithLabelValues("success").Inc()
	metrics.IndexBuildDuration.Observe(duration.Seconds())
	metrics.IndexSize.Set(float64(snap.Size()))
	metrics.IndexVersion.Set(float64(snap.Version()))

	s.logger.Info("Index published",
		zap.Uint64("version", snap.Version()),
		zap.Int("size", snap.Size()),
		zap.Int("degraded_rows", snap.DegradedRows()),
		zap.Duration("duration", duration),
	)
	return nil
}

// embedAll vectorizes documents on the build pool. A failed document gets a
// zero vector; a dimension mismatch aborts the build.
func (s *Service) embedAll(ctx context.Context, docs []domdoc.Document) ([]vectorindex.Entry, error) {
	entries := make([]vectorindex.Entry, len(docs))

	var (
		wg       sync.WaitGroup
		fatalMu  sync.Mutex
		fatalErr error
	)
	for i := range docs {
		task := func() {
			defer wg.Done()
			outcome := s.embedDocument(ctx, &docs[i])
			if outcome.IsDegraded() && errors.Is(outcome.Reason(), domain.ErrVectorDimMismatch) {
				fatalMu.Lock()
				if fatalErr == nil {
					fatalErr = outcome.Reason()
				}
				fatalMu.Unlock()
			}
			entries[i] = vectorindex.Entry{
				ID:       docs[i].ID(),
				Vector:   outcome.Vector(),
				Degraded: outcome.IsDegraded(),
			}
		}

		wg.Add(1)
		if err := s.pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()

	if fatalErr != nil {
		return nil, fmt.Errorf("embed documents: %w", fatalErr)
	}
	return entries, nil
}

func (s *Service) embedDocument(ctx context.Context, doc *domdoc.Document) domain.EmbeddingOutcome {
	res, err := s.embed.Embed(ctx, doc.EmbeddingText())
	if err == nil {
		domain.UsageFromContext(ctx).AddTokens(res.TotalTokens)
	}
	if err == nil && len(res.Embedding) != s.cfg.Dimensions {
		err = domain.NewDimensionMismatch(doc.ID(), s.cfg.Dimensions, len(res.Embedding))
	}
	if err != nil {
		metrics.DegradationsTotal.WithLabelValues(result.StageBuild).Inc()
		s.logger.Warn("Document embedding failed, using zero vector",
			zap.String("document_id", doc.ID()),
			zap.Error(err),
		)
		return domain.Degraded(s.cfg.Dimensions, err)
	}
	return domain.Embedded(res.Embedding)
}

// Query answers one natural-language query against the published snapshot.
// Only store failures are returned as errors; everything else degrades.
func (s *Service) Query(ctx context.Context, req *request.Request) (result.Result, error) {
	start := time.Now()
	asOf := req.ResolveAsOf(s.cfg.Now)
	var degradations []result.Degradation

	if s.current.Load() == nil {
		if err := s.lazyBuild(ctx); err != nil {
			degradations = s.degrade(degradations, result.StageIndex, err)
			elapsed := time.Since(start)
			s.recordHistory(ctx, req.Query(), 0, elapsed)
			return result.New(req.Query(), nil, elapsed, 0, mode.Structured, filter.Spec{}, degradations), nil
		}
	}

	outcome := s.parser.Parse(ctx, req.Query(), asOf)
	if outcome.Fallback {
		degradations = s.degrade(degradations, result.StageParse, outcome.Reason)
	}
	spec := outcome.Spec

	snap := s.current.Load()
	s.maybeRefresh(snap)

	var (
		structured []domdoc.Document
		neighbors  []vectorindex.Neighbor
		embedErr   error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		structured, err = s.docs.List(gctx, spec)
		if err != nil {
			return fmt.Errorf("list candidates: %w", err)
		}
		return nil
	})
	if spec.HasKeywords() {
		g.Go(func() error {
			res, err := s.queryEmbed.Embed(gctx, spec.KeywordText())
			if errors.Is(err, domain.ErrVectorDimMismatch) {
				return fmt.Errorf("embed query: %w", err)
			}
			if err != nil {
				embedErr = err
				return nil
			}
			domain.UsageFromContext(gctx).AddTokens(res.TotalTokens)
			neighbors, err = snap.Search(res.Embedding, s.cfg.OverFetchK)
			if err != nil {
				return fmt.Errorf("search index: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result.Result{}, err
	}

	var (
		docs []domdoc.Document
		m    = mode.Structured
	)
	switch {
	case embedErr != nil:
		degradations = s.degrade(degradations, result.StageEmbed, embedErr)
		docs = orderByRecency(structured, s.cfg.ResultLimit)
	case len(neighbors) > 0:
		docs = intersectRanked(structured, neighbors, s.cfg.ResultLimit)
		m = mode.Hybrid
	default:
		docs = orderByRecency(structured, s.cfg.ResultLimit)
	}

	elapsed := time.Since(start)
	metrics.QueryDuration.WithLabelValues(string(m)).Observe(elapsed.Seconds())
	s.recordHistory(ctx, req.Query(), len(docs), elapsed)

	s.logger.Debug("Query answered",
		zap.String("query", req.Query()),
		zap.String("mode", string(m)),
		zap.Int("results", len(docs)),
		zap.Uint64("index_version", snap.Version()),
		zap.Duration("elapsed", elapsed),
	)

	return result.New(req.Query(), docs, elapsed, snap.Version(), m, spec, degradations), nil
}

func (s *Service) lazyBuild(ctx context.Context) error {
	if !s.cfg.LazyBuild {
		return domain.ErrIndexNotReady
	}
	if _, err := s.BuildIndex(ctx, false); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrIndexNotReady, err)
	}
	return nil
}

// maybeRefresh starts one background rebuild when snap is older than MaxStaleness.
func (s *Service) maybeRefresh(snap *vectorindex.Snapshot) {
	if s.cfg.MaxStaleness <= 0 || s.cfg.Now().Sub(snap.BuiltAt()) <= s.cfg.MaxStaleness {
		return
	}
	s.closeMu.Lock()
	if s.closed || !s.refreshing.CompareAndSwap(false, true) {
		s.closeMu.Unlock()
		return
	}
	s.background.Add(1)
	s.closeMu.Unlock()

	go func() {
		defer s.background.Done()
		defer s.refreshing.Store(false)

		if _, err := s.RebuildIndex(context.Background()); err != nil {
			s.logger.Error("Background index rebuild failed", zap.Error(err))
		}
	}()
}

func (s *Service) degrade(list []result.Degradation, stage string, reason error) []result.Degradation {
	metrics.DegradationsTotal.WithLabelValues(stage).Inc()
	s.logger.Warn("Query degraded", zap.String("stage", stage), zap.Error(reason))
	msg := ""
	if reason != nil {
		msg = reason.Error()
	}
	return append(list, result.Degradation{Stage: stage, Reason: msg})
}

func (s *Service) recordHistory(ctx context.Context, query string, count int, elapsed time.Duration) {
	if s.history == nil {
		return
	}
	entry, err := domhist.NewEntry(query, count, elapsed, s.cfg.Now())
	if err == nil {
		err = s.history.Record(ctx, entry)
	}
	if err != nil {
		s.logger.Warn("Failed to record query history", zap.Error(err))
	}
}

// Ready reports whether a snapshot has been published.
func (s *Service) Ready() bool {
	return s.current.Load() != nil
}

// Close waits for background rebuilds and releases the build pool.
func (s *Service) Close() {
	s.closeMu.Lock()
	s.closed = true
	s.closeMu.Unlock()

	s.background.Wait()
	s.pool.Release()
}
