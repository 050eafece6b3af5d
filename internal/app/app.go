// Package app is the composition root shared by the server and the CLI.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/mailrag/internal/config"
	dbRedis "github.com/kailas-cloud/mailrag/internal/db/redis"
	"github.com/kailas-cloud/mailrag/internal/domain"
	domdoc "github.com/kailas-cloud/mailrag/internal/domain/document"
	domhist "github.com/kailas-cloud/mailrag/internal/domain/history"
	"github.com/kailas-cloud/mailrag/internal/domain/search/filter"
	"github.com/kailas-cloud/mailrag/internal/metrics"
	documentrepo "github.com/kailas-cloud/mailrag/internal/repository/document"
	"github.com/kailas-cloud/mailrag/internal/repository/embcache"
	historyrepo "github.com/kailas-cloud/mailrag/internal/repository/history"
	"github.com/kailas-cloud/mailrag/internal/repository/sqldoc"
	chiTransport "github.com/kailas-cloud/mailrag/internal/transport/chi"
	openaiTransport "github.com/kailas-cloud/mailrag/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/mailrag/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/mailrag/internal/usecase/health"
	"github.com/kailas-cloud/mailrag/internal/usecase/queryparse"
	"github.com/kailas-cloud/mailrag/internal/usecase/retrieval"
)

// DocumentStore is the read/write surface both backends provide.
type DocumentStore interface {
	Save(ctx context.Context, doc *domdoc.Document) (bool, error)
	SaveBatch(ctx context.Context, docs []domdoc.Document) error
	Get(ctx context.Context, id string) (domdoc.Document, error)
	SoftDelete(ctx context.Context, id string) error
	List(ctx context.Context, spec filter.Spec) ([]domdoc.Document, error)
}

// HistoryStore records and lists query executions.
type HistoryStore interface {
	Record(ctx context.Context, e domhist.Entry) error
	Recent(ctx context.Context, limit int) ([]domhist.Entry, error)
}

type kvStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// App holds the wired components.
type App struct {
	Docs      DocumentStore
	History   HistoryStore // nil when history is disabled
	Retrieval *retrieval.Service
	Health    *healthuc.Service

	logger  *zap.Logger
	closers []func()
}

// backend is the storage selected by database.driver.
type backend struct {
	docs    DocumentStore
	cache   kvStore
	history HistoryStore
	pinger  pinger
	close   func()
}

// New wires storage, providers and the retrieval engine from cfg.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Embedding.APIKey == "" {
		return nil, fmt.Errorf("embedding: %w", domain.ErrMissingCredentials)
	}

	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterRetrievalMetrics()

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &App{Docs: be.docs, logger: logger, closers: []func(){be.close}}
	if cfg.History.IsEnabled() {
		a.History = be.history
	}

	base := openaiTransport.NewEmbedder(&openaiTransport.EmbedderConfig{
		APIKey:         cfg.Embedding.APIKey,
		BaseURL:        cfg.Embedding.BaseURL,
		Model:          cfg.Embedding.Model,
		Dimensions:     cfg.Embedding.Dimensions,
		SendDimensions: cfg.Embedding.SendDimensions,
		Provider:       cfg.Embedding.Provider,
		Logger:         logger,
	})

	// Pass nil interface (not a typed nil) when persistence is off.
	var persistent kvStore
	if cfg.Cache.Persist {
		persistent = be.cache
	}
	embedder, err := buildEmbedder(base, persistent, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	docEmbedder := domain.NewInstructionEmbedder(embedder, cfg.Embedding.DocumentInstruction)
	queryEmbedder := domain.NewInstructionEmbedder(embedder, cfg.Embedding.QueryInstruction)

	interp := openaiTransport.NewInterpreter(&openaiTransport.InterpreterConfig{
		APIKey:      cfg.QueryParser.APIKey,
		BaseURL:     cfg.QueryParser.BaseURL,
		Model:       cfg.QueryParser.Model,
		Temperature: cfg.QueryParser.Temperature,
		Provider:    cfg.Embedding.Provider,
		Logger:      logger,
	})
	parser := queryparse.New(interp, cfg.Retrieval.ProviderTimeout(), logger)

	var recorder retrieval.HistoryRecorder
	if a.History != nil {
		recorder = a.History
	}
	svc, err := retrieval.New(be.docs, docEmbedder, parser, recorder, retrieval.Config{
		Dimensions:   cfg.Embedding.Dimensions,
		OverFetchK:   cfg.Retrieval.OverFetchK,
		ResultLimit:  cfg.Retrieval.ResultLimit,
		BuildWorkers: cfg.Retrieval.BuildWorkers,
		MaxStaleness: cfg.Retrieval.MaxStaleness(),
		LazyBuild:    cfg.Retrieval.LazyBuild == nil || *cfg.Retrieval.LazyBuild,
	}, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create retrieval engine: %w", err)
	}
	a.Retrieval = svc.WithQueryEmbedder(queryEmbedder)
	a.closers = append(a.closers, svc.Close)

	a.Health = healthuc.New(be.pinger, base, svc)

	logger.Info("Retrieval engine wired",
		zap.String("driver", cfg.Database.Driver),
		zap.String("embedding_model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
		zap.String("parser_model", cfg.QueryParser.Model),
		zap.Bool("cache_persist", cfg.Cache.Persist),
		zap.Bool("history", a.History != nil),
	)
	return a, nil
}

// Handler builds the HTTP router.
func (a *App) Handler(apiKeys []string) http.Handler {
	var history chiTransport.HistoryReader
	if a.History != nil {
		history = a.History
	}
	server := chiTransport.NewServer(a.Retrieval, history, a.Health, a.logger)
	return chiTransport.NewRouter(server, apiKeys, a.logger)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (backend, error) {
	switch cfg.Database.Driver {
	case config.DriverRedis:
		store, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Database.Addrs,
			Password: cfg.Database.Password,
		})
		if err != nil {
			return backend{}, fmt.Errorf("create redis store: %w", err)
		}
		timeout := time.Duration(cfg.Database.ReadinessTimeout) * time.Second
		if err := store.WaitForReady(ctx, timeout); err != nil {
			store.Close()
			return backend{}, fmt.Errorf("redis not ready: %w", err)
		}
		logger.Info("Connected to redis", zap.Strings("addrs", cfg.Database.Addrs))
		return backend{
			docs:    documentrepo.New(store),
			cache:   store,
			history: historyrepo.New(store, cfg.History.MaxEntries),
			pinger:  store,
			close:   store.Close,
		}, nil
	case config.DriverSQLite:
		store, err := sqldoc.Open(ctx, cfg.Database.SQLitePath, cfg.History.MaxEntries)
		if err != nil {
			return backend{}, fmt.Errorf("open sqlite store: %w", err)
		}
		logger.Info("Opened sqlite database", zap.String("path", cfg.Database.SQLitePath))
		return backend{
			docs:    store,
			cache:   store.Cache(),
			history: store,
			pinger:  store,
			close:   func() { _ = store.Close() },
		}, nil
	default:
		return backend{}, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instrumented.
// Instruction prefixes go on top so cache keys include them.
func buildEmbedder(base domain.Embedder, persistent kvStore, cfg *config.Config, logger *zap.Logger) (domain.Embedder, error) {
	cached, err := embcache.New(base, persistent, cfg.Cache.MaxEntries, metrics.EmbeddingCacheTotal, logger)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	cached.WithCallTimeout(cfg.Retrieval.ProviderTimeout())
	return embeddinguc.NewInstrumentedEmbedder(
		cached, cfg.Embedding.Provider, cfg.Embedding.Model, cfg.Retrieval.ProviderTimeout(), logger,
	), nil
}
