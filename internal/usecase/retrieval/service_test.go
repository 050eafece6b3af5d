package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kailas-cloud/mailrag/internal/domain"
	domdoc "github.com/kailas-cloud/mailrag/internal/domain/document"
	"github.com/kailas-cloud/mailrag/internal/domain/search/filter"
	"github.com/kailas-cloud/mailrag/internal/domain/search/mode"
	"github.com/kailas-cloud/mailrag/internal/domain/search/request"
	"github.com/kailas-cloud/mailrag/internal/domain/search/result"
	"github.com/kailas-cloud/mailrag/internal/usecase/queryparse"
)

func mustRequest(t *testing.T, q string) *request.Request {
	t.Helper()
	r, err := request.New(q, base)
	if err != nil {
		t.Fatalf("request.New: %v", err)
	}
	return &r
}

func noKeywords(t *testing.T) *mockParser {
	return parserReturning(t, filter.Params{})
}

func TestBuildIndex_EmptyStore(t *testing.T) {
	svc := newService(t, &memStore{}, newTableEmbedder(3), noKeywords(t), nil, Config{})

	st, err := svc.BuildIndex(context.Background(), false)
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	if st.State != StateBuilt || st.Version != 1 || st.Size != 0 {
		t.Errorf("unexpected status: %+v", st)
	}

	res, err := svc.Query(context.Background(), mustRequest(t, "anything"))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Count() != 0 || res.Degraded() {
		t.Errorf("expected empty clean result, got %d docs, %v", res.Count(), res.Degradations())
	}
}

func TestBuildIndex_NoForceKeepsVersion(t *testing.T) {
	store := &memStore{docs: docsAt(t, "a", "b")}
	svc := newService(t, store, newTableEmbedder(3), noKeywords(t), nil, Config{})
	ctx := context.Background()

	if _, err := svc.BuildIndex(ctx, false); err != nil {
		t.Fatal(err)
	}
	st, err := svc.BuildIndex(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if st.Version != 1 || store.calls.Load() != 1 {
		t.Errorf("expected no rebuild, version=%d lists=%d", st.Version, store.calls.Load())
	}

	st, err = svc.RebuildIndex(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Version != 2 || st.Size != 2 {
		t.Errorf("expected version 2 with 2 rows, got %+v", st)
	}
}

func TestBuildIndex_DegradedRows(t *testing.T) {
	docs := docsAt(t, "ok", "bad")
	emb := newTableEmbedder(3)
	emb.set(docs[0].EmbeddingText(), 1, 0, 0)
	emb.fail(docs[1].EmbeddingText())

	svc := newService(t, &memStore{docs: docs}, emb, noKeywords(t), nil, Config{})
	st, err := svc.BuildIndex(context.Background(), false)
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	if st.Size != 2 || st.DegradedRows != 1 {
		t.Errorf("expected 2 rows with 1 degraded, got %+v", st)
	}
}

func TestBuildIndex_DimensionMismatchIsFatal(t *testing.T) {
	docs := docsAt(t, "a")
	emb := newTableEmbedder(3)
	emb.set(docs[0].EmbeddingText(), 1, 2)

	svc := newService(t, &memStore{docs: docs}, emb, noKeywords(t), nil, Config{})
	_, err := svc.BuildIndex(context.Background(), false)
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Fatalf("expected ErrVectorDimMismatch, got %v", err)
	}
	if svc.Ready() {
		t.Error("no snapshot must be published")
	}
}

func TestBuildIndex_Coalesced(t *testing.T) {
	store := &memStore{docs: docsAt(t, "a")}
	emb := newTableEmbedder(3)
	started, release := emb.hold()
	svc := newService(t, store, emb, noKeywords(t), nil, Config{})

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.BuildIndex(context.Background(), true)
		}()
	}
	<-started
	if st := svc.Status(); st.State != StateBuilding {
		t.Errorf("state = %q, want building", st.State)
	}
	release()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			t.Fatalf("BuildIndex: %v", err)
		}
	}
	if store.calls.Load() > 3 || svc.Status().Version > 3 {
		t.Errorf("unexpected build count: lists=%d", store.calls.Load())
	}
}

func TestBuildIndex_CallerCancelDoesNotAbortBuild(t *testing.T) {
	emb := newTableEmbedder(3)
	started, release := emb.hold()
	svc := newService(t, &memStore{docs: docsAt(t, "a")}, emb, noKeywords(t), nil, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.BuildIndex(ctx, false)
		done <- err
	}()
	<-started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected caller cancellation, got %v", err)
	}
	release()

	st, err := svc.BuildIndex(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if st.Version != 1 {
		t.Errorf("detached build must publish version 1, got %d", st.Version)
	}
}

func TestQuery_HighPriorityInsuranceClaims(t *testing.T) {
	docs := build(t, []docSpec{
		{id: "D1", subject: "Claim approved", category: string(domdoc.CategoryInsurance), priority: "high"},
		{id: "D2", subject: "Invoice due", category: string(domdoc.CategoryBilling), priority: "low"},
	})
	emb := newTableEmbedder(3)
	emb.set(docs[0].EmbeddingText(), 1, 0, 0)
	emb.set(docs[1].EmbeddingText(), 0, 1, 0)
	emb.query("insurance claims", 0.9, 0.1, 0)

	parser := parserReturning(t, filter.Params{
		Categories: []domdoc.Category{domdoc.CategoryInsurance},
		Priority:   domdoc.PriorityHigh,
		Keywords:   []string{"insurance", "claims"},
	})
	hist := &memHistory{}
	svc := newService(t, &memStore{docs: docs}, emb, parser, hist, Config{LazyBuild: true})

	res, err := svc.Query(context.Background(), mustRequest(t, "high priority insurance claims"))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got := idsOf(res.Documents()); !equal(got, []string{"D1"}) {
		t.Fatalf("got %v, want [D1]", got)
	}
	if res.Mode() != mode.Hybrid || res.IndexVersion() != 1 || res.Degraded() {
		t.Errorf("unexpected result meta: mode=%s version=%d degr=%v", res.Mode(), res.IndexVersion(), res.Degradations())
	}
	if len(hist.entries) != 1 || hist.entries[0].ResultsCount != 1 || hist.entries[0].Query != "high priority insurance claims" {
		t.Errorf("unexpected history: %+v", hist.entries)
	}
}

func TestQuery_ParserUnreachableFallsBackToSemanticOrder(t *testing.T) {
	docs := build(t, []docSpec{
		{id: "A", ts: base},
		{id: "B", ts: base.Add(-time.Hour)},
		{id: "C", ts: base.Add(-2 * time.Hour)},
	})
	emb := newTableEmbedder(2)
	emb.set(docs[0].EmbeddingText(), 0, 2)
	emb.set(docs[1].EmbeddingText(), 0, 3)
	emb.set(docs[2].EmbeddingText(), 0, 1)
	emb.query("urgent ECG results today", 0, 0)

	parser := queryparse.New(failingInterpreter{}, time.Second, nil)
	svc := newService(t, &memStore{docs: docs}, emb, parser, nil, Config{LazyBuild: true})

	res, err := svc.Query(context.Background(), mustRequest(t, "urgent ECG results today"))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got := res.Spec().KeywordText(); got != "urgent ECG results today" {
		t.Errorf("keywords = %q", got)
	}
	if got := idsOf(res.Documents()); !equal(got, []string{"C", "A", "B"}) {
		t.Errorf("got %v, want semantic order [C A B]", got)
	}
	if res.Mode() != mode.Hybrid {
		t.Errorf("mode = %s", res.Mode())
	}
	degr := res.Degradations()
	if len(degr) != 1 || degr[0].Stage != result.StageParse {
		t.Errorf("expected parse degradation, got %v", degr)
	}
}

func TestQuery_ResultLimit(t *testing.T) {
	ids := make([]string, 0, 120)
	for i := range 120 {
		ids = append(ids, string(rune('a'+i%26))+string(rune('a'+i/26)))
	}
	docs := docsAt(t, ids...)
	emb := newTableEmbedder(2)

	svc := newService(t, &memStore{docs: docs}, emb, noKeywords(t), nil, Config{LazyBuild: true})
	res, err := svc.Query(context.Background(), mustRequest(t, "all"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Count() != DefaultResultLimit {
		t.Errorf("count = %d, want %d", res.Count(), DefaultResultLimit)
	}
}

func TestQuery_NoKeywordsOrdersByRecency(t *testing.T) {
	docs := build(t, []docSpec{
		{id: "old", ts: base.Add(-48 * time.Hour)},
		{id: "new", ts: base},
		{id: "gone", ts: base, deleted: true},
	})
	svc := newService(t, &memStore{docs: docs}, newTableEmbedder(2), noKeywords(t), nil, Config{LazyBuild: true})

	res, err := svc.Query(context.Background(), mustRequest(t, "everything"))
	if err != nil {
		t.Fatal(err)
	}
	if got := idsOf(res.Documents()); !equal(got, []string{"new", "old"}) {
		t.Errorf("got %v", got)
	}
	if res.Mode() != mode.Structured {
		t.Errorf("mode = %s", res.Mode())
	}
}

func TestQuery_EmbeddingFailureDegradesToStructured(t *testing.T) {
	docs := build(t, []docSpec{{id: "x", ts: base.Add(-time.Hour)}, {id: "y", ts: base}})
	emb := newTableEmbedder(2)
	emb.fail("ecg")
	parser := parserReturning(t, filter.Params{Keywords: []string{"ecg"}})
	svc := newService(t, &memStore{docs: docs}, emb, parser, nil, Config{LazyBuild: true})

	res, err := svc.Query(context.Background(), mustRequest(t, "ecg"))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got := idsOf(res.Documents()); !equal(got, []string{"y", "x"}) {
		t.Errorf("got %v", got)
	}
	degr := res.Degradations()
	if len(degr) != 1 || degr[0].Stage != result.StageEmbed {
		t.Errorf("expected embed degradation, got %v", degr)
	}
	if res.Mode() != mode.Structured {
		t.Errorf("mode = %s", res.Mode())
	}
}

type embedderFunc func(ctx context.Context, text string) (domain.EmbeddingResult, error)

func (f embedderFunc) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	return f(ctx, text)
}

func TestQuery_QueryDimensionMismatchIsFatal(t *testing.T) {
	docs := build(t, []docSpec{{id: "x", ts: base.Add(-time.Hour)}, {id: "y", ts: base}})
	parser := parserReturning(t, filter.Params{Keywords: []string{"ecg"}})
	hist := &memHistory{}
	svc := newService(t, &memStore{docs: docs}, newTableEmbedder(2), parser, hist, Config{LazyBuild: true}).
		WithQueryEmbedder(embedderFunc(func(context.Context, string) (domain.EmbeddingResult, error) {
			return domain.EmbeddingResult{}, fmt.Errorf("%w: %w",
				domain.ErrEmbeddingProviderError, domain.NewDimensionMismatch("response", 2, 3))
		}))

	_, err := svc.Query(context.Background(), mustRequest(t, "ecg"))
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Fatalf("expected dimension mismatch error, got %v", err)
	}
	if len(hist.entries) != 0 {
		t.Errorf("failed query must not be recorded, got %d entries", len(hist.entries))
	}
}

func TestQuery_IndexNotReady(t *testing.T) {
	t.Run("lazy build disabled", func(t *testing.T) {
		svc := newService(t, &memStore{docs: docsAt(t, "a")}, newTableEmbedder(2), noKeywords(t), nil, Config{})
		res, err := svc.Query(context.Background(), mustRequest(t, "q"))
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if res.Count() != 0 || len(res.Degradations()) != 1 || res.Degradations()[0].Stage != result.StageIndex {
			t.Errorf("expected empty index-degraded result, got %v", res.Degradations())
		}
	})

	t.Run("lazy build fails", func(t *testing.T) {
		store := &memStore{listErr: errors.New("store down")}
		hist := &memHistory{}
		svc := newService(t, store, newTableEmbedder(2), noKeywords(t), hist, Config{LazyBuild: true})
		res, err := svc.Query(context.Background(), mustRequest(t, "q"))
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if !res.Degraded() || res.Degradations()[0].Stage != result.StageIndex {
			t.Errorf("expected index degradation, got %v", res.Degradations())
		}
		if len(hist.entries) != 1 || hist.entries[0].ResultsCount != 0 {
			t.Errorf("unexpected history: %+v", hist.entries)
		}
	})
}

func TestQuery_StoreFailureIsReturned(t *testing.T) {
	store := &memStore{docs: docsAt(t, "a")}
	svc := newService(t, store, newTableEmbedder(2), noKeywords(t), nil, Config{LazyBuild: true})
	if _, err := svc.BuildIndex(context.Background(), false); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("store down")
	store.setErr(boom)
	if _, err := svc.Query(context.Background(), mustRequest(t, "q")); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestQuery_HistoryFailureIgnored(t *testing.T) {
	hist := &memHistory{err: errors.New("full")}
	svc := newService(t, &memStore{}, newTableEmbedder(2), noKeywords(t), hist, Config{LazyBuild: true})
	if _, err := svc.Query(context.Background(), mustRequest(t, "q")); err != nil {
		t.Fatalf("history failure must not fail the query: %v", err)
	}
}

func TestQuery_RebuildDoesNotBlockQueries(t *testing.T) {
	docs := docsAt(t, "a", "b")
	emb := newTableEmbedder(2)
	emb.query("k", 0, 0)
	parser := parserReturning(t, filter.Params{Keywords: []string{"k"}})
	svc := newService(t, &memStore{docs: docs}, emb, parser, nil, Config{})
	ctx := context.Background()

	if _, err := svc.BuildIndex(ctx, false); err != nil {
		t.Fatal(err)
	}

	started, release := emb.hold()
	rebuilt := make(chan error, 1)
	go func() {
		_, err := svc.RebuildIndex(ctx)
		rebuilt <- err
	}()
	<-started

	var wg sync.WaitGroup
	versions := make([]uint64, 3)
	for i := range versions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Query(ctx, mustRequest(t, "k"))
			if err != nil {
				t.Errorf("Query: %v", err)
				return
			}
			versions[i] = res.IndexVersion()
		}()
	}
	wg.Wait()
	for i, v := range versions {
		if v != 1 {
			t.Errorf("query %d saw version %d during rebuild, want 1", i, v)
		}
	}

	release()
	if err := <-rebuilt; err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}
	res, err := svc.Query(ctx, mustRequest(t, "k"))
	if err != nil {
		t.Fatal(err)
	}
	if res.IndexVersion() != 2 {
		t.Errorf("version after rebuild = %d, want 2", res.IndexVersion())
	}
}

func TestQuery_StaleSnapshotTriggersBackgroundRebuild(t *testing.T) {
	var (
		mu  sync.Mutex
		now = base
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	store := &memStore{docs: docsAt(t, "a")}
	svc, err := New(store, newTableEmbedder(2), noKeywords(t), nil, Config{
		Dimensions: 2, MaxStaleness: time.Hour, LazyBuild: true, Now: clock,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := svc.Query(ctx, mustRequest(t, "q")); err != nil {
		t.Fatal(err)
	}
	if st := svc.Status(); st.Version != 1 || st.Stale {
		t.Fatalf("unexpected status: %+v", st)
	}

	mu.Lock()
	now = base.Add(2 * time.Hour)
	mu.Unlock()
	if !svc.Status().Stale {
		t.Error("expected stale snapshot")
	}

	res, err := svc.Query(ctx, mustRequest(t, "q"))
	if err != nil {
		t.Fatal(err)
	}
	if res.IndexVersion() != 1 {
		t.Errorf("stale query must serve current snapshot, got version %d", res.IndexVersion())
	}

	svc.Close()
	if st := svc.Status(); st.Version != 2 || st.Stale {
		t.Errorf("expected background rebuild to publish version 2, got %+v", st)
	}
}

func TestClose_StopsBackgroundRebuilds(t *testing.T) {
	var (
		mu  sync.Mutex
		now = base
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	svc, err := New(&memStore{docs: docsAt(t, "a")}, newTableEmbedder(2), noKeywords(t), nil, Config{
		Dimensions: 2, MaxStaleness: time.Hour, LazyBuild: true, Now: clock,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := svc.BuildIndex(ctx, false); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	now = base.Add(2 * time.Hour)
	mu.Unlock()

	// Stale queries race with Close; none may start a rebuild once Close returns.
	req := mustRequest(t, "q")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Query(ctx, req)
		}()
	}
	svc.Close()
	after := svc.Status().Version
	wg.Wait()

	time.Sleep(20 * time.Millisecond)
	if got := svc.Status().Version; got != after {
		t.Errorf("rebuild published after Close: version %d -> %d", after, got)
	}

	if _, err := svc.Query(ctx, req); err != nil {
		t.Fatalf("Query after Close: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := svc.Status().Version; got != after {
		t.Errorf("stale query after Close started a rebuild: version %d", got)
	}
}

func TestQuery_SeparateQueryEmbedder(t *testing.T) {
	docs := build(t, []docSpec{
		{id: "A", subject: "Claim filed", category: string(domdoc.CategoryInsurance), priority: "high"},
		{id: "B", subject: "Claim denied", category: string(domdoc.CategoryInsurance), priority: "high"},
	})
	emb := newTableEmbedder(3)
	emb.set(docs[0].EmbeddingText(), 1, 0, 0)
	emb.set(docs[1].EmbeddingText(), 0, 1, 0)

	queryEmb := newTableEmbedder(3)
	queryEmb.query("denied", 0, 1, 0)

	parser := parserReturning(t, filter.Params{
		Categories: []domdoc.Category{domdoc.CategoryInsurance},
		Keywords:   []string{"denied"},
	})
	svc := newService(t, &memStore{docs: docs}, emb, parser, nil, Config{LazyBuild: true}).
		WithQueryEmbedder(queryEmb)

	res, err := svc.Query(context.Background(), mustRequest(t, "denied claims"))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got := idsOf(res.Documents()); !equal(got, []string{"B", "A"}) {
		t.Fatalf("got %v, want [B A]", got)
	}
}

func TestQuery_CollectsEmbeddingUsage(t *testing.T) {
	docs := build(t, []docSpec{{id: "A", subject: "Claim filed", category: string(domdoc.CategoryInsurance), priority: "high"}})
	emb := newTableEmbedder(3)
	emb.set(docs[0].EmbeddingText(), 1, 0, 0)
	emb.query("claim", 1, 0, 0)

	parser := parserReturning(t, filter.Params{Keywords: []string{"claim"}})
	svc := newService(t, &memStore{docs: docs}, emb, parser, nil, Config{LazyBuild: true})

	ctx, usage := domain.NewContextWithUsage(context.Background())
	if _, err := svc.Query(ctx, mustRequest(t, "claim")); err != nil {
		t.Fatalf("Query: %v", err)
	}
	// One document embedding for the lazy build plus the query keywords.
	if !usage.Used() {
		t.Fatal("expected embedding usage to be recorded")
	}
}
