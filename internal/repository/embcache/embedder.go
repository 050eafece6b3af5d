package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/mailrag/internal/db"
	"github.com/kailas-cloud/mailrag/internal/domain"
)

var cacheKeyPrefix = domain.KeyPrefix + "emb_cache:"

// DefaultCallTimeout bounds a shared provider call.
const DefaultCallTimeout = 30 * time.Second

// Cache tiers for the hit/miss counter.
const (
	TierMemory     = "memory"
	TierPersistent = "persistent"
)

// store is the consumer interface for the persistent tier (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// memoryTier is the in-process fingerprint → vector map.
type memoryTier interface {
	Get(key string) ([]float32, bool)
	Add(key string, vec []float32)
	Len() int
}

// CachedEmbedder is a content-addressed cache in front of an embedder.
// Concurrent misses for the same text share one provider call, which is
// detached from any single caller's cancellation. Failed calls are never cached.
type CachedEmbedder struct {
	inner       domain.Embedder
	callTimeout time.Duration
	memory      memoryTier
	persistent  store
	group       singleflight.Group
	cacheTotal  *prometheus.CounterVec
	logger      *zap.Logger
}

// New creates a caching decorator.
// maxEntries > 0 bounds the memory tier with LRU eviction; 0 leaves it unbounded.
// persistent may be nil. cacheTotal has labels "tier" and "result" ("hit"/"miss").
func New(
	inner domain.Embedder,
	persistent store,
	maxEntries int,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) (*CachedEmbedder, error) {
	var mem memoryTier = &mapTier{m: make(map[string][]float32)}
	if maxEntries > 0 {
		c, err := lru.New[string, []float32](maxEntries)
		if err != nil {
			return nil, fmt.Errorf("create lru tier: %w", err)
		}
		mem = lruTier{c: c}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{
		inner:       inner,
		callTimeout: DefaultCallTimeout,
		memory:      mem,
		persistent:  persistent,
		cacheTotal:  cacheTotal,
		logger:      logger,
	}, nil
}

// Embed returns a cached embedding or calls the inner embedder.
// Cache hit: TotalTokens = 0 (no real tokens consumed).
// Cache miss: full EmbeddingResult from inner.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	key := Fingerprint(text)

	if vec, ok := c.memory.Get(key); ok {
		c.incCache(TierMemory, "hit")
		return domain.EmbeddingResult{Embedding: vec}, nil
	}
	c.incCache(TierMemory, "miss")

	ch := c.group.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.callTimeout)
		defer cancel()

		if vec, ok := c.memory.Get(key); ok {
			return domain.EmbeddingResult{Embedding: vec}, nil
		}
		if vec, ok := c.getPersistent(callCtx, key); ok {
			c.memory.Add(key, vec)
			return domain.EmbeddingResult{Embedding: vec}, nil
		}

		result, err := c.inner.Embed(callCtx, text)
		if err != nil {
			return nil, err
		}
		c.memory.Add(key, result.Embedding)
		c.putPersistent(callCtx, key, result.Embedding)
		return result, nil
	})

	select {
	case <-ctx.Done():
		return domain.EmbeddingResult{}, fmt.Errorf("embed text: %w", ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return domain.EmbeddingResult{}, fmt.Errorf("embed text: %w", r.Err)
		}
		return r.Val.(domain.EmbeddingResult), nil
	}
}

// WithCallTimeout sets the deadline of a shared provider call.
func (c *CachedEmbedder) WithCallTimeout(d time.Duration) *CachedEmbedder {
	if d > 0 {
		c.callTimeout = d
	}
	return c
}

// Len returns the number of entries in the memory tier.
func (c *CachedEmbedder) Len() int { return c.memory.Len() }

// Fingerprint is the lowercase hex SHA-256 of text's UTF-8 bytes.
func Fingerprint(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

func (c *CachedEmbedder) incCache(tier, result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(tier, result).Inc()
	}
}

func (c *CachedEmbedder) getPersistent(ctx context.Context, key string) ([]float32, bool) {
	if c.persistent == nil {
		return nil, false
	}
	data, err := c.persistent.Get(ctx, cacheKeyPrefix+key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to get cached embedding", zap.String("key", key), zap.Error(err))
		}
		c.incCache(TierPersistent, "miss")
		return nil, false
	}
	if len(data) == 0 {
		c.incCache(TierPersistent, "miss")
		return nil, false
	}

	vec, err := bytesToVector(data)
	if err != nil {
		c.logger.Warn("Failed to parse cached embedding", zap.String("key", key), zap.Error(err))
		c.incCache(TierPersistent, "miss")
		return nil, false
	}

	c.incCache(TierPersistent, "hit")
	return vec, true
}

func (c *CachedEmbedder) putPersistent(ctx context.Context, key string, vec []float32) {
	if c.persistent == nil {
		return
	}
	if err := c.persistent.Set(ctx, cacheKeyPrefix+key, vectorToCacheBytes(vec)); err != nil {
		c.logger.Warn("Failed to cache embedding", zap.String("key", key), zap.Error(err))
	}
}

type lruTier struct {
	c *lru.Cache[string, []float32]
}

func (t lruTier) Get(key string) ([]float32, bool) { return t.c.Get(key) }
func (t lruTier) Add(key string, vec []float32)    { t.c.Add(key, vec) }
func (t lruTier) Len() int                         { return t.c.Len() }

type mapTier struct {
	mu sync.RWMutex
	m  map[string][]float32
}

func (t *mapTier) Get(key string) ([]float32, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.m[key]
	return v, ok
}

func (t *mapTier) Add(key string, vec []float32) {
	t.mu.Lock()
	t.m[key] = vec
	t.mu.Unlock()
}

func (t *mapTier) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.m)
}

func vectorToCacheBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding cache data: len=%d (not multiple of 4)", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
