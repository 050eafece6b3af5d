package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/mailrag/internal/db"
)

var _ db.Store = (*Store)(nil)

// Defaults applied by NewStore to zero Config fields.
const (
	DefaultClientName = "mailrag"
	DefaultScanCount  = 500
	DefaultWriteBatch = 500
)

const readyPollInterval = 100 * time.Millisecond

// Config holds connection parameters for a Redis store.
type Config struct {
	Addrs      []string
	Username   string
	Password   string
	DB         int
	ClientName string
	// ScanCount is the COUNT hint per SCAN page when listing documents.
	ScanCount int
	// WriteBatch bounds the commands sent in one pipelined round-trip.
	WriteBatch int
}

// Store is the rueidis-backed document, cache and history backend.
type Store struct {
	client     rueidis.Client
	scanCount  int64
	writeBatch int
}

// NewStore connects to Redis. The client-side cache is disabled: every
// document listing must see the latest writes.
func NewStore(cfg Config) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, errors.New("redis: at least one address is required")
	}
	if cfg.ClientName == "" {
		cfg.ClientName = DefaultClientName
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		ClientName:   cfg.ClientName,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("redis: connect %v: %w", cfg.Addrs, err)
	}

	return newStore(client, cfg.ScanCount, cfg.WriteBatch), nil
}

func newStore(c rueidis.Client, scanCount, writeBatch int) *Store {
	if scanCount <= 0 {
		scanCount = DefaultScanCount
	}
	if writeBatch <= 0 {
		writeBatch = DefaultWriteBatch
	}
	return &Store{client: c, scanCount: int64(scanCount), writeBatch: writeBatch}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.do(ctx, s.b().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close shuts down the client.
func (s *Store) Close() {
	s.client.Close()
}

// WaitForReady pings immediately and then every 100ms until Redis answers
// or timeout expires. The last ping error is reported on timeout.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		lastErr := s.Ping(ctx)
		if lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for redis: %w (last error: %v)", ctx.Err(), lastErr)
		case <-ticker.C:
		}
	}
}

func (s *Store) do(ctx context.Context, cmd rueidis.Completed) rueidis.RedisResult {
	return s.client.Do(ctx, cmd)
}

// doBatched pipelines cmds in chunks of writeBatch and returns every result
// in order. It stops at the first chunk containing an error.
func (s *Store) doBatched(ctx context.Context, cmds []rueidis.Completed) ([]rueidis.RedisResult, error) {
	out := make([]rueidis.RedisResult, 0, len(cmds))
	for start := 0; start < len(cmds); start += s.writeBatch {
		end := min(start+s.writeBatch, len(cmds))
		results := s.client.DoMulti(ctx, cmds[start:end]...)
		out = append(out, results...)
		for _, res := range results {
			if err := res.Error(); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

func (s *Store) b() rueidis.Builder {
	return s.client.B()
}
