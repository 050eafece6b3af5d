package redis

import (
	"context"
	"fmt"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/mailrag/internal/db"
)

// Get returns a binary value (persistent embedding cache entries).
// A missing key yields db.ErrKeyNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.do(ctx, s.b().Get().Key(key).Build()).AsBytes()
	switch {
	case rueidis.IsRedisNil(err):
		return nil, db.ErrKeyNotFound
	case err != nil:
		return nil, &db.Error{Op: db.OpGet, Err: err}
	}
	return data, nil
}

// Set stores a binary value without expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	cmd := s.b().Set().Key(key).Value(rueidis.BinaryString(value)).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpSet, Err: err}
	}
	return nil
}

// PushCapped prepends value and trims the list to maxLen entries in one round-trip.
// maxLen <= 0 leaves the list untrimmed.
func (s *Store) PushCapped(ctx context.Context, key string, value []byte, maxLen int) error {
	cmds := []rueidis.Completed{
		s.b().Lpush().Key(key).Element(rueidis.BinaryString(value)).Build(),
	}
	if maxLen > 0 {
		cmds = append(cmds, s.b().Ltrim().Key(key).Start(0).Stop(int64(maxLen-1)).Build())
	}

	for i, res := range s.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return &db.Error{Op: db.OpLPush, Err: fmt.Errorf("step %d: %w", i, err)}
		}
	}
	return nil
}

// Range returns list elements between start and stop inclusive (negative indexes count from the tail).
func (s *Store) Range(ctx context.Context, key string, start, stop int) ([][]byte, error) {
	cmd := s.b().Lrange().Key(key).Start(int64(start)).Stop(int64(stop)).Build()
	vals, err := s.do(ctx, cmd).AsStrSlice()
	if err != nil {
		return nil, &db.Error{Op: db.OpLRange, Err: err}
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}
