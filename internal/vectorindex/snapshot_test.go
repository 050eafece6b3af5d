package vectorindex

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/mailrag/internal/domain"
)

var builtAt = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

func TestBuild_Empty(t *testing.T) {
	s, err := Build(1, nil, 0, builtAt)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Size())
	assert.Equal(t, uint64(1), s.Version())

	hits, err := s.Search([]float32{1, 2, 3}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestBuild_InfersDimension(t *testing.T) {
	s, err := Build(2, []Entry{
		{ID: "a", Vector: []float32{0, 0}},
		{ID: "b", Vector: []float32{1, 1}, Degraded: true},
	}, 0, builtAt)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Dim())
	assert.Equal(t, 2, s.Size())
	assert.Equal(t, 1, s.DegradedRows())
	assert.Equal(t, []string{"a", "b"}, s.IDs())
	assert.Equal(t, builtAt, s.BuiltAt())
}

func TestBuild_DimensionMismatch(t *testing.T) {
	_, err := Build(1, []Entry{
		{ID: "a", Vector: []float32{0, 0, 0}},
		{ID: "b", Vector: []float32{1, 1}},
	}, 0, builtAt)
	require.ErrorIs(t, err, domain.ErrVectorDimMismatch)

	_, err = Build(1, []Entry{{ID: "a", Vector: []float32{0, 0}}}, 3, builtAt)
	require.ErrorIs(t, err, domain.ErrVectorDimMismatch)

	_, err = Build(1, nil, -1, builtAt)
	require.Error(t, err)
}

func TestBuild_CopiesInput(t *testing.T) {
	vec := []float32{1, 0}
	s, err := Build(1, []Entry{{ID: "a", Vector: vec}}, 2, builtAt)
	require.NoError(t, err)

	vec[0] = 100
	hits, err := s.Search([]float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, float32(0), hits[0].Distance)
}

func TestSearch_OrdersByDistance(t *testing.T) {
	s, err := Build(1, []Entry{
		{ID: "far", Vector: []float32{10, 10}},
		{ID: "near", Vector: []float32{1, 0}},
		{ID: "exact", Vector: []float32{0, 0}},
		{ID: "mid", Vector: []float32{2, 2}},
	}, 2, builtAt)
	require.NoError(t, err)

	hits, err := s.Search([]float32{0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "exact", hits[0].ID)
	assert.Equal(t, "near", hits[1].ID)
	assert.Equal(t, "mid", hits[2].ID)
	assert.Equal(t, float32(8), hits[2].Distance)

	for i := 1; i < len(hits); i++ {
		assert.LessOrEqual(t, hits[i-1].Distance, hits[i].Distance)
	}
}

func TestSearch_TiesKeepInsertionOrder(t *testing.T) {
	s, err := Build(1, []Entry{
		{ID: "z", Vector: []float32{0, 0}},
		{ID: "a", Vector: []float32{0, 0}},
		{ID: "m", Vector: []float32{0, 0}},
	}, 2, builtAt)
	require.NoError(t, err)

	hits, err := s.Search([]float32{1, 1}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, []string{"z", "a", "m"}, []string{hits[0].ID, hits[1].ID, hits[2].ID})
}

func TestSearch_KBounds(t *testing.T) {
	s, err := Build(1, []Entry{{ID: "a", Vector: []float32{1}}}, 1, builtAt)
	require.NoError(t, err)

	hits, err := s.Search([]float32{0}, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = s.Search([]float32{0}, -3)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = s.Search([]float32{0}, 50)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestSearch_QueryDimensionMismatch(t *testing.T) {
	s, err := Build(1, []Entry{{ID: "a", Vector: []float32{1, 2}}}, 2, builtAt)
	require.NoError(t, err)

	_, err = s.Search([]float32{1, 2, 3}, 1)
	require.ErrorIs(t, err, domain.ErrVectorDimMismatch)
}

func TestSearch_Deterministic(t *testing.T) {
	entries := make([]Entry, 0, 64)
	for i := 0; i < 64; i++ {
		entries = append(entries, Entry{ID: string(rune('A' + i%26)) + string(rune('0'+i/26)), Vector: []float32{float32(i % 7), float32(i % 3)}})
	}
	s, err := Build(1, entries, 2, builtAt)
	require.NoError(t, err)

	first, err := s.Search([]float32{3, 1}, 20)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			again, err := s.Search([]float32{3, 1}, 20)
			assert.NoError(t, err)
			assert.Equal(t, first, again)
		}()
	}
	wg.Wait()
}
