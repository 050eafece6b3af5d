// Package vectorindex holds immutable flat-L2 vector snapshots.
//
// A Snapshot is built once and never mutated afterwards, so any number of
// goroutines may search it while a newer snapshot is being built.
package vectorindex

import (
	"fmt"
	"sort"
	"time"

	"github.com/kailas-cloud/mailrag/internal/domain"
)

// Entry is one row fed into Build.
type Entry struct {
	ID       string
	Vector   []float32
	Degraded bool
}

// Neighbor is a search hit.
type Neighbor struct {
	ID       string
	Distance float32
}

// Snapshot is an immutable exact nearest-neighbour index.
type Snapshot struct {
	ids      []string
	matrix   []float32
	dim      int
	version  uint64
	builtAt  time.Time
	degraded int
}

// Build copies entries into a new snapshot. dim == 0 infers the dimension
// from the first entry. Every vector must have the same length.
func Build(version uint64, entries []Entry, dim int, builtAt time.Time) (*Snapshot, error) {
	if dim < 0 {
		return nil, fmt.Errorf("negative dimension %d", dim)
	}
	if dim == 0 && len(entries) > 0 {
		dim = len(entries[0].Vector)
	}

	s := &Snapshot{
		ids:     make([]string, 0, len(entries)),
		matrix:  make([]float32, 0, len(entries)*dim),
		dim:     dim,
		version: version,
		builtAt: builtAt,
	}
	for _, e := range entries {
		if len(e.Vector) != dim {
			return nil, domain.NewDimensionMismatch(e.ID, dim, len(e.Vector))
		}
		s.ids = append(s.ids, e.ID)
		s.matrix = append(s.matrix, e.Vector...)
		if e.Degraded {
			s.degraded++
		}
	}
	return s, nil
}

// Size returns the number of rows.
func (s *Snapshot) Size() int { return len(s.ids) }

// Dim returns the vector dimension, 0 for an empty snapshot built without one.
func (s *Snapshot) Dim() int { return s.dim }

// Version returns the build number.
func (s *Snapshot) Version() uint64 { return s.version }

// BuiltAt returns when the snapshot was published.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// DegradedRows returns how many rows hold zero-substituted vectors.
func (s *Snapshot) DegradedRows() int { return s.degraded }

// IDs returns a copy of the row identifiers in insertion order.
func (s *Snapshot) IDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Search returns up to k rows ordered by ascending squared Euclidean
// distance to query. Ties keep insertion order.
func (s *Snapshot) Search(query []float32, k int) ([]Neighbor, error) {
	if k <= 0 || len(s.ids) == 0 {
		return []Neighbor{}, nil
	}
	if len(query) != s.dim {
		return nil, domain.NewDimensionMismatch("query", s.dim, len(query))
	}

	hits := make([]Neighbor, len(s.ids))
	for i, id := range s.ids {
		row := s.matrix[i*s.dim : (i+1)*s.dim]
		hits[i] = Neighbor{ID: id, Distance: squaredL2(row, query)}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Distance < hits[b].Distance })

	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
