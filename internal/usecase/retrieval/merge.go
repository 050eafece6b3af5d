package retrieval

import (
	"sort"

	domdoc "github.com/kailas-cloud/mailrag/internal/domain/document"
	"github.com/kailas-cloud/mailrag/internal/vectorindex"
)

// intersectRanked keeps the structured candidates that the semantic search
// returned, in ascending-distance order.
func intersectRanked(structured []domdoc.Document, neighbors []vectorindex.Neighbor, limit int) []domdoc.Document {
	byID := make(map[string]int, len(structured))
	for i := range structured {
		byID[structured[i].ID()] = i
	}

	out := make([]domdoc.Document, 0, min(len(neighbors), limit))
	for _, n := range neighbors {
		if len(out) == limit {
			break
		}
		if i, ok := byID[n.ID]; ok {
			out = append(out, structured[i])
			delete(byID, n.ID)
		}
	}
	return out
}

// orderByRecency sorts newest first with ties broken by id, then truncates.
func orderByRecency(docs []domdoc.Document, limit int) []domdoc.Document {
	out := make([]domdoc.Document, len(docs))
	copy(out, docs)

	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].Timestamp(), out[j].Timestamp()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].ID() < out[j].ID()
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
