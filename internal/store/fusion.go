package store

import (
	"sort"

	"github.com/google/uuid"
)

const rrfK = 60

// FuseRRF combines any number of independently ranked result lists (e.g. a
// full-text ranking and a vector ranking) into one fused ranking using
// unweighted Reciprocal Rank Fusion: rrf(d) = sum(1/(60+rank)) over every
// source ranking d appears in. Every source contributes equally; there is no
// per-source weighting. Ties are broken by the best (lowest) rank any source
// gave the document, so a document already near the top of one ranking never
// loses a tie to one that merely sorts earlier by ID.
func FuseRRF(rankings ...[]RankedID) []RankedID {
	scores := make(map[uuid.UUID]float64)
	bestRank := make(map[uuid.UUID]int)
	order := make([]uuid.UUID, 0)
	seen := make(map[uuid.UUID]bool)

	for _, ranking := range rankings {
		for _, r := range ranking {
			if !seen[r.ID] {
				seen[r.ID] = true
				order = append(order, r.ID)
				bestRank[r.ID] = r.Rank
			} else if r.Rank < bestRank[r.ID] {
				bestRank[r.ID] = r.Rank
			}
			scores[r.ID] += 1.0 / float64(rrfK+r.Rank)
		}
	}

	out := make([]RankedID, 0, len(order))
	for _, id := range order {
		out = append(out, RankedID{ID: id, Score: scores[id]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return bestRank[out[i].ID] < bestRank[out[j].ID]
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
