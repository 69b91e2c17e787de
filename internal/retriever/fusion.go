package retriever

import (
	"sort"

	"github.com/ctxgraph/ctxgraph/pkg/types"
)

// WeightedList is one ranked source list entering fusion.
type WeightedList struct {
	Weight float64
	Items  []types.ScoredChunk
}

// FusedChunk is the merged retrieval record: the chunk, its combined score,
// and the set of sources that contributed.
type FusedChunk struct {
	Chunk     types.Chunk
	Score     float64
	Rank      int
	Sources   []types.SearchSource
	BestScore float64 // highest original single-source score, tie-breaker
}

// RRFFusion merges ranked lists with Reciprocal Rank Fusion: an item at
// rank r in a list of weight w contributes w/(k+r), summed over every list
// it appears in. Results are ordered by descending fused score; ties break
// on the highest original single-source score. An item present in more
// lists therefore outranks one present in fewer at equal per-list rank, and
// raising one list's weight never changes the score of items absent from it.
func RRFFusion(lists []WeightedList, k float64) []FusedChunk {
	if k <= 0 {
		k = DefaultRRFConstant
	}

	merged := make(map[string]*FusedChunk)
	var order []string
	for _, list := range lists {
		for rank, item := range list.Items {
			contribution := list.Weight / (k + float64(rank+1))

			fc, ok := merged[item.Chunk.ID]
			if !ok {
				fc = &FusedChunk{Chunk: item.Chunk}
				merged[item.Chunk.ID] = fc
				order = append(order, item.Chunk.ID)
			}
			fc.Score += contribution
			if !hasSource(fc.Sources, item.Source) {
				fc.Sources = append(fc.Sources, item.Source)
			}
			if item.Score > fc.BestScore {
				fc.BestScore = item.Score
			}
		}
	}

	out := make([]FusedChunk, 0, len(merged))
	for _, id := range order {
		out = append(out, *merged[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].BestScore > out[j].BestScore
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func hasSource(sources []types.SearchSource, s types.SearchSource) bool {
	for _, have := range sources {
		if have == s {
			return true
		}
	}
	return false
}
