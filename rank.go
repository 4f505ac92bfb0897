package tagger

import (
	"sort"
)

// clampTopK bounds k to [1, n]. With n == 0 it returns 0.
func clampTopK(k, n int) int {
	if n == 0 {
		return 0
	}
	if k < 1 {
		return 1
	}
	if k > n {
		return n
	}
	return k
}

// rankByScore orders tags by descending score and keeps the first topK.
// Equal scores keep their vocabulary order.
func rankByScore(tags []string, scores []float32, topK int, source TagSource) []TagScore {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	k := clampTopK(topK, len(order))
	out := make([]TagScore, k)
	for i := 0; i < k; i++ {
		idx := order[i]
		out[i] = TagScore{Tag: tags[idx], Score: scores[idx], Source: source}
	}
	return out
}
