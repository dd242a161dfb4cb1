package search

import (
	"cmp"
	"slices"
)

// Fused is one item of a fused ranking. Ranks holds the item's 1-based
// position in each input list, 0 where it was absent.
type Fused struct {
	ID    string
	Score float64
	Ranks []int
}

// FuseRRF merges ranked ID lists with Reciprocal Rank Fusion. An item at
// 1-based rank r of a list contributes 1/(k+r). The result is sorted by
// descending score, ties by ID. Items present in only one list are kept.
func FuseRRF(k int, lists ...[]string) []Fused {
	byID := make(map[string]*Fused)
	var order []*Fused
	for li, list := range lists {
		for i, id := range list {
			f, ok := byID[id]
			if !ok {
				f = &Fused{ID: id, Ranks: make([]int, len(lists))}
				byID[id] = f
				order = append(order, f)
			}
			if f.Ranks[li] != 0 {
				// duplicate within a list; the first position counts
				continue
			}
			rank := i + 1
			f.Ranks[li] = rank
			f.Score += 1 / float64(k+rank)
		}
	}

	out := make([]Fused, len(order))
	for i, f := range order {
		out[i] = *f
	}
	slices.SortFunc(out, func(a, b Fused) int {
		return cmp.Or(cmp.Compare(b.Score, a.Score), cmp.Compare(a.ID, b.ID))
	})
	return out
}
