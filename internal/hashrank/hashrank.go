// Package hashrank provides deterministic rendezvous-hash ranking, used by
// the rebalancer to pick a consistent, sticky ordering of backends for a
// given selection key so that repeated replans converge on the same assignment
// instead of shuffling slots that don't need to move.
package hashrank

import (
	"container/heap"

	"github.com/cespare/xxhash/v2"
)

// Rank computes the rendezvous rank of key under selector: a uint64 derived
// from hashing the two strings together. Two calls with the same inputs
// always return the same rank; different keys are independently and
// uniformly distributed.
func Rank(selector, key string) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(selector)
	_, _ = h.WriteString(key)
	return h.Sum64()
}

// TopK returns the k keys in candidates with the highest rendezvous rank
// under selector, in descending rank order. If len(candidates) <= k, all of
// candidates are returned in descending rank order. TopK is deterministic
// even when two keys happen to hash to the same rank; the order among equal
// ranks follows the input order only when every candidate is returned.
func TopK(selector string, candidates []string, k int) []string {
	if k >= len(candidates) {
		out := append([]string(nil), candidates...)
		sortByRankDesc(selector, out)
		return out
	}
	if k <= 0 {
		return nil
	}

	rh := newRankHeap(selector, candidates[:k])
	for i := k; i < len(candidates); i++ {
		r := Rank(selector, candidates[i])
		if r > rh.ranks[0] {
			rh.keys[0] = candidates[i]
			rh.ranks[0] = r
			heap.Fix(rh, 0)
		}
	}
	out := append([]string(nil), rh.keys...)
	sortByRankDesc(selector, out)
	return out
}

// Best returns the single candidate with the highest rendezvous rank under
// selector. It panics if candidates is empty.
func Best(selector string, candidates []string) string {
	best := candidates[0]
	bestRank := Rank(selector, best)
	for _, c := range candidates[1:] {
		if r := Rank(selector, c); r > bestRank {
			best, bestRank = c, r
		}
	}
	return best
}

func sortByRankDesc(selector string, keys []string) {
	ranks := make([]uint64, len(keys))
	for i, k := range keys {
		ranks[i] = Rank(selector, k)
	}
	// Insertion sort: candidate lists here are small (bounded by slot/backend
	// counts in a single pool), and stability under equal ranks matters more
	// than asymptotic complexity.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && ranks[j] > ranks[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
			ranks[j], ranks[j-1] = ranks[j-1], ranks[j]
		}
	}
}

// rankHeap is a min-heap over (key, rank) pairs used to track the current
// top-k candidates while scanning the remainder of the input in one pass.
type rankHeap struct {
	keys     []string
	ranks    []uint64
	selector string
}

func newRankHeap(selector string, seed []string) *rankHeap {
	rh := &rankHeap{
		keys:     append([]string(nil), seed...),
		ranks:    make([]uint64, len(seed)),
		selector: selector,
	}
	for i, k := range rh.keys {
		rh.ranks[i] = Rank(selector, k)
	}
	heap.Init(rh)
	return rh
}

func (h rankHeap) Len() int            { return len(h.keys) }
func (h rankHeap) Less(i, j int) bool  { return h.ranks[i] < h.ranks[j] }
func (h rankHeap) Swap(i, j int) {
	h.keys[i], h.keys[j] = h.keys[j], h.keys[i]
	h.ranks[i], h.ranks[j] = h.ranks[j], h.ranks[i]
}
func (h *rankHeap) Push(any) { panic("hashrank: Push should not be called") }
func (h *rankHeap) Pop() any { panic("hashrank: Pop should not be called") }
