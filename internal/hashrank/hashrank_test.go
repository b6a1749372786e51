package hashrank

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRankIsDeterministic(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Rank("pool-a", "backend-1"), Rank("pool-a", "backend-1"))
	assert.NotEqual(t, Rank("pool-a", "backend-1"), Rank("pool-b", "backend-1"))
}

func TestTopKReturnsAllWhenFewerThanK(t *testing.T) {
	t.Parallel()
	got := TopK("sel", []string{"a", "b"}, 5)
	assert.ElementsMatch(t, []string{"a", "b"}, got)
}

func TestTopKMatchesBruteForce(t *testing.T) {
	t.Parallel()
	candidates := []string{"b1", "b2", "b3", "b4", "b5", "b6", "b7"}
	const k = 3
	got := TopK("selector-key", candidates, k)
	assert.Len(t, got, k)

	ranks := make(map[string]uint64, len(candidates))
	for _, c := range candidates {
		ranks[c] = Rank("selector-key", c)
	}
	// Brute-force top-k by sorting all candidates descending by rank.
	all := append([]string(nil), candidates...)
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && ranks[all[j]] > ranks[all[j-1]]; j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}
	assert.Equal(t, all[:k], got)
}

func TestTopKIsStableAcrossCalls(t *testing.T) {
	t.Parallel()
	candidates := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	first := TopK("stable-selector", candidates, 2)
	second := TopK("stable-selector", candidates, 2)
	assert.Equal(t, first, second)
}

func TestTopKZeroReturnsNil(t *testing.T) {
	t.Parallel()
	assert.Nil(t, TopK("sel", []string{"a"}, 0))
}

func TestBestPicksHighestRank(t *testing.T) {
	t.Parallel()
	candidates := []string{"x", "y", "z"}
	best := Best("selector", candidates)

	bestRank := Rank("selector", best)
	for _, c := range candidates {
		assert.LessOrEqual(t, Rank("selector", c), bestRank)
	}
}

func TestRemovingOneCandidateOnlyReshufflesItsShare(t *testing.T) {
	t.Parallel()
	// The rendezvous property: removing a candidate not selected in the top-k
	// must not change the rest of the top-k ordering.
	candidates := []string{"b1", "b2", "b3", "b4", "b5"}
	full := TopK("selector", candidates, 3)

	withoutUnselected := make([]string, 0, len(candidates)-1)
	removed := ""
	for _, c := range candidates {
		found := false
		for _, s := range full {
			if s == c {
				found = true
				break
			}
		}
		if !found && removed == "" {
			removed = c
			continue
		}
		withoutUnselected = append(withoutUnselected, c)
	}
	if removed == "" {
		t.Skip("all candidates were selected, nothing unselected to remove")
	}

	got := TopK("selector", withoutUnselected, 3)
	assert.Equal(t, full, got)
}
