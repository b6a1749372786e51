package rebalance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanCreatesSlotsForEmptyHealthyBackend(t *testing.T) {
	t.Parallel()
	actions := Plan(Input{
		SelectionKey:    "pool-a",
		HealthyBackends: []string{"A"},
		Target:          2,
		Maximum:         4,
	})
	assert.Len(t, actions, 2)
	for _, a := range actions {
		assert.Equal(t, ActionCreate, a.Kind)
		assert.Equal(t, "A", a.BackendKey)
	}
}

func TestPlanDistributesEvenlyAcrossBackends(t *testing.T) {
	t.Parallel()
	actions := Plan(Input{
		SelectionKey:    "pool-a",
		HealthyBackends: []string{"A", "B"},
		Target:          4,
		Maximum:         10,
	})
	counts := map[string]int{}
	for _, a := range actions {
		assert.Equal(t, ActionCreate, a.Kind)
		counts[a.BackendKey]++
	}
	assert.Equal(t, 2, counts["A"])
	assert.Equal(t, 2, counts["B"])
}

func TestPlanCapsAtMaximum(t *testing.T) {
	t.Parallel()
	actions := Plan(Input{
		SelectionKey:    "pool-a",
		HealthyBackends: []string{"A"},
		Target:          10,
		Maximum:         3,
	})
	assert.Len(t, actions, 3)
}

func TestPlanShedsExcessPreferringStartingOverIdleOverClaimed(t *testing.T) {
	t.Parallel()
	slots := []SlotSnapshot{
		{ID: "s-idle", BackendKey: "A", State: SlotIdle},
		{ID: "s-claimed", BackendKey: "A", State: SlotClaimed},
		{ID: "s-starting", BackendKey: "A", State: SlotStarting},
	}
	actions := Plan(Input{
		SelectionKey:    "pool-a",
		HealthyBackends: []string{"A"},
		Slots:           slots,
		Target:          1,
		Maximum:         10,
	})
	require.Len(t, actions, 2)
	got := map[string]bool{}
	for _, a := range actions {
		assert.Equal(t, ActionMarkUnwanted, a.Kind)
		got[a.SlotID] = true
	}
	assert.True(t, got["s-starting"])
	assert.True(t, got["s-idle"])
	assert.False(t, got["s-claimed"])
}

func TestPlanEmitsCreateMonitorForDeadBackends(t *testing.T) {
	t.Parallel()
	actions := Plan(Input{
		SelectionKey:               "pool-a",
		DeadBackendsNeedingMonitor: []string{"B"},
	})
	assert.Len(t, actions, 1)
	assert.Equal(t, ActionCreateMonitor, actions[0].Kind)
	assert.Equal(t, "B", actions[0].BackendKey)
}

func TestPlanIsDeterministicAcrossRepeatedCalls(t *testing.T) {
	t.Parallel()
	in := Input{
		SelectionKey:    "pool-a",
		HealthyBackends: []string{"A", "B", "C"},
		Target:          5,
		Maximum:         10,
	}
	first := Plan(in)
	second := Plan(in)
	assert.Equal(t, first, second)
}

func TestPlanRemainderAssignmentStableUnderBackendChurn(t *testing.T) {
	t.Parallel()
	// With 3 backends and target 4, one backend gets the remainder slot.
	// Removing an unrelated backend not holding the remainder must not
	// move the remainder to a different backend.
	full := Plan(Input{
		SelectionKey:    "pool-a",
		HealthyBackends: []string{"A", "B", "C"},
		Target:          4,
		Maximum:         10,
	})
	counts := map[string]int{}
	for _, a := range full {
		counts[a.BackendKey]++
	}
	var remainderBackend string
	for b, c := range counts {
		if c == 2 {
			remainderBackend = b
		}
	}
	require.NotEmpty(t, remainderBackend)

	// Remove a backend that did NOT receive the remainder.
	var toRemove string
	for b := range counts {
		if b != remainderBackend {
			toRemove = b
			break
		}
	}
	var remaining []string
	for _, b := range []string{"A", "B", "C"} {
		if b != toRemove {
			remaining = append(remaining, b)
		}
	}

	after := Plan(Input{
		SelectionKey:    "pool-a",
		HealthyBackends: remaining,
		Target:          3,
		Maximum:         10,
	})
	afterCounts := map[string]int{}
	for _, a := range after {
		afterCounts[a.BackendKey]++
	}
	// With 2 backends and target 3, the single remainder slot must still go
	// to the same backend.
	assert.Equal(t, 2, afterCounts[remainderBackend])
}
