package lots

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanAllocationsSplitsAcrossLots(t *testing.T) {
	// Candidates arrive soonest-expiry first: lot B expires before lot A, so
	// B is drained completely and A covers the rest.
	candidates := []candidate{
		{id: "lot-b", lotNumber: "B-001", available: 5},
		{id: "lot-a", lotNumber: "A-001", available: 5},
	}

	allocs, ok := planAllocations(candidates, 7)
	require.True(t, ok)
	require.Len(t, allocs, 2)
	assert.Equal(t, Allocation{LotID: "lot-b", LotNumber: "B-001", Quantity: 5}, allocs[0])
	assert.Equal(t, Allocation{LotID: "lot-a", LotNumber: "A-001", Quantity: 2}, allocs[1])
}

func TestPlanAllocationsStopsAtExactFit(t *testing.T) {
	candidates := []candidate{
		{id: "lot-b", lotNumber: "B-001", available: 3},
		{id: "lot-a", lotNumber: "A-001", available: 9},
	}

	allocs, ok := planAllocations(candidates, 3)
	require.True(t, ok)
	require.Len(t, allocs, 1)
	assert.Equal(t, "lot-b", allocs[0].LotID)
	assert.Equal(t, 3, allocs[0].Quantity)
}

func TestPlanAllocationsInsufficientStock(t *testing.T) {
	candidates := []candidate{
		{id: "lot-b", lotNumber: "B-001", available: 5},
		{id: "lot-a", lotNumber: "A-001", available: 5},
	}

	allocs, ok := planAllocations(candidates, 11)
	assert.False(t, ok)
	assert.Nil(t, allocs)

	allocs, ok = planAllocations(nil, 1)
	assert.False(t, ok)
	assert.Nil(t, allocs)
}
