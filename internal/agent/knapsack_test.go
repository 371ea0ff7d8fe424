package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSolveKnapsackPicksMaxValue(t *testing.T) {
	items := []knapsackItem{
		{SKU: "SKU-HIGH", Cost: 5000, ProjectedValue: 8000},
		{SKU: "SKU-LOW", Cost: 3000, ProjectedValue: 1500},
	}

	res := solveKnapsack(items, 3500)
	assert.Equal(t, solverStatusOptimal, res.Status)
	assert.False(t, res.Approved["SKU-HIGH"])
	assert.True(t, res.Approved["SKU-LOW"])
	assert.InDelta(t, 3000, res.TotalCost, 1e-9)
	assert.InDelta(t, 1500, res.TotalValue, 1e-9)
}

func TestSolveKnapsackInfeasible(t *testing.T) {
	items := []knapsackItem{
		{SKU: "A", Cost: 700, ProjectedValue: 100},
		{SKU: "B", Cost: 900, ProjectedValue: 200},
	}

	res := solveKnapsack(items, 600)
	assert.Equal(t, solverStatusInfeasible, res.Status)
	assert.Empty(t, res.Approved)
}

func TestSolveKnapsackEmpty(t *testing.T) {
	res := solveKnapsack(nil, 1000)
	assert.Equal(t, solverStatusEmpty, res.Status)
	assert.Empty(t, res.Approved)
}

func TestSolveKnapsackTieBreaksLexicographically(t *testing.T) {
	// both fit alone with equal value; the smaller SKU id wins
	items := []knapsackItem{
		{SKU: "SKU-B", Cost: 500, ProjectedValue: 100},
		{SKU: "SKU-A", Cost: 500, ProjectedValue: 100},
	}

	res := solveKnapsack(items, 500)
	assert.True(t, res.Approved["SKU-A"])
	assert.False(t, res.Approved["SKU-B"])
}

func TestSolveKnapsackDeterministic(t *testing.T) {
	items := []knapsackItem{
		{SKU: "SKU-C", Cost: 250.50, ProjectedValue: 900},
		{SKU: "SKU-A", Cost: 400.25, ProjectedValue: 900},
		{SKU: "SKU-B", Cost: 199.99, ProjectedValue: 450},
	}

	first := solveKnapsack(items, 650)
	for i := 0; i < 20; i++ {
		again := solveKnapsack(items, 650)
		assert.Equal(t, first.Approved, again.Approved)
		assert.Equal(t, first.TotalValue, again.TotalValue)
	}
}

func TestSolveKnapsackLargeBudget(t *testing.T) {
	// cent granularity at a 50k budget stays tractable and exact
	items := []knapsackItem{
		{SKU: "SKU-A", Cost: 18000.50, ProjectedValue: 30000},
		{SKU: "SKU-B", Cost: 22000.25, ProjectedValue: 41000},
		{SKU: "SKU-C", Cost: 15000.00, ProjectedValue: 20000},
	}

	res := solveKnapsack(items, 50000)
	assert.Equal(t, solverStatusOptimal, res.Status)
	assert.True(t, res.Approved["SKU-A"])
	assert.True(t, res.Approved["SKU-B"])
	assert.False(t, res.Approved["SKU-C"], "all three would exceed the budget")
	assert.InDelta(t, 40000.75, res.TotalCost, 1e-6)
	assert.InDelta(t, 71000, res.TotalValue, 1e-9)
}

func TestSolveKnapsackRespectsBudget(t *testing.T) {
	items := []knapsackItem{
		{SKU: "A", Cost: 100, ProjectedValue: 50},
		{SKU: "B", Cost: 200, ProjectedValue: 120},
		{SKU: "C", Cost: 300, ProjectedValue: 260},
		{SKU: "D", Cost: 150, ProjectedValue: 90},
	}

	for _, budget := range []float64{0, 100, 250, 450, 10000} {
		res := solveKnapsack(items, budget)
		assert.LessOrEqual(t, res.TotalCost, budget+1e-9, "budget %v", budget)
	}
}
