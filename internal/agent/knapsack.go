package agent

import (
	"sort"

	"github.com/shopspring/decimal"
)

// knapsackItem is one candidate order in the budget solve
type knapsackItem struct {
	SKU            string
	Cost           float64
	ProjectedValue float64
}

// knapsackResult reports the approved subset and solver status
type knapsackResult struct {
	Approved   map[string]bool
	TotalCost  float64
	TotalValue float64
	Status     string // optimal, infeasible, empty
}

const (
	solverStatusOptimal    = "optimal"
	solverStatusInfeasible = "infeasible"
	solverStatusEmpty      = "empty"
)

// solveKnapsack maximizes total projected value subject to total cost
// within budget, by exact 0/1 DP on cost in cents. Items are considered
// in SKU order and ties prefer inclusion of the earlier SKU, so equal
// inputs always produce the same selection.
func solveKnapsack(items []knapsackItem, budget float64) knapsackResult {
	res := knapsackResult{Approved: make(map[string]bool)}
	if len(items) == 0 {
		res.Status = solverStatusEmpty
		return res
	}

	sorted := make([]knapsackItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SKU < sorted[j].SKU })

	cents := func(v float64) int64 {
		return decimal.NewFromFloat(v).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	}

	capacity := cents(budget)
	if capacity < 0 {
		capacity = 0
	}

	n := len(sorted)
	costs := make([]int64, n)
	values := make([]float64, n)
	for i, it := range sorted {
		costs[i] = cents(it.Cost)
		if costs[i] < 0 {
			costs[i] = 0
		}
		values[i] = it.ProjectedValue
	}

	// Value rows roll over items i..n-1 backward; take[i] keeps one bit
	// per capacity recording whether including item i is optimal there,
	// so memory stays n*capacity bits instead of a full value table.
	// Filling backward lets the reconstruction walk forward and prefer
	// including the lexicographically smaller SKU on ties.
	w := int(capacity) + 1
	words := (w + 63) / 64
	take := make([][]uint64, n)
	next := make([]float64, w)
	cur := make([]float64, w)
	for i := n - 1; i >= 0; i-- {
		row := make([]uint64, words)
		cost := int(costs[i])
		for c := 0; c < w; c++ {
			best := next[c]
			if cost <= c {
				if with := values[i] + next[c-cost]; with >= best {
					best = with
					row[c/64] |= 1 << uint(c%64)
				}
			}
			cur[c] = best
		}
		take[i] = row
		next, cur = cur, next
	}

	remaining := int(capacity)
	for i := 0; i < n; i++ {
		if take[i][remaining/64]&(1<<uint(remaining%64)) != 0 {
			res.Approved[sorted[i].SKU] = true
			res.TotalCost += sorted[i].Cost
			res.TotalValue += sorted[i].ProjectedValue
			remaining -= int(costs[i])
		}
	}

	if len(res.Approved) == 0 {
		res.Status = solverStatusInfeasible
	} else {
		res.Status = solverStatusOptimal
	}
	return res
}
