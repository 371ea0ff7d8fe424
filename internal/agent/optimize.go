package agent

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"supply_agent/internal/core"
)

// zScores maps service level to the normal quantile used by the
// dynamic reorder point.
var zScores = []struct {
	level float64
	z     float64
}{
	{0.90, 1.28},
	{0.95, 1.65},
	{0.99, 2.33},
	{0.999, 3.09},
}

// zForServiceLevel interpolates linearly between table entries and
// clamps outside them.
func zForServiceLevel(level float64) float64 {
	if level <= zScores[0].level {
		return zScores[0].z
	}
	last := zScores[len(zScores)-1]
	if level >= last.level {
		return last.z
	}
	for i := 1; i < len(zScores); i++ {
		lo, hi := zScores[i-1], zScores[i]
		if level <= hi.level {
			frac := (level - lo.level) / (hi.level - lo.level)
			return lo.z + frac*(hi.z-lo.z)
		}
	}
	return last.z
}

// economicOrderQty is the Wilson EOQ clamped to the SKU's order bounds.
// Degenerate demand or holding cost collapses to the minimum order.
func economicOrderQty(m *core.SKUMetrics) int {
	annualDemand := m.DailyAvgDemand * 365
	holdingCost := m.UnitCost * m.HoldingCostPercent
	if annualDemand <= 0 || holdingCost <= 1e-9 {
		return m.MinOrderQty
	}

	eoq := int(math.Round(math.Sqrt(2 * annualDemand * m.ReorderCost / holdingCost)))
	if eoq < m.MinOrderQty {
		eoq = m.MinOrderQty
	}
	if m.MaxOrderQty > 0 && eoq > m.MaxOrderQty {
		eoq = m.MaxOrderQty
	}
	return eoq
}

// dynamicReorderPoint adds a volatility-scaled safety buffer to the
// lead-time demand.
func dynamicReorderPoint(m *core.SKUMetrics, serviceLevel float64) float64 {
	volFactor := clamp(m.DemandVolatility, 0.5, 2.0)
	z := zForServiceLevel(serviceLevel)
	return m.DailyAvgDemand*float64(m.LeadTimeDays) + z*m.DailyAvgDemand*volFactor
}

// optimizeStage runs the decision kernel for every SKU that passed the
// constraint check. The threshold override short-circuits EOQ/ROP.
func (p *Pipeline) optimizeStage(ctx context.Context, st *CycleState) error {
	type outcome struct {
		sku      string
		decision *core.Decision
		err      error
	}

	results := make(chan outcome, len(st.Constrained))
	var wg sync.WaitGroup

	for _, sku := range st.Constrained {
		m := st.Metrics[sku]
		inv := st.Inventory[sku]

		wg.Add(1)
		task := func() {
			defer wg.Done()
			d, err := p.optimizeSKU(inv, m)
			results <- outcome{sku: sku, decision: d, err: err}
		}
		if err := p.pool.Submit(task); err != nil {
			wg.Done()
			results <- outcome{sku: sku, err: err}
		}
	}

	wg.Wait()
	close(results)

	decisions := make([]*core.Decision, 0, len(st.Constrained))
	for r := range results {
		if r.err != nil {
			st.AddFailedSKU(r.sku, fmt.Sprintf("optimize %s: %v", r.sku, r.err))
			continue
		}
		decisions = append(decisions, r.decision)
	}
	sort.Slice(decisions, func(i, j int) bool { return decisions[i].SKU < decisions[j].SKU })

	for _, d := range decisions {
		st.Proposals = append(st.Proposals, d)
		if d.ReorderRequired {
			p.emitDecisionEvent(st, d)
		}
	}

	p.bus.Emit(st.CycleID, core.AgentEvent{
		Type:    core.EventProgress,
		Stage:   "optimize",
		Message: fmt.Sprintf("%d reorder proposals", countReorders(st.Proposals)),
	})
	return nil
}

func countReorders(decisions []*core.Decision) int {
	n := 0
	for _, d := range decisions {
		if d.ReorderRequired {
			n++
		}
	}
	return n
}

func (p *Pipeline) optimizeSKU(inv *core.InventoryRecord, m *core.SKUMetrics) (*core.Decision, error) {
	if inv == nil || m == nil {
		return nil, fmt.Errorf("missing snapshot data")
	}

	// hard rule: below threshold orders regardless of forecast
	if m.CurrentStock < inv.Threshold {
		return thresholdDecision(inv, m, "threshold_override"), nil
	}

	eoq := economicOrderQty(m)
	rop := dynamicReorderPoint(m, p.cfg.Agent.ServiceLevel)
	effective := m.CurrentStock + m.PendingOrders

	daysUntilStockout := math.Inf(1)
	if m.DailyAvgDemand > 0 {
		daysUntilStockout = float64(effective) / m.DailyAvgDemand
	}

	reorder := float64(effective) < rop || effective == 0
	qty := 0
	if reorder {
		qty = int(math.Round(math.Max(0, rop+float64(eoq)-float64(effective))))
	}

	d := &core.Decision{
		SKU:             m.SKU,
		ReorderRequired: reorder && qty > 0,
		OrderQuantity:   qty,
		Urgency:         deriveUrgency(m, effective, rop, daysUntilStockout),
		Reason:          "eoq_rop",
		Details: core.DecisionDetails{
			CurrentStock:      m.CurrentStock,
			Threshold:         inv.Threshold,
			EffectiveStock:    effective,
			EOQ:               eoq,
			ReorderPoint:      rop,
			UnitPrice:         inv.UnitPrice,
			DaysUntilStockout: daysUntilStockout,
		},
	}
	if !d.ReorderRequired {
		d.Reason = "stock_adequate"
	}
	if d.ReorderRequired {
		d.CostAnalysis = costAnalysis(m, qty)
	}
	return d, nil
}

// deriveUrgency applies the urgency ladder: stockout horizon first,
// then reorder-point bands, then forecast confidence.
func deriveUrgency(m *core.SKUMetrics, effective int, rop, daysUntilStockout float64) core.Urgency {
	leadTime := float64(m.LeadTimeDays)

	if !math.IsInf(daysUntilStockout, 1) {
		switch {
		case daysUntilStockout < 0.5*leadTime:
			return core.UrgencyCritical
		case daysUntilStockout < leadTime:
			return core.UrgencyHigh
		case daysUntilStockout < 2*leadTime:
			return core.UrgencyMedium
		}
	}

	switch {
	case float64(effective) < 0.5*rop:
		return core.UrgencyCritical
	case float64(effective) < rop:
		return core.UrgencyHigh
	case float64(effective) < 1.5*rop:
		return core.UrgencyMedium
	}

	return core.UrgencyLow
}

func costAnalysis(m *core.SKUMetrics, qty int) *core.CostAnalysis {
	annualDemand := m.DailyAvgDemand * 365
	ca := &core.CostAnalysis{
		PurchasingCostPerUnit: m.UnitCost,
	}
	if qty > 0 {
		ca.AnnualOrderingCost = annualDemand / float64(qty) * m.ReorderCost
		ca.AverageInventory = float64(qty)/2 + float64(m.SafetyStock)
		ca.AnnualHoldingCost = ca.AverageInventory * m.UnitCost * m.HoldingCostPercent
	}
	return ca
}
