package agent

import (
	"context"
	"fmt"
	"math"
	"sync"

	"supply_agent/internal/core"
)

// analyzeStage derives per-SKU metrics from the forecasts and the fetch
// snapshot. SKUs fan out across the stage worker pool; results funnel
// back through a channel before the stage returns.
func (p *Pipeline) analyzeStage(ctx context.Context, st *CycleState) error {
	type outcome struct {
		sku     string
		metrics *core.SKUMetrics
		err     error
	}

	skus := sortedSKUs(st.Inventory)
	results := make(chan outcome, len(skus))
	var wg sync.WaitGroup

	for _, sku := range skus {
		forecast, ok := st.Forecasts[sku]
		if !ok {
			continue
		}
		inv := st.Inventory[sku]
		sales := st.SalesBySKU[sku]
		pending := st.PendingBySKU[sku]

		wg.Add(1)
		task := func() {
			defer wg.Done()
			m, err := deriveMetrics(inv, forecast, sales, pending)
			results <- outcome{sku: sku, metrics: m, err: err}
		}
		if err := p.pool.Submit(task); err != nil {
			wg.Done()
			results <- outcome{sku: sku, err: err}
		}
	}

	wg.Wait()
	close(results)

	for r := range results {
		if r.err != nil {
			st.AddFailedSKU(r.sku, fmt.Sprintf("analyze %s: %v", r.sku, r.err))
			continue
		}
		st.Metrics[r.sku] = r.metrics
	}

	p.bus.Emit(st.CycleID, core.AgentEvent{
		Type:    core.EventProgress,
		Stage:   "analyze",
		Message: fmt.Sprintf("derived metrics for %d SKUs", len(st.Metrics)),
	})
	return nil
}

func deriveMetrics(inv *core.InventoryRecord, forecast *core.Forecast, sales []core.SalesEvent, pending int) (*core.SKUMetrics, error) {
	if inv == nil {
		return nil, fmt.Errorf("no inventory record")
	}

	total7 := forecast.Total7Day()
	dailyAvg := total7 / 7

	volatility := demandVolatility(sales)

	m := &core.SKUMetrics{
		SKU:                inv.SKU,
		CurrentStock:       inv.Quantity,
		PendingOrders:      pending,
		DailyAvgDemand:     dailyAvg,
		DemandVolatility:   volatility,
		LeadTimeDays:       inv.LeadTimeDays,
		UnitCost:           inv.UnitPrice,
		HoldingCostPercent: inv.HoldingCostPercent,
		ReorderCost:        inv.ReorderCost,
		SafetyStock:        inv.SafetyStock,
		MinOrderQty:        inv.MinOrderQty,
		MaxOrderQty:        inv.MaxOrderQty,
		ForecastConfidence: forecast.Confidence,
		Forecast7Day:       total7,
	}
	m.UtilityScore = utilityScore(m)
	return m, nil
}

// demandVolatility is the coefficient of variation of recent daily
// sales. A single observation gives no spread, so it defaults to a
// moderate 0.3.
func demandVolatility(sales []core.SalesEvent) float64 {
	if len(sales) < 2 {
		return 0.3
	}
	q := make([]float64, len(sales))
	for i, s := range sales {
		q[i] = float64(s.SoldQuantity)
	}
	return stdev(q) / math.Max(0.1, mean(q))
}

// utilityScore is the stockout penalty: expected out-of-stock days
// weighted by daily revenue and a criticality factor.
func utilityScore(m *core.SKUMetrics) float64 {
	if m.DailyAvgDemand <= 0 {
		return 0
	}
	effective := float64(m.CurrentStock + m.PendingOrders)
	coverage := effective / m.DailyAvgDemand
	daysOut := math.Max(0, float64(7+m.LeadTimeDays)-coverage)
	dailyRevenue := m.DailyAvgDemand * m.UnitCost

	criticality := 1.0
	switch {
	case m.CurrentStock == 0:
		criticality = 5.0
	case coverage < float64(m.LeadTimeDays):
		criticality = 2.0
	}

	return daysOut * dailyRevenue * criticality
}
