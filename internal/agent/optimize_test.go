package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supply_agent/internal/core"
)

func TestZForServiceLevel(t *testing.T) {
	assert.InDelta(t, 1.28, zForServiceLevel(0.90), 1e-9)
	assert.InDelta(t, 1.65, zForServiceLevel(0.95), 1e-9)
	assert.InDelta(t, 2.33, zForServiceLevel(0.99), 1e-9)
	assert.InDelta(t, 3.09, zForServiceLevel(0.999), 1e-9)

	// interpolation between table rows
	assert.InDelta(t, 1.99, zForServiceLevel(0.97), 1e-9)

	// clamping outside the table
	assert.InDelta(t, 1.28, zForServiceLevel(0.5), 1e-9)
	assert.InDelta(t, 3.09, zForServiceLevel(0.9999), 1e-9)
}

func TestEconomicOrderQtyBounds(t *testing.T) {
	m := &core.SKUMetrics{
		DailyAvgDemand:     10,
		UnitCost:           10,
		HoldingCostPercent: 0.15,
		ReorderCost:        25,
		MinOrderQty:        1,
	}
	assert.Equal(t, 349, economicOrderQty(m))

	m.MaxOrderQty = 100
	assert.Equal(t, 100, economicOrderQty(m))

	m.MaxOrderQty = 0
	m.MinOrderQty = 400
	assert.Equal(t, 400, economicOrderQty(m))

	// degenerate demand collapses to the minimum order
	m.DailyAvgDemand = 0
	m.MinOrderQty = 10
	assert.Equal(t, 10, economicOrderQty(m))
}

func TestDynamicReorderPointFloorsVolatility(t *testing.T) {
	m := &core.SKUMetrics{
		DailyAvgDemand:   10,
		LeadTimeDays:     7,
		DemandVolatility: 0, // clamped up to 0.5
	}
	rop := dynamicReorderPoint(m, 0.95)
	assert.InDelta(t, 78.25, rop, 1e-9)

	// ROP never drops below lead-time demand
	assert.GreaterOrEqual(t, rop, m.DailyAvgDemand*float64(m.LeadTimeDays))

	m.DemandVolatility = 5 // clamped down to 2.0
	assert.InDelta(t, 70+1.65*10*2.0, dynamicReorderPoint(m, 0.95), 1e-9)
}

func TestOptimizeSKUSteadyDemandReorder(t *testing.T) {
	p, _, _ := testPipeline(t)

	inv := testInventory("SKU-B", 40, 30, 10)
	inv.LeadTimeDays = 7
	inv.SafetyStock = 5
	inv.MinOrderQty = 1

	m := &core.SKUMetrics{
		SKU:                "SKU-B",
		CurrentStock:       40,
		DailyAvgDemand:     10,
		DemandVolatility:   0,
		LeadTimeDays:       7,
		UnitCost:           10,
		HoldingCostPercent: 0.15,
		ReorderCost:        25,
		SafetyStock:        5,
		MinOrderQty:        1,
		ForecastConfidence: 0.9,
	}

	d, err := p.optimizeSKU(inv, m)
	require.NoError(t, err)

	assert.True(t, d.ReorderRequired)
	assert.Equal(t, 387, d.OrderQuantity)
	assert.Equal(t, 349, d.Details.EOQ)
	assert.InDelta(t, 78.25, d.Details.ReorderPoint, 1e-9)
	assert.Equal(t, core.UrgencyHigh, d.Urgency)
	assert.Equal(t, "eoq_rop", d.Reason)
	require.NotNil(t, d.CostAnalysis)
	assert.InDelta(t, 10.0, d.CostAnalysis.PurchasingCostPerUnit, 1e-9)
}

func TestOptimizeSKUThresholdOverride(t *testing.T) {
	p, _, _ := testPipeline(t)

	inv := testInventory("SKU-A", 2, 50, 15.99)
	m := &core.SKUMetrics{
		SKU:          "SKU-A",
		CurrentStock: 2,
		MinOrderQty:  10,
	}

	d, err := p.optimizeSKU(inv, m)
	require.NoError(t, err)

	assert.True(t, d.ReorderRequired)
	assert.Equal(t, 98, d.OrderQuantity)
	assert.Equal(t, core.UrgencyHigh, d.Urgency)
	assert.Equal(t, "threshold_override", d.Reason)
}

func TestOptimizeSKUAdequateStock(t *testing.T) {
	p, _, _ := testPipeline(t)

	inv := testInventory("SKU-C", 500, 10, 5)
	inv.LeadTimeDays = 3
	m := &core.SKUMetrics{
		SKU:                "SKU-C",
		CurrentStock:       500,
		DailyAvgDemand:     2,
		DemandVolatility:   0.3,
		LeadTimeDays:       3,
		UnitCost:           5,
		HoldingCostPercent: 0.15,
		ReorderCost:        25,
		MinOrderQty:        1,
		ForecastConfidence: 0.9,
	}

	d, err := p.optimizeSKU(inv, m)
	require.NoError(t, err)

	assert.False(t, d.ReorderRequired)
	assert.Zero(t, d.OrderQuantity)
	assert.Equal(t, "stock_adequate", d.Reason)
	assert.Nil(t, d.CostAnalysis)
}

func TestDeriveUrgencyLadder(t *testing.T) {
	m := &core.SKUMetrics{LeadTimeDays: 10, DailyAvgDemand: 1}

	assert.Equal(t, core.UrgencyCritical, deriveUrgency(m, 4, 100, 4))   // < half lead time
	assert.Equal(t, core.UrgencyHigh, deriveUrgency(m, 8, 100, 8))      // < lead time
	assert.Equal(t, core.UrgencyMedium, deriveUrgency(m, 15, 100, 15))  // < twice lead time
	assert.Equal(t, core.UrgencyCritical, deriveUrgency(m, 30, 100, 30)) // effective < half ROP
	assert.Equal(t, core.UrgencyHigh, deriveUrgency(m, 80, 100, 80))    // effective < ROP
	assert.Equal(t, core.UrgencyMedium, deriveUrgency(m, 120, 100, 120)) // effective < 1.5 ROP
	assert.Equal(t, core.UrgencyLow, deriveUrgency(m, 300, 100, 300))
}
