package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supply_agent/internal/core"
)

func TestDemandVolatility(t *testing.T) {
	// fewer than two observations default to moderate volatility
	assert.InDelta(t, 0.3, demandVolatility(nil), 1e-9)
	assert.InDelta(t, 0.3, demandVolatility(salesOf("X", 5)), 1e-9)

	// identical daily sales have zero spread
	assert.InDelta(t, 0, demandVolatility(salesOf("X", 10, 10, 10)), 1e-9)

	// alternating demand is highly volatile
	assert.Greater(t, demandVolatility(salesOf("X", 100, 0, 100, 0)), 0.5)
}

func TestUtilityScoreCriticality(t *testing.T) {
	base := func() *core.SKUMetrics {
		return &core.SKUMetrics{
			CurrentStock:   10,
			DailyAvgDemand: 5,
			LeadTimeDays:   4,
			UnitCost:       20,
		}
	}

	m := base()
	scoreLow := utilityScore(m)
	assert.Greater(t, scoreLow, 0.0)

	// zero stock quintuples the weight against the same shortfall shape
	empty := base()
	empty.CurrentStock = 0
	assert.Greater(t, utilityScore(empty), scoreLow)

	// no demand means no stockout exposure
	idle := base()
	idle.DailyAvgDemand = 0
	assert.Zero(t, utilityScore(idle))
}

func TestAnalyzeStageDerivesMetrics(t *testing.T) {
	p, _, _ := testPipeline(t)
	st := NewCycleState("an-1", 1, "test", 3)

	inv := testInventory("SKU-B", 40, 30, 10)
	inv.LeadTimeDays = 7
	inv.SafetyStock = 5
	st.Inventory["SKU-B"] = inv
	st.SalesBySKU["SKU-B"] = salesOf("SKU-B", 10, 10, 10, 10, 10, 10, 10)
	st.PendingBySKU["SKU-B"] = 15
	st.Forecasts["SKU-B"] = &core.Forecast{
		SKU:        "SKU-B",
		Daily:      []float64{10, 10, 10, 10, 10, 10, 10},
		Confidence: 0.9,
	}

	require.NoError(t, p.analyzeStage(context.Background(), st))

	m := st.Metrics["SKU-B"]
	require.NotNil(t, m)
	assert.Equal(t, 40, m.CurrentStock)
	assert.Equal(t, 15, m.PendingOrders)
	assert.InDelta(t, 10, m.DailyAvgDemand, 1e-9)
	assert.InDelta(t, 0, m.DemandVolatility, 1e-9)
	assert.Equal(t, 7, m.LeadTimeDays)
	assert.InDelta(t, 0.9, m.ForecastConfidence, 1e-9)
	assert.InDelta(t, 70, m.Forecast7Day, 1e-9)
}

func TestAnalyzeStageSkipsSKUsWithoutForecast(t *testing.T) {
	p, _, _ := testPipeline(t)
	st := NewCycleState("an-2", 1, "test", 3)
	st.Inventory["SKU-NOFC"] = testInventory("SKU-NOFC", 10, 5, 3)

	require.NoError(t, p.analyzeStage(context.Background(), st))
	assert.Empty(t, st.Metrics)
}

func TestStatsHelpers(t *testing.T) {
	assert.InDelta(t, 2.0, mean([]float64{1, 2, 3}), 1e-9)
	assert.InDelta(t, 1.0, stdev([]float64{1, 2, 3}), 1e-9)
	assert.Zero(t, stdev([]float64{5}))

	assert.InDelta(t, 0.5, clamp(0.7, -0.5, 0.5), 1e-9)
	assert.InDelta(t, -0.5, clamp(-0.7, -0.5, 0.5), 1e-9)
	assert.InDelta(t, 0.3, clamp(0.3, -0.5, 0.5), 1e-9)
}
