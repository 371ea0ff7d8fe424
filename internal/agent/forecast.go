package agent

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"supply_agent/internal/core"
)

// highDemandThreshold is the 7-day total above which a forecast is
// surfaced as its own stream event.
const highDemandThreshold = 100.0

// statisticalForecast derives a 7-day vector from recent sales. Returns
// nil when fewer than three observations exist.
func statisticalForecast(sku string, sales []core.SalesEvent) *core.Forecast {
	if len(sales) < 3 {
		return nil
	}

	// sales arrive newest first; keep that order for the trend split
	q := make([]float64, len(sales))
	for i, s := range sales {
		q[i] = float64(s.SoldQuantity)
	}

	avg := mean(q)

	var trend float64
	if len(q) >= 6 {
		recent := mean(q[0:3])
		prev := mean(q[3:6])
		// tiny denominators produce absurd trend swings
		if prev >= 5 {
			trend = (recent - prev) / prev
		}
	}
	trend = clamp(trend, -0.5, 0.5) * 0.5

	daily := math.Max(0, math.Round(avg*(1+trend)))
	vector := make([]float64, 7)
	for i := range vector {
		vector[i] = daily
	}

	confidence := math.Max(0.1, 1-stdev(q)/math.Max(1, avg))

	return &core.Forecast{
		SKU:         sku,
		Daily:       vector,
		Confidence:  confidence,
		Explanation: fmt.Sprintf("statistical: avg %.1f/day over %d sales, trend %+.2f", avg, len(q), trend),
		Source:      "statistical",
	}
}

func zeroForecast(sku string) *core.Forecast {
	return &core.Forecast{
		SKU:         sku,
		Daily:       make([]float64, 7),
		Confidence:  0,
		Explanation: "no sales history",
		Source:      "zero",
	}
}

// forecastPriority scores how much a SKU needs the external estimator
func forecastPriority(stat *core.Forecast, unitPrice float64) int {
	score := 0
	switch {
	case stat == nil:
		score = 3
	case stat.Confidence < 0.3:
		score = 2
	}
	if unitPrice > 100 {
		score++
	}
	return score
}

// forecastStage produces one forecast per SKU with the hybrid
// estimator: statistical baseline for stable items, external estimator
// for volatile or high-value items, budgeted by the per-cycle call cap.
func (p *Pipeline) forecastStage(ctx context.Context, st *CycleState) error {
	skus := sortedSKUs(st.Inventory)

	// statistical pass fans out; results funnel back before the walk
	stats := make(map[string]*core.Forecast, len(skus))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency.StageWorkers)
	for _, sku := range skus {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f := statisticalForecast(sku, st.SalesBySKU[sku])
			mu.Lock()
			stats[sku] = f
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("statistical pass failed: %w", err)
	}

	// walk in priority order; the external call budget goes to the
	// neediest SKUs first
	type candidate struct {
		sku      string
		priority int
	}
	candidates := make([]candidate, 0, len(skus))
	for _, sku := range skus {
		candidates = append(candidates, candidate{
			sku:      sku,
			priority: forecastPriority(stats[sku], st.Inventory[sku].UnitPrice),
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority > candidates[j].priority
		}
		return candidates[i].sku < candidates[j].sku
	})

	externalCalls := 0
	for _, c := range candidates {
		stat := stats[c.sku]
		forecast := stat

		if c.priority >= 2 && externalCalls < p.cfg.Forecast.MaxExternalCalls && p.forecaster != nil {
			externalCalls++
			p.metrics.ExternalCallsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "attempted")))
			ext, err := p.forecaster.EstimateDemand(ctx, st.Inventory[c.sku], st.SalesBySKU[c.sku])
			if err != nil {
				p.logger.Warn("External forecast failed, using fallback", "sku", c.sku, "error", err)
				st.AddError(fmt.Sprintf("external forecast for %s: %v", c.sku, err))
			} else {
				forecast = ext
			}
		}

		if forecast == nil {
			forecast = zeroForecast(c.sku)
		}
		st.Forecasts[c.sku] = forecast

		details := map[string]interface{}{
			"sku":        c.sku,
			"total_7day": forecast.Total7Day(),
			"confidence": forecast.Confidence,
			"source":     forecast.Source,
		}
		p.bus.Emit(st.CycleID, core.AgentEvent{
			Type:    core.EventForecast,
			Stage:   "forecast",
			Message: fmt.Sprintf("%s: %.0f units over 7 days (%.0f%% confidence, %s)", c.sku, forecast.Total7Day(), forecast.Confidence*100, forecast.Source),
			Details: details,
		})

		if forecast.Total7Day() > highDemandThreshold {
			p.bus.Emit(st.CycleID, core.AgentEvent{
				Type:    core.EventProgress,
				Stage:   "forecast",
				Message: fmt.Sprintf("high demand expected for %s: %.0f units in 7 days", c.sku, forecast.Total7Day()),
				Details: details,
			})
		}
	}

	p.logger.Info("Forecast complete",
		"cycle_id", st.CycleID,
		"skus", len(st.Forecasts),
		"external_calls", externalCalls)
	return nil
}

func sortedSKUs(inv map[string]*core.InventoryRecord) []string {
	skus := make([]string, 0, len(inv))
	for sku := range inv {
		skus = append(skus, sku)
	}
	sort.Strings(skus)
	return skus
}
