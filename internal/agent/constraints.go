package agent

import (
	"context"
	"fmt"
	"sort"

	"supply_agent/internal/core"
)

// constraintsStage drops inactive SKUs and routes low-confidence items
// to a threshold fallback or an explicit hold.
func (p *Pipeline) constraintsStage(ctx context.Context, st *CycleState) error {
	skus := make([]string, 0, len(st.Metrics))
	for sku := range st.Metrics {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	for _, sku := range skus {
		m := st.Metrics[sku]
		inv := st.Inventory[sku]

		if inv == nil || !inv.IsActive {
			st.Held[sku] = "inactive"
			p.bus.Emit(st.CycleID, core.AgentEvent{
				Type:    core.EventProgress,
				Stage:   "constraints",
				Message: fmt.Sprintf("%s dropped: inactive", sku),
				Details: map[string]interface{}{"sku": sku, "urgency": string(core.UrgencyObsolete)},
			})
			continue
		}

		if m.ForecastConfidence < p.cfg.Agent.MinConfidence {
			if m.CurrentStock < inv.Threshold {
				d := thresholdDecision(inv, m, "threshold_fallback")
				st.Proposals = append(st.Proposals, d)
				p.emitDecisionEvent(st, d)
			} else {
				st.Held[sku] = "low_confidence_hold"
				p.bus.Emit(st.CycleID, core.AgentEvent{
					Type:    core.EventProgress,
					Stage:   "constraints",
					Message: fmt.Sprintf("%s held: confidence %.2f below %.2f and stock above threshold", sku, m.ForecastConfidence, p.cfg.Agent.MinConfidence),
					Details: map[string]interface{}{"sku": sku, "confidence": m.ForecastConfidence},
				})
			}
			continue
		}

		st.Constrained = append(st.Constrained, sku)
	}

	p.bus.Emit(st.CycleID, core.AgentEvent{
		Type:    core.EventProgress,
		Stage:   "constraints",
		Message: fmt.Sprintf("%d SKUs pass to optimization, %d held", len(st.Constrained), len(st.Held)),
	})
	return nil
}

// thresholdDecision is the shared hard rule for stock below threshold:
// refill to twice the threshold, never below the minimum order.
func thresholdDecision(inv *core.InventoryRecord, m *core.SKUMetrics, reason string) *core.Decision {
	qty := 2*inv.Threshold - m.CurrentStock
	if qty < inv.MinOrderQty {
		qty = inv.MinOrderQty
	}
	return &core.Decision{
		SKU:             inv.SKU,
		ReorderRequired: true,
		OrderQuantity:   qty,
		Urgency:         core.UrgencyHigh,
		Reason:          reason,
		Details: core.DecisionDetails{
			CurrentStock:   m.CurrentStock,
			Threshold:      inv.Threshold,
			EffectiveStock: m.CurrentStock + m.PendingOrders,
			UnitPrice:      inv.UnitPrice,
		},
		CostAnalysis: &core.CostAnalysis{
			PurchasingCostPerUnit: inv.UnitPrice,
		},
	}
}

func (p *Pipeline) emitDecisionEvent(st *CycleState, d *core.Decision) {
	p.bus.Emit(st.CycleID, core.AgentEvent{
		Type:    core.EventDecisionItem,
		Stage:   "decision",
		Message: fmt.Sprintf("%s: order %d units (%s, %s)", d.SKU, d.OrderQuantity, d.Urgency, d.Reason),
		Details: map[string]interface{}{
			"sku":            d.SKU,
			"order_quantity": d.OrderQuantity,
			"urgency":        string(d.Urgency),
			"reason":         d.Reason,
		},
	})
}
