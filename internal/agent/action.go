package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"supply_agent/internal/core"
	"supply_agent/internal/notify"
)

// orderAudit is the blob persisted on the order row for traceability
type orderAudit struct {
	CycleID          string               `json:"cycle_id"`
	Urgency          core.Urgency         `json:"urgency"`
	Reason           string               `json:"reason"`
	Details          core.DecisionDetails `json:"details"`
	CostAnalysis     *core.CostAnalysis   `json:"cost_analysis,omitempty"`
	Finance          *core.FinanceMetrics `json:"finance_metrics,omitempty"`
	Negotiated       bool                 `json:"negotiated,omitempty"`
	OriginalQuantity int                  `json:"original_quantity,omitempty"`
	RequiresApproval bool                 `json:"requires_approval,omitempty"`
}

// actionStage commits every approved reorder: one order row, one alert,
// and in simulated-receipt mode an immediate stock increment. A failure
// on one item never blocks the rest.
func (p *Pipeline) actionStage(ctx context.Context, st *CycleState) error {
	placed := 0
	for _, d := range st.Decisions {
		if !d.ReorderRequired {
			continue
		}

		res := p.executeDecision(ctx, st, d)
		st.Actions = append(st.Actions, res)
		if res.Executed {
			placed++
			p.metrics.OrdersPlacedTotal.Add(ctx, 1)
			p.notifyOrder(ctx, d, res)
		} else {
			st.AddError(fmt.Sprintf("action for %s: %s", res.SKU, res.Error))
		}

		p.bus.Emit(st.CycleID, core.AgentEvent{
			Type:    core.EventActionItem,
			Stage:   "action",
			Message: actionMessage(res),
			Details: map[string]interface{}{
				"sku":      res.SKU,
				"executed": res.Executed,
				"order_id": res.OrderID,
				"quantity": res.Quantity,
			},
		})
	}

	p.bus.Emit(st.CycleID, core.AgentEvent{
		Type:    core.EventProgress,
		Stage:   "action",
		Message: fmt.Sprintf("placed %d of %d approved orders", placed, countReorders(st.Decisions)),
	})
	return nil
}

func (p *Pipeline) executeDecision(ctx context.Context, st *CycleState, d *core.Decision) core.ActionResult {
	inv := st.Inventory[d.SKU]
	if inv == nil {
		var err error
		inv, err = p.store.GetInventory(ctx, d.SKU)
		if err != nil {
			return core.ActionResult{SKU: d.SKU, Error: fmt.Sprintf("inventory lookup: %v", err)}
		}
	}

	unitCost := inv.UnitPrice
	if d.Finance != nil && d.Finance.UnitCost > 0 {
		unitCost = d.Finance.UnitCost
	}
	totalCost := float64(d.OrderQuantity) * unitCost

	audit, err := json.Marshal(orderAudit{
		CycleID:          st.CycleID,
		Urgency:          d.Urgency,
		Reason:           d.Reason,
		Details:          d.Details,
		CostAnalysis:     d.CostAnalysis,
		Finance:          d.Finance,
		Negotiated:       d.Negotiated,
		OriginalQuantity: d.OriginalQuantity,
		RequiresApproval: d.RequiresApproval,
	})
	if err != nil {
		return core.ActionResult{SKU: d.SKU, Error: fmt.Sprintf("audit encode: %v", err)}
	}

	status := core.OrderStatusPending
	if d.RequiresApproval {
		status = core.OrderStatusNeedsApproval
	}

	orderID, err := p.store.InsertOrder(ctx, &core.OrderRecord{
		SKU:       d.SKU,
		Quantity:  d.OrderQuantity,
		OrderDate: time.Now().UTC(),
		Status:    status,
		Notes:     string(audit),
	})
	if err != nil {
		return core.ActionResult{SKU: d.SKU, Error: fmt.Sprintf("order insert: %v", err)}
	}

	if _, err := p.store.InsertAlert(ctx, &core.Alert{
		Message: fmt.Sprintf("Reorder placed for %s: %d units from %s (%s urgency)",
			d.SKU, d.OrderQuantity, inv.Supplier, d.Urgency),
		Type:     "reorder",
		SKU:      d.SKU,
		Priority: core.PriorityForUrgency(d.Urgency),
	}); err != nil {
		p.logger.Warn("Alert insert failed", "sku", d.SKU, "error", err)
	}

	if p.cfg.Agent.SimulateReceipt {
		if err := p.store.AdjustQuantity(ctx, d.SKU, d.OrderQuantity); err != nil {
			p.logger.Warn("Simulated receipt failed", "sku", d.SKU, "error", err)
		}
	}

	return core.ActionResult{
		Executed:    true,
		OrderID:     orderID,
		SKU:         d.SKU,
		Quantity:    d.OrderQuantity,
		Urgency:     d.Urgency,
		Supplier:    inv.Supplier,
		CostPerUnit: unitCost,
		TotalCost:   totalCost,
	}
}

// notifyOrder pushes operator notifications for orders that need eyes:
// anything held for approval and anything at critical urgency.
func (p *Pipeline) notifyOrder(ctx context.Context, d *core.Decision, res core.ActionResult) {
	if p.notifier == nil {
		return
	}
	if !d.RequiresApproval && d.Urgency != core.UrgencyCritical {
		return
	}

	title := "Critical reorder placed"
	level := notify.LevelForUrgency(d.Urgency)
	if d.RequiresApproval {
		title = "Order awaiting approval"
		if level == notify.Info {
			level = notify.Warning
		}
	}
	p.notifier.Notify(ctx, title, actionMessage(res), level, map[string]string{
		"sku":        res.SKU,
		"order_id":   fmt.Sprintf("%d", res.OrderID),
		"quantity":   fmt.Sprintf("%d", res.Quantity),
		"total_cost": fmt.Sprintf("%.2f", res.TotalCost),
	})
}

func actionMessage(res core.ActionResult) string {
	if !res.Executed {
		return fmt.Sprintf("order for %s failed: %s", res.SKU, res.Error)
	}
	return fmt.Sprintf("order #%d placed: %d units of %s from %s, total %.2f",
		res.OrderID, res.Quantity, res.SKU, res.Supplier, res.TotalCost)
}
