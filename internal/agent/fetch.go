package agent

import (
	"context"
	"fmt"
	"time"

	"supply_agent/internal/core"
)

const salesWindowDays = 7

// fetchStage snapshots inventory, the 7-day sales window, open orders,
// overdue orders, and recent alerts. Semantic facts keyed by SKU are
// attached to the inventory records for the external forecaster.
func (p *Pipeline) fetchStage(ctx context.Context, st *CycleState) error {
	now := time.Now().UTC()

	inventory, err := p.store.ListInventory(ctx)
	if err != nil {
		return fmt.Errorf("inventory snapshot failed: %w", err)
	}
	for i := range inventory {
		rec := inventory[i]
		facts, err := p.memory.RetrieveFacts(ctx, rec.SKU)
		if err != nil {
			p.logger.Warn("Fact lookup failed", "sku", rec.SKU, "error", err)
		} else {
			rec.Facts = facts
		}
		st.Inventory[rec.SKU] = &rec
	}

	since := now.AddDate(0, 0, -salesWindowDays)
	sales, err := p.store.ListSalesSince(ctx, since)
	if err != nil {
		return fmt.Errorf("sales snapshot failed: %w", err)
	}
	st.Sales = sales

	var revenue float64
	for _, ev := range sales {
		st.SalesBySKU[ev.SKU] = append(st.SalesBySKU[ev.SKU], ev)
		if inv, ok := st.Inventory[ev.SKU]; ok {
			revenue += float64(ev.SoldQuantity) * inv.UnitPrice
		} else {
			p.logger.Warn("Orphaned sales event", "sku", ev.SKU, "sale_id", ev.ID)
		}
	}
	st.RecentRevenue = revenue

	orders, err := p.store.ListOrders(ctx, 200)
	if err != nil {
		return fmt.Errorf("orders snapshot failed: %w", err)
	}
	st.Orders = orders

	for _, o := range orders {
		if o.Status != core.OrderStatusPending {
			continue
		}
		st.PendingBySKU[o.SKU] += o.Quantity

		leadTime := 0
		if inv, ok := st.Inventory[o.SKU]; ok {
			leadTime = inv.LeadTimeDays
		}
		if o.IsOverdue(leadTime, now) {
			due := o.OrderDate.AddDate(0, 0, leadTime)
			o.DaysOverdue = int(now.Sub(due).Hours() / 24)
			st.OverdueOrders = append(st.OverdueOrders, o)
		}
	}

	alerts, err := p.store.ListAlerts(ctx, 50)
	if err != nil {
		return fmt.Errorf("alerts snapshot failed: %w", err)
	}
	st.Alerts = alerts

	p.bus.Emit(st.CycleID, core.AgentEvent{
		Type:  core.EventProgress,
		Stage: "fetch",
		Message: fmt.Sprintf("snapshot: %d SKUs, %d sales, %d orders (%d overdue), revenue %.2f",
			len(st.Inventory), len(st.Sales), len(st.Orders), len(st.OverdueOrders), revenue),
		Details: map[string]interface{}{
			"skus":           len(st.Inventory),
			"sales":          len(st.Sales),
			"orders":         len(st.Orders),
			"overdue_orders": len(st.OverdueOrders),
			"recent_revenue": revenue,
		},
	})
	return nil
}
