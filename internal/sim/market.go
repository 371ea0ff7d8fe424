// Package sim generates synthetic market demand so the controller has
// sales to react to when it runs against an empty store.
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"supply_agent/internal/core"
)

// Market writes random sales against the live inventory before a cycle
type Market struct {
	store  core.Store
	logger core.ILogger
	rng    *rand.Rand
}

// NewMarket creates a market simulator with its own random source
func NewMarket(store core.Store, logger core.ILogger) *Market {
	return &Market{
		store:  store,
		logger: logger.WithField("component", "market_sim"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Tick sells a random slice of stock. Each SKU has a 30% chance of a
// sale of up to 10% of its current quantity. Returns the revenue
// generated this tick.
func (m *Market) Tick(ctx context.Context) (float64, error) {
	inventory, err := m.store.ListInventory(ctx)
	if err != nil {
		return 0, fmt.Errorf("market tick: %w", err)
	}

	var revenue float64
	sold := 0
	for _, inv := range inventory {
		if !inv.IsActive || inv.Quantity <= 0 {
			continue
		}
		if m.rng.Float64() >= 0.3 {
			continue
		}

		maxQty := inv.Quantity / 10
		if maxQty < 1 {
			maxQty = 1
		}
		qty := 1 + m.rng.Intn(maxQty)
		if qty > inv.Quantity {
			qty = inv.Quantity
		}

		if err := m.store.AdjustQuantity(ctx, inv.SKU, -qty); err != nil {
			m.logger.Warn("Stock depletion failed", "sku", inv.SKU, "error", err)
			continue
		}
		if _, err := m.store.InsertSale(ctx, &core.SalesEvent{
			SKU:          inv.SKU,
			SoldQuantity: qty,
			Date:         time.Now().UTC(),
		}); err != nil {
			m.logger.Warn("Sale insert failed", "sku", inv.SKU, "error", err)
			continue
		}

		revenue += float64(qty) * inv.UnitPrice
		sold++
	}

	m.logger.Debug("Market tick complete", "skus_sold", sold, "revenue", revenue)
	return revenue, nil
}
