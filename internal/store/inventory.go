package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"supply_agent/internal/core"
	apperrors "supply_agent/pkg/errors"
)

const inventoryColumns = `sku, product_name, quantity, threshold, unit_price,
	holding_cost_percent, reorder_cost, lead_time_days, supplier,
	min_order_qty, max_order_qty, safety_stock, reorder_point, category,
	is_active, last_updated`

func scanInventory(row interface{ Scan(...interface{}) error }) (*core.InventoryRecord, error) {
	var rec core.InventoryRecord
	err := row.Scan(
		&rec.SKU, &rec.ProductName, &rec.Quantity, &rec.Threshold, &rec.UnitPrice,
		&rec.HoldingCostPercent, &rec.ReorderCost, &rec.LeadTimeDays, &rec.Supplier,
		&rec.MinOrderQty, &rec.MaxOrderQty, &rec.SafetyStock, &rec.ReorderPoint,
		&rec.Category, &rec.IsActive, &rec.LastUpdated,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListInventory returns every inventory row ordered by SKU
func (s *SQLiteStore) ListInventory(ctx context.Context) ([]core.InventoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM inventory ORDER BY sku", inventoryColumns))
	if err != nil {
		return nil, fmt.Errorf("failed to list inventory: %w", err)
	}
	defer rows.Close()

	var records []core.InventoryRecord
	for rows.Next() {
		rec, err := scanInventory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan inventory row: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// GetInventory returns one SKU row
func (s *SQLiteStore) GetInventory(ctx context.Context, sku string) (*core.InventoryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM inventory WHERE sku = ?", inventoryColumns), sku)
	rec, err := scanInventory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrSKUNotFound, sku)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inventory %s: %w", sku, err)
	}
	return rec, nil
}

// UpsertInventory inserts or replaces a SKU row
func (s *SQLiteStore) UpsertInventory(ctx context.Context, rec *core.InventoryRecord) error {
	if rec.LastUpdated.IsZero() {
		rec.LastUpdated = time.Now().UTC()
	}
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
			INSERT OR REPLACE INTO inventory (%s)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, inventoryColumns),
			rec.SKU, rec.ProductName, rec.Quantity, rec.Threshold, rec.UnitPrice,
			rec.HoldingCostPercent, rec.ReorderCost, rec.LeadTimeDays, rec.Supplier,
			rec.MinOrderQty, rec.MaxOrderQty, rec.SafetyStock, rec.ReorderPoint,
			rec.Category, rec.IsActive, rec.LastUpdated,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert inventory %s: %w", rec.SKU, err)
		}
		return nil
	})
}

// AdjustQuantity atomically adds delta to a SKU's on-hand quantity
func (s *SQLiteStore) AdjustQuantity(ctx context.Context, sku string, delta int) error {
	return s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			"UPDATE inventory SET quantity = quantity + ?, last_updated = ? WHERE sku = ?",
			delta, time.Now().UTC(), sku)
		if err != nil {
			return fmt.Errorf("failed to adjust quantity for %s: %w", sku, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", apperrors.ErrSKUNotFound, sku)
		}
		return nil
	})
}
