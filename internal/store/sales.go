package store

import (
	"context"
	"fmt"
	"time"

	"supply_agent/internal/core"
)

// InsertSale records one sale
func (s *SQLiteStore) InsertSale(ctx context.Context, sale *core.SalesEvent) (int64, error) {
	if sale.Date.IsZero() {
		sale.Date = time.Now().UTC()
	}
	var id int64
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			"INSERT INTO sales (sku, sold_quantity, date) VALUES (?, ?, ?)",
			sale.SKU, sale.SoldQuantity, sale.Date)
		if err != nil {
			return fmt.Errorf("failed to insert sale for %s: %w", sale.SKU, err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// ListSalesSince returns sales with date >= since, newest first
func (s *SQLiteStore) ListSalesSince(ctx context.Context, since time.Time) ([]core.SalesEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, sku, sold_quantity, date FROM sales WHERE date >= ? ORDER BY date DESC",
		since)
	if err != nil {
		return nil, fmt.Errorf("failed to list sales: %w", err)
	}
	defer rows.Close()

	var sales []core.SalesEvent
	for rows.Next() {
		var ev core.SalesEvent
		if err := rows.Scan(&ev.ID, &ev.SKU, &ev.SoldQuantity, &ev.Date); err != nil {
			return nil, fmt.Errorf("failed to scan sales row: %w", err)
		}
		sales = append(sales, ev)
	}
	return sales, rows.Err()
}

// ListSales returns the most recent sales up to limit
func (s *SQLiteStore) ListSales(ctx context.Context, limit int) ([]core.SalesEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, sku, sold_quantity, date FROM sales ORDER BY date DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sales: %w", err)
	}
	defer rows.Close()

	var sales []core.SalesEvent
	for rows.Next() {
		var ev core.SalesEvent
		if err := rows.Scan(&ev.ID, &ev.SKU, &ev.SoldQuantity, &ev.Date); err != nil {
			return nil, fmt.Errorf("failed to scan sales row: %w", err)
		}
		sales = append(sales, ev)
	}
	return sales, rows.Err()
}
