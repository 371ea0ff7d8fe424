package store

import (
	"context"
	"fmt"
	"time"

	"supply_agent/internal/core"
)

// InsertOrder writes a purchase order and returns its id
func (s *SQLiteStore) InsertOrder(ctx context.Context, order *core.OrderRecord) (int64, error) {
	if order.OrderDate.IsZero() {
		order.OrderDate = time.Now().UTC()
	}
	var id int64
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			"INSERT INTO orders (sku, quantity, order_date, status, notes) VALUES (?, ?, ?, ?, ?)",
			order.SKU, order.Quantity, order.OrderDate, string(order.Status), order.Notes)
		if err != nil {
			return fmt.Errorf("failed to insert order for %s: %w", order.SKU, err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err == nil {
		order.ID = id
	}
	return id, err
}

func (s *SQLiteStore) queryOrders(ctx context.Context, query string, args ...interface{}) ([]core.OrderRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []core.OrderRecord
	for rows.Next() {
		var o core.OrderRecord
		var status string
		if err := rows.Scan(&o.ID, &o.SKU, &o.Quantity, &o.OrderDate, &status, &o.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}
		o.Status = core.OrderStatus(status)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ListOrders returns the most recent orders up to limit
func (s *SQLiteStore) ListOrders(ctx context.Context, limit int) ([]core.OrderRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryOrders(ctx,
		"SELECT id, sku, quantity, order_date, status, notes FROM orders ORDER BY order_date DESC LIMIT ?",
		limit)
}

// ListOrdersByStatus returns orders in a given lifecycle state
func (s *SQLiteStore) ListOrdersByStatus(ctx context.Context, status core.OrderStatus) ([]core.OrderRecord, error) {
	return s.queryOrders(ctx,
		"SELECT id, sku, quantity, order_date, status, notes FROM orders WHERE status = ? ORDER BY order_date DESC",
		string(status))
}

// UpdateOrderStatus moves an order to a new lifecycle state
func (s *SQLiteStore) UpdateOrderStatus(ctx context.Context, id int64, status core.OrderStatus) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			"UPDATE orders SET status = ? WHERE id = ?", string(status), id)
		if err != nil {
			return fmt.Errorf("failed to update order %d: %w", id, err)
		}
		return nil
	})
}
