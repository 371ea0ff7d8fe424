package store

import (
	"context"
	"fmt"
	"time"

	"supply_agent/internal/core"
)

// InsertAlert writes an operator alert and returns its id
func (s *SQLiteStore) InsertAlert(ctx context.Context, alert *core.Alert) (int64, error) {
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	var id int64
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			"INSERT INTO alerts (message, type, sku, priority, created_at) VALUES (?, ?, ?, ?, ?)",
			alert.Message, alert.Type, alert.SKU, alert.Priority, alert.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert alert: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err == nil {
		alert.ID = id
	}
	return id, err
}

// ListAlerts returns the most recent alerts up to limit
func (s *SQLiteStore) ListAlerts(ctx context.Context, limit int) ([]core.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, message, type, sku, priority, created_at FROM alerts ORDER BY created_at DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []core.Alert
	for rows.Next() {
		var a core.Alert
		if err := rows.Scan(&a.ID, &a.Message, &a.Type, &a.SKU, &a.Priority, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
