// Package core defines the core interfaces for the replenishment system
package core

import (
	"context"
	"time"
)

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// InventoryStore provides access to the inventory table
type InventoryStore interface {
	ListInventory(ctx context.Context) ([]InventoryRecord, error)
	GetInventory(ctx context.Context, sku string) (*InventoryRecord, error)
	UpsertInventory(ctx context.Context, rec *InventoryRecord) error
	AdjustQuantity(ctx context.Context, sku string, delta int) error
}

// SalesStore provides access to the sales table
type SalesStore interface {
	InsertSale(ctx context.Context, sale *SalesEvent) (int64, error)
	ListSalesSince(ctx context.Context, since time.Time) ([]SalesEvent, error)
	ListSales(ctx context.Context, limit int) ([]SalesEvent, error)
}

// OrderStore provides access to the orders table
type OrderStore interface {
	InsertOrder(ctx context.Context, order *OrderRecord) (int64, error)
	ListOrders(ctx context.Context, limit int) ([]OrderRecord, error)
	ListOrdersByStatus(ctx context.Context, status OrderStatus) ([]OrderRecord, error)
	UpdateOrderStatus(ctx context.Context, id int64, status OrderStatus) error
}

// AlertStore provides access to the alerts table
type AlertStore interface {
	InsertAlert(ctx context.Context, alert *Alert) (int64, error)
	ListAlerts(ctx context.Context, limit int) ([]Alert, error)
}

// JobStore tracks background cycle jobs
type JobStore interface {
	CreateJob(ctx context.Context, id string) (*Job, error)
	StartJob(ctx context.Context, id string) error
	CompleteJob(ctx context.Context, id string, result, summary string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]Job, error)
	FailInterruptedJobs(ctx context.Context, reason string) (int, error)
}

// MemoryStore persists episodes, semantic facts, and checkpoints
type MemoryStore interface {
	InsertEpisode(ctx context.Context, ep *Episode) error
	ListEpisodes(ctx context.Context, limit int) ([]Episode, error)
	UpsertFact(ctx context.Context, fact *SemanticFact) error
	ListFactsByKey(ctx context.Context, key string) ([]SemanticFact, error)
	ListFacts(ctx context.Context, limit int) ([]SemanticFact, error)
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
	LatestStableCheckpoint(ctx context.Context) (*Checkpoint, error)
	ListCheckpoints(ctx context.Context, limit int) ([]Checkpoint, error)
}

// Store is the full transactional store used by the cycle engine
type Store interface {
	InventoryStore
	SalesStore
	OrderStore
	AlertStore
	JobStore
	MemoryStore
	Ping(ctx context.Context) error
	Close() error
}

// ForecastClient is the external demand estimator port
type ForecastClient interface {
	EstimateDemand(ctx context.Context, inv *InventoryRecord, sales []SalesEvent) (*Forecast, error)
}

// DialogueClient is the external text generation port for agent dialogue
type DialogueClient interface {
	Compose(ctx context.Context, prompt string) (string, error)
}

// EventSink receives events emitted by pipeline stages
type EventSink interface {
	Emit(cycleID string, ev AgentEvent)
}
