// Package memory provides the long-term memory layer: episodes,
// semantic facts, and cycle checkpoints.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"supply_agent/internal/core"
)

// Manager wraps the memory store with id generation and serialization
type Manager struct {
	store  core.MemoryStore
	logger core.ILogger
}

// NewManager creates a memory manager
func NewManager(store core.MemoryStore, logger core.ILogger) *Manager {
	return &Manager{
		store:  store,
		logger: logger.WithField("component", "memory"),
	}
}

// StoreEpisode archives one cycle outcome
func (m *Manager) StoreEpisode(ctx context.Context, ep *core.Episode) error {
	if ep.EventID == "" {
		ep.EventID = uuid.NewString()
	}
	if ep.Timestamp.IsZero() {
		ep.Timestamp = time.Now().UTC()
	}
	if err := m.store.InsertEpisode(ctx, ep); err != nil {
		return fmt.Errorf("failed to store episode: %w", err)
	}
	return nil
}

// StoreFact records or refreshes a semantic fact
func (m *Manager) StoreFact(ctx context.Context, fact *core.SemanticFact) error {
	if fact.FactID == "" {
		fact.FactID = uuid.NewString()
	}
	if err := m.store.UpsertFact(ctx, fact); err != nil {
		return fmt.Errorf("failed to store fact: %w", err)
	}
	return nil
}

// RetrieveFacts returns the active facts keyed by a SKU
func (m *Manager) RetrieveFacts(ctx context.Context, sku string) ([]core.SemanticFact, error) {
	return m.store.ListFactsByKey(ctx, sku)
}

// CheckpointSummary is the state blob stored with each checkpoint
type CheckpointSummary struct {
	CycleID       string `json:"cycle_id"`
	Decisions     int    `json:"decisions"`
	Actions       int    `json:"actions"`
	Rejections    int    `json:"rejections"`
	FailedSKUs    int    `json:"failed_skus"`
	OrdersPlaced  int    `json:"orders_placed"`
	TotalCost     float64 `json:"total_cost"`
	BudgetUsedPct float64 `json:"budget_used_pct"`
}

// SaveCheckpoint writes a checkpoint for a finished cycle. Only
// checkpoints from successful cycles are marked stable.
func (m *Manager) SaveCheckpoint(ctx context.Context, cycleNumber int, goal string, summary CheckpointSummary, stable bool) (*core.Checkpoint, error) {
	blob, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize checkpoint state: %w", err)
	}

	cp := &core.Checkpoint{
		CheckpointID: uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		CycleNumber:  cycleNumber,
		Goal:         goal,
		State:        string(blob),
		IsStable:     stable,
		IsActive:     true,
	}
	if err := m.store.SaveCheckpoint(ctx, cp); err != nil {
		return nil, err
	}
	m.logger.Debug("Checkpoint saved", "checkpoint_id", cp.CheckpointID, "cycle", cycleNumber, "stable", stable)
	return cp, nil
}

// CycleEpisode builds the episodic record archived after each cycle
func CycleEpisode(cycleID string, cycleNumber int, outcome string, summary CheckpointSummary, errors []string) *core.Episode {
	learning := "all stages ran clean"
	if n := len(errors); n > 0 {
		learning = fmt.Sprintf("%d errors recorded, first: %s", n, errors[0])
	}
	return &core.Episode{
		EventType: "cycle",
		Description: fmt.Sprintf("cycle %d: %d decisions, %d orders placed, %.2f spent",
			cycleNumber, summary.Decisions, summary.OrdersPlaced, summary.TotalCost),
		Context:  fmt.Sprintf("cycle_id=%s budget_used_pct=%.1f rejections=%d", cycleID, summary.BudgetUsedPct, summary.Rejections),
		Outcome:  outcome,
		Learning: learning,
	}
}

// LatestStable returns the newest resumable checkpoint
func (m *Manager) LatestStable(ctx context.Context) (*core.Checkpoint, error) {
	return m.store.LatestStableCheckpoint(ctx)
}

// History returns recent checkpoints
func (m *Manager) History(ctx context.Context, limit int) ([]core.Checkpoint, error) {
	return m.store.ListCheckpoints(ctx, limit)
}

// Episodes returns recent episodes
func (m *Manager) Episodes(ctx context.Context, limit int) ([]core.Episode, error) {
	return m.store.ListEpisodes(ctx, limit)
}

// Facts returns recent active facts
func (m *Manager) Facts(ctx context.Context, limit int) ([]core.SemanticFact, error) {
	return m.store.ListFacts(ctx, limit)
}
