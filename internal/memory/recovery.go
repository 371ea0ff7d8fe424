package memory

import (
	"context"
	"fmt"

	"supply_agent/internal/core"
)

// RecoveryPlan describes what a resume would restore
type RecoveryPlan struct {
	CheckpointID string `json:"checkpoint_id"`
	CycleNumber  int    `json:"cycle_number"`
	Goal         string `json:"goal"`
	Age          string `json:"age"`
}

// Recovery restores controller state from stable checkpoints. Stages
// are not resumable mid-cycle; only the cycle number and goal survive.
type Recovery struct {
	manager *Manager
	logger  core.ILogger
}

// NewRecovery creates a recovery helper
func NewRecovery(manager *Manager, logger core.ILogger) *Recovery {
	return &Recovery{
		manager: manager,
		logger:  logger.WithField("component", "recovery"),
	}
}

// Plan inspects the latest stable checkpoint without applying it
func (r *Recovery) Plan(ctx context.Context) (*RecoveryPlan, error) {
	cp, err := r.manager.LatestStable(ctx)
	if err != nil {
		return nil, err
	}
	return planFromCheckpoint(cp), nil
}

// Resume returns the cycle number and goal to continue from
func (r *Recovery) Resume(ctx context.Context) (int, string, error) {
	cp, err := r.manager.LatestStable(ctx)
	if err != nil {
		return 0, "", fmt.Errorf("resume failed: %w", err)
	}
	r.logger.Info("Resuming from checkpoint",
		"checkpoint_id", cp.CheckpointID, "cycle", cp.CycleNumber)
	return cp.CycleNumber, cp.Goal, nil
}

func planFromCheckpoint(cp *core.Checkpoint) *RecoveryPlan {
	return &RecoveryPlan{
		CheckpointID: cp.CheckpointID,
		CycleNumber:  cp.CycleNumber,
		Goal:         cp.Goal,
		Age:          cp.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
	}
}
