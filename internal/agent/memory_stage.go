package agent

import (
	"context"
	"fmt"

	"supply_agent/internal/memory"
)

// memoryStage archives the cycle: one checkpoint, stable only when the
// cycle completed, plus one episode. It runs on every exit path and a
// write failure is logged without changing the cycle outcome.
func (p *Pipeline) memoryStage(ctx context.Context, st *CycleState, status string) {
	ordersPlaced := 0
	var totalCost float64
	for _, a := range st.Actions {
		if a.Executed {
			ordersPlaced++
			totalCost += a.TotalCost
		}
	}

	usedPct := 0.0
	if st.Budget > 0 {
		usedPct = totalCost / st.Budget * 100
	}

	summary := memory.CheckpointSummary{
		CycleID:       st.CycleID,
		Decisions:     len(st.Decisions),
		Actions:       len(st.Actions),
		Rejections:    len(st.FinanceRejections),
		FailedSKUs:    len(st.FailedSKUs),
		OrdersPlaced:  ordersPlaced,
		TotalCost:     totalCost,
		BudgetUsedPct: usedPct,
	}

	stable := status == StatusCompleted
	if _, err := p.memory.SaveCheckpoint(ctx, st.CycleNumber, st.Goal, summary, stable); err != nil {
		p.logger.Error("Checkpoint write failed", "cycle_id", st.CycleID, "error", err)
		st.AddError(fmt.Sprintf("checkpoint write: %v", err))
	}

	outcome := "success"
	if !stable || len(st.Errors) > 0 {
		outcome = "partial"
	}

	ep := memory.CycleEpisode(st.CycleID, st.CycleNumber, outcome, summary, st.Errors)
	if err := p.memory.StoreEpisode(ctx, ep); err != nil {
		p.logger.Error("Episode write failed", "cycle_id", st.CycleID, "error", err)
		st.AddError(fmt.Sprintf("episode write: %v", err))
	}
}
