package agent

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"supply_agent/internal/core"
	apperrors "supply_agent/pkg/errors"
)

const fallbackUnitCost = 10.0

// financeStage gates proposals through the budget solver. The first
// pass reviews the optimizer output; after a negotiation round it
// re-optimizes over the reduced counter-proposals.
func (p *Pipeline) financeStage(ctx context.Context, st *CycleState) error {
	st.Budget = p.cfg.Finance.DefaultBudget + p.cfg.Finance.RevenueReinvestmentRate*st.RecentRevenue

	if st.NegotiationRounds == 0 {
		p.financeInitial(ctx, st)
	} else {
		p.financeReoptimize(ctx, st)
	}

	p.metrics.SetBudgetRemaining(st.BudgetRemaining)
	p.bus.Emit(st.CycleID, core.AgentEvent{
		Type:  core.EventProgress,
		Stage: "finance",
		Message: fmt.Sprintf("budget %.2f, remaining %.2f, approved %d, rejected %d",
			st.Budget, st.BudgetRemaining, countReorders(st.Decisions), len(st.FinanceRejections)),
		Details: map[string]interface{}{
			"budget":           st.Budget,
			"budget_remaining": st.BudgetRemaining,
			"approved":         countReorders(st.Decisions),
			"rejected":         len(st.FinanceRejections),
		},
	})
	return nil
}

// financeInitial is the Round 0 review over the optimizer proposals
func (p *Pipeline) financeInitial(ctx context.Context, st *CycleState) {
	// a fresh review never inherits stale results
	st.FinanceRejections = nil
	st.NegotiationProposals = nil
	st.Decisions = nil
	st.FinanceFeedback = ""

	var candidates []*core.Decision
	for _, d := range st.Proposals {
		if !d.ReorderRequired {
			st.Decisions = append(st.Decisions, d)
			continue
		}
		p.scoreDecision(d, st.Metrics[d.SKU])
		candidates = append(candidates, d)
	}

	p.solveAndPartition(ctx, st, candidates)
}

// financeReoptimize is the Round >= 1 pass: previously approved orders
// and the reduced counter-proposals compete for the full budget again.
func (p *Pipeline) financeReoptimize(ctx context.Context, st *CycleState) {
	rejectedBySKU := make(map[string]*core.Decision, len(st.FinanceRejections))
	for _, d := range st.FinanceRejections {
		rejectedBySKU[d.SKU] = d
	}

	var candidates []*core.Decision
	passThrough := make([]*core.Decision, 0, len(st.Decisions))
	for _, d := range st.Decisions {
		if d.ReorderRequired {
			candidates = append(candidates, d)
		} else {
			passThrough = append(passThrough, d)
		}
	}

	for _, pr := range st.NegotiationProposals {
		orig, ok := rejectedBySKU[pr.SKU]
		if !ok {
			continue
		}
		reduced := orig.Clone()
		reduced.Negotiated = true
		reduced.OriginalQuantity = pr.OriginalQty
		reduced.OrderQuantity = pr.ProposedQty
		if reduced.Finance == nil {
			reduced.Finance = &core.FinanceMetrics{UnitCost: fallbackUnitCost}
		}
		reduced.Finance.TotalCost = pr.ProposedCost
		// a projected value at or below 1 means no demand signal; the
		// reduced cost times the critical-stock multiplier stands in
		if reduced.Finance.ProjectedValue <= 1 {
			reduced.Finance.ProjectedValue = pr.ProposedCost * p.cfg.Agent.CriticalStockROIMultiplier
		}
		reduced.Finance.ROI = reduced.Finance.ProjectedValue / math.Max(pr.ProposedCost, 1)
		candidates = append(candidates, reduced)
	}
	st.NegotiationProposals = nil

	st.Decisions = passThrough
	st.FinanceRejections = nil
	p.solveAndPartition(ctx, st, candidates)
}

// scoreDecision prices one proposal and attaches the finance metrics
func (p *Pipeline) scoreDecision(d *core.Decision, m *core.SKUMetrics) {
	unitCost := fallbackUnitCost
	switch {
	case d.CostAnalysis != nil && d.CostAnalysis.PurchasingCostPerUnit > 0:
		unitCost = d.CostAnalysis.PurchasingCostPerUnit
	case d.Details.UnitPrice > 0:
		unitCost = d.Details.UnitPrice
	}
	totalCost := float64(d.OrderQuantity) * unitCost

	var dailyAvg float64
	leadTime := 0
	if m != nil {
		dailyAvg = m.DailyAvgDemand
		leadTime = m.LeadTimeDays
	}

	daysUntilStockout := math.Inf(1)
	if dailyAvg > 0 {
		daysUntilStockout = float64(d.Details.CurrentStock) / dailyAvg
	}

	risk := 1.0
	switch {
	case daysUntilStockout < float64(leadTime):
		risk = p.cfg.Agent.StockoutRiskHighMultiplier
	case daysUntilStockout < 2*float64(leadTime):
		risk = p.cfg.Agent.StockoutRiskMediumMultiplier
	}

	projected := 0.5 * unitCost * dailyAvg * 30 * risk

	d.Finance = &core.FinanceMetrics{
		UnitCost:          unitCost,
		TotalCost:         totalCost,
		ProjectedValue:    projected,
		ROI:               projected / math.Max(totalCost, 1),
		RiskMultiplier:    risk,
		DaysUntilStockout: daysUntilStockout,
	}
}

// solveAndPartition runs the knapsack and splits candidates into the
// approved decision set and the rejections, emitting one dialogue per
// item.
func (p *Pipeline) solveAndPartition(ctx context.Context, st *CycleState, candidates []*core.Decision) {
	items := make([]knapsackItem, 0, len(candidates))
	for _, d := range candidates {
		items = append(items, knapsackItem{
			SKU:            d.SKU,
			Cost:           d.Finance.TotalCost,
			ProjectedValue: d.Finance.ProjectedValue,
		})
	}

	start := time.Now()
	res := solveKnapsack(items, st.Budget)
	p.metrics.KnapsackDuration.Record(ctx, time.Since(start).Seconds())
	p.logger.Info("Budget solve",
		"cycle_id", st.CycleID,
		"round", st.NegotiationRounds,
		"candidates", len(items),
		"status", res.Status,
		"approved", len(res.Approved))

	for _, d := range candidates {
		if res.Approved[d.SKU] {
			p.approveDecision(ctx, st, d)
		} else {
			p.rejectDecision(ctx, st, d)
		}
	}

	st.BudgetRemaining = st.Budget - res.TotalCost

	if len(res.Approved) == 0 && len(candidates) > 0 {
		var shortfall float64
		for _, d := range candidates {
			shortfall += d.Finance.TotalCost
		}
		st.FinanceFeedback = fmt.Sprintf(
			"%v: %d candidates totalling %.2f against %.2f available",
			apperrors.ErrBudgetInfeasible, len(candidates), shortfall, st.Budget)
		p.bus.Emit(st.CycleID, core.AgentEvent{
			Type:    core.EventFinanceFeedback,
			Stage:   "finance",
			Message: st.FinanceFeedback,
			Details: map[string]interface{}{"budget": st.Budget, "candidates": len(candidates)},
		})
	}
}

func (p *Pipeline) approveDecision(ctx context.Context, st *CycleState, d *core.Decision) {
	if d.Finance.TotalCost > p.cfg.Agent.AutoApprovalThreshold {
		d.RequiresApproval = true
	}
	st.Decisions = append(st.Decisions, d)
	p.metrics.DecisionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "approved")))

	dtype := dialogueAcceptProposal
	perf := core.PerformativeAgree
	var msg string
	switch {
	case d.RequiresApproval:
		dtype = dialogueOverrideApproval
		msg = p.composeMessage(ctx,
			fmt.Sprintf("As a finance agent, briefly confirm approving a %.2f order for %s that needs manual sign-off.", d.Finance.TotalCost, d.SKU),
			approvalTemplate(d))
		p.bus.Emit(st.CycleID, core.AgentEvent{
			Type:    core.EventReviewRequired,
			Stage:   "finance",
			Message: fmt.Sprintf("%s order of %.2f exceeds the auto-approval threshold", d.SKU, d.Finance.TotalCost),
			Details: map[string]interface{}{"sku": d.SKU, "total_cost": d.Finance.TotalCost},
		})
	case d.Negotiated:
		perf = core.PerformativeAcceptProposal
		msg = p.composeMessage(ctx,
			fmt.Sprintf("As a finance agent, briefly accept the reduced order of %d units for %s.", d.OrderQuantity, d.SKU),
			reducedAcceptTemplate(d))
	default:
		msg = approvalTemplate(d)
	}
	p.addDialogue(st, agentFinance, agentDecision, msg, dtype, d.SKU, perf)
}

func (p *Pipeline) rejectDecision(ctx context.Context, st *CycleState, d *core.Decision) {
	st.FinanceRejections = append(st.FinanceRejections, d)
	p.metrics.DecisionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "rejected")))

	dtype := dialogueRejection
	perf := core.PerformativeRefuse
	var msg string
	if d.Negotiated {
		dtype = dialogueRejectProposal
		perf = core.PerformativeRejectProposal
		msg = reducedRejectTemplate(d)
	} else {
		msg = p.composeMessage(ctx,
			fmt.Sprintf("As a finance agent, briefly explain rejecting a %.2f order for %s over budget limits.", d.Finance.TotalCost, d.SKU),
			rejectionTemplate(d))
	}
	p.addDialogue(st, agentFinance, agentDecision, msg, dtype, d.SKU, perf)
}
