package agent

import (
	"context"
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"supply_agent/internal/core"
)

// negotiationStage counter-offers reduced quantities for rejected items
// whose stock is critically low. One round per cycle; control returns
// to Finance for re-optimization.
func (p *Pipeline) negotiationStage(ctx context.Context, st *CycleState) error {
	proposed := 0
	for _, d := range st.FinanceRejections {
		inv := st.Inventory[d.SKU]
		if inv == nil || d.Details.CurrentStock >= d.Details.Threshold {
			continue
		}

		var dailyAvg float64
		if m := st.Metrics[d.SKU]; m != nil {
			dailyAvg = m.DailyAvgDemand
		}
		daysUntilStockout := float64(d.Details.CurrentStock) / math.Max(dailyAvg, 0.1)

		factor := reductionFactor(daysUntilStockout)
		newQty := int(math.Floor(float64(d.OrderQuantity) * factor))
		if newQty < 10 {
			newQty = int(math.Max(10, math.Floor(float64(d.OrderQuantity)*0.3)))
		}

		unitCost := fallbackUnitCost
		if d.Finance != nil && d.Finance.UnitCost > 0 {
			unitCost = d.Finance.UnitCost
		}

		pr := &core.Proposal{
			SKU:          d.SKU,
			OriginalQty:  d.OrderQuantity,
			ProposedQty:  newQty,
			OriginalCost: float64(d.OrderQuantity) * unitCost,
			ProposedCost: float64(newQty) * unitCost,
			Reason:       fmt.Sprintf("stock covers %.1f days at current demand", daysUntilStockout),
		}
		st.NegotiationProposals = append(st.NegotiationProposals, pr)
		proposed++

		msg := p.composeMessage(ctx,
			fmt.Sprintf("As an inventory agent, briefly propose ordering %d units of %s instead of the rejected %d.", newQty, pr.SKU, pr.OriginalQty),
			proposeTemplate(pr))
		p.addDialogue(st, agentDecision, agentFinance, msg, dialogueProposal, pr.SKU, core.PerformativePropose)
	}

	st.NegotiationRounds++
	p.metrics.NegotiationsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.Int("proposals", proposed)))

	p.bus.Emit(st.CycleID, core.AgentEvent{
		Type:    core.EventProgress,
		Stage:   "negotiation",
		Message: fmt.Sprintf("round %d: %d counter-proposals for %d rejections", st.NegotiationRounds, proposed, len(st.FinanceRejections)),
		Details: map[string]interface{}{
			"round":      st.NegotiationRounds,
			"proposals":  proposed,
			"rejections": len(st.FinanceRejections),
		},
	})
	return nil
}

// reductionFactor shrinks orders less aggressively the closer the
// stockout
func reductionFactor(daysUntilStockout float64) float64 {
	switch {
	case daysUntilStockout < 3:
		return 0.6
	case daysUntilStockout < 7:
		return 0.5
	case daysUntilStockout < 14:
		return 0.4
	default:
		return 0.3
	}
}
