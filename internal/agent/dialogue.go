package agent

import (
	"context"
	"fmt"
	"time"

	"supply_agent/internal/core"
)

const (
	agentFinance  = "FinanceAgent"
	agentDecision = "DecisionAgent"

	fipaLanguage = "English"
	fipaOntology = "supply-chain-finance"
	fipaProtocol = "fipa-contract-net"
)

const (
	dialogueProposal         = "proposal"
	dialogueRejection        = "rejection"
	dialogueAcceptProposal   = "accept_proposal"
	dialogueRejectProposal   = "reject_proposal"
	dialogueOverrideApproval = "override_approval"
)

// composeMessage tries the external dialogue composer and falls back to
// the deterministic template on any failure.
func (p *Pipeline) composeMessage(ctx context.Context, prompt, fallback string) string {
	if p.dialogist == nil {
		return fallback
	}
	cctx, cancel := context.WithTimeout(ctx, p.cfg.LLM.DialogueTimeout)
	defer cancel()
	msg, err := p.dialogist.Compose(cctx, prompt)
	if err != nil || msg == "" {
		return fallback
	}
	return msg
}

// addDialogue appends one exchange and mirrors it onto the stream
func (p *Pipeline) addDialogue(st *CycleState, agent, target, msg, dtype, sku string, perf core.Performative) {
	d := core.Dialogue{
		Agent:   agent,
		Target:  target,
		Message: msg,
		Type:    dtype,
		SKU:     sku,
		FIPA: core.FIPAMessage{
			Performative: perf,
			Sender:       agent,
			Receiver:     target,
			Content:      msg,
			Language:     fipaLanguage,
			Ontology:     fipaOntology,
			Protocol:     fipaProtocol,
		},
		Timestamp: time.Now().UTC(),
	}
	st.Dialogues = append(st.Dialogues, d)

	p.bus.Emit(st.CycleID, core.AgentEvent{
		Type:    core.EventAgentDialogue,
		Stage:   "dialogue",
		Message: msg,
		Details: map[string]interface{}{
			"agent":        agent,
			"target":       target,
			"sku":          sku,
			"dialogue":     dtype,
			"performative": string(perf),
		},
	})
}

func rejectionTemplate(d *core.Decision) string {
	fm := d.Finance
	return fmt.Sprintf("Cannot approve %d units of %s: cost %.2f does not fit the remaining budget (ROI %.2f).",
		d.OrderQuantity, d.SKU, fm.TotalCost, fm.ROI)
}

func approvalTemplate(d *core.Decision) string {
	fm := d.Finance
	if d.RequiresApproval {
		return fmt.Sprintf("Approving %d units of %s at %.2f pending manual sign-off (cost exceeds the auto-approval threshold).",
			d.OrderQuantity, d.SKU, fm.TotalCost)
	}
	return fmt.Sprintf("Approved %d units of %s: cost %.2f, projected value %.2f, ROI %.2f.",
		d.OrderQuantity, d.SKU, fm.TotalCost, fm.ProjectedValue, fm.ROI)
}

func reducedAcceptTemplate(d *core.Decision) string {
	return fmt.Sprintf("Accepting the reduced proposal for %s: %d units (down from %d) at %.2f.",
		d.SKU, d.OrderQuantity, d.OriginalQuantity, d.Finance.TotalCost)
}

func reducedRejectTemplate(d *core.Decision) string {
	return fmt.Sprintf("Even at the reduced quantity of %d units, %s does not fit the budget. Deferring to the next cycle.",
		d.OrderQuantity, d.SKU)
}

func proposeTemplate(pr *core.Proposal) string {
	return fmt.Sprintf("Stock for %s is critical. Proposing a reduced order of %d units (was %d) at %.2f instead of %.2f. %s",
		pr.SKU, pr.ProposedQty, pr.OriginalQty, pr.ProposedCost, pr.OriginalCost, pr.Reason)
}
