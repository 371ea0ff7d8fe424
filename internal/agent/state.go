// Package agent implements the replenishment cycle engine: a
// seven-stage pipeline with a Finance/Negotiation feedback loop driven
// by one shared cycle state.
package agent

import (
	"supply_agent/internal/core"
)

// CycleState is threaded through every stage of one cycle. It is owned
// exclusively by the pipeline driver; fan-out workers return partial
// results that the driver merges before the next stage runs.
type CycleState struct {
	CycleID     string
	CycleNumber int
	Goal        string

	// Fetch snapshots (immutable once taken)
	Inventory     map[string]*core.InventoryRecord
	Sales         []core.SalesEvent
	SalesBySKU    map[string][]core.SalesEvent
	Orders        []core.OrderRecord
	PendingBySKU  map[string]int
	OverdueOrders []core.OrderRecord
	Alerts        []core.Alert
	RecentRevenue float64

	// Stage outputs
	Forecasts   map[string]*core.Forecast
	Metrics     map[string]*core.SKUMetrics
	Constrained []string          // SKUs passed through to the optimizer
	Held        map[string]string // SKU -> hold reason

	// Proposals is the optimizer output; Decisions is the post-Finance
	// approved set.
	Proposals []*core.Decision
	Decisions []*core.Decision

	FinanceRejections    []*core.Decision
	NegotiationProposals []*core.Proposal
	Actions              []core.ActionResult
	Dialogues            []core.Dialogue

	NegotiationRounds    int
	MaxNegotiationRounds int
	Budget               float64
	BudgetRemaining      float64
	FinanceFeedback      string

	Errors     []string
	FailedSKUs []string
}

// NewCycleState creates an empty state for one cycle
func NewCycleState(cycleID string, cycleNumber int, goal string, maxRounds int) *CycleState {
	return &CycleState{
		CycleID:              cycleID,
		CycleNumber:          cycleNumber,
		Goal:                 goal,
		Inventory:            make(map[string]*core.InventoryRecord),
		SalesBySKU:           make(map[string][]core.SalesEvent),
		PendingBySKU:         make(map[string]int),
		Forecasts:            make(map[string]*core.Forecast),
		Metrics:              make(map[string]*core.SKUMetrics),
		Held:                 make(map[string]string),
		MaxNegotiationRounds: maxRounds,
	}
}

// AddError records a per-SKU or stage error without aborting the cycle
func (st *CycleState) AddError(msg string) {
	st.Errors = append(st.Errors, msg)
}

// AddFailedSKU marks one SKU as skipped by a stage
func (st *CycleState) AddFailedSKU(sku string, msg string) {
	st.FailedSKUs = append(st.FailedSKUs, sku)
	st.Errors = append(st.Errors, msg)
}

// CycleResult is the terminal summary returned by the pipeline driver
type CycleResult struct {
	CycleID           string                    `json:"cycle_id"`
	Status            string                    `json:"status"` // completed, failed
	Decisions         []*core.Decision          `json:"decisions"`
	Actions           []core.ActionResult       `json:"actions"`
	Dialogues         []core.Dialogue           `json:"dialogues"`
	Forecasts         map[string]*core.Forecast `json:"forecasts"`
	SKUsProcessed     int                       `json:"skus_processed"`
	Errors            []string                  `json:"errors,omitempty"`
	FailedSKUs        []string                  `json:"failed_skus,omitempty"`
	Budget            float64                   `json:"budget"`
	BudgetRemaining   float64                   `json:"budget_remaining"`
	NegotiationRounds int                       `json:"negotiation_rounds"`
	FinanceFeedback   string                    `json:"finance_feedback,omitempty"`
}

const (
	// StatusCompleted marks a cycle that ran every stage
	StatusCompleted = "completed"
	// StatusFailed marks a cycle aborted by a stage-fatal error
	StatusFailed = "failed"
)
