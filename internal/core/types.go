// Package core defines the domain types shared by the replenishment engine
package core

import (
	"time"
)

// Urgency classifies how soon a reorder must happen
type Urgency string

const (
	UrgencyCritical Urgency = "Critical"
	UrgencyHigh     Urgency = "High"
	UrgencyMedium   Urgency = "Medium"
	UrgencyLow      Urgency = "Low"
	UrgencyDeferred Urgency = "Deferred"
	UrgencyObsolete Urgency = "Obsolete"
)

// PriorityForUrgency maps urgency to alert priority (1 = most urgent)
func PriorityForUrgency(u Urgency) int {
	switch u {
	case UrgencyCritical:
		return 1
	case UrgencyHigh:
		return 2
	case UrgencyMedium:
		return 3
	case UrgencyLow:
		return 4
	default:
		return 5
	}
}

// OrderStatus is the lifecycle state of a purchase order
type OrderStatus string

const (
	OrderStatusPending       OrderStatus = "Pending"
	OrderStatusNeedsApproval OrderStatus = "Needs Approval"
	OrderStatusCompleted     OrderStatus = "Completed"
	OrderStatusFailed        OrderStatus = "Failed"
)

// JobStatus is the lifecycle state of a background cycle job
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Performative identifies a FIPA-ACL speech act
type Performative string

const (
	PerformativeRefuse         Performative = "REFUSE"
	PerformativePropose        Performative = "PROPOSE"
	PerformativeAgree          Performative = "AGREE"
	PerformativeAcceptProposal Performative = "ACCEPT-PROPOSAL"
	PerformativeRejectProposal Performative = "REJECT-PROPOSAL"
)

// SemanticFact is a learned (category, key) -> content association
type SemanticFact struct {
	FactID     string    `json:"fact_id"`
	Category   string    `json:"category"`
	Key        string    `json:"key"`
	Content    string    `json:"content"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"`
	Timestamp  time.Time `json:"timestamp"`
}

// InventoryRecord is a single SKU row plus the semantic facts attached at fetch time
type InventoryRecord struct {
	SKU                string         `json:"sku"`
	ProductName        string         `json:"product_name"`
	Quantity           int            `json:"quantity"`
	Threshold          int            `json:"threshold"`
	UnitPrice          float64        `json:"unit_price"`
	HoldingCostPercent float64        `json:"holding_cost_percent"`
	ReorderCost        float64        `json:"reorder_cost"`
	LeadTimeDays       int            `json:"lead_time_days"`
	Supplier           string         `json:"supplier"`
	MinOrderQty        int            `json:"min_order_qty"`
	MaxOrderQty        int            `json:"max_order_qty,omitempty"` // 0 means unset
	SafetyStock        int            `json:"safety_stock"`
	ReorderPoint       int            `json:"reorder_point"`
	Category           string         `json:"category"`
	IsActive           bool           `json:"is_active"`
	LastUpdated        time.Time      `json:"last_updated"`
	Facts              []SemanticFact `json:"facts,omitempty"`
}

// SalesEvent records one sale of a SKU
type SalesEvent struct {
	ID           int64     `json:"id"`
	SKU          string    `json:"sku"`
	SoldQuantity int       `json:"sold_quantity"`
	Date         time.Time `json:"date"`
}

// OrderRecord is a purchase order row. DaysOverdue is derived at fetch
// time for pending orders past their lead time.
type OrderRecord struct {
	ID          int64       `json:"id"`
	SKU         string      `json:"sku"`
	Quantity    int         `json:"quantity"`
	OrderDate   time.Time   `json:"order_date"`
	Status      OrderStatus `json:"status"`
	Notes       string      `json:"notes,omitempty"`
	DaysOverdue int         `json:"days_overdue,omitempty"`
}

// IsOverdue reports whether a pending order has exceeded the SKU lead time
func (o *OrderRecord) IsOverdue(leadTimeDays int, now time.Time) bool {
	if o.Status != OrderStatusPending {
		return false
	}
	return o.OrderDate.AddDate(0, 0, leadTimeDays).Before(now)
}

// Alert is an operator-facing notification row
type Alert struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	SKU       string    `json:"sku,omitempty"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}

// Forecast is a 7-day demand estimate for one SKU
type Forecast struct {
	SKU         string    `json:"sku"`
	Daily       []float64 `json:"daily"`
	Confidence  float64   `json:"confidence"`
	Explanation string    `json:"explanation"`
	Source      string    `json:"source"` // statistical, external, zero
}

// Total7Day returns the summed 7-day demand
func (f *Forecast) Total7Day() float64 {
	var total float64
	for _, d := range f.Daily {
		total += d
	}
	return total
}

// SKUMetrics are the derived per-SKU figures feeding the decision kernel
type SKUMetrics struct {
	SKU                string  `json:"sku"`
	CurrentStock       int     `json:"current_stock"`
	PendingOrders      int     `json:"pending_orders"`
	DailyAvgDemand     float64 `json:"daily_avg_demand"`
	DemandVolatility   float64 `json:"demand_volatility"`
	LeadTimeDays       int     `json:"lead_time_days"`
	UnitCost           float64 `json:"unit_cost"`
	HoldingCostPercent float64 `json:"holding_cost_percent"`
	ReorderCost        float64 `json:"reorder_cost"`
	SafetyStock        int     `json:"safety_stock"`
	MinOrderQty        int     `json:"min_order_qty"`
	MaxOrderQty        int     `json:"max_order_qty,omitempty"`
	ForecastConfidence float64 `json:"forecast_confidence"`
	Forecast7Day       float64 `json:"forecast_7day"`
	UtilityScore       float64 `json:"utility_score"`
}

// CostAnalysis carries the EOQ cost breakdown for a decision
type CostAnalysis struct {
	PurchasingCostPerUnit float64 `json:"purchasing_cost_per_unit"`
	AnnualOrderingCost    float64 `json:"annual_ordering_cost"`
	AnnualHoldingCost     float64 `json:"annual_holding_cost"`
	AverageInventory      float64 `json:"average_inventory"`
}

// DecisionDetails are the kernel inputs echoed on the decision for audit
type DecisionDetails struct {
	CurrentStock      int     `json:"current_stock"`
	Threshold         int     `json:"threshold"`
	EffectiveStock    int     `json:"effective_stock"`
	EOQ               int     `json:"eoq,omitempty"`
	ReorderPoint      float64 `json:"reorder_point,omitempty"`
	UnitPrice         float64 `json:"unit_price"`
	DaysUntilStockout float64 `json:"days_until_stockout,omitempty"`
}

// FinanceMetrics is attached to a decision by the Finance review
type FinanceMetrics struct {
	UnitCost          float64 `json:"unit_cost"`
	TotalCost         float64 `json:"total_cost"`
	ProjectedValue    float64 `json:"projected_value"`
	ROI               float64 `json:"roi"`
	RiskMultiplier    float64 `json:"risk_multiplier"`
	DaysUntilStockout float64 `json:"days_until_stockout"`
}

// Decision is a reorder proposal for one SKU
type Decision struct {
	SKU              string          `json:"sku"`
	ReorderRequired  bool            `json:"reorder_required"`
	OrderQuantity    int             `json:"order_quantity"`
	Urgency          Urgency         `json:"urgency"`
	Reason           string          `json:"reason"`
	Details          DecisionDetails `json:"details"`
	CostAnalysis     *CostAnalysis   `json:"cost_analysis,omitempty"`
	Finance          *FinanceMetrics `json:"finance_metrics,omitempty"`
	Negotiated       bool            `json:"negotiated,omitempty"`
	OriginalQuantity int             `json:"original_quantity,omitempty"`
	RequiresApproval bool            `json:"requires_approval,omitempty"`
}

// Clone returns a deep copy of the decision
func (d *Decision) Clone() *Decision {
	cp := *d
	if d.CostAnalysis != nil {
		ca := *d.CostAnalysis
		cp.CostAnalysis = &ca
	}
	if d.Finance != nil {
		fm := *d.Finance
		cp.Finance = &fm
	}
	return &cp
}

// Proposal is a quantity-reduced counter-offer from Negotiation to Finance
type Proposal struct {
	SKU          string  `json:"sku"`
	OriginalQty  int     `json:"original_qty"`
	ProposedQty  int     `json:"proposed_qty"`
	OriginalCost float64 `json:"original_cost"`
	ProposedCost float64 `json:"proposed_cost"`
	Reason       string  `json:"reason"`
}

// FIPAMessage is the structured envelope on a dialogue entry
type FIPAMessage struct {
	Performative Performative `json:"performative"`
	Sender       string       `json:"sender"`
	Receiver     string       `json:"receiver"`
	Content      string       `json:"content"`
	Language     string       `json:"language"`
	Ontology     string       `json:"ontology"`
	Protocol     string       `json:"protocol"`
}

// Dialogue is one recorded exchange between the Finance and Decision agents
type Dialogue struct {
	Agent     string      `json:"agent"`
	Target    string      `json:"target"`
	Message   string      `json:"message"`
	Type      string      `json:"type"` // rejection, accept_proposal, reject_proposal, override_approval
	SKU       string      `json:"sku"`
	FIPA      FIPAMessage `json:"fipa"`
	Timestamp time.Time   `json:"timestamp"`
}

// ActionResult is the per-item outcome of the action executor
type ActionResult struct {
	Executed    bool    `json:"executed"`
	OrderID     int64   `json:"order_id,omitempty"`
	SKU         string  `json:"sku"`
	Quantity    int     `json:"quantity,omitempty"`
	Urgency     Urgency `json:"urgency,omitempty"`
	Supplier    string  `json:"supplier,omitempty"`
	CostPerUnit float64 `json:"cost_per_unit,omitempty"`
	TotalCost   float64 `json:"total_cost,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// Checkpoint is an immutable snapshot of cycle progress
type Checkpoint struct {
	ID           int64     `json:"id"`
	CheckpointID string    `json:"checkpoint_id"`
	Timestamp    time.Time `json:"timestamp"`
	CycleNumber  int       `json:"cycle_number"`
	Goal         string    `json:"goal"`
	State        string    `json:"state"`
	IsStable     bool      `json:"is_stable"`
	IsActive     bool      `json:"is_active"`
}

// Episode is a long-term memory record of one cycle
type Episode struct {
	EventID     string    `json:"event_id"`
	Timestamp   time.Time `json:"timestamp"`
	EventType   string    `json:"event_type"`
	SKU         string    `json:"sku,omitempty"`
	Description string    `json:"description"`
	Context     string    `json:"context"`
	Outcome     string    `json:"outcome"`
	Learning    string    `json:"learning"`
}

// Job tracks one background cycle run
type Job struct {
	ID          string     `json:"id"`
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      string     `json:"result,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// AgentEvent is one event published to the per-cycle stream
type AgentEvent struct {
	Type      string                 `json:"type"`
	Stage     string                 `json:"stage,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Event types published on the stream
const (
	EventConnection      = "connection"
	EventProgress        = "progress"
	EventDecisionItem    = "decision_item"
	EventActionItem      = "action_item"
	EventAgentDialogue   = "agent_dialogue"
	EventFinanceFeedback = "finance_feedback"
	EventForecast        = "forecast"
	EventReviewRequired  = "review_required"
	EventError           = "error"
	EventStatus          = "status"
	EventClose           = "close"
)
