package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricCyclesTotal           = "supply_agent_cycles_total"
	MetricCycleDuration         = "supply_agent_cycle_duration_seconds"
	MetricDecisionsTotal        = "supply_agent_decisions_total"
	MetricOrdersPlacedTotal     = "supply_agent_orders_placed_total"
	MetricExternalCallsTotal    = "supply_agent_forecast_external_calls_total"
	MetricNegotiationsTotal     = "supply_agent_negotiations_total"
	MetricBudgetRemaining       = "supply_agent_budget_remaining"
	MetricJobsActive            = "supply_agent_jobs_active"
	MetricKnapsackDuration      = "supply_agent_knapsack_duration_seconds"
	MetricStageDuration         = "supply_agent_stage_duration_seconds"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	CyclesTotal        metric.Int64Counter
	CycleDuration      metric.Float64Histogram
	DecisionsTotal     metric.Int64Counter
	OrdersPlacedTotal  metric.Int64Counter
	ExternalCallsTotal metric.Int64Counter
	NegotiationsTotal  metric.Int64Counter
	KnapsackDuration   metric.Float64Histogram
	StageDuration      metric.Float64Histogram
	BudgetRemaining    metric.Float64ObservableGauge
	JobsActive         metric.Int64ObservableGauge

	// State for observable gauges
	mu              sync.RWMutex
	budgetRemaining float64
	jobsActive      int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.CyclesTotal, err = meter.Int64Counter(MetricCyclesTotal, metric.WithDescription("Total replenishment cycles run"))
	if err != nil {
		return err
	}

	m.CycleDuration, err = meter.Float64Histogram(MetricCycleDuration, metric.WithDescription("End-to-end cycle duration"), metric.WithUnit("s"))
	if err != nil {
		return err
	}

	m.DecisionsTotal, err = meter.Int64Counter(MetricDecisionsTotal, metric.WithDescription("Total reorder decisions emitted"))
	if err != nil {
		return err
	}

	m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal, metric.WithDescription("Total purchase orders written"))
	if err != nil {
		return err
	}

	m.ExternalCallsTotal, err = meter.Int64Counter(MetricExternalCallsTotal, metric.WithDescription("External estimator invocations"))
	if err != nil {
		return err
	}

	m.NegotiationsTotal, err = meter.Int64Counter(MetricNegotiationsTotal, metric.WithDescription("Negotiation rounds executed"))
	if err != nil {
		return err
	}

	m.KnapsackDuration, err = meter.Float64Histogram(MetricKnapsackDuration, metric.WithDescription("Budget solver runtime"), metric.WithUnit("s"))
	if err != nil {
		return err
	}

	m.StageDuration, err = meter.Float64Histogram(MetricStageDuration, metric.WithDescription("Per-stage runtime"), metric.WithUnit("s"))
	if err != nil {
		return err
	}

	m.BudgetRemaining, err = meter.Float64ObservableGauge(MetricBudgetRemaining, metric.WithDescription("Budget left after the last Finance pass"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.budgetRemaining)
			return nil
		}))
	if err != nil {
		return err
	}

	m.JobsActive, err = meter.Int64ObservableGauge(MetricJobsActive, metric.WithDescription("Cycle jobs currently running"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.jobsActive)
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetBudgetRemaining(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.budgetRemaining = v
}

func (m *MetricsHolder) AddActiveJobs(delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobsActive += delta
}

func (m *MetricsHolder) GetActiveJobs() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobsActive
}
