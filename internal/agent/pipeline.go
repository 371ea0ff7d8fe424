package agent

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"supply_agent/internal/config"
	"supply_agent/internal/core"
	"supply_agent/internal/memory"
	"supply_agent/internal/notify"
	"supply_agent/pkg/concurrency"
	"supply_agent/pkg/telemetry"
)

// Pipeline advances a cycle through the seven stages and owns the
// shared cycle state.
type Pipeline struct {
	store      core.Store
	memory     *memory.Manager
	bus        core.EventSink
	forecaster core.ForecastClient // nil disables the external path
	dialogist  core.DialogueClient // nil falls back to templates
	cfg        *config.Config
	logger     core.ILogger
	pool       *concurrency.WorkerPool
	notifier   *notify.Notifier // nil disables outbound notifications

	tracer  trace.Tracer
	metrics *telemetry.MetricsHolder
}

// NewPipeline wires the cycle engine
func NewPipeline(
	store core.Store,
	mem *memory.Manager,
	bus core.EventSink,
	forecaster core.ForecastClient,
	dialogist core.DialogueClient,
	cfg *config.Config,
	logger core.ILogger,
) *Pipeline {
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "stage_fanout",
		MaxWorkers:  cfg.Concurrency.StageWorkers,
		MaxCapacity: cfg.Concurrency.StageBuffer,
	}, logger)

	return &Pipeline{
		store:      store,
		memory:     mem,
		bus:        bus,
		forecaster: forecaster,
		dialogist:  dialogist,
		cfg:        cfg,
		logger:     logger.WithField("component", "pipeline"),
		pool:       pool,
		tracer:     telemetry.GetTracer("cycle-pipeline"),
		metrics:    telemetry.GetGlobalMetrics(),
	}
}

// SetNotifier attaches the operator notification fan-out
func (p *Pipeline) SetNotifier(n *notify.Notifier) {
	p.notifier = n
}

// Close releases the stage worker pool
func (p *Pipeline) Close() {
	p.pool.Stop()
}

type stage struct {
	name string
	fn   func(context.Context, *CycleState) error
}

// RunCycle drives one full cycle. recentRevenue seeds the revenue slot
// until the fetch stage computes it from the sales window. A stage-fatal
// error ends the cycle in failed state; per-SKU errors do not.
func (p *Pipeline) RunCycle(ctx context.Context, cycleID string, cycleNumber int, recentRevenue float64) *CycleResult {
	st := NewCycleState(cycleID, cycleNumber, "maintain stock levels within budget", p.cfg.Agent.MaxNegotiationRounds)
	st.RecentRevenue = recentRevenue

	log := p.logger.WithField("cycle_id", cycleID)
	log.Info("Cycle started", "cycle_number", cycleNumber)
	start := time.Now()

	ctx, span := p.tracer.Start(ctx, "run_cycle",
		trace.WithAttributes(attribute.String("cycle_id", cycleID)))
	defer span.End()

	status := StatusCompleted

	stages := []stage{
		{"fetch", p.fetchStage},
		{"forecast", p.forecastStage},
		{"analyze", p.analyzeStage},
		{"constraints", p.constraintsStage},
		{"optimize", p.optimizeStage},
		{"finance", p.financeStage},
	}

	for _, s := range stages {
		if err := p.runStage(ctx, st, s); err != nil {
			status = StatusFailed
			break
		}
	}

	// The conditional edge evaluates exactly once, after the first
	// Finance pass. One negotiation round, then Finance re-optimizes
	// and control always proceeds to Action.
	if status == StatusCompleted &&
		len(st.FinanceRejections) > 0 &&
		st.NegotiationRounds == 0 &&
		st.NegotiationRounds < st.MaxNegotiationRounds {
		if err := p.runStage(ctx, st, stage{"negotiation", p.negotiationStage}); err != nil {
			status = StatusFailed
		} else if err := p.runStage(ctx, st, stage{"finance", p.financeStage}); err != nil {
			status = StatusFailed
		}
	}

	if status == StatusCompleted {
		if err := p.runStage(ctx, st, stage{"action", p.actionStage}); err != nil {
			status = StatusFailed
		}
	}

	// Memory runs on every path so failed cycles leave an unstable
	// checkpoint and an episode.
	p.memoryStage(ctx, st, status)

	if status == StatusFailed && p.notifier != nil {
		msg := "cycle aborted"
		if len(st.Errors) > 0 {
			msg = st.Errors[0]
		}
		p.notifier.Notify(ctx, "Replenishment cycle failed", msg, notify.Critical,
			map[string]string{"cycle_id": cycleID})
	}

	duration := time.Since(start)
	p.metrics.CyclesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	p.metrics.CycleDuration.Record(ctx, duration.Seconds())

	p.bus.Emit(cycleID, core.AgentEvent{
		Type:    core.EventStatus,
		Stage:   "done",
		Message: fmt.Sprintf("cycle %s", status),
		Details: map[string]interface{}{
			"status":    status,
			"decisions": len(st.Decisions),
			"actions":   len(st.Actions),
			"errors":    len(st.Errors),
		},
	})

	log.Info("Cycle finished",
		"status", status,
		"duration", duration,
		"decisions", len(st.Decisions),
		"actions", len(st.Actions),
		"rejections", len(st.FinanceRejections),
		"errors", len(st.Errors))

	return &CycleResult{
		CycleID:           cycleID,
		Status:            status,
		Decisions:         st.Decisions,
		Actions:           st.Actions,
		Dialogues:         st.Dialogues,
		Forecasts:         st.Forecasts,
		SKUsProcessed:     len(st.Inventory),
		Errors:            st.Errors,
		FailedSKUs:        st.FailedSKUs,
		Budget:            st.Budget,
		BudgetRemaining:   st.BudgetRemaining,
		NegotiationRounds: st.NegotiationRounds,
		FinanceFeedback:   st.FinanceFeedback,
	}
}

// runStage executes one stage with panic containment and emits the
// stage transition events.
func (p *Pipeline) runStage(ctx context.Context, st *CycleState, s stage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panicked: %v", s.name, r)
			st.AddError(err.Error())
			p.logger.Error("Stage panic recovered", "cycle_id", st.CycleID, "stage", s.name, "panic", r)
			p.bus.Emit(st.CycleID, core.AgentEvent{
				Type:    core.EventError,
				Stage:   s.name,
				Message: err.Error(),
			})
		}
	}()

	if err := ctx.Err(); err != nil {
		st.AddError(fmt.Sprintf("stage %s cancelled: %v", s.name, err))
		return err
	}

	ctx, span := p.tracer.Start(ctx, "stage."+s.name)
	defer span.End()

	p.bus.Emit(st.CycleID, core.AgentEvent{
		Type:    core.EventProgress,
		Stage:   s.name,
		Message: fmt.Sprintf("entering %s", s.name),
	})

	start := time.Now()
	err = s.fn(ctx, st)
	p.metrics.StageDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("stage", s.name)))

	if err != nil {
		span.RecordError(err)
		st.AddError(fmt.Sprintf("stage %s failed: %v", s.name, err))
		p.bus.Emit(st.CycleID, core.AgentEvent{
			Type:    core.EventError,
			Stage:   s.name,
			Message: err.Error(),
		})
	}
	return err
}
