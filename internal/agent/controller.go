package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"supply_agent/internal/config"
	"supply_agent/internal/core"
	"supply_agent/internal/memory"
	"supply_agent/pkg/concurrency"
	apperrors "supply_agent/pkg/errors"
	"supply_agent/pkg/telemetry"
)

// MarketTicker injects synthetic demand ahead of a cycle
type MarketTicker interface {
	Tick(ctx context.Context) (float64, error)
}

// Controller owns the cycle cadence: the scheduler tick, manually
// requested jobs, and the one-running-cycle rule for scheduled runs.
type Controller struct {
	pipeline *Pipeline
	store    core.Store
	memory   *memory.Manager
	market   MarketTicker // nil disables demand simulation
	cfg      *config.Config
	logger   core.ILogger

	cron       *cron.Cron
	manualPool *concurrency.WorkerPool
	metrics    *telemetry.MetricsHolder

	// scheduled ticks skip when a scheduled cycle is still running;
	// manual jobs bypass this and contend on the pool cap instead
	tickMu      sync.Mutex
	cycleNumber atomic.Int64

	baseCtx context.Context
}

// NewController wires the scheduler and the manual job pool. The cycle
// counter resumes from the latest stable checkpoint when one exists.
func NewController(
	ctx context.Context,
	pipeline *Pipeline,
	store core.Store,
	mem *memory.Manager,
	market MarketTicker,
	cfg *config.Config,
	logger core.ILogger,
) *Controller {
	c := &Controller{
		pipeline: pipeline,
		store:    store,
		memory:   mem,
		market:   market,
		cfg:      cfg,
		logger:   logger.WithField("component", "controller"),
		cron:     cron.New(),
		manualPool: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:        "manual_cycles",
			MaxWorkers:  cfg.Concurrency.ManualJobLimit,
			MaxCapacity: cfg.Concurrency.ManualJobLimit,
			NonBlocking: true,
		}, logger),
		metrics: telemetry.GetGlobalMetrics(),
		baseCtx: ctx,
	}

	if cp, err := mem.LatestStable(ctx); err == nil {
		c.cycleNumber.Store(int64(cp.CycleNumber))
		c.logger.Info("Resuming cycle counter from checkpoint",
			"checkpoint_id", cp.CheckpointID, "cycle_number", cp.CycleNumber)
	} else if !errors.Is(err, apperrors.ErrCheckpointNotFound) {
		c.logger.Warn("Checkpoint lookup failed, starting from zero", "error", err)
	}

	return c
}

// Start begins the autonomous schedule when enabled
func (c *Controller) Start() error {
	if !c.cfg.Scheduler.Enabled {
		c.logger.Info("Scheduler disabled, cycles run on demand only")
		return nil
	}

	spec := fmt.Sprintf("@every %dm", c.cfg.Scheduler.IntervalMinutes)
	if _, err := c.cron.AddFunc(spec, c.scheduledTick); err != nil {
		return fmt.Errorf("failed to schedule cycles: %w", err)
	}
	c.cron.Start()
	c.logger.Info("Scheduler started", "interval_minutes", c.cfg.Scheduler.IntervalMinutes)
	return nil
}

// Stop halts the schedule and drains in-flight manual jobs
func (c *Controller) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
	c.manualPool.Stop()
	c.pipeline.Close()
}

// scheduledTick runs one cycle unless the previous scheduled cycle is
// still running, in which case the tick is skipped.
func (c *Controller) scheduledTick() {
	if !c.tickMu.TryLock() {
		c.logger.Warn("Skipping scheduled tick, previous cycle still running")
		return
	}
	defer c.tickMu.Unlock()

	jobID := newJobID()
	if _, err := c.store.CreateJob(c.baseCtx, jobID); err != nil {
		c.logger.Error("Scheduled job creation failed", "error", err)
		return
	}
	c.runJob(c.baseCtx, jobID)
}

// RunOnce queues a manual cycle and returns its job id. Saturation of
// the manual pool is reported to the caller rather than queued.
func (c *Controller) RunOnce(ctx context.Context) (*core.Job, error) {
	jobID := newJobID()
	job, err := c.store.CreateJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if err := c.manualPool.Submit(func() {
		c.runJob(c.baseCtx, jobID)
	}); err != nil {
		if ferr := c.store.FailJob(ctx, jobID, "manual job pool saturated"); ferr != nil {
			c.logger.Error("Failed to mark saturated job", "job_id", jobID, "error", ferr)
		}
		return nil, apperrors.ErrJobPoolSaturated
	}
	return job, nil
}

// ResumeFrom rewinds the cycle counter to a checkpointed cycle number.
// The next cycle continues the numbering from there.
func (c *Controller) ResumeFrom(cycleNumber int) {
	c.cycleNumber.Store(int64(cycleNumber))
	c.logger.Info("Cycle counter restored", "cycle_number", cycleNumber)
}

// Job returns one job row
func (c *Controller) Job(ctx context.Context, id string) (*core.Job, error) {
	return c.store.GetJob(ctx, id)
}

// Jobs returns recent job rows
func (c *Controller) Jobs(ctx context.Context, limit int) ([]core.Job, error) {
	return c.store.ListJobs(ctx, limit)
}

// runJob drives one cycle under a job record. The job id doubles as
// the cycle id so stream consumers can follow a job they started.
func (c *Controller) runJob(ctx context.Context, jobID string) {
	if err := c.store.StartJob(ctx, jobID); err != nil {
		c.logger.Error("Job start failed", "job_id", jobID, "error", err)
		return
	}
	c.metrics.AddActiveJobs(1)
	defer c.metrics.AddActiveJobs(-1)

	var revenue float64
	if c.market != nil && c.cfg.Agent.SimulateMarket {
		r, err := c.market.Tick(ctx)
		if err != nil {
			c.logger.Warn("Market simulation failed", "job_id", jobID, "error", err)
		} else {
			revenue = r
		}
	}

	cycleNumber := int(c.cycleNumber.Add(1))
	result := c.pipeline.RunCycle(ctx, jobID, cycleNumber, revenue)

	blob, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("Result encode failed", "job_id", jobID, "error", err)
		blob = []byte("{}")
	}
	summary := fmt.Sprintf("%d decisions, %d actions, budget remaining %.2f",
		len(result.Decisions), len(result.Actions), result.BudgetRemaining)

	if result.Status == StatusCompleted {
		if err := c.store.CompleteJob(ctx, jobID, string(blob), summary); err != nil {
			c.logger.Error("Job completion write failed", "job_id", jobID, "error", err)
		}
	} else {
		errMsg := "cycle failed"
		if len(result.Errors) > 0 {
			errMsg = result.Errors[0]
		}
		if err := c.store.FailJob(ctx, jobID, errMsg); err != nil {
			c.logger.Error("Job failure write failed", "job_id", jobID, "error", err)
		}
	}
}

// newJobID returns a short id that is easy to paste into a stream URL
func newJobID() string {
	return uuid.NewString()[:8]
}
