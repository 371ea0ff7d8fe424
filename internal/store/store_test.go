package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supply_agent/internal/core"
	apperrors "supply_agent/pkg/errors"
	"supply_agent/pkg/logging"
	"supply_agent/pkg/retry"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)

	s, err := NewSQLiteStore(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleInventory(sku string) *core.InventoryRecord {
	return &core.InventoryRecord{
		SKU:                sku,
		ProductName:        "Widget " + sku,
		Quantity:           40,
		Threshold:          20,
		UnitPrice:          12.5,
		HoldingCostPercent: 0.15,
		ReorderCost:        25,
		LeadTimeDays:       5,
		Supplier:           "acme",
		MinOrderQty:        10,
		IsActive:           true,
	}
}

func TestInventoryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertInventory(ctx, sampleInventory("SKU-1")))

	rec, err := s.GetInventory(ctx, "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, "Widget SKU-1", rec.ProductName)
	assert.Equal(t, 40, rec.Quantity)
	assert.InDelta(t, 12.5, rec.UnitPrice, 1e-9)
	assert.True(t, rec.IsActive)
	assert.False(t, rec.LastUpdated.IsZero())

	// replace keeps the same primary key
	updated := sampleInventory("SKU-1")
	updated.Quantity = 7
	require.NoError(t, s.UpsertInventory(ctx, updated))

	rec, err = s.GetInventory(ctx, "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, 7, rec.Quantity)

	all, err := s.ListInventory(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetInventoryUnknownSKU(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetInventory(context.Background(), "SKU-MISSING")
	assert.ErrorIs(t, err, apperrors.ErrSKUNotFound)
}

func TestAdjustQuantity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertInventory(ctx, sampleInventory("SKU-1")))

	require.NoError(t, s.AdjustQuantity(ctx, "SKU-1", -15))
	rec, err := s.GetInventory(ctx, "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, 25, rec.Quantity)

	require.NoError(t, s.AdjustQuantity(ctx, "SKU-1", 100))
	rec, err = s.GetInventory(ctx, "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, 125, rec.Quantity)

	assert.ErrorIs(t, s.AdjustQuantity(ctx, "SKU-GHOST", 5), apperrors.ErrSKUNotFound)
}

func TestSalesWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, daysAgo := range []int{1, 3, 12} {
		_, err := s.InsertSale(ctx, &core.SalesEvent{
			SKU:          "SKU-1",
			SoldQuantity: daysAgo,
			Date:         now.AddDate(0, 0, -daysAgo),
		})
		require.NoError(t, err)
	}

	recent, err := s.ListSalesSince(ctx, now.AddDate(0, 0, -7))
	require.NoError(t, err)
	require.Len(t, recent, 2)
	// newest first
	assert.Equal(t, 1, recent[0].SoldQuantity)
	assert.Equal(t, 3, recent[1].SoldQuantity)

	all, err := s.ListSales(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestInsertSaleDefaultsDate(t *testing.T) {
	s := newTestStore(t)

	sale := &core.SalesEvent{SKU: "SKU-1", SoldQuantity: 2}
	id, err := s.InsertSale(context.Background(), sale)
	require.NoError(t, err)
	assert.Positive(t, id)
	assert.False(t, sale.Date.IsZero())
}

func TestOrdersLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.InsertOrder(ctx, &core.OrderRecord{
		SKU:       "SKU-1",
		Quantity:  30,
		OrderDate: time.Now().UTC(),
		Status:    core.OrderStatusPending,
		Notes:     `{"cycle_id":"c1"}`,
	})
	require.NoError(t, err)
	assert.Positive(t, id)

	_, err = s.InsertOrder(ctx, &core.OrderRecord{
		SKU:       "SKU-2",
		Quantity:  10,
		OrderDate: time.Now().UTC(),
		Status:    core.OrderStatusNeedsApproval,
	})
	require.NoError(t, err)

	all, err := s.ListOrders(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := s.ListOrdersByStatus(ctx, core.OrderStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "SKU-1", pending[0].SKU)
	assert.Contains(t, pending[0].Notes, "c1")
}

func TestAlertsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alert := &core.Alert{
		Message:  "Reorder placed for SKU-1",
		Type:     "reorder",
		SKU:      "SKU-1",
		Priority: 2,
	}
	id, err := s.InsertAlert(ctx, alert)
	require.NoError(t, err)
	assert.Equal(t, id, alert.ID)

	alerts, err := s.ListAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, 2, alerts[0].Priority)
}

func TestJobLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, core.JobQueued, job.Status)

	require.NoError(t, s.StartJob(ctx, "job-1"))
	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, core.JobRunning, got.Status)
	require.NotNil(t, got.StartedAt)

	require.NoError(t, s.CompleteJob(ctx, "job-1", `{"status":"completed"}`, "1 order placed"))
	got, err = s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, core.JobCompleted, got.Status)
	assert.Equal(t, "1 order placed", got.Summary)
	require.NotNil(t, got.CompletedAt)
}

func TestJobFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateJob(ctx, "job-bad")
	require.NoError(t, err)
	require.NoError(t, s.FailJob(ctx, "job-bad", "stage fetch failed"))

	got, err := s.GetJob(ctx, "job-bad")
	require.NoError(t, err)
	assert.Equal(t, core.JobFailed, got.Status)
	assert.Equal(t, "stage fetch failed", got.Error)
}

func TestGetJobUnknown(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetJob(context.Background(), "nope")
	assert.ErrorIs(t, err, apperrors.ErrJobNotFound)
}

func TestFailInterruptedJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateJob(ctx, "queued-1")
	require.NoError(t, err)
	_, err = s.CreateJob(ctx, "running-1")
	require.NoError(t, err)
	require.NoError(t, s.StartJob(ctx, "running-1"))
	_, err = s.CreateJob(ctx, "done-1")
	require.NoError(t, err)
	require.NoError(t, s.CompleteJob(ctx, "done-1", "{}", ""))

	n, err := s.FailInterruptedJobs(ctx, "interrupted by restart")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.GetJob(ctx, "queued-1")
	require.NoError(t, err)
	assert.Equal(t, core.JobFailed, got.Status)
	assert.Equal(t, "interrupted by restart", got.Error)

	got, err = s.GetJob(ctx, "done-1")
	require.NoError(t, err)
	assert.Equal(t, core.JobCompleted, got.Status)
}

func TestFactUpsertDeactivatesPrior(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertFact(ctx, &core.SemanticFact{
		FactID:     "f1",
		Category:   "demand_pattern",
		Key:        "SKU-1",
		Content:    "steady weekday demand",
		Source:     "cycle-1",
		Confidence: 0.8,
	}))
	require.NoError(t, s.UpsertFact(ctx, &core.SemanticFact{
		FactID:     "f2",
		Category:   "demand_pattern",
		Key:        "SKU-1",
		Content:    "demand spiking on weekends",
		Source:     "cycle-2",
		Confidence: 0.9,
	}))

	facts, err := s.ListFactsByKey(ctx, "SKU-1")
	require.NoError(t, err)
	require.Len(t, facts, 1, "old fact for the same category and key is deactivated")
	assert.Equal(t, "f2", facts[0].FactID)
	assert.Equal(t, "demand spiking on weekends", facts[0].Content)

	// a different category coexists
	require.NoError(t, s.UpsertFact(ctx, &core.SemanticFact{
		FactID:   "f3",
		Category: "supplier_behavior",
		Key:      "SKU-1",
		Content:  "acme ships late in december",
	}))
	facts, err = s.ListFactsByKey(ctx, "SKU-1")
	require.NoError(t, err)
	assert.Len(t, facts, 2)

	all, err := s.ListFacts(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCheckpointLatestStable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LatestStableCheckpoint(ctx)
	assert.ErrorIs(t, err, apperrors.ErrCheckpointNotFound)

	base := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.SaveCheckpoint(ctx, &core.Checkpoint{
		CheckpointID: "cp-1", Timestamp: base, CycleNumber: 1,
		Goal: "maintain stock", State: "{}", IsStable: true,
	}))
	require.NoError(t, s.SaveCheckpoint(ctx, &core.Checkpoint{
		CheckpointID: "cp-2", Timestamp: base.Add(10 * time.Minute), CycleNumber: 2,
		Goal: "maintain stock", State: "{}", IsStable: false,
	}))
	require.NoError(t, s.SaveCheckpoint(ctx, &core.Checkpoint{
		CheckpointID: "cp-3", Timestamp: base.Add(20 * time.Minute), CycleNumber: 3,
		Goal: "maintain stock", State: "{}", IsStable: true,
	}))

	cp, err := s.LatestStableCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cp-3", cp.CheckpointID)
	assert.Equal(t, 3, cp.CycleNumber)

	all, err := s.ListCheckpoints(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestEpisodeContentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertEpisode(ctx, &core.Episode{
		EventID:     "ep-1",
		EventType:   "cycle",
		Description: "cycle 4 completed",
		Context:     "2 SKUs below threshold",
		Outcome:     "success",
		Learning:    "budget covered both orders",
		SKU:         "",
	}))

	episodes, err := s.ListEpisodes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, episodes, 1)

	ep := episodes[0]
	assert.Equal(t, "ep-1", ep.EventID)
	assert.Equal(t, "cycle", ep.EventType)
	assert.Equal(t, "2 SKUs below threshold", ep.Context)
	assert.Equal(t, "success", ep.Outcome)
	assert.Equal(t, "budget covered both orders", ep.Learning)
}

func TestWithRetrySurfacesPersistentContention(t *testing.T) {
	s := newTestStore(t)
	s.policy = retry.RetryPolicy{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}

	calls := 0
	err := s.withRetry(context.Background(), func() error {
		calls++
		return errors.New("database is locked")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrStoreBusy)
	assert.Equal(t, 2, calls)

	// data errors pass through untouched and unretried
	calls = 0
	err = s.withRetry(context.Background(), func() error {
		calls++
		return apperrors.ErrSKUNotFound
	})
	assert.ErrorIs(t, err, apperrors.ErrSKUNotFound)
	assert.NotErrorIs(t, err, apperrors.ErrStoreBusy)
	assert.Equal(t, 1, calls)
}
