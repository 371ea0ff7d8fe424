package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"supply_agent/internal/config"
	"supply_agent/internal/core"
	"supply_agent/internal/memory"
	"supply_agent/internal/store"
	"supply_agent/internal/stream"
	"supply_agent/pkg/logging"
	"supply_agent/pkg/telemetry"
)

func init() {
	// instruments stay no-op in tests; the pipeline records through them
	// unconditionally
	if err := telemetry.GetGlobalMetrics().InitMetrics(noop.NewMeterProvider().Meter("test")); err != nil {
		panic(err)
	}
}

func testLogger(t *testing.T) core.ILogger {
	t.Helper()
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)
	return logger
}

func testConfig() *config.Config {
	return config.DefaultConfig()
}

// testPipeline builds a pipeline over a fresh in-memory store with no
// external estimator.
func testPipeline(t *testing.T) (*Pipeline, *store.SQLiteStore, *stream.Bus) {
	t.Helper()
	logger := testLogger(t)

	db, err := store.NewSQLiteStore(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus := stream.NewBus(1000, time.Minute, logger)
	mem := memory.NewManager(db, logger)

	p := NewPipeline(db, mem, bus, nil, nil, testConfig(), logger)
	t.Cleanup(p.Close)
	return p, db, bus
}

func testInventory(sku string, qty, threshold int, price float64) *core.InventoryRecord {
	return &core.InventoryRecord{
		SKU:                sku,
		ProductName:        sku,
		Quantity:           qty,
		Threshold:          threshold,
		UnitPrice:          price,
		HoldingCostPercent: 0.15,
		ReorderCost:        25,
		LeadTimeDays:       3,
		Supplier:           "acme",
		MinOrderQty:        10,
		IsActive:           true,
	}
}
