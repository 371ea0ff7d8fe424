package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"supply_agent/internal/agent"
	"supply_agent/internal/config"
	"supply_agent/internal/core"
	"supply_agent/internal/memory"
	"supply_agent/internal/store"
	"supply_agent/internal/stream"
	"supply_agent/pkg/logging"
	"supply_agent/pkg/telemetry"
)

func init() {
	if err := telemetry.GetGlobalMetrics().InitMetrics(noop.NewMeterProvider().Meter("test")); err != nil {
		panic(err)
	}
}

type fixture struct {
	srv   *httptest.Server
	store *store.SQLiteStore
	cfg   *config.Config
	mem   *memory.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Scheduler.Enabled = false
	cfg.Agent.SimulateMarket = false

	db, err := store.NewSQLiteStore(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus := stream.NewBus(cfg.Stream.BufferSize, cfg.Stream.GracePeriod, logger)
	hub := stream.NewHub(logger)
	mem := memory.NewManager(db, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	pipeline := agent.NewPipeline(db, mem, bus, nil, nil, cfg, logger)
	controller := agent.NewController(ctx, pipeline, db, mem, nil, cfg, logger)
	t.Cleanup(controller.Stop)

	s := NewServer(cfg, logger, db, controller, bus, hub, mem)
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, store: db, cfg: cfg, mem: mem}
}

func (f *fixture) token(t *testing.T) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "admin"})
	resp, err := http.Post(f.srv.URL+"/token", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var parsed map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	require.NotEmpty(t, parsed["access_token"])
	return parsed["access_token"]
}

func (f *fixture) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

type acceptedJob struct {
	JobID  string         `json:"job_id"`
	Status core.JobStatus `json:"status"`
}

func (f *fixture) runOnce(t *testing.T, token string) acceptedJob {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/agent/run_once", token, nil)
	var accepted acceptedJob
	decode(t, resp, &accepted)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotEmpty(t, accepted.JobID)
	return accepted
}

func TestTokenRejectsBadCredential(t *testing.T) {
	f := newFixture(t)

	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrong"})
	resp, err := http.Post(f.srv.URL+"/token", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProtectedEndpointsRequireToken(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/inventory", "/agent/jobs", "/persistence/checkpoints"} {
		resp := f.do(t, http.MethodGet, path, "", nil)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestTokenViaQueryParameter(t *testing.T) {
	f := newFixture(t)
	token := f.token(t)

	resp, err := http.Get(f.srv.URL + "/inventory?token=" + token)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthIsPublic(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/health")
	require.NoError(t, err)

	var parsed map[string]interface{}
	decode(t, resp, &parsed)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", parsed["status"])
}

func TestInventoryUpsertAndList(t *testing.T) {
	f := newFixture(t)
	token := f.token(t)

	resp := f.do(t, http.MethodPost, "/inventory", token, map[string]interface{}{
		"sku": "SKU-1", "product_name": "Widget", "quantity": 50,
		"threshold": 20, "unit_price": 9.99, "lead_time_days": 3, "is_active": true,
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var parsed struct {
		Items []core.InventoryRecord `json:"items"`
	}
	resp = f.do(t, http.MethodGet, "/inventory", token, nil)
	decode(t, resp, &parsed)
	require.Len(t, parsed.Items, 1)
	assert.Equal(t, "SKU-1", parsed.Items[0].SKU)

	// sku is mandatory
	resp = f.do(t, http.MethodPost, "/inventory", token, map[string]interface{}{"quantity": 5})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSaleDepletesStock(t *testing.T) {
	f := newFixture(t)
	token := f.token(t)
	ctx := context.Background()

	require.NoError(t, f.store.UpsertInventory(ctx, &core.InventoryRecord{
		SKU: "SKU-1", ProductName: "Widget", Quantity: 50, Threshold: 10,
		UnitPrice: 4, LeadTimeDays: 3, IsActive: true,
	}))

	resp := f.do(t, http.MethodPost, "/sales", token, map[string]interface{}{
		"sku": "SKU-1", "sold_quantity": 8,
	})
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	rec, err := f.store.GetInventory(ctx, "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, 42, rec.Quantity)

	// selling an unknown SKU is a 404, not a silent insert
	resp = f.do(t, http.MethodPost, "/sales", token, map[string]interface{}{
		"sku": "SKU-GHOST", "sold_quantity": 1,
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSaleRejectedForInactiveSKU(t *testing.T) {
	f := newFixture(t)
	token := f.token(t)
	ctx := context.Background()

	require.NoError(t, f.store.UpsertInventory(ctx, &core.InventoryRecord{
		SKU: "SKU-RETIRED", ProductName: "Legacy", Quantity: 30, Threshold: 5,
		UnitPrice: 2, LeadTimeDays: 3, IsActive: false,
	}))

	resp := f.do(t, http.MethodPost, "/sales", token, map[string]interface{}{
		"sku": "SKU-RETIRED", "sold_quantity": 1,
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	rec, err := f.store.GetInventory(ctx, "SKU-RETIRED")
	require.NoError(t, err)
	assert.Equal(t, 30, rec.Quantity, "stock untouched")
}

func TestCreateOrderEndpoint(t *testing.T) {
	f := newFixture(t)
	token := f.token(t)
	ctx := context.Background()

	require.NoError(t, f.store.UpsertInventory(ctx, &core.InventoryRecord{
		SKU: "SKU-1", ProductName: "Widget", Quantity: 10, Threshold: 5,
		UnitPrice: 4, LeadTimeDays: 3, IsActive: true,
	}))

	var envelope struct {
		Message string           `json:"message"`
		Data    core.OrderRecord `json:"data"`
	}
	resp := f.do(t, http.MethodPost, "/orders", token, map[string]interface{}{
		"sku": "SKU-1", "quantity": 25,
	})
	decode(t, resp, &envelope)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "order created", envelope.Message)
	assert.NotZero(t, envelope.Data.ID)
	assert.Equal(t, core.OrderStatusPending, envelope.Data.Status)
	assert.False(t, envelope.Data.OrderDate.IsZero())

	orders, err := f.store.ListOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, 25, orders[0].Quantity)

	// quantity must be positive
	resp = f.do(t, http.MethodPost, "/orders", token, map[string]interface{}{
		"sku": "SKU-1", "quantity": 0,
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// ordering an unknown SKU is a 404
	resp = f.do(t, http.MethodPost, "/orders", token, map[string]interface{}{
		"sku": "SKU-GHOST", "quantity": 5,
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateAlertEndpoint(t *testing.T) {
	f := newFixture(t)
	token := f.token(t)
	ctx := context.Background()

	var envelope struct {
		Message string     `json:"message"`
		Data    core.Alert `json:"data"`
	}
	resp := f.do(t, http.MethodPost, "/alerts", token, map[string]interface{}{
		"message": "supplier shipment delayed", "sku": "SKU-1",
	})
	decode(t, resp, &envelope)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "alert created", envelope.Message)
	assert.NotZero(t, envelope.Data.ID)
	assert.Equal(t, "manual", envelope.Data.Type)
	assert.Equal(t, 3, envelope.Data.Priority)

	alerts, err := f.store.ListAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "supplier shipment delayed", alerts[0].Message)

	// message is mandatory
	resp = f.do(t, http.MethodPost, "/alerts", token, map[string]interface{}{
		"sku": "SKU-1",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunOnceLifecycle(t *testing.T) {
	f := newFixture(t)
	token := f.token(t)
	ctx := context.Background()

	require.NoError(t, f.store.UpsertInventory(ctx, &core.InventoryRecord{
		SKU: "SKU-1", ProductName: "Widget", Quantity: 100, Threshold: 10,
		UnitPrice: 4, LeadTimeDays: 3, MinOrderQty: 5, IsActive: true,
	}))

	accepted := f.runOnce(t, token)
	require.NotEmpty(t, accepted.JobID)
	assert.Equal(t, core.JobQueued, accepted.Status)

	require.Eventually(t, func() bool {
		got, err := f.store.GetJob(ctx, accepted.JobID)
		if err != nil {
			return false
		}
		return got.Status == core.JobCompleted || got.Status == core.JobFailed
	}, 10*time.Second, 50*time.Millisecond)

	var fetched core.Job
	resp := f.do(t, http.MethodGet, "/agent/job/"+accepted.JobID, token, nil)
	decode(t, resp, &fetched)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, core.JobCompleted, fetched.Status)
	assert.Contains(t, fetched.Summary, "decisions")

	var listed struct {
		Jobs []core.Job `json:"recent_jobs"`
	}
	resp = f.do(t, http.MethodGet, "/agent/jobs", token, nil)
	decode(t, resp, &listed)
	require.Len(t, listed.Jobs, 1)
}

func TestJobNotFound(t *testing.T) {
	f := newFixture(t)
	token := f.token(t)

	resp := f.do(t, http.MethodGet, "/agent/job/deadbeef", token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFinanceSummary(t *testing.T) {
	f := newFixture(t)
	token := f.token(t)
	ctx := context.Background()

	require.NoError(t, f.store.UpsertInventory(ctx, &core.InventoryRecord{
		SKU: "SKU-1", ProductName: "Widget", Quantity: 100, Threshold: 10,
		UnitPrice: 10, LeadTimeDays: 3, IsActive: true,
	}))
	_, err := f.store.InsertSale(ctx, &core.SalesEvent{SKU: "SKU-1", SoldQuantity: 5})
	require.NoError(t, err)

	var parsed map[string]float64
	resp := f.do(t, http.MethodGet, "/agent/finance-summary", token, nil)
	decode(t, resp, &parsed)

	assert.InDelta(t, 50, parsed["recent_revenue_7d"], 1e-9)
	assert.InDelta(t,
		f.cfg.Finance.DefaultBudget+f.cfg.Finance.RevenueReinvestmentRate*50,
		parsed["next_cycle_budget"], 1e-9)
}

func TestRecoveryPlanNotFoundWithoutCheckpoints(t *testing.T) {
	f := newFixture(t)
	token := f.token(t)

	resp := f.do(t, http.MethodGet, "/persistence/recovery", token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStoreFactRoundTrip(t *testing.T) {
	f := newFixture(t)
	token := f.token(t)

	resp := f.do(t, http.MethodPost, "/persistence/facts", token, map[string]interface{}{
		"category": "sku_context", "key": "SKU-1",
		"content": "supplier shuts down for two weeks in August", "confidence": 0.9,
	})
	var created core.SemanticFact
	decode(t, resp, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, created.FactID)
	assert.Equal(t, "operator", created.Source)

	var parsed struct {
		Facts []core.SemanticFact `json:"facts"`
	}
	resp = f.do(t, http.MethodGet, "/persistence/facts?sku=SKU-1", token, nil)
	decode(t, resp, &parsed)
	require.Len(t, parsed.Facts, 1)
	assert.Equal(t, "supplier shuts down for two weeks in August", parsed.Facts[0].Content)

	// content is mandatory
	resp = f.do(t, http.MethodPost, "/persistence/facts", token, map[string]interface{}{
		"category": "sku_context", "key": "SKU-1",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRecoveryResumeRestoresCycleNumber(t *testing.T) {
	f := newFixture(t)
	token := f.token(t)
	ctx := context.Background()

	resp := f.do(t, http.MethodPost, "/persistence/recovery/resume", token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, err := f.mem.SaveCheckpoint(ctx, 7, "maintain stock levels within budget",
		memory.CheckpointSummary{CycleID: "c7"}, true)
	require.NoError(t, err)

	var parsed map[string]interface{}
	resp = f.do(t, http.MethodPost, "/persistence/recovery/resume", token, nil)
	decode(t, resp, &parsed)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(7), parsed["cycle_number"])
	assert.Equal(t, "maintain stock levels within budget", parsed["goal"])
}

func TestStreamDeliversCycleEvents(t *testing.T) {
	f := newFixture(t)
	token := f.token(t)
	ctx := context.Background()

	require.NoError(t, f.store.UpsertInventory(ctx, &core.InventoryRecord{
		SKU: "SKU-1", ProductName: "Widget", Quantity: 100, Threshold: 10,
		UnitPrice: 4, LeadTimeDays: 3, IsActive: true,
	}))

	accepted := f.runOnce(t, token)

	streamResp := f.do(t, http.MethodGet, "/agent/stream/"+accepted.JobID, token, nil)
	defer streamResp.Body.Close()
	require.Equal(t, http.StatusOK, streamResp.StatusCode)
	assert.Contains(t, streamResp.Header.Get("Content-Type"), "text/event-stream")

	buf := make([]byte, 64*1024)
	var collected []byte
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		n, err := streamResp.Body.Read(buf)
		collected = append(collected, buf[:n]...)
		if bytes.Contains(collected, []byte(`"close"`)) || err != nil {
			break
		}
	}

	text := string(collected)
	assert.Contains(t, text, "data: ")
	assert.Contains(t, text, `"connection"`)
	assert.Contains(t, text, `"status"`)
}

func TestStreamUnknownCycle(t *testing.T) {
	f := newFixture(t)
	token := f.token(t)

	resp := f.do(t, http.MethodGet, "/agent/stream/nope", token, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTokenManagerExpiry(t *testing.T) {
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)

	cfg := config.DefaultConfig().Server
	cfg.TokenTTLMinutes = 0 // tokens expire immediately
	tm := NewTokenManager(cfg, logger)

	token, _, err := tm.Issue("admin", "admin")
	require.NoError(t, err)
	assert.False(t, tm.Validate(token))
}

func TestTokenManagerRevoke(t *testing.T) {
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)

	tm := NewTokenManager(config.DefaultConfig().Server, logger)
	token, expires, err := tm.Issue("admin", "admin")
	require.NoError(t, err)
	assert.True(t, expires.After(time.Now()))
	assert.True(t, tm.Validate(token))

	tm.Revoke(token)
	assert.False(t, tm.Validate(token))
	assert.False(t, tm.Validate("never-issued"))
}

func TestTokenRateLimit(t *testing.T) {
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)

	cfg := config.DefaultConfig().Server
	cfg.TokenRatePerMinute = 1
	tm := NewTokenManager(cfg, logger)

	assert.True(t, tm.Allow("10.0.0.1:1234"))
	assert.False(t, tm.Allow("10.0.0.1:5678"), "same IP shares one limiter")
	assert.True(t, tm.Allow("10.0.0.2:1234"), "different IP gets its own limiter")
}

func TestRemoteIP(t *testing.T) {
	assert.Equal(t, "10.1.2.3", remoteIP("10.1.2.3:9000"))
	assert.Equal(t, "10.1.2.3", remoteIP("10.1.2.3"))
}

func TestLimitParam(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	assert.Equal(t, 50, limitParam(req, 50))

	for raw, want := range map[string]int{"25": 25, "0": 50, "-3": 50, "5000": 50, "abc": 50} {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/x?limit=%s", raw), nil)
		assert.Equal(t, want, limitParam(req, 50), raw)
	}
}
