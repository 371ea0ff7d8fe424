package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supply_agent/internal/config"
	"supply_agent/internal/core"
	apperrors "supply_agent/pkg/errors"
	"supply_agent/pkg/logging"
)

func testLogger(t *testing.T) core.ILogger {
	t.Helper()
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)
	return logger
}

func TestParseForecastResponsePlainJSON(t *testing.T) {
	fc, err := parseForecastResponse(`{"daily":[1,2,3,4,5,6,7],"confidence":0.8,"explanation":"steady"}`)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7}, fc.Daily)
	assert.InDelta(t, 0.8, fc.Confidence, 1e-9)
	assert.Equal(t, "steady", fc.Explanation)
}

func TestParseForecastResponseFencedBlock(t *testing.T) {
	text := "Here is my forecast:\n```json\n{\"daily\":[2,2,2,2,2,2,2],\"confidence\":0.6,\"explanation\":\"flat\"}\n```\nLet me know."
	fc, err := parseForecastResponse(text)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2, 2, 2, 2, 2, 2}, fc.Daily)
}

func TestParseForecastResponseLeadingProse(t *testing.T) {
	text := `Based on the sales data {"daily":[0,0,1,1,0,0,2],"confidence":0.4,"explanation":"sparse"}`
	fc, err := parseForecastResponse(text)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, fc.Confidence, 1e-9)
}

func TestParseForecastResponseRequiresSevenValues(t *testing.T) {
	_, err := parseForecastResponse(`{"daily":[1,2,3],"confidence":0.5}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "7 daily values")
}

func TestParseForecastResponseClampsValues(t *testing.T) {
	fc, err := parseForecastResponse(`{"daily":[-5,1,1,1,1,1,1],"confidence":1.7}`)
	require.NoError(t, err)
	assert.Zero(t, fc.Daily[0])
	assert.InDelta(t, 1.0, fc.Confidence, 1e-9)

	fc, err = parseForecastResponse(`{"daily":[1,1,1,1,1,1,1],"confidence":-0.3}`)
	require.NoError(t, err)
	assert.Zero(t, fc.Confidence)
}

func TestParseForecastResponseNoJSON(t *testing.T) {
	_, err := parseForecastResponse("I cannot produce a forecast right now.")
	assert.Error(t, err)
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSON(`{"a":1}`))
	assert.Equal(t, `{"a":1}`, extractJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, extractJSON(`prose before {"a":1} prose after`))
	assert.Empty(t, extractJSON("no braces here"))
	assert.Empty(t, extractJSON("}{"))
}

func TestBuildForecastPromptIncludesFacts(t *testing.T) {
	inv := &core.InventoryRecord{
		SKU: "SKU-1", ProductName: "Widget", Quantity: 9, Threshold: 20,
		UnitPrice: 4.5, LeadTimeDays: 3,
		Facts: []core.SemanticFact{{Category: "demand_pattern", Content: "spikes on weekends", Confidence: 0.9}},
	}
	prompt := buildForecastPrompt(inv, nil)
	assert.Contains(t, prompt, "SKU-1")
	assert.Contains(t, prompt, "spikes on weekends")
	assert.Contains(t, prompt, "No sales in the last 7 days")
}

func chatFixture(content string) string {
	payload := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"content": content}},
		},
	}
	raw, _ := json.Marshal(payload)
	return string(raw)
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return NewClient(config.LLMConfig{
		BaseURL:       baseURL,
		APIKey:        config.Secret("test-key"),
		Model:         "test-model",
		RatePerMinute: 600,
	}, testLogger(t))
}

func TestClientChat(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Write([]byte(chatFixture("hello there")))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	text, err := c.Chat(context.Background(), "system", "user", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
	assert.Equal(t, "Bearer test-key", gotAuth)
}

func TestClientChatRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(chatFixture("recovered")))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	text, err := c.Chat(context.Background(), "system", "user", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "recovered", text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClientChatSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Chat(context.Background(), "system", "user", 5*time.Second)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestForecasterEstimateDemand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatFixture(`{"daily":[3,3,3,3,3,3,3],"confidence":0.2,"explanation":"low data"}`)))
	}))
	defer srv.Close()

	f := NewForecaster(newTestClient(t, srv.URL), 5*time.Second, testLogger(t))
	fc, err := f.EstimateDemand(context.Background(), &core.InventoryRecord{SKU: "SKU-1"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "SKU-1", fc.SKU)
	assert.Equal(t, "external", fc.Source)
	// pessimistic confidence is floored so the SKU is not auto-held
	assert.InDelta(t, externalConfidenceFloor, fc.Confidence, 1e-9)
}

func TestForecasterRejectsGarbage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatFixture("sorry, I cannot help with that")))
	}))
	defer srv.Close()

	f := NewForecaster(newTestClient(t, srv.URL), 5*time.Second, testLogger(t))
	_, err := f.EstimateDemand(context.Background(), &core.InventoryRecord{SKU: "SKU-1"}, nil)
	assert.ErrorIs(t, err, apperrors.ErrEstimatorFailed)
}

func TestDialogistComposeTrimsQuotes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatFixture("\"Approved: the order fits this cycle's budget.\"\n")))
	}))
	defer srv.Close()

	d := NewDialogist(newTestClient(t, srv.URL), 5*time.Second, testLogger(t))
	text, err := d.Compose(context.Background(), "approve order")
	require.NoError(t, err)
	assert.Equal(t, "Approved: the order fits this cycle's budget.", text)
}
