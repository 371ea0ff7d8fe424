package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"supply_agent/internal/core"
	apperrors "supply_agent/pkg/errors"
)

const forecastSystemPrompt = `You are a demand forecasting assistant for a retail supply chain.
Given an inventory record and its recent sales, respond with ONLY a JSON object:
{"daily": [d1,d2,d3,d4,d5,d6,d7], "confidence": 0.0-1.0, "explanation": "short reason"}
The daily values are expected unit demand for the next 7 days.`

// externalConfidenceFloor prevents a pessimistic estimator response from
// routing a SKU straight to hold.
const externalConfidenceFloor = 0.45

// Forecaster implements core.ForecastClient on the chat client
type Forecaster struct {
	client  *Client
	timeout time.Duration
	logger  core.ILogger
}

// NewForecaster creates the external demand estimator port
func NewForecaster(client *Client, timeout time.Duration, logger core.ILogger) *Forecaster {
	return &Forecaster{
		client:  client,
		timeout: timeout,
		logger:  logger.WithField("component", "llm_forecaster"),
	}
}

// EstimateDemand asks the external estimator for a 7-day demand vector
func (f *Forecaster) EstimateDemand(ctx context.Context, inv *core.InventoryRecord, sales []core.SalesEvent) (*core.Forecast, error) {
	prompt := buildForecastPrompt(inv, sales)

	text, err := f.client.Chat(ctx, forecastSystemPrompt, prompt, f.timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrEstimatorFailed, err)
	}

	parsed, err := parseForecastResponse(text)
	if err != nil {
		f.logger.Warn("Estimator returned unparseable forecast", "sku", inv.SKU, "error", err)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrEstimatorFailed, err)
	}

	parsed.SKU = inv.SKU
	parsed.Source = "external"
	if parsed.Confidence < externalConfidenceFloor {
		parsed.Confidence = externalConfidenceFloor
	}
	return parsed, nil
}

func buildForecastPrompt(inv *core.InventoryRecord, sales []core.SalesEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SKU: %s (%s)\n", inv.SKU, inv.ProductName)
	fmt.Fprintf(&b, "Stock: %d, threshold: %d, unit price: %.2f, lead time: %d days\n",
		inv.Quantity, inv.Threshold, inv.UnitPrice, inv.LeadTimeDays)

	if len(inv.Facts) > 0 {
		b.WriteString("Known facts:\n")
		for _, fact := range inv.Facts {
			fmt.Fprintf(&b, "- [%s] %s (confidence %.2f)\n", fact.Category, fact.Content, fact.Confidence)
		}
	}

	if len(sales) == 0 {
		b.WriteString("No sales in the last 7 days.\n")
	} else {
		b.WriteString("Recent sales (newest first):\n")
		for i, s := range sales {
			if i >= 14 {
				break
			}
			fmt.Fprintf(&b, "- %s: %d units\n", s.Date.Format("2006-01-02"), s.SoldQuantity)
		}
	}
	return b.String()
}

type forecastPayload struct {
	Daily       []float64 `json:"daily"`
	Confidence  float64   `json:"confidence"`
	Explanation string    `json:"explanation"`
}

// parseForecastResponse tolerates fenced code blocks and leading prose
// around the JSON object.
func parseForecastResponse(text string) (*core.Forecast, error) {
	raw := extractJSON(text)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var payload forecastPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("invalid forecast JSON: %w", err)
	}
	if len(payload.Daily) != 7 {
		return nil, fmt.Errorf("expected 7 daily values, got %d", len(payload.Daily))
	}
	for i, d := range payload.Daily {
		if d < 0 {
			payload.Daily[i] = 0
		}
	}
	if payload.Confidence < 0 {
		payload.Confidence = 0
	}
	if payload.Confidence > 1 {
		payload.Confidence = 1
	}

	return &core.Forecast{
		Daily:       payload.Daily,
		Confidence:  payload.Confidence,
		Explanation: payload.Explanation,
	}, nil
}

// extractJSON returns the first top-level JSON object found in text
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+3:]
		text = strings.TrimPrefix(text, "json")
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
