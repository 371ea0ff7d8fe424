// Package llm implements the external estimator ports on top of an
// OpenAI-compatible chat completion endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"supply_agent/internal/config"
	"supply_agent/internal/core"
	"supply_agent/pkg/telemetry"
)

// APIError represents a non-2xx response from the completion endpoint
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm API error: status=%d body=%s", e.StatusCode, string(e.Body))
}

// Client is a resilient chat completion client shared by the forecast
// and dialogue ports.
type Client struct {
	client   *http.Client
	baseURL  string
	apiKey   string
	model    string
	pipeline failsafe.Executor[*http.Response]
	limiter  *rate.Limiter
	logger   core.ILogger

	reqCounter metric.Int64Counter
	errCounter metric.Int64Counter
}

// NewClient creates a chat client with retry and rate limiting
func NewClient(cfg config.LLMConfig, logger core.ILogger) *Client {
	retryPolicy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500 || resp.StatusCode == 429
		}).
		WithBackoff(250*time.Millisecond, 4*time.Second).
		WithMaxRetries(2).
		Build()

	perSecond := rate.Limit(float64(cfg.RatePerMinute) / 60.0)
	if perSecond <= 0 {
		perSecond = rate.Limit(0.5)
	}

	meter := telemetry.GetMeter("llm-client")
	reqCounter, _ := meter.Int64Counter("llm_requests_total",
		metric.WithDescription("Total chat completion requests"))
	errCounter, _ := meter.Int64Counter("llm_errors_total",
		metric.WithDescription("Total chat completion failures"))

	return &Client{
		client:     &http.Client{},
		baseURL:    cfg.BaseURL,
		apiKey:     string(cfg.APIKey),
		model:      cfg.Model,
		pipeline:   failsafe.With[*http.Response](retryPolicy),
		limiter:    rate.NewLimiter(perSecond, 1),
		logger:     logger.WithField("component", "llm_client"),
		reqCounter: reqCounter,
		errCounter: errCounter,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Chat sends one completion request and returns the assistant text.
// The timeout bounds the whole exchange including retries.
func (c *Client) Chat(ctx context.Context, system, user string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	payload := chatRequest{
		Model:       c.model,
		Temperature: 0.2,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	c.reqCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("model", c.model)))

	// The request is rebuilt per attempt so retries get a fresh body reader
	resp, err := c.pipeline.GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		return c.client.Do(req)
	})
	if err != nil {
		c.errCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("error", "transport")))
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		c.errCounter.Add(ctx, 1, metric.WithAttributes(attribute.Int("status", resp.StatusCode)))
		return "", &APIError{StatusCode: resp.StatusCode, Body: raw}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat response contained no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
