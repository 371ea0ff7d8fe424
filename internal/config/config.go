// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App         AppConfig         `yaml:"app"`
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Agent       AgentConfig       `yaml:"agent"`
	Finance     FinanceConfig     `yaml:"finance"`
	Forecast    ForecastConfig    `yaml:"forecast"`
	LLM         LLMConfig         `yaml:"llm"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Stream      StreamConfig      `yaml:"stream"`
	Notify      NotifyConfig      `yaml:"notify"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// ServerConfig contains the HTTP server and auth settings
type ServerConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	ReadTimeoutSecs    int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSecs   int    `yaml:"write_timeout_seconds"`
	AdminUsername      string `yaml:"admin_username"`
	AdminPassword      Secret `yaml:"admin_password"`
	TokenTTLMinutes    int    `yaml:"token_ttl_minutes"`
	TokenRatePerMinute int    `yaml:"token_rate_per_minute"`
}

// DatabaseConfig contains the sqlite store settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AgentConfig contains the decision and negotiation parameters
type AgentConfig struct {
	MaxNegotiationRounds         int     `yaml:"max_negotiation_rounds"`
	NegotiationROIThreshold      float64 `yaml:"negotiation_roi_threshold"`
	CriticalStockROIMultiplier   float64 `yaml:"critical_stock_roi_multiplier"`
	StockoutRiskHighMultiplier   float64 `yaml:"stockout_risk_high_multiplier"`
	StockoutRiskMediumMultiplier float64 `yaml:"stockout_risk_medium_multiplier"`
	AutoApprovalThreshold        float64 `yaml:"auto_approval_threshold"`
	MinConfidence                float64 `yaml:"min_confidence"`
	ServiceLevel                 float64 `yaml:"service_level"`
	SimulateReceipt              bool    `yaml:"simulate_receipt"`
	SimulateMarket               bool    `yaml:"simulate_market"`
}

// FinanceConfig contains the budget parameters
type FinanceConfig struct {
	DefaultBudget           float64 `yaml:"default_budget"`
	RevenueReinvestmentRate float64 `yaml:"revenue_reinvestment_rate"`
}

// ForecastConfig contains the hybrid forecaster settings
type ForecastConfig struct {
	MaxExternalCalls int           `yaml:"max_external_calls"`
	Timeout          time.Duration `yaml:"timeout"`
}

// LLMConfig contains the external estimator endpoint settings
type LLMConfig struct {
	Enabled            bool          `yaml:"enabled"`
	BaseURL            string        `yaml:"base_url"`
	APIKey             Secret        `yaml:"api_key"`
	Model              string        `yaml:"model"`
	DialogueTimeout    time.Duration `yaml:"dialogue_timeout"`
	NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`
	RatePerMinute      int           `yaml:"rate_per_minute"`
}

// SchedulerConfig contains the autonomous tick settings
type SchedulerConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalMinutes int  `yaml:"interval_minutes"`
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	StageWorkers   int `yaml:"stage_workers"`
	StageBuffer    int `yaml:"stage_buffer"`
	ManualJobLimit int `yaml:"manual_job_limit"`
}

// StreamConfig contains the event bus settings
type StreamConfig struct {
	BufferSize       int           `yaml:"buffer_size"`
	GracePeriod      time.Duration `yaml:"grace_period"`
	MaxStreamMinutes int           `yaml:"max_stream_minutes"`
}

// NotifyConfig contains the operator notification channel settings.
// Channels with empty credentials are skipped.
type NotifyConfig struct {
	SlackWebhookURL  Secret `yaml:"slack_webhook_url"`
	TelegramBotToken Secret `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	EnableMetrics bool   `yaml:"enable_metrics"`
	ServiceName   string `yaml:"service_name"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateAppConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateServerConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateAgentConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateFinanceConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateForecastConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateSchedulerConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateConcurrencyConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateAppConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.App.LogLevel)) {
		return ValidationError{
			Field:   "app.log_level",
			Value:   c.App.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

func (c *Config) validateServerConfig() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return ValidationError{
			Field:   "server.port",
			Value:   c.Server.Port,
			Message: "must be a valid TCP port",
		}
	}
	if c.Server.AdminUsername == "" {
		return ValidationError{
			Field:   "server.admin_username",
			Message: "admin username is required",
		}
	}
	if c.Server.AdminPassword == "" {
		return ValidationError{
			Field:   "server.admin_password",
			Message: "admin password is required",
		}
	}
	if c.Server.TokenTTLMinutes <= 0 {
		return ValidationError{
			Field:   "server.token_ttl_minutes",
			Value:   c.Server.TokenTTLMinutes,
			Message: "token TTL must be positive",
		}
	}
	return nil
}

func (c *Config) validateAgentConfig() error {
	if c.Agent.MaxNegotiationRounds < 1 {
		return ValidationError{
			Field:   "agent.max_negotiation_rounds",
			Value:   c.Agent.MaxNegotiationRounds,
			Message: "must be at least 1",
		}
	}
	if c.Agent.MinConfidence < 0 || c.Agent.MinConfidence > 1 {
		return ValidationError{
			Field:   "agent.min_confidence",
			Value:   c.Agent.MinConfidence,
			Message: "must be in [0, 1]",
		}
	}
	if c.Agent.ServiceLevel <= 0 || c.Agent.ServiceLevel >= 1 {
		return ValidationError{
			Field:   "agent.service_level",
			Value:   c.Agent.ServiceLevel,
			Message: "must be in (0, 1)",
		}
	}
	if c.Agent.AutoApprovalThreshold < 0 {
		return ValidationError{
			Field:   "agent.auto_approval_threshold",
			Value:   c.Agent.AutoApprovalThreshold,
			Message: "must be non-negative",
		}
	}
	return nil
}

func (c *Config) validateFinanceConfig() error {
	if c.Finance.DefaultBudget < 0 {
		return ValidationError{
			Field:   "finance.default_budget",
			Value:   c.Finance.DefaultBudget,
			Message: "must be non-negative",
		}
	}
	if c.Finance.RevenueReinvestmentRate < 0 || c.Finance.RevenueReinvestmentRate > 1 {
		return ValidationError{
			Field:   "finance.revenue_reinvestment_rate",
			Value:   c.Finance.RevenueReinvestmentRate,
			Message: "must be in [0, 1]",
		}
	}
	return nil
}

func (c *Config) validateForecastConfig() error {
	if c.Forecast.MaxExternalCalls < 0 {
		return ValidationError{
			Field:   "forecast.max_external_calls",
			Value:   c.Forecast.MaxExternalCalls,
			Message: "must be non-negative",
		}
	}
	return nil
}

func (c *Config) validateSchedulerConfig() error {
	if c.Scheduler.Enabled && c.Scheduler.IntervalMinutes < 1 {
		return ValidationError{
			Field:   "scheduler.interval_minutes",
			Value:   c.Scheduler.IntervalMinutes,
			Message: "must be at least 1 when the scheduler is enabled",
		}
	}
	return nil
}

func (c *Config) validateConcurrencyConfig() error {
	if c.Concurrency.StageWorkers < 1 || c.Concurrency.StageWorkers > 100 {
		return ValidationError{
			Field:   "concurrency.stage_workers",
			Value:   c.Concurrency.StageWorkers,
			Message: "must be between 1 and 100",
		}
	}
	if c.Concurrency.ManualJobLimit < 1 {
		return ValidationError{
			Field:   "concurrency.manual_job_limit",
			Value:   c.Concurrency.ManualJobLimit,
			Message: "must be at least 1",
		}
	}
	return nil
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns the configuration defaults; LoadConfig overlays
// the YAML file on top of these.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:     "supply-agent",
			LogLevel: "INFO",
		},
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8000,
			ReadTimeoutSecs:    15,
			WriteTimeoutSecs:   30,
			AdminUsername:      "admin",
			AdminPassword:      "admin",
			TokenTTLMinutes:    60,
			TokenRatePerMinute: 10,
		},
		Database: DatabaseConfig{
			Path: "supply_agent.db",
		},
		Agent: AgentConfig{
			MaxNegotiationRounds:         3,
			NegotiationROIThreshold:      1.1,
			CriticalStockROIMultiplier:   1.5,
			StockoutRiskHighMultiplier:   10.0,
			StockoutRiskMediumMultiplier: 2.0,
			AutoApprovalThreshold:        1000.0,
			MinConfidence:                0.3,
			ServiceLevel:                 0.95,
			SimulateReceipt:              true,
			SimulateMarket:               true,
		},
		Finance: FinanceConfig{
			DefaultBudget:           600.0,
			RevenueReinvestmentRate: 0.3,
		},
		Forecast: ForecastConfig{
			MaxExternalCalls: 10,
			Timeout:          30 * time.Second,
		},
		LLM: LLMConfig{
			Enabled:            false,
			Model:              "llama-3.1-8b-instant",
			DialogueTimeout:    15 * time.Second,
			NegotiationTimeout: 25 * time.Second,
			RatePerMinute:      30,
		},
		Scheduler: SchedulerConfig{
			Enabled:         true,
			IntervalMinutes: 60,
		},
		Concurrency: ConcurrencyConfig{
			StageWorkers:   10,
			StageBuffer:    100,
			ManualJobLimit: 4,
		},
		Stream: StreamConfig{
			BufferSize:       1000,
			GracePeriod:      60 * time.Second,
			MaxStreamMinutes: 10,
		},
		Telemetry: TelemetryConfig{
			EnableMetrics: true,
			ServiceName:   "supply_agent",
		},
	}
}
