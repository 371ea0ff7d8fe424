// Package notify pushes operator notifications to external channels:
// large orders awaiting approval, critical reorders, and cycle failures.
package notify

import (
	"context"
	"sync"
	"time"

	"supply_agent/internal/core"
)

type Level string

const (
	Info     Level = "INFO"
	Warning  Level = "WARNING"
	Critical Level = "CRITICAL"
)

// Payload is one notification fanned out to every channel
type Payload struct {
	Level     Level
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

// Channel delivers a notification to one external destination
type Channel interface {
	Send(ctx context.Context, p Payload) error
	Name() string
}

// Notifier fans notifications out to the configured channels. Delivery
// is asynchronous; the replenishment path never blocks on a webhook.
type Notifier struct {
	mu       sync.RWMutex
	channels []Channel
	logger   core.ILogger
}

const sendTimeout = 10 * time.Second

func NewNotifier(logger core.ILogger) *Notifier {
	return &Notifier{
		logger: logger.WithField("component", "notifier"),
	}
}

// AddChannel registers a delivery channel
func (n *Notifier) AddChannel(ch Channel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels = append(n.channels, ch)
	n.logger.Info("Notification channel added", "name", ch.Name())
}

// Notify sends one notification to every channel without waiting for
// delivery.
func (n *Notifier) Notify(ctx context.Context, title, message string, level Level, fields map[string]string) {
	p := Payload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Fields:    fields,
	}

	n.mu.RLock()
	channels := make([]Channel, len(n.channels))
	copy(channels, n.channels)
	n.mu.RUnlock()

	for _, ch := range channels {
		go func(c Channel) {
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
			defer cancel()
			if err := c.Send(sendCtx, p); err != nil {
				n.logger.Error("Notification delivery failed", "channel", c.Name(), "title", title, "error", err)
			}
		}(ch)
	}
}

// LevelForUrgency maps decision urgency to a notification level
func LevelForUrgency(u core.Urgency) Level {
	switch u {
	case core.UrgencyCritical:
		return Critical
	case core.UrgencyHigh:
		return Warning
	default:
		return Info
	}
}
