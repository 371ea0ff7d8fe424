package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"supply_agent/internal/core"
	apperrors "supply_agent/pkg/errors"
)

const dialogueSystemPrompt = `You are the voice of an autonomous supply-chain agent.
Write one short, professional sentence for the situation described. No preamble, no quotes.`

// Dialogist implements core.DialogueClient on the chat client
type Dialogist struct {
	client  *Client
	timeout time.Duration
	logger  core.ILogger
}

// NewDialogist creates the dialogue text port
func NewDialogist(client *Client, timeout time.Duration, logger core.ILogger) *Dialogist {
	return &Dialogist{
		client:  client,
		timeout: timeout,
		logger:  logger.WithField("component", "llm_dialogist"),
	}
}

// Compose generates one dialogue line for an agent exchange
func (d *Dialogist) Compose(ctx context.Context, prompt string) (string, error) {
	text, err := d.client.Chat(ctx, dialogueSystemPrompt, prompt, d.timeout)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrEstimatorFailed, err)
	}
	text = strings.TrimSpace(strings.Trim(strings.TrimSpace(text), `"`))
	if text == "" {
		return "", fmt.Errorf("%w: empty dialogue", apperrors.ErrEstimatorFailed)
	}
	return text, nil
}
