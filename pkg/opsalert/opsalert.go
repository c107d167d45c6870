// Package opsalert sends Slack notifications for operator-relevant
// failure conditions: tasks reaching the terminal ERROR state and proxy
// pool exhaustion. This is a supplemented feature,
// adapted from this dependency family's Slack alert notifier.
package opsalert

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
)

// Notifier posts ops alerts to a single Slack channel. A Notifier with no
// bot token is a no-op — callers do not need to branch on configuration.
type Notifier struct {
	client  *slack.Client
	channel string
	logger  *slog.Logger
}

// New builds a Notifier. If botToken is empty, every method becomes a no-op.
func New(botToken, channel string, logger *slog.Logger) *Notifier {
	var client *slack.Client
	if botToken != "" {
		client = slack.New(botToken)
	}
	return &Notifier{client: client, channel: channel, logger: logger}
}

func (n *Notifier) enabled() bool {
	return n != nil && n.client != nil && n.channel != ""
}

// TaskErrored alerts that a task reached the terminal ERROR state. A nil
// Notifier is a valid no-op receiver, so callers do not need a guard.
func (n *Notifier) TaskErrored(ctx context.Context, article, workerID, reason string) {
	n.post(ctx, fmt.Sprintf(":x: task `%s` marked ERROR on %s: %s", article, workerID, reason))
}

// ProxyPoolExhausted alerts that a worker could not lease a proxy.
func (n *Notifier) ProxyPoolExhausted(ctx context.Context, workerID string) {
	n.post(ctx, fmt.Sprintf(":warning: proxy pool exhausted, worker %s idling", workerID))
}

func (n *Notifier) post(ctx context.Context, text string) {
	if !n.enabled() {
		if n != nil && n.logger != nil {
			n.logger.Debug("opsalert disabled, skipping", "text", text)
		}
		return
	}
	if _, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false)); err != nil {
		n.logger.Error("posting ops alert to slack failed", "error", err)
	}
}
