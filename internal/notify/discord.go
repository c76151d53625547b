package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/openbarter/tradecore/internal/domain"
)

// DiscordSender pushes trade events to an operator channel through a
// Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a sender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: newSenderClient()}
}

// Send renders the event with a bold headline in Discord markdown.
// Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, event domain.TradeEvent) error {
	content := fmt.Sprintf("**Trade %s: %s**\nversion %d, actor %s",
		event.TradeNumber, event.Status, event.Version, event.ActorID)

	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	if err := postJSON(ctx, d.client, d.webhookURL, body, nil); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string { return "discord" }
