package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/openbarter/tradecore/internal/domain"
)

// TelegramSender pushes trade events to an operator chat through the
// Bot API's sendMessage method.
type TelegramSender struct {
	token  string
	chatID string
	client *http.Client
}

// NewTelegramSender creates a sender for the given bot token and chat.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{token: token, chatID: chatID, client: newSenderClient()}
}

// Send renders the event as a Markdown message with a bold headline.
func (t *TelegramSender) Send(ctx context.Context, event domain.TradeEvent) error {
	text := fmt.Sprintf("*Trade %s: %s*\nversion %d, actor %s, at %s",
		event.TradeNumber, event.Status, event.Version, event.ActorID,
		event.Timestamp.UTC().Format(time.RFC3339))

	body, err := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	if err := postJSON(ctx, t.client, url, body, nil); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string { return "telegram" }
