package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/openbarter/tradecore/internal/domain"
)

// SignatureHeader carries the HMAC-SHA256 signature of the webhook body
// so the receiving marketplace service can verify the sender.
const SignatureHeader = "X-Tradecore-Signature"

// WebhookSender delivers trade events to the marketplace's notification
// endpoint as signed JSON POSTs.
type WebhookSender struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookSender creates a sender for the given endpoint. When secret
// is non-empty, each request carries an HMAC-SHA256 signature of its
// body.
func NewWebhookSender(url, secret string) *WebhookSender {
	return &WebhookSender{url: url, secret: secret, client: newSenderClient()}
}

// Send posts the raw event JSON to the webhook endpoint.
func (w *WebhookSender) Send(ctx context.Context, event domain.TradeEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	var extra map[string]string
	if w.secret != "" {
		extra = map[string]string{SignatureHeader: SignPayload(w.secret, body)}
	}

	if err := postJSON(ctx, w.client, w.url, body, extra); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (w *WebhookSender) Name() string { return "webhook" }

// SignPayload computes HMAC-SHA256 of payload using the shared secret
// and returns it base64 standard-encoded. Receivers verify by
// recomputing over the raw request body.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
