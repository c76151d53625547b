package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// senderTimeout caps one delivery attempt for every sender.
const senderTimeout = 10 * time.Second

func newSenderClient() *http.Client {
	return &http.Client{Timeout: senderTimeout}
}

// postJSON delivers one JSON body and fails on any non-2xx answer,
// quoting up to 1 KiB of the response so the notifier's log line says
// why the receiver refused it.
func postJSON(ctx context.Context, client *http.Client, url string, body []byte, extra map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range extra {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		quote, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, quote)
	}
	return nil
}
