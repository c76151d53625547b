package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbarter/tradecore/internal/domain"
)

func testEvent() domain.TradeEvent {
	return domain.TradeEvent{
		TradeID:     "t1",
		TradeNumber: "TR-01HTEST",
		Version:     2,
		Status:      domain.TradeStatusAccepted,
		ActorID:     "bob",
		Timestamp:   time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestSignPayload(t *testing.T) {
	payload := []byte(`{"trade_id":"t1"}`)
	got := SignPayload("shared-secret", payload)

	mac := hmac.New(sha256.New, []byte("shared-secret"))
	mac.Write(payload)
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	require.Equal(t, want, got)

	// Any change to the body or key changes the signature.
	assert.NotEqual(t, got, SignPayload("shared-secret", []byte(`{"trade_id":"t2"}`)))
	assert.NotEqual(t, got, SignPayload("other-secret", payload))
}

func TestWebhookSend(t *testing.T) {
	var gotBody []byte
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL, "shared-secret")
	require.Equal(t, "webhook", sender.Name())

	evt := testEvent()
	err := sender.Send(context.Background(), evt)
	require.NoError(t, err)

	require.Equal(t, "application/json", gotHeader.Get("Content-Type"))

	// The signature verifies against the raw body the server received.
	require.Equal(t, SignPayload("shared-secret", gotBody), gotHeader.Get(SignatureHeader))

	var decoded domain.TradeEvent
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, evt.TradeID, decoded.TradeID)
	assert.Equal(t, evt.Status, decoded.Status)
}

func TestWebhookSendNoSecret(t *testing.T) {
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL, "")
	err := sender.Send(context.Background(), testEvent())
	require.NoError(t, err)
	require.Empty(t, gotHeader.Get(SignatureHeader))
}

func TestWebhookSendRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no thanks", http.StatusBadGateway)
	}))
	defer srv.Close()

	sender := NewWebhookSender(srv.URL, "shared-secret")
	err := sender.Send(context.Background(), testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookSendConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	sender := NewWebhookSender(srv.URL, "")
	err := sender.Send(context.Background(), testEvent())
	require.Error(t, err)
}
