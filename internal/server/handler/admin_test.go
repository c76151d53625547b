package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbarter/tradecore/internal/domain"
)

type stubResolver struct {
	trade domain.Trade
	err   error

	gotTradeID    string
	gotResolution domain.TradeStatus
	gotReason     string
	calls         int
}

func (s *stubResolver) ResolveDispute(ctx context.Context, tradeID string, resolution domain.TradeStatus, reason string) (domain.Trade, error) {
	s.calls++
	s.gotTradeID, s.gotResolution, s.gotReason = tradeID, resolution, reason
	return s.trade, s.err
}

type stubAudit struct {
	entries []domain.AuditEntry
	err     error
	gotOpts domain.ListOpts
}

func (s *stubAudit) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.gotOpts = opts
	return s.entries, s.err
}

type stubArchives struct {
	infos     []domain.BlobInfo
	object    string
	err       error
	gotPrefix string
	gotPath   string
}

func (s *stubArchives) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	s.gotPrefix = prefix
	return s.infos, s.err
}

func (s *stubArchives) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	s.gotPath = path
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(strings.NewReader(s.object)), nil
}

func TestResolveDisputeHandler(t *testing.T) {
	resolved := sampleTrade()
	resolved.Status = domain.TradeStatusCancelled
	resolver := &stubResolver{trade: resolved}
	h := NewAdminHandler(resolver, &stubAudit{}, nil, testLogger())

	rec := do(h.ResolveDispute, http.MethodPost, "/api/admin/trades/t1/resolve", "",
		`{"resolution":"cancelled","reason":"refund issued"}`, map[string]string{"id": "t1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t1", resolver.gotTradeID)
	assert.Equal(t, domain.TradeStatusCancelled, resolver.gotResolution)
	assert.Equal(t, "refund issued", resolver.gotReason)
}

func TestResolveDisputeHandlerValidation(t *testing.T) {
	tests := []string{
		`{"reason":"no resolution"}`,
		`{"resolution":"cancelled"}`,
		`{}`,
	}

	for _, body := range tests {
		resolver := &stubResolver{}
		h := NewAdminHandler(resolver, &stubAudit{}, nil, testLogger())

		rec := do(h.ResolveDispute, http.MethodPost, "/api/admin/trades/t1/resolve", "", body,
			map[string]string{"id": "t1"})
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
		require.Equal(t, 0, resolver.calls, body)
	}
}

func TestResolveDisputeHandlerConflict(t *testing.T) {
	resolver := &stubResolver{err: domain.ErrConflict}
	h := NewAdminHandler(resolver, &stubAudit{}, nil, testLogger())

	rec := do(h.ResolveDispute, http.MethodPost, "/api/admin/trades/t1/resolve", "",
		`{"resolution":"completed","reason":"carrier confirmed"}`, map[string]string{"id": "t1"})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestListAuditHandler(t *testing.T) {
	audit := &stubAudit{entries: []domain.AuditEntry{
		{ID: 1, Event: "trade_created", CreatedAt: time.Now().UTC()},
		{ID: 2, Event: "trade_accepted", CreatedAt: time.Now().UTC()},
	}}
	h := NewAdminHandler(&stubResolver{}, audit, nil, testLogger())

	rec := do(h.ListAudit, http.MethodGet, "/api/admin/audit?limit=10&offset=5", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, audit.gotOpts.Limit)
	assert.Equal(t, 5, audit.gotOpts.Offset)

	var resp struct {
		Entries []domain.AuditEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "trade_created", resp.Entries[0].Event)
}

func TestListAuditHandlerEmptyIsArray(t *testing.T) {
	h := NewAdminHandler(&stubResolver{}, &stubAudit{}, nil, testLogger())

	rec := do(h.ListAudit, http.MethodGet, "/api/admin/audit", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"entries":[]`)
}

func TestListArchivesHandler(t *testing.T) {
	archives := &stubArchives{infos: []domain.BlobInfo{
		{Path: "archive/trades/2026-02.jsonl", Size: 2048, LastModified: time.Now().UTC()},
	}}
	h := NewAdminHandler(&stubResolver{}, &stubAudit{}, archives, testLogger())

	rec := do(h.ListArchives, http.MethodGet, "/api/admin/archives?prefix=archive/trades/", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "archive/trades/", archives.gotPrefix)
	assert.Contains(t, rec.Body.String(), "archive/trades/2026-02.jsonl")
}

func TestListArchivesHandlerDefaultPrefix(t *testing.T) {
	archives := &stubArchives{}
	h := NewAdminHandler(&stubResolver{}, &stubAudit{}, archives, testLogger())

	rec := do(h.ListArchives, http.MethodGet, "/api/admin/archives", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "archive/", archives.gotPrefix)
}

func TestListArchivesHandlerUnconfigured(t *testing.T) {
	h := NewAdminHandler(&stubResolver{}, &stubAudit{}, nil, testLogger())

	rec := do(h.ListArchives, http.MethodGet, "/api/admin/archives", "", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "archive storage is not configured")
}

func TestDownloadArchiveHandler(t *testing.T) {
	archives := &stubArchives{object: `{"id":"t1"}` + "\n"}
	h := NewAdminHandler(&stubResolver{}, &stubAudit{}, archives, testLogger())

	rec := do(h.DownloadArchive, http.MethodGet, "/api/admin/archives/archive/trades/2026-02.jsonl", "", "",
		map[string]string{"path": "archive/trades/2026-02.jsonl"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "archive/trades/2026-02.jsonl", archives.gotPath)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	assert.Equal(t, `{"id":"t1"}`+"\n", rec.Body.String())
}

func TestDownloadArchiveHandlerNotFound(t *testing.T) {
	archives := &stubArchives{err: domain.ErrNotFound}
	h := NewAdminHandler(&stubResolver{}, &stubAudit{}, archives, testLogger())

	rec := do(h.DownloadArchive, http.MethodGet, "/api/admin/archives/archive/nope.jsonl", "", "",
		map[string]string{"path": "archive/nope.jsonl"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "archive object not found")
}

func TestTriggerSweepHandler(t *testing.T) {
	ch := make(chan struct{}, 1)
	h := NewSchedulerHandler(testLogger()).WithTriggerChannel(ch)

	rec := do(h.TriggerSweep, http.MethodPost, "/api/admin/scheduler/sweep", "", "", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, ch, 1)

	// A second request while the first trigger is unconsumed still answers
	// 202 without blocking.
	rec = do(h.TriggerSweep, http.MethodPost, "/api/admin/scheduler/sweep", "", "", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, ch, 1)
}

func TestTriggerSweepHandlerNoChannel(t *testing.T) {
	h := NewSchedulerHandler(testLogger())

	rec := do(h.TriggerSweep, http.MethodPost, "/api/admin/scheduler/sweep", "", "", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "deadline sweep enqueued")
}
