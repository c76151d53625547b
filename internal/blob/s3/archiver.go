package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openbarter/tradecore/internal/domain"
)

// TradeArchiveStore is the slice of the trade store the exporter needs:
// reading trades that went terminal before a cutoff. It never writes.
type TradeArchiveStore interface {
	ListTerminalBefore(ctx context.Context, before time.Time) ([]domain.Trade, error)
}

// Exporter implements domain.Archiver: aged records are serialized to
// JSONL and uploaded under a year-month key. The primary store keeps every
// row; the export is a cold copy, not a migration.
type Exporter struct {
	writer domain.BlobWriter
	trades TradeArchiveStore
	audit  domain.AuditStore
}

// NewExporter creates an Exporter over the given writer and stores.
func NewExporter(writer domain.BlobWriter, trades TradeArchiveStore, audit domain.AuditStore) *Exporter {
	return &Exporter{
		writer: writer,
		trades: trades,
		audit:  audit,
	}
}

// ArchiveTrades exports trades that reached a terminal state before the
// cutoff and returns how many were written.
func (e *Exporter) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := e.trades.ListTerminalBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: query terminal trades: %w", err)
	}
	return e.export(ctx, "trades", before, asRecords(trades))
}

// ArchiveAudit exports audit entries recorded before the cutoff and
// returns how many were written.
func (e *Exporter) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := e.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: query audit entries: %w", err)
	}
	return e.export(ctx, "audit", before, asRecords(entries))
}

// export uploads the records as one JSONL object at
// archive/{kind}/{YYYY-MM}.jsonl and notes the run in the audit log. An
// empty batch uploads nothing.
func (e *Exporter) export(ctx context.Context, kind string, before time.Time, records []any) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return 0, fmt.Errorf("s3blob: encode %s record %d: %w", kind, i, err)
		}
	}

	path := fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
	if err := e.writer.Put(ctx, path, &buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: upload %s: %w", path, err)
	}

	count := int64(len(records))
	if err := e.audit.Log(ctx, "archive_"+kind, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: record %s export: %w", kind, err)
	}
	return count, nil
}

func asRecords[T any](in []T) []any {
	out := make([]any, len(in))
	for i := range in {
		out[i] = in[i]
	}
	return out
}

// Compile-time interface check.
var _ domain.Archiver = (*Exporter)(nil)
