package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists trade aggregates with optimistic concurrency.
//
// Update is the only mutation path for existing trades: it writes the full
// aggregate conditioned on expectedVersion and returns ErrConflict when
// another actor already advanced the record. trade.Version must be
// expectedVersion+1; the condition is enforced in SQL, not application code.
type TradeStore interface {
	Create(ctx context.Context, trade Trade) error
	Update(ctx context.Context, trade Trade, expectedVersion int64) error
	GetByID(ctx context.Context, id string) (Trade, error)
	GetByNumber(ctx context.Context, tradeNumber string) (Trade, error)
	ListByParty(ctx context.Context, partyID string, status TradeStatus, opts ListOpts) ([]Trade, error)

	// ListExpired returns active, non-disputed trades whose governing
	// deadline passed before now, oldest deadline first, for the sweep.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]Trade, error)

	// ListTerminalBefore returns trades that reached a terminal state
	// before the cutoff, for cold-storage export.
	ListTerminalBefore(ctx context.Context, before time.Time) ([]Trade, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
}
