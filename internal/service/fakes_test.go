package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/openbarter/tradecore/internal/domain"
)

// In-memory doubles for the stores and infrastructure the services depend
// on, mirroring the conditional-write contract of the Postgres store.

type memTradeStore struct {
	mu     sync.Mutex
	trades map[string]domain.Trade
}

func newMemTradeStore() *memTradeStore {
	return &memTradeStore{trades: make(map[string]domain.Trade)}
}

func (s *memTradeStore) Create(ctx context.Context, t domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trades[t.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.trades[t.ID] = t
	return nil
}

func (s *memTradeStore) Update(ctx context.Context, t domain.Trade, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.trades[t.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return &domain.ConflictError{TradeID: t.ID, Expected: expectedVersion}
	}
	s.trades[t.ID] = t
	return nil
}

func (s *memTradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[id]
	if !ok {
		return domain.Trade{}, domain.ErrNotFound
	}
	return t, nil
}

func (s *memTradeStore) GetByNumber(ctx context.Context, tradeNumber string) (domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.trades {
		if t.TradeNumber == tradeNumber {
			return t, nil
		}
	}
	return domain.Trade{}, domain.ErrNotFound
}

func (s *memTradeStore) ListByParty(ctx context.Context, partyID string, status domain.TradeStatus, opts domain.ListOpts) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if t.InitiatorID != partyID && t.ReceiverID != partyID {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *memTradeStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Trade, error) {
	return nil, nil
}

func (s *memTradeStore) ListTerminalBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	return nil, nil
}

// seed stores a trade directly, bypassing the service layer.
func (s *memTradeStore) seed(t domain.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[t.ID] = t
}

type auditRecord struct {
	event  string
	detail map[string]any
}

type memAuditStore struct {
	mu      sync.Mutex
	entries []auditRecord
}

func (a *memAuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, auditRecord{event: event, detail: detail})
	return nil
}

func (a *memAuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (a *memAuditStore) ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (a *memAuditStore) events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.event)
	}
	return out
}

func (a *memAuditStore) last() auditRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.entries) == 0 {
		return auditRecord{}
	}
	return a.entries[len(a.entries)-1]
}

type memBus struct {
	mu        sync.Mutex
	published [][]byte
	appended  [][]byte
}

func (b *memBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, payload)
	return nil
}

func (b *memBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *memBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appended = append(b.appended, payload)
	return nil
}

func (b *memBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *memBus) publishedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

func (b *memBus) lastPublished() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.published) == 0 {
		return nil
	}
	return b.published[len(b.published)-1]
}

type fakeLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (l *fakeLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, l.err
}

// fakeItems resolves every reference against a fixed value table. A product
// missing from the table fails resolution the way the live resolver would.
type fakeItems struct {
	values map[string]domain.Decimal
}

func (f *fakeItems) ResolveAll(ctx context.Context, refs []domain.ItemRef, ownerID string, side domain.TradeRole) ([]domain.TradeItem, error) {
	items := make([]domain.TradeItem, 0, len(refs))
	for _, ref := range refs {
		value, ok := f.values[ref.ProductID]
		if !ok {
			return nil, &domain.IneligibleError{ProductID: ref.ProductID, Reason: "unknown product"}
		}
		items = append(items, domain.TradeItem{
			ProductID:    ref.ProductID,
			Side:         side,
			Quantity:     ref.Quantity,
			Title:        "item " + ref.ProductID,
			ValueAtTrade: value,
		})
	}
	return items, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) domain.Decimal {
	d, err := domain.ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decp(s string) *domain.Decimal {
	d := dec(s)
	return &d
}
