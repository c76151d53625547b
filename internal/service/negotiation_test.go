package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openbarter/tradecore/internal/domain"
)

type negotiationFixture struct {
	svc     *NegotiationService
	store   *memTradeStore
	audit   *memAuditStore
	bus     *memBus
	limiter *fakeLimiter
}

func newNegotiationFixture() *negotiationFixture {
	store := newMemTradeStore()
	audit := &memAuditStore{}
	bus := &memBus{}
	limiter := &fakeLimiter{allow: true}
	items := &fakeItems{values: map[string]domain.Decimal{
		"p1": dec("20.12"),
		"p2": dec("15"),
		"p3": dec("8.50"),
	}}
	logger := testLogger()

	cfg := NegotiationConfig{
		ResponseWindow:  72 * time.Hour,
		PaymentWindow:   72 * time.Hour,
		ShippingWindow:  168 * time.Hour,
		MaxItemsPerSide: 3,
		CreateLimit:     5,
		CreateWindow:    time.Hour,
	}

	return &negotiationFixture{
		svc:     NewNegotiationService(store, audit, items, limiter, NewEventEmitter(bus, logger), cfg, logger),
		store:   store,
		audit:   audit,
		bus:     bus,
		limiter: limiter,
	}
}

func (f *negotiationFixture) create(t *testing.T) domain.Trade {
	t.Helper()
	tr, err := f.svc.Create(context.Background(), CreateTradeRequest{
		InitiatorID:    "alice",
		ReceiverID:     "bob",
		InitiatorItems: []domain.ItemRef{{ProductID: "p1", Quantity: 1}},
		ReceiverItems:  []domain.ItemRef{{ProductID: "p2", Quantity: 2}},
		CashAmount:     decp("5"),
		Message:        "interested?",
	})
	require.NoError(t, err)
	return tr
}

func TestCreateTrade(t *testing.T) {
	f := newNegotiationFixture()
	before := time.Now().UTC()
	tr := f.create(t)

	require.NotEmpty(t, tr.ID)
	require.True(t, strings.HasPrefix(tr.TradeNumber, "TR-"), tr.TradeNumber)
	require.Equal(t, domain.TradeStatusPending, tr.Status)
	require.Equal(t, int64(1), tr.Version)
	require.Equal(t, "alice", tr.InitiatorID)
	require.Equal(t, "bob", tr.ReceiverID)

	// Items are frozen snapshots with catalog values and the right side.
	require.Len(t, tr.InitiatorItems, 1)
	require.Equal(t, domain.RoleInitiator, tr.InitiatorItems[0].Side)
	require.True(t, tr.InitiatorItems[0].ValueAtTrade.Equal(dec("20.12")))
	require.Len(t, tr.ReceiverItems, 1)
	require.Equal(t, 2, tr.ReceiverItems[0].Quantity)

	// Positive cash means the initiator pays.
	require.Equal(t, "alice", tr.CashPayerID)
	require.True(t, tr.CashSignConsistent())

	// Response deadline is the configured window out.
	require.NotNil(t, tr.ResponseDeadline)
	require.WithinDuration(t, before.Add(72*time.Hour), *tr.ResponseDeadline, time.Minute)
	require.Nil(t, tr.PaymentDeadline)
	require.Nil(t, tr.ShippingDeadline)

	require.Equal(t, []string{"trade_created"}, f.audit.events())
	require.Equal(t, 1, f.bus.publishedCount())
	require.Equal(t, []string{"trade:create:alice"}, f.limiter.keys)

	stored, err := f.store.GetByID(context.Background(), tr.ID)
	require.NoError(t, err)
	require.Equal(t, tr.Version, stored.Version)
}

func TestCreateTradeNegativeCashPayer(t *testing.T) {
	f := newNegotiationFixture()
	tr, err := f.svc.Create(context.Background(), CreateTradeRequest{
		InitiatorID:    "alice",
		ReceiverID:     "bob",
		InitiatorItems: []domain.ItemRef{{ProductID: "p1", Quantity: 1}},
		CashAmount:     decp("-3"),
	})
	require.NoError(t, err)
	require.Equal(t, "bob", tr.CashPayerID)
	require.True(t, tr.CashSignConsistent())
}

func TestCreateTradeRejectsSelfTrade(t *testing.T) {
	f := newNegotiationFixture()
	_, err := f.svc.Create(context.Background(), CreateTradeRequest{
		InitiatorID:    "alice",
		ReceiverID:     "alice",
		InitiatorItems: []domain.ItemRef{{ProductID: "p1", Quantity: 1}},
	})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreateTradeRateLimited(t *testing.T) {
	f := newNegotiationFixture()
	f.limiter.allow = false
	_, err := f.svc.Create(context.Background(), CreateTradeRequest{
		InitiatorID:    "alice",
		ReceiverID:     "bob",
		InitiatorItems: []domain.ItemRef{{ProductID: "p1", Quantity: 1}},
	})
	require.ErrorIs(t, err, domain.ErrRateLimited)
	require.Empty(t, f.audit.events())
}

func TestCreateTradeOfferValidation(t *testing.T) {
	f := newNegotiationFixture()
	ctx := context.Background()

	// No items at all.
	_, err := f.svc.Create(ctx, CreateTradeRequest{InitiatorID: "alice", ReceiverID: "bob"})
	require.ErrorIs(t, err, domain.ErrValidation)

	// Over the per-side bound (fixture allows 3).
	over := []domain.ItemRef{
		{ProductID: "p1", Quantity: 1}, {ProductID: "p2", Quantity: 1},
		{ProductID: "p3", Quantity: 1}, {ProductID: "p4", Quantity: 1},
	}
	_, err = f.svc.Create(ctx, CreateTradeRequest{InitiatorID: "alice", ReceiverID: "bob", InitiatorItems: over})
	require.ErrorIs(t, err, domain.ErrValidation)

	// Duplicate product on one side.
	dup := []domain.ItemRef{{ProductID: "p1", Quantity: 1}, {ProductID: "p1", Quantity: 2}}
	_, err = f.svc.Create(ctx, CreateTradeRequest{InitiatorID: "alice", ReceiverID: "bob", InitiatorItems: dup})
	require.ErrorIs(t, err, domain.ErrValidation)

	// Message over the shared bound.
	_, err = f.svc.Create(ctx, CreateTradeRequest{
		InitiatorID:    "alice",
		ReceiverID:     "bob",
		InitiatorItems: []domain.ItemRef{{ProductID: "p1", Quantity: 1}},
		Message:        strings.Repeat("x", domain.MaxMessageLen+1),
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	// An item the catalog rejects.
	_, err = f.svc.Create(ctx, CreateTradeRequest{
		InitiatorID:    "alice",
		ReceiverID:     "bob",
		InitiatorItems: []domain.ItemRef{{ProductID: "nope", Quantity: 1}},
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	// Nothing was persisted or announced along the way.
	require.Empty(t, f.audit.events())
	require.Equal(t, 0, f.bus.publishedCount())
}

func TestAcceptTrade(t *testing.T) {
	f := newNegotiationFixture()
	tr := f.create(t)
	before := time.Now().UTC()

	accepted, err := f.svc.Accept(context.Background(), tr.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, domain.TradeStatusAccepted, accepted.Status)
	require.Equal(t, int64(2), accepted.Version)
	require.NotNil(t, accepted.AcceptedAt)
	require.NotNil(t, accepted.PaymentDeadline)
	require.NotNil(t, accepted.ShippingDeadline)
	require.WithinDuration(t, before.Add(72*time.Hour), *accepted.PaymentDeadline, time.Minute)
	require.WithinDuration(t, before.Add(168*time.Hour), *accepted.ShippingDeadline, time.Minute)

	require.Equal(t, []string{"trade_created", "trade_accepted"}, f.audit.events())
}

func TestAcceptOnlyReceiver(t *testing.T) {
	f := newNegotiationFixture()
	tr := f.create(t)
	ctx := context.Background()

	_, err := f.svc.Accept(ctx, tr.ID, "alice")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.svc.Accept(ctx, tr.ID, "mallory")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestAcceptNonPending(t *testing.T) {
	f := newNegotiationFixture()
	tr := f.create(t)
	ctx := context.Background()

	_, err := f.svc.Accept(ctx, tr.ID, "bob")
	require.NoError(t, err)

	_, err = f.svc.Accept(ctx, tr.ID, "bob")
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestAcceptAfterResponseDeadline(t *testing.T) {
	f := newNegotiationFixture()
	tr := f.create(t)

	past := time.Now().UTC().Add(-time.Hour)
	stale := tr
	stale.ResponseDeadline = &past
	f.store.seed(stale)

	_, err := f.svc.Accept(context.Background(), tr.ID, "bob")
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestRejectTrade(t *testing.T) {
	f := newNegotiationFixture()
	tr := f.create(t)

	rejected, err := f.svc.Reject(context.Background(), tr.ID, "bob", "not my style")
	require.NoError(t, err)
	require.Equal(t, domain.TradeStatusRejected, rejected.Status)
	require.Equal(t, "not my style", rejected.CancelReason)
	require.Equal(t, int64(2), rejected.Version)
}

func TestRejectSurvivesExpiredWindow(t *testing.T) {
	f := newNegotiationFixture()
	tr := f.create(t)

	past := time.Now().UTC().Add(-time.Hour)
	stale := tr
	stale.ResponseDeadline = &past
	f.store.seed(stale)

	// Unlike accept, rejecting a lapsed offer is still allowed.
	rejected, err := f.svc.Reject(context.Background(), tr.ID, "bob", "")
	require.NoError(t, err)
	require.Equal(t, domain.TradeStatusRejected, rejected.Status)
}

func TestCounterTrade(t *testing.T) {
	f := newNegotiationFixture()
	tr := f.create(t)
	before := time.Now().UTC()

	countered, err := f.svc.Counter(context.Background(), CounterOfferRequest{
		TradeID:        tr.ID,
		ActorID:        "bob",
		OfferedItems:   []domain.ItemRef{{ProductID: "p3", Quantity: 1}},
		RequestedItems: []domain.ItemRef{{ProductID: "p1", Quantity: 1}},
		CashAmount:     decp("-2"),
		Message:        "how about this",
	})
	require.NoError(t, err)

	// Roles swap on the same record.
	require.Equal(t, tr.ID, countered.ID)
	require.Equal(t, "bob", countered.InitiatorID)
	require.Equal(t, "alice", countered.ReceiverID)
	require.Equal(t, domain.TradeStatusPending, countered.Status)
	require.Equal(t, int64(2), countered.Version)

	require.Len(t, countered.InitiatorItems, 1)
	require.Equal(t, "p3", countered.InitiatorItems[0].ProductID)
	require.Equal(t, domain.RoleInitiator, countered.InitiatorItems[0].Side)

	// Negative cash from the new initiator's perspective: the new receiver pays.
	require.Equal(t, "alice", countered.CashPayerID)
	require.True(t, countered.CashSignConsistent())

	require.Equal(t, "how about this", countered.InitiatorMessage)
	require.Empty(t, countered.ReceiverMessage)
	require.NotNil(t, countered.ResponseDeadline)
	require.WithinDuration(t, before.Add(72*time.Hour), *countered.ResponseDeadline, time.Minute)

	require.Equal(t, int64(1), f.audit.last().detail["counter_number"])

	// The former initiator, now the receiver, can accept the counter.
	accepted, err := f.svc.Accept(context.Background(), tr.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.TradeStatusAccepted, accepted.Status)
	require.Equal(t, int64(3), accepted.Version)
}

func TestCounterIdenticalTermsRejected(t *testing.T) {
	f := newNegotiationFixture()
	tr := f.create(t)

	// Mirror the current offer exactly from bob's perspective: bob offers
	// what he was asked for, requests what alice offered, and flips the
	// cash sign.
	_, err := f.svc.Counter(context.Background(), CounterOfferRequest{
		TradeID:        tr.ID,
		ActorID:        "bob",
		OfferedItems:   []domain.ItemRef{{ProductID: "p2", Quantity: 2}},
		RequestedItems: []domain.ItemRef{{ProductID: "p1", Quantity: 1}},
		CashAmount:     decp("-5"),
	})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCounterOnlyReceiver(t *testing.T) {
	f := newNegotiationFixture()
	tr := f.create(t)

	_, err := f.svc.Counter(context.Background(), CounterOfferRequest{
		TradeID:        tr.ID,
		ActorID:        "alice",
		OfferedItems:   []domain.ItemRef{{ProductID: "p1", Quantity: 1}},
		RequestedItems: []domain.ItemRef{{ProductID: "p3", Quantity: 1}},
	})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestCancelTrade(t *testing.T) {
	f := newNegotiationFixture()
	tr := f.create(t)

	cancelled, err := f.svc.Cancel(context.Background(), tr.ID, "alice", "changed my mind")
	require.NoError(t, err)
	require.Equal(t, domain.TradeStatusCancelled, cancelled.Status)
	require.Equal(t, "changed my mind", cancelled.CancelReason)
	require.NotNil(t, cancelled.CancelledAt)
}

func TestCancelRequiresReason(t *testing.T) {
	f := newNegotiationFixture()
	tr := f.create(t)

	_, err := f.svc.Cancel(context.Background(), tr.ID, "alice", "")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCancelBlockedAfterShipment(t *testing.T) {
	f := newNegotiationFixture()
	tr := f.create(t)

	shipped := tr
	shipped.Status = domain.TradeStatusInitiatorShipped
	shipped.InitiatorShipment = &domain.Shipment{Carrier: "ups", TrackingNumber: "1Z", ShippedAt: time.Now().UTC()}
	f.store.seed(shipped)

	_, err := f.svc.Cancel(context.Background(), tr.ID, "bob", "too slow")
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestUpdateConflictSurfaces(t *testing.T) {
	store := newMemTradeStore()
	store.seed(domain.Trade{ID: "t1", Version: 3})

	err := store.Update(context.Background(), domain.Trade{ID: "t1", Version: 4}, 2)
	require.ErrorIs(t, err, domain.ErrConflict)

	err = store.Update(context.Background(), domain.Trade{ID: "missing", Version: 1}, 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetAndList(t *testing.T) {
	f := newNegotiationFixture()
	tr := f.create(t)
	ctx := context.Background()

	got, err := f.svc.Get(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, tr.ID, got.ID)

	_, err = f.svc.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	byNumber, err := f.svc.GetByNumber(ctx, tr.TradeNumber)
	require.NoError(t, err)
	require.Equal(t, tr.ID, byNumber.ID)

	mine, err := f.svc.ListByParty(ctx, "alice", "", domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, mine, 1)

	pending, err := f.svc.ListByParty(ctx, "bob", domain.TradeStatusPending, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, pending, 1)

	none, err := f.svc.ListByParty(ctx, "bob", domain.TradeStatusCompleted, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Empty(t, none)
}
