package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openbarter/tradecore/internal/domain"
)

type fulfillmentFixture struct {
	svc   *FulfillmentService
	store *memTradeStore
	audit *memAuditStore
	bus   *memBus
}

func newFulfillmentFixture() *fulfillmentFixture {
	store := newMemTradeStore()
	audit := &memAuditStore{}
	bus := &memBus{}
	logger := testLogger()
	return &fulfillmentFixture{
		svc:   NewFulfillmentService(store, audit, NewEventEmitter(bus, logger), logger),
		store: store,
		audit: audit,
		bus:   bus,
	}
}

// seedAccepted plants a trade already past negotiation, the state the
// fulfillment flow starts from.
func (f *fulfillmentFixture) seedAccepted() domain.Trade {
	now := time.Now().UTC()
	accepted := now
	payment := now.Add(72 * time.Hour)
	shipping := now.Add(168 * time.Hour)
	tr := domain.Trade{
		ID:               "t1",
		TradeNumber:      "TR-01HTEST",
		InitiatorID:      "alice",
		ReceiverID:       "bob",
		Status:           domain.TradeStatusAccepted,
		Version:          2,
		InitiatorItems:   []domain.TradeItem{{ProductID: "p1", Side: domain.RoleInitiator, Quantity: 1, Title: "lamp", ValueAtTrade: dec("20")}},
		ReceiverItems:    []domain.TradeItem{{ProductID: "p2", Side: domain.RoleReceiver, Quantity: 1, Title: "rug", ValueAtTrade: dec("18")}},
		AcceptedAt:       &accepted,
		PaymentDeadline:  &payment,
		ShippingDeadline: &shipping,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	f.store.seed(tr)
	return tr
}

func TestFulfillmentFlow(t *testing.T) {
	f := newFulfillmentFixture()
	tr := f.seedAccepted()
	ctx := context.Background()

	shipped, err := f.svc.RecordShipment(ctx, tr.ID, "alice", "ups", "1Z999")
	require.NoError(t, err)
	require.Equal(t, domain.TradeStatusInitiatorShipped, shipped.Status)
	require.Equal(t, int64(3), shipped.Version)
	require.NotNil(t, shipped.InitiatorShipment)
	require.Equal(t, "ups", shipped.InitiatorShipment.Carrier)
	require.Nil(t, shipped.ReceiverShipment)

	both, err := f.svc.RecordShipment(ctx, tr.ID, "bob", "fedex", "FX123")
	require.NoError(t, err)
	require.Equal(t, domain.TradeStatusBothShipped, both.Status)
	require.Equal(t, int64(4), both.Version)
	require.True(t, both.BothShipped())

	// The initiator confirms the receiver's parcel arrived.
	received, err := f.svc.AcknowledgeReceipt(ctx, tr.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.TradeStatusInitiatorReceived, received.Status)
	require.Equal(t, int64(5), received.Version)
	require.NotNil(t, received.ReceiverShipment.ReceivedAt)
	require.Nil(t, received.InitiatorShipment.ReceivedAt)
	require.Nil(t, received.CompletedAt)

	done, err := f.svc.AcknowledgeReceipt(ctx, tr.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, domain.TradeStatusCompleted, done.Status)
	require.Equal(t, int64(6), done.Version)
	require.NotNil(t, done.CompletedAt)
	require.NotNil(t, done.InitiatorShipment.ReceivedAt)

	require.Equal(t, []string{
		"trade_shipment_recorded",
		"trade_shipment_recorded",
		"trade_receipt_acknowledged",
		"trade_completed",
	}, f.audit.events())
	require.Equal(t, 4, f.bus.publishedCount())
}

func TestRecordShipmentOrderIndependent(t *testing.T) {
	f := newFulfillmentFixture()
	tr := f.seedAccepted()
	ctx := context.Background()

	shipped, err := f.svc.RecordShipment(ctx, tr.ID, "bob", "dhl", "DH1")
	require.NoError(t, err)
	require.Equal(t, domain.TradeStatusReceiverShipped, shipped.Status)

	both, err := f.svc.RecordShipment(ctx, tr.ID, "alice", "ups", "1Z")
	require.NoError(t, err)
	require.Equal(t, domain.TradeStatusBothShipped, both.Status)
}

func TestRecordShipmentValidation(t *testing.T) {
	f := newFulfillmentFixture()
	tr := f.seedAccepted()
	ctx := context.Background()

	_, err := f.svc.RecordShipment(ctx, tr.ID, "alice", "", "1Z")
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.RecordShipment(ctx, tr.ID, "alice", "ups", "")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestRecordShipmentGates(t *testing.T) {
	f := newFulfillmentFixture()
	tr := f.seedAccepted()
	ctx := context.Background()

	_, err := f.svc.RecordShipment(ctx, tr.ID, "mallory", "ups", "1Z")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.svc.RecordShipment(ctx, "missing", "alice", "ups", "1Z")
	require.ErrorIs(t, err, domain.ErrNotFound)

	// Still negotiating.
	pending := tr
	pending.ID = "t2"
	pending.Status = domain.TradeStatusPending
	f.store.seed(pending)
	_, err = f.svc.RecordShipment(ctx, "t2", "alice", "ups", "1Z")
	require.ErrorIs(t, err, domain.ErrConflict)

	// One shipment per side.
	_, err = f.svc.RecordShipment(ctx, tr.ID, "alice", "ups", "1Z")
	require.NoError(t, err)
	_, err = f.svc.RecordShipment(ctx, tr.ID, "alice", "ups", "1Z-again")
	require.ErrorIs(t, err, domain.ErrConflict)

	// Frozen once disputed.
	disputed := tr
	disputed.ID = "t3"
	disputed.Status = domain.TradeStatusDisputed
	f.store.seed(disputed)
	_, err = f.svc.RecordShipment(ctx, "t3", "bob", "dhl", "DH1")
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestAcknowledgeReceiptGates(t *testing.T) {
	f := newFulfillmentFixture()
	tr := f.seedAccepted()
	ctx := context.Background()

	// Nothing shipped yet.
	_, err := f.svc.AcknowledgeReceipt(ctx, tr.ID, "alice")
	require.ErrorIs(t, err, domain.ErrConflict)

	_, err = f.svc.RecordShipment(ctx, tr.ID, "alice", "ups", "1Z")
	require.NoError(t, err)

	// Only one side shipped.
	_, err = f.svc.AcknowledgeReceipt(ctx, tr.ID, "bob")
	require.ErrorIs(t, err, domain.ErrConflict)

	_, err = f.svc.RecordShipment(ctx, tr.ID, "bob", "fedex", "FX1")
	require.NoError(t, err)

	_, err = f.svc.AcknowledgeReceipt(ctx, tr.ID, "mallory")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.svc.AcknowledgeReceipt(ctx, tr.ID, "alice")
	require.NoError(t, err)

	// A receipt lands once.
	_, err = f.svc.AcknowledgeReceipt(ctx, tr.ID, "alice")
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestRaiseDispute(t *testing.T) {
	f := newFulfillmentFixture()
	tr := f.seedAccepted()
	ctx := context.Background()

	disputed, err := f.svc.RaiseDispute(ctx, tr.ID, "bob", "item not as described")
	require.NoError(t, err)
	require.Equal(t, domain.TradeStatusDisputed, disputed.Status)
	require.Equal(t, int64(3), disputed.Version)

	last := f.audit.last()
	require.Equal(t, "trade_disputed", last.event)
	require.Equal(t, "item not as described", last.detail["reason"])

	// Disputing twice is a conflict.
	_, err = f.svc.RaiseDispute(ctx, tr.ID, "alice", "me too")
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestRaiseDisputeGates(t *testing.T) {
	f := newFulfillmentFixture()
	tr := f.seedAccepted()
	ctx := context.Background()

	_, err := f.svc.RaiseDispute(ctx, tr.ID, "bob", "")
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.RaiseDispute(ctx, tr.ID, "mallory", "not mine")
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	pending := tr
	pending.ID = "t2"
	pending.Status = domain.TradeStatusPending
	f.store.seed(pending)
	_, err = f.svc.RaiseDispute(ctx, "t2", "bob", "cold feet")
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestResolveDispute(t *testing.T) {
	f := newFulfillmentFixture()
	tr := f.seedAccepted()
	ctx := context.Background()

	_, err := f.svc.RaiseDispute(ctx, tr.ID, "bob", "never arrived")
	require.NoError(t, err)

	resolved, err := f.svc.ResolveDispute(ctx, tr.ID, domain.TradeStatusCancelled, "refund issued")
	require.NoError(t, err)
	require.Equal(t, domain.TradeStatusCancelled, resolved.Status)
	require.NotNil(t, resolved.CancelledAt)
	require.Equal(t, "refund issued", resolved.CancelReason)

	// The resolution event carries the operator identity, not a party.
	var evt domain.TradeEvent
	require.NoError(t, json.Unmarshal(f.bus.lastPublished(), &evt))
	require.Equal(t, domain.ActorAdmin, evt.ActorID)
	require.Equal(t, domain.TradeStatusCancelled, evt.Status)
}

func TestResolveDisputeCompleted(t *testing.T) {
	f := newFulfillmentFixture()
	tr := f.seedAccepted()
	ctx := context.Background()

	_, err := f.svc.RaiseDispute(ctx, tr.ID, "alice", "tracking stuck")
	require.NoError(t, err)

	resolved, err := f.svc.ResolveDispute(ctx, tr.ID, domain.TradeStatusCompleted, "delivery confirmed by carrier")
	require.NoError(t, err)
	require.Equal(t, domain.TradeStatusCompleted, resolved.Status)
	require.NotNil(t, resolved.CompletedAt)
	require.Nil(t, resolved.CancelledAt)
}

func TestResolveDisputeGates(t *testing.T) {
	f := newFulfillmentFixture()
	tr := f.seedAccepted()
	ctx := context.Background()

	// Not disputed yet.
	_, err := f.svc.ResolveDispute(ctx, tr.ID, domain.TradeStatusCompleted, "fine")
	require.ErrorIs(t, err, domain.ErrConflict)

	_, err = f.svc.RaiseDispute(ctx, tr.ID, "bob", "never arrived")
	require.NoError(t, err)

	_, err = f.svc.ResolveDispute(ctx, tr.ID, domain.TradeStatusPending, "reopen")
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.ResolveDispute(ctx, tr.ID, domain.TradeStatusCompleted, "")
	require.ErrorIs(t, err, domain.ErrValidation)
}
