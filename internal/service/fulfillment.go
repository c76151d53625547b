package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openbarter/tradecore/internal/domain"
)

// FulfillmentService drives the post-acceptance sub-protocol: each side
// records its shipment exactly once, each side acknowledges receipt of the
// counterparty's shipment, and the trade completes once both receipts land.
// Disputes freeze the trade until an operator resolves it to a terminal
// state.
type FulfillmentService struct {
	trades  domain.TradeStore
	audit   domain.AuditStore
	emitter *EventEmitter
	logger  *slog.Logger
}

// NewFulfillmentService creates a FulfillmentService with all required
// dependencies.
func NewFulfillmentService(
	trades domain.TradeStore,
	audit domain.AuditStore,
	emitter *EventEmitter,
	logger *slog.Logger,
) *FulfillmentService {
	return &FulfillmentService{
		trades:  trades,
		audit:   audit,
		emitter: emitter,
		logger:  logger,
	}
}

// RecordShipment stores one party's carrier and tracking number. The two
// single-sided shipped states are symmetric: whichever side ships second
// moves the trade to both_shipped regardless of order.
func (s *FulfillmentService) RecordShipment(ctx context.Context, tradeID, actorID, carrier, trackingNumber string) (domain.Trade, error) {
	if carrier == "" || trackingNumber == "" {
		return domain.Trade{}, domain.Validationf("carrier and tracking number are required")
	}

	t, err := s.trades.GetByID(ctx, tradeID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("fulfillment: record shipment for trade %q: %w", tradeID, err)
	}

	role, ok := t.RoleOf(actorID)
	if !ok {
		return domain.Trade{}, fmt.Errorf("fulfillment: record shipment for trade %q: actor is not a party: %w", tradeID, domain.ErrUnauthorized)
	}
	if t.Status == domain.TradeStatusDisputed {
		return domain.Trade{}, fmt.Errorf("fulfillment: trade %q is disputed: %w", tradeID, domain.ErrConflict)
	}
	if !t.Status.InFulfillment() {
		return domain.Trade{}, fmt.Errorf("fulfillment: record shipment for trade %q in status %s: %w", tradeID, t.Status, domain.ErrConflict)
	}
	if t.ShipmentOf(role) != nil {
		return domain.Trade{}, fmt.Errorf("fulfillment: shipment already recorded for trade %q: %w", tradeID, domain.ErrConflict)
	}

	now := time.Now().UTC()
	shipment := &domain.Shipment{
		Carrier:        carrier,
		TrackingNumber: trackingNumber,
		ShippedAt:      now,
	}

	updated := t
	if role == domain.RoleInitiator {
		updated.InitiatorShipment = shipment
	} else {
		updated.ReceiverShipment = shipment
	}

	switch {
	case updated.BothShipped():
		updated.Status = domain.TradeStatusBothShipped
	case role == domain.RoleInitiator:
		updated.Status = domain.TradeStatusInitiatorShipped
	default:
		updated.Status = domain.TradeStatusReceiverShipped
	}
	updated.Version = t.Version + 1
	updated.UpdatedAt = now

	if err := s.trades.Update(ctx, updated, t.Version); err != nil {
		return domain.Trade{}, fmt.Errorf("fulfillment: record shipment for trade %q: %w", tradeID, err)
	}

	s.auditLog(ctx, "trade_shipment_recorded", map[string]any{
		"trade_id": updated.ID,
		"role":     string(role),
		"carrier":  carrier,
	})
	s.emitter.Emit(ctx, updated, actorID)

	s.logger.InfoContext(ctx, "fulfillment: shipment recorded",
		slog.String("trade_id", updated.ID),
		slog.String("role", string(role)),
		slog.String("status", string(updated.Status)),
	)

	return updated, nil
}

// AcknowledgeReceipt marks the counterparty's shipment as received. Receipts
// open up once both sides have shipped; the trade completes when the second
// receipt lands.
func (s *FulfillmentService) AcknowledgeReceipt(ctx context.Context, tradeID, actorID string) (domain.Trade, error) {
	t, err := s.trades.GetByID(ctx, tradeID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("fulfillment: acknowledge receipt for trade %q: %w", tradeID, err)
	}

	role, ok := t.RoleOf(actorID)
	if !ok {
		return domain.Trade{}, fmt.Errorf("fulfillment: acknowledge receipt for trade %q: actor is not a party: %w", tradeID, domain.ErrUnauthorized)
	}
	if t.Status == domain.TradeStatusDisputed {
		return domain.Trade{}, fmt.Errorf("fulfillment: trade %q is disputed: %w", tradeID, domain.ErrConflict)
	}
	if !t.Status.InFulfillment() {
		return domain.Trade{}, fmt.Errorf("fulfillment: acknowledge receipt for trade %q in status %s: %w", tradeID, t.Status, domain.ErrConflict)
	}
	if !t.BothShipped() {
		return domain.Trade{}, fmt.Errorf("fulfillment: trade %q: both shipments must be recorded before receipt: %w", tradeID, domain.ErrConflict)
	}
	if t.HasReceived(role) {
		return domain.Trade{}, fmt.Errorf("fulfillment: receipt already acknowledged for trade %q: %w", tradeID, domain.ErrConflict)
	}

	now := time.Now().UTC()

	// Copy the counterparty's shipment before stamping it so the loaded
	// trade is never mutated through the shared pointer.
	counter := *t.ShipmentOf(role.Opposite())
	counter.ReceivedAt = &now

	updated := t
	if role == domain.RoleInitiator {
		updated.ReceiverShipment = &counter
	} else {
		updated.InitiatorShipment = &counter
	}

	bothReceived := updated.HasReceived(domain.RoleInitiator) && updated.HasReceived(domain.RoleReceiver)
	switch {
	case bothReceived:
		updated.Status = domain.TradeStatusCompleted
		updated.CompletedAt = &now
	case role == domain.RoleInitiator:
		updated.Status = domain.TradeStatusInitiatorReceived
	default:
		updated.Status = domain.TradeStatusReceiverReceived
	}
	updated.Version = t.Version + 1
	updated.UpdatedAt = now

	if err := s.trades.Update(ctx, updated, t.Version); err != nil {
		return domain.Trade{}, fmt.Errorf("fulfillment: acknowledge receipt for trade %q: %w", tradeID, err)
	}

	event := "trade_receipt_acknowledged"
	if bothReceived {
		event = "trade_completed"
	}
	s.auditLog(ctx, event, map[string]any{
		"trade_id": updated.ID,
		"role":     string(role),
		"version":  updated.Version,
	})
	s.emitter.Emit(ctx, updated, actorID)

	s.logger.InfoContext(ctx, "fulfillment: receipt acknowledged",
		slog.String("trade_id", updated.ID),
		slog.String("role", string(role)),
		slog.String("status", string(updated.Status)),
	)

	return updated, nil
}

// RaiseDispute freezes the trade pending manual resolution. Either party may
// dispute at any point between acceptance and completion; the deadline
// sweep skips disputed trades.
func (s *FulfillmentService) RaiseDispute(ctx context.Context, tradeID, actorID, reason string) (domain.Trade, error) {
	if reason == "" {
		return domain.Trade{}, domain.Validationf("dispute reason is required")
	}
	if err := validateMessage(reason); err != nil {
		return domain.Trade{}, err
	}

	t, err := s.trades.GetByID(ctx, tradeID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("fulfillment: dispute trade %q: %w", tradeID, err)
	}

	if _, ok := t.RoleOf(actorID); !ok {
		return domain.Trade{}, fmt.Errorf("fulfillment: dispute trade %q: actor is not a party: %w", tradeID, domain.ErrUnauthorized)
	}
	if t.Status == domain.TradeStatusDisputed {
		return domain.Trade{}, fmt.Errorf("fulfillment: trade %q is already disputed: %w", tradeID, domain.ErrConflict)
	}
	if !t.Status.InFulfillment() {
		return domain.Trade{}, fmt.Errorf("fulfillment: dispute trade %q in status %s: %w", tradeID, t.Status, domain.ErrConflict)
	}

	now := time.Now().UTC()

	updated := t
	updated.Status = domain.TradeStatusDisputed
	updated.Version = t.Version + 1
	updated.UpdatedAt = now

	if err := s.trades.Update(ctx, updated, t.Version); err != nil {
		return domain.Trade{}, fmt.Errorf("fulfillment: dispute trade %q: %w", tradeID, err)
	}

	s.auditLog(ctx, "trade_disputed", map[string]any{
		"trade_id": updated.ID,
		"actor_id": actorID,
		"reason":   reason,
	})
	s.emitter.Emit(ctx, updated, actorID)

	s.logger.InfoContext(ctx, "fulfillment: trade disputed",
		slog.String("trade_id", updated.ID),
		slog.String("actor_id", actorID),
	)

	return updated, nil
}

// ResolveDispute settles a disputed trade by directly assigning its terminal
// state, completed or cancelled, with an operator-supplied reason recorded
// in the audit log. This is the only path out of disputed.
func (s *FulfillmentService) ResolveDispute(ctx context.Context, tradeID string, resolution domain.TradeStatus, reason string) (domain.Trade, error) {
	if resolution != domain.TradeStatusCompleted && resolution != domain.TradeStatusCancelled {
		return domain.Trade{}, domain.Validationf("resolution must be completed or cancelled")
	}
	if reason == "" {
		return domain.Trade{}, domain.Validationf("resolution reason is required")
	}

	t, err := s.trades.GetByID(ctx, tradeID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("fulfillment: resolve trade %q: %w", tradeID, err)
	}

	if t.Status != domain.TradeStatusDisputed {
		return domain.Trade{}, fmt.Errorf("fulfillment: resolve trade %q in status %s: %w", tradeID, t.Status, domain.ErrConflict)
	}

	now := time.Now().UTC()

	updated := t
	updated.Status = resolution
	updated.Version = t.Version + 1
	updated.UpdatedAt = now
	if resolution == domain.TradeStatusCompleted {
		updated.CompletedAt = &now
	} else {
		updated.CancelledAt = &now
		updated.CancelReason = reason
	}

	if err := s.trades.Update(ctx, updated, t.Version); err != nil {
		return domain.Trade{}, fmt.Errorf("fulfillment: resolve trade %q: %w", tradeID, err)
	}

	s.auditLog(ctx, "trade_dispute_resolved", map[string]any{
		"trade_id":   updated.ID,
		"resolution": string(resolution),
		"reason":     reason,
	})
	s.emitter.Emit(ctx, updated, domain.ActorAdmin)

	s.logger.InfoContext(ctx, "fulfillment: dispute resolved",
		slog.String("trade_id", updated.ID),
		slog.String("resolution", string(resolution)),
	)

	return updated, nil
}

func (s *FulfillmentService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "fulfillment: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
