package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/openbarter/tradecore/internal/domain"
)

// EventEmitter publishes one event per completed trade transition to the
// signal bus: the pub/sub channel for live consumers and the capped stream
// for consumers that poll. Delivery is fire-and-forget; a publish failure is
// logged and never rolls back the transition that produced it.
type EventEmitter struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewEventEmitter creates an EventEmitter backed by the given bus.
func NewEventEmitter(bus domain.SignalBus, logger *slog.Logger) *EventEmitter {
	return &EventEmitter{bus: bus, logger: logger}
}

// Emit publishes the transition that just landed on the given trade.
func (e *EventEmitter) Emit(ctx context.Context, trade domain.Trade, actorID string) {
	evt := domain.TradeEvent{
		TradeID:     trade.ID,
		TradeNumber: trade.TradeNumber,
		Version:     trade.Version,
		Status:      trade.Status,
		ActorID:     actorID,
		Timestamp:   time.Now().UTC(),
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		e.logger.WarnContext(ctx, "emitter: marshal event failed",
			slog.String("trade_id", trade.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := e.bus.Publish(ctx, domain.EventChannel, payload); err != nil {
		e.logger.WarnContext(ctx, "emitter: publish event failed",
			slog.String("trade_id", trade.ID),
			slog.String("status", string(trade.Status)),
			slog.String("error", err.Error()),
		)
	}

	if err := e.bus.StreamAppend(ctx, domain.EventStream, payload); err != nil {
		e.logger.WarnContext(ctx, "emitter: stream append failed",
			slog.String("trade_id", trade.ID),
			slog.String("status", string(trade.Status)),
			slog.String("error", err.Error()),
		)
	}
}
