// Package notify delivers trade transition events to external sinks. Events
// arrive over the signal bus, are filtered by status so users and operators
// only hear about the transitions that matter, and fan out to all registered
// senders (webhook, Telegram, Discord). Delivery is fire-and-forget: a
// failed send never affects the trade that produced the event.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openbarter/tradecore/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers one trade transition event.
	Send(ctx context.Context, event domain.TradeEvent) error
	// Name returns a human-readable identifier for the sender (e.g. "webhook").
	Name() string
}

// Notifier consumes trade events from the signal bus and dispatches them to
// one or more Senders. It maintains a set of allowed statuses; events whose
// status is not in the set are dropped. An empty set allows everything.
type Notifier struct {
	bus      domain.SignalBus
	senders  []Sender
	statuses map[string]bool
	logger   *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders.
// Only events whose status appears in the statuses slice are forwarded; if
// statuses is empty, all transitions are forwarded.
func NewNotifier(bus domain.SignalBus, senders []Sender, statuses []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		allowed[strings.TrimSpace(s)] = true
	}
	return &Notifier{
		bus:      bus,
		senders:  senders,
		statuses: allowed,
		logger:   logger.With(slog.String("component", "notifier")),
	}
}

// HasSenders reports whether any delivery target is configured. Callers skip
// the Run loop entirely when it returns false.
func (n *Notifier) HasSenders() bool {
	return len(n.senders) > 0
}

// Run subscribes to the trade event channel and dispatches arriving events
// until the context is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	events, err := n.bus.Subscribe(ctx, domain.EventChannel)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", domain.EventChannel, err)
	}

	n.logger.Info("notifier started",
		slog.Int("senders", len(n.senders)),
		slog.Int("statuses", len(n.statuses)),
	)

	for {
		select {
		case <-ctx.Done():
			n.logger.Info("notifier stopped")
			return ctx.Err()
		case payload, ok := <-events:
			if !ok {
				n.logger.Info("notifier stopped, event channel closed")
				return nil
			}

			var evt domain.TradeEvent
			if err := json.Unmarshal(payload, &evt); err != nil {
				n.logger.WarnContext(ctx, "malformed event payload",
					slog.String("error", err.Error()),
				)
				continue
			}

			if err := n.Notify(ctx, evt); err != nil {
				n.logger.WarnContext(ctx, "delivery incomplete",
					slog.String("trade_id", evt.TradeID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Notify sends an event to all senders if its status is in the allowed set.
func (n *Notifier) Notify(ctx context.Context, event domain.TradeEvent) error {
	if len(n.statuses) > 0 && !n.statuses[string(event.Status)] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("trade_id", event.TradeID),
			slog.String("status", string(event.Status)),
		)
		return nil
	}

	return n.dispatch(ctx, event)
}

// dispatch iterates over all senders and sends the event. Errors from
// individual senders are collected and returned as a combined error; a
// single sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, event domain.TradeEvent) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, event); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("trade_id", event.TradeID),
				slog.String("status", string(event.Status)),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
