package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/openbarter/tradecore/internal/domain"
	"github.com/openbarter/tradecore/internal/service"
	"golang.org/x/sync/errgroup"
)

// ExpiryPolicy decides what happens to a shipped trade whose shipping
// deadline lapses with no dispute raised.
type ExpiryPolicy string

const (
	// PolicyAutoComplete treats silence as confirmation and completes the
	// trade.
	PolicyAutoComplete ExpiryPolicy = "auto_complete"
	// PolicyDispute freezes the trade for manual review instead.
	PolicyDispute ExpiryPolicy = "dispute"
)

// SweepConfig tunes the deadline sweep.
type SweepConfig struct {
	BatchSize int
	Workers   int
	Policy    ExpiryPolicy
}

// DeadlineSweeper force-transitions trades whose current-phase deadline has
// elapsed: unresponded pending offers and unshipped accepted trades are
// cancelled, overdue shipped trades complete or go to dispute per policy.
//
// Workers claim candidates through the same conditional write path as user
// actions, so multiple sweeper instances never double-process a trade and no
// lock is held while scanning. A version conflict simply means someone else
// got there first.
type DeadlineSweeper struct {
	trades    domain.TradeStore
	audit     domain.AuditStore
	emitter   *service.EventEmitter
	cfg       SweepConfig
	logger    *slog.Logger
	triggerCh chan struct{}
}

// NewDeadlineSweeper creates a DeadlineSweeper with all required
// dependencies.
func NewDeadlineSweeper(
	trades domain.TradeStore,
	audit domain.AuditStore,
	emitter *service.EventEmitter,
	cfg SweepConfig,
	logger *slog.Logger,
) *DeadlineSweeper {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 100
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &DeadlineSweeper{
		trades:    trades,
		audit:     audit,
		emitter:   emitter,
		cfg:       cfg,
		logger:    logger,
		triggerCh: make(chan struct{}, 1),
	}
}

// TriggerChan returns the channel that requests an immediate sweep. The
// admin trigger endpoint performs a non-blocking send on it.
func (s *DeadlineSweeper) TriggerChan() chan<- struct{} {
	return s.triggerCh
}

// RunLoop sweeps on a fixed interval until the context is cancelled. A send
// on the trigger channel runs one extra sweep right away. Sweep failures are
// logged and the loop keeps going.
func (s *DeadlineSweeper) RunLoop(ctx context.Context, interval time.Duration) error {
	s.logger.Info("scheduler: deadline sweep loop started",
		slog.Duration("interval", interval),
		slog.Int("workers", s.cfg.Workers),
		slog.String("policy", string(s.cfg.Policy)),
	)

	// Sweep once on start so a restart never leaves expired trades waiting
	// out a full interval.
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("scheduler: sweep failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler: deadline sweep loop stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-s.triggerCh:
			s.logger.Info("scheduler: manual sweep triggered")
		}

		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("scheduler: sweep failed", slog.String("error", err.Error()))
		}
	}
}

// Sweep loads one batch of overdue trades and lets the worker pool claim
// them one at a time. It returns how many trades it transitioned; conflicts
// are skipped silently and not counted.
func (s *DeadlineSweeper) Sweep(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	expired, err := s.trades.ListExpired(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("scheduler: list expired trades: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	var transitioned atomic.Int64
	work := make(chan domain.Trade)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.Workers; i++ {
		g.Go(func() error {
			for t := range work {
				if s.expire(ctx, t, now) {
					transitioned.Add(1)
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(work)
		for _, t := range expired {
			select {
			case work <- t:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return int(transitioned.Load()), fmt.Errorf("scheduler: sweep workers: %w", err)
	}

	if n := transitioned.Load(); n > 0 {
		s.logger.InfoContext(ctx, "scheduler: sweep complete",
			slog.Int("candidates", len(expired)),
			slog.Int64("transitioned", n),
		)
	}

	return int(transitioned.Load()), nil
}

// expire applies the phase-appropriate transition for one overdue trade and
// reports whether the write landed. Losing the conditional write means
// another actor already handled the trade, so it is skipped without noise.
func (s *DeadlineSweeper) expire(ctx context.Context, t domain.Trade, now time.Time) bool {
	updated := t
	updated.Version = t.Version + 1
	updated.UpdatedAt = now

	var event, reason string

	switch {
	case t.Status == domain.TradeStatusPending:
		reason = "response window expired"
		updated.Status = domain.TradeStatusCancelled
		updated.CancelReason = reason
		updated.CancelledAt = &now
		event = "trade_expired"
	case t.Status == domain.TradeStatusAccepted && !t.ShipmentStarted():
		reason = "shipping window expired"
		updated.Status = domain.TradeStatusCancelled
		updated.CancelReason = reason
		updated.CancelledAt = &now
		event = "trade_expired"
	case t.Status.Shipped():
		reason = "shipping window elapsed without dispute"
		if s.cfg.Policy == PolicyDispute {
			updated.Status = domain.TradeStatusDisputed
			event = "trade_auto_disputed"
		} else {
			updated.Status = domain.TradeStatusCompleted
			updated.CompletedAt = &now
			event = "trade_auto_completed"
		}
	default:
		return false
	}

	if err := s.trades.Update(ctx, updated, t.Version); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Another actor already advanced this trade.
			return false
		}
		s.logger.ErrorContext(ctx, "scheduler: expire write failed",
			slog.String("trade_id", t.ID),
			slog.String("error", err.Error()),
		)
		return false
	}

	if err := s.audit.Log(ctx, event, map[string]any{
		"trade_id": t.ID,
		"from":     string(t.Status),
		"to":       string(updated.Status),
		"reason":   reason,
	}); err != nil {
		s.logger.WarnContext(ctx, "scheduler: audit log failed",
			slog.String("trade_id", t.ID),
			slog.String("error", err.Error()),
		)
	}
	s.emitter.Emit(ctx, updated, domain.ActorScheduler)

	s.logger.InfoContext(ctx, "scheduler: trade expired",
		slog.String("trade_id", t.ID),
		slog.String("from", string(t.Status)),
		slog.String("to", string(updated.Status)),
		slog.String("reason", reason),
	)

	return true
}
