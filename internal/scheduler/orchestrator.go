// Package scheduler hosts the time-driven actors that mutate trades without
// a user in the loop: the deadline sweep and the cold-storage archiver.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Orchestrator manages the background goroutines: deadline sweeping and
// cold-storage archival.
type Orchestrator struct {
	sweeper       *DeadlineSweeper
	archiver      *Archiver
	sweepInterval time.Duration
	archiveCron   string
	logger        *slog.Logger
}

// NewOrchestrator creates a new Orchestrator. archiver may be nil when
// archival is disabled; the sweep loop always runs.
func NewOrchestrator(
	sweeper *DeadlineSweeper,
	archiver *Archiver,
	sweepInterval time.Duration,
	archiveCron string,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		sweeper:       sweeper,
		archiver:      archiver,
		sweepInterval: sweepInterval,
		archiveCron:   archiveCron,
		logger:        logger,
	}
}

// Run starts the background loops as concurrent goroutines using an
// errgroup. Each goroutine respects ctx cancellation. If any goroutine
// returns a non-context error, the errgroup cancels the shared context and
// Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("scheduler orchestrator starting",
		slog.Duration("sweep_interval", o.sweepInterval),
		slog.String("archive_cron", o.archiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.sweeper.RunLoop(ctx, o.sweepInterval)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("deadline sweeper: %w", err)
	})

	if o.archiver != nil {
		g.Go(func() error {
			err := o.archiver.RunCron(ctx, o.archiveCron)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Error("scheduler orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("scheduler orchestrator stopped cleanly")
	return nil
}
