package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/openbarter/tradecore/internal/domain"
)

const (
	archiveLockKey = "archive"
	archiveLockTTL = 15 * time.Minute
)

// Archiver exports terminal trades and aged audit history from the database
// into blob cold storage on a cron schedule.
type Archiver struct {
	blobArchiver  domain.Archiver
	locks         domain.LockManager
	retentionDays int
	logger        *slog.Logger
}

// NewArchiver creates a new Archiver.
func NewArchiver(blobArchiver domain.Archiver, locks domain.LockManager, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		locks:         locks,
		retentionDays: retentionDays,
		logger:        logger,
	}
}

// Run performs one archive pass over everything older than the retention
// window. A distributed lock keeps overlapping deployments from exporting
// the same rows twice; losing the lock race is a skip, not a failure.
func (a *Archiver) Run(ctx context.Context) error {
	unlock, err := a.locks.Acquire(ctx, archiveLockKey, archiveLockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		a.logger.Info("archive run already in progress elsewhere, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("acquire archive lock: %w", err)
	}
	defer unlock()

	start := time.Now()
	cutoff := time.Now().UTC().AddDate(0, 0, -a.retentionDays)
	a.logger.Info("archive run starting",
		slog.Int("retention_days", a.retentionDays),
		slog.Time("cutoff", cutoff),
	)

	trades, err := a.blobArchiver.ArchiveTrades(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("export trades: %w", err)
	}

	audit, err := a.blobArchiver.ArchiveAudit(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("export audit log: %w", err)
	}

	a.logger.Info("archive run finished",
		slog.Int64("trades_archived", trades),
		slog.Int64("audit_archived", audit),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

// RunCron blocks, firing Run at each instant matched by a five-field cron
// expression ("minute hour day-of-month month day-of-week", so "0 3 1 * *"
// fires at 03:00 on the first of every month). It returns when ctx is
// cancelled or when the expression does not parse.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := parseCron(cronExpr)
	if err != nil {
		return err
	}
	a.logger.Info("archive schedule active", slog.String("cron", cronExpr))

	for {
		next, err := sched.next(time.Now().UTC())
		if err != nil {
			return err
		}
		a.logger.Info("next archive run scheduled",
			slog.Time("at", next),
			slog.Duration("in", time.Until(next)),
		)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archive schedule stopped")
			return ctx.Err()
		case <-timer.C:
		}

		if err := a.Run(ctx); err != nil {
			a.logger.Error("archive run failed", slog.String("error", err.Error()))
		}
	}
}

// cronSchedule is a parsed five-field cron expression. Each field is a bit
// set of the permitted values, so matching a time is five mask tests.
type cronSchedule struct {
	minute uint64
	hour   uint64
	dom    uint64
	month  uint64
	dow    uint64

	// Restricted day fields change the matching rule, see dayMatches.
	domStar bool
	dowStar bool
}

func cronBit(v int) uint64 { return 1 << uint(v) }

// dayMatches implements the classic cron day rule: when both day-of-month
// and day-of-week are restricted, a date qualifies if either one matches;
// otherwise both must (a star matches everything anyway).
func (s cronSchedule) dayMatches(t time.Time) bool {
	domHit := s.dom&cronBit(t.Day()) != 0
	dowHit := s.dow&cronBit(int(t.Weekday())) != 0
	if !s.domStar && !s.dowStar {
		return domHit || dowHit
	}
	return domHit && dowHit
}

// matchesTime reports whether t, at minute precision, is an instant the
// schedule fires on.
func (s cronSchedule) matchesTime(t time.Time) bool {
	return s.minute&cronBit(t.Minute()) != 0 &&
		s.hour&cronBit(t.Hour()) != 0 &&
		s.month&cronBit(int(t.Month())) != 0 &&
		s.dayMatches(t)
}

// next returns the first instant strictly after the given time that the
// schedule fires on. The search walks forward a day at a time until the
// date qualifies, then narrows by hour and minute, so sparse schedules
// resolve without scanning every minute in between.
func (s cronSchedule) next(after time.Time) (time.Time, error) {
	t := after.Truncate(time.Minute).Add(time.Minute)

	// Four years bounds schedules that rarely fire, like Feb 29.
	horizon := after.AddDate(4, 0, 1)
	for t.Before(horizon) {
		switch {
		case s.month&cronBit(int(t.Month())) == 0 || !s.dayMatches(t):
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
		case s.hour&cronBit(t.Hour()) == 0:
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location()).Add(time.Hour)
		case s.minute&cronBit(t.Minute()) == 0:
			t = t.Add(time.Minute)
		default:
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cron schedule never fires within four years of %v", after)
}

// parseCron parses a standard five-field cron expression. Fields accept
// "*", single values, ranges ("1-5"), steps ("*/15", "10-50/20") and comma
// lists; month and weekday names are not supported. Weekday 7 is accepted
// as an alias for Sunday.
func parseCron(expr string) (cronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return cronSchedule{}, fmt.Errorf("cron %q: want 5 fields (minute hour day-of-month month day-of-week), got %d", expr, len(fields))
	}

	var s cronSchedule
	for _, f := range []struct {
		name   string
		raw    string
		lo, hi int
		dst    *uint64
	}{
		{"minute", fields[0], 0, 59, &s.minute},
		{"hour", fields[1], 0, 23, &s.hour},
		{"day-of-month", fields[2], 1, 31, &s.dom},
		{"month", fields[3], 1, 12, &s.month},
		{"day-of-week", fields[4], 0, 7, &s.dow},
	} {
		mask, err := parseCronField(f.raw, f.lo, f.hi)
		if err != nil {
			return cronSchedule{}, fmt.Errorf("cron %q: %s: %w", expr, f.name, err)
		}
		*f.dst = mask
	}

	if s.dow&cronBit(7) != 0 {
		s.dow = s.dow&^cronBit(7) | cronBit(0)
	}
	s.domStar = fields[2] == "*"
	s.dowStar = fields[4] == "*"
	return s, nil
}

// parseCronField builds the bit set for one cron field over [lo, hi].
func parseCronField(field string, lo, hi int) (uint64, error) {
	var mask uint64
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)

		spec, stepStr, hasStep := strings.Cut(part, "/")
		step := 1
		if hasStep {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n < 1 {
				return 0, fmt.Errorf("invalid step in %q", part)
			}
			step = n
		}

		start, end := lo, hi
		switch {
		case spec == "*":
		case strings.Contains(spec, "-"):
			from, to, _ := strings.Cut(spec, "-")
			a, err := strconv.Atoi(from)
			if err != nil {
				return 0, fmt.Errorf("invalid range start in %q", part)
			}
			b, err := strconv.Atoi(to)
			if err != nil {
				return 0, fmt.Errorf("invalid range end in %q", part)
			}
			start, end = a, b
		default:
			v, err := strconv.Atoi(spec)
			if err != nil {
				return 0, fmt.Errorf("invalid value %q", spec)
			}
			start, end = v, v
			if hasStep {
				// "5/15" runs from 5 to the top of the field.
				end = hi
			}
		}

		if start < lo || end > hi || start > end {
			return 0, fmt.Errorf("%q outside %d-%d", part, lo, hi)
		}
		for v := start; v <= end; v += step {
			mask |= cronBit(v)
		}
	}
	return mask, nil
}

// nextCronTime resolves expr and returns the first firing instant after the
// given time.
func nextCronTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := parseCron(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.next(after)
}
