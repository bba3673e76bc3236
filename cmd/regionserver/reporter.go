package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/udisondev/gridsim/internal/primcount"
)

const defaultReportInterval = time.Minute

// reportStore persists prim-count snapshots.
type reportStore interface {
	SaveReport(ctx context.Context, rep primcount.Report) error
}

// reportLog appends prim-count snapshots to an audit trail.
type reportLog interface {
	WriteReport(rep primcount.Report) error
}

// reporter periodically snapshots parcel prim counts to the database and the audit log.
type reporter struct {
	counts   *primcount.Module
	repo     reportStore
	log      reportLog
	interval time.Duration
}

// Run writes a report on every tick until ctx is cancelled.
// Write failures are logged and retried on the next tick.
func (r *reporter) Run(ctx context.Context) error {
	interval := r.interval
	if interval <= 0 {
		interval = defaultReportInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// final snapshot on shutdown, on a fresh context
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			r.report(flushCtx)
			cancel()
			return ctx.Err()

		case <-ticker.C:
			r.report(ctx)
		}
	}
}

func (r *reporter) report(ctx context.Context) {
	rep := r.counts.Report()

	if r.repo != nil {
		if err := r.repo.SaveReport(ctx, rep); err != nil {
			slog.Error("saving prim count report", "parcels", len(rep.Parcels), "err", err)
		}
	}
	if r.log != nil {
		if err := r.log.WriteReport(rep); err != nil {
			slog.Error("writing prim count audit log", "err", err)
		}
	}

	slog.Debug("prim count report written", "parcels", len(rep.Parcels))
}
