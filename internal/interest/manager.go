package interest

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/udisondev/gridsim/internal/config"
	"github.com/udisondev/gridsim/internal/metrics"
	"github.com/udisondev/gridsim/internal/model"
)

var tracer = otel.Tracer("gridsim/interest")

// parallelThreshold is the observer count from which a tick fans out to workers.
// Below it goroutine overhead outweighs the gain.
const parallelThreshold = 64

// Update is one entity queued for an observer.
type Update struct {
	Entity   *model.Entity
	Priority float64
}

// Source provides the observers and the candidate entities of a tick.
// Implemented by world.Scene.
type Source interface {
	Presences() []*model.Presence
	Candidates() []*model.Entity
}

// Sink receives the ranked updates of one observer. Called concurrently for
// different observers.
type Sink interface {
	Deliver(o *model.Presence, updates []Update)
}

// Manager ranks candidate entities for every observer on each tick.
type Manager struct {
	source      Source
	culler      *Culler
	prioritizer *Prioritizer
	sink        Sink
	metrics     *metrics.Collector

	interval                      time.Duration
	workers                       int
	childReprioritizationDistance float64
}

// NewManager creates a tick manager. Workers default to runtime.NumCPU().
func NewManager(cfg config.Interest, source Source, culler *Culler, prioritizer *Prioritizer, sink Sink, m *metrics.Collector) *Manager {
	workers := cfg.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	interval := cfg.TickInterval
	if interval <= 0 {
		interval = config.DefaultInterest().TickInterval
	}
	return &Manager{
		source:                        source,
		culler:                        culler,
		prioritizer:                   prioritizer,
		sink:                          sink,
		metrics:                       m,
		interval:                      interval,
		workers:                       workers,
		childReprioritizationDistance: cfg.ChildReprioritizationDistance,
	}
}

// ChildReprioritizationDistance is the distance a child agent must move
// before its queue is re-ranked. The manager itself re-ranks every tick;
// the value is exposed for the update queue.
func (m *Manager) ChildReprioritizationDistance() float64 {
	return m.childReprioritizationDistance
}

// Start runs UpdateAll on every tick until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	slog.Info("interest manager started",
		"interval", m.interval,
		"workers", m.workers,
		"scheme", m.prioritizer.Scheme())

	for {
		select {
		case <-ctx.Done():
			slog.Info("interest manager stopping")
			return ctx.Err()

		case <-ticker.C:
			if err := m.UpdateAll(ctx); err != nil && ctx.Err() == nil {
				slog.Error("interest tick failed", "error", err)
			}
		}
	}
}

// UpdateAll ranks candidates for every observer and delivers them to the sink.
func (m *Manager) UpdateAll(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "interest.UpdateAll", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	start := time.Now()
	presences := m.source.Presences()
	if len(presences) == 0 {
		return nil
	}
	candidates := m.source.Candidates()

	var ranked, culled atomic.Int64
	rank := func(o *model.Presence) {
		updates, dropped := m.Rank(o, candidates)
		ranked.Add(int64(len(updates)))
		culled.Add(int64(dropped))
		m.sink.Deliver(o, updates)
	}

	if len(presences) < parallelThreshold {
		for _, o := range presences {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("ranking updates: %w", err)
			}
			rank(o)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(m.workers)
		for _, o := range presences {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				rank(o)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("ranking updates: %w", err)
		}
	}

	elapsed := time.Since(start)
	m.metrics.ObserveTick(elapsed, int(ranked.Load()), int(culled.Load()))
	span.SetAttributes(
		attribute.Int("observers", len(presences)),
		attribute.Int("candidates", len(candidates)),
		attribute.Int64("ranked", ranked.Load()),
		attribute.Int64("culled", culled.Load()),
	)
	slog.Debug("interest tick completed",
		"observers", len(presences),
		"candidates", len(candidates),
		"ranked", ranked.Load(),
		"culled", culled.Load(),
		"duration", elapsed)
	return nil
}

// Rank culls candidates for o and returns the rest ordered by priority
// (ties by local ID), together with the number culled.
func (m *Manager) Rank(o *model.Presence, candidates []*model.Entity) ([]Update, int) {
	updates := make([]Update, 0, len(candidates))
	culled := 0
	for _, e := range candidates {
		if !m.culler.ShouldShow(o, e) {
			culled++
			continue
		}
		updates = append(updates, Update{Entity: e, Priority: m.prioritizer.Priority(o, e)})
	}

	sort.SliceStable(updates, func(i, j int) bool {
		if updates[i].Priority != updates[j].Priority {
			return updates[i].Priority < updates[j].Priority
		}
		return updates[i].Entity.LocalID() < updates[j].Entity.LocalID()
	})
	return updates, culled
}
