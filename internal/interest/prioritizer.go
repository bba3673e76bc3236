package interest

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/udisondev/gridsim/internal/config"
	"github.com/udisondev/gridsim/internal/metrics"
	"github.com/udisondev/gridsim/internal/model"
)

const linksetNudge = 0.05

// Prioritizer computes how urgently an observer needs an update about an
// entity. The strategy is fixed at construction. Safe for concurrent use.
type Prioritizer struct {
	strategy Strategy
	clock    func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Collector
}

// PrioritizerOption configures a Prioritizer.
type PrioritizerOption func(*Prioritizer)

// WithClock sets the clock used by the Time strategy.
func WithClock(clock func() time.Time) PrioritizerOption {
	return func(p *Prioritizer) { p.clock = clock }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) PrioritizerOption {
	return func(p *Prioritizer) { p.logger = logger }
}

// WithMetrics sets the collector receiving strategy faults.
func WithMetrics(m *metrics.Collector) PrioritizerOption {
	return func(p *Prioritizer) { p.metrics = m }
}

// NewPrioritizer creates a Prioritizer for the named scheme. An unknown name
// logs one warning and falls back to DefaultScheme.
func NewPrioritizer(schemeName string, opts ...PrioritizerOption) *Prioritizer {
	p := &Prioritizer{
		clock:  time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	scheme, err := ParseScheme(schemeName)
	if err != nil {
		p.logger.Warn("unknown update prioritization scheme, using default",
			"scheme", schemeName,
			"default", DefaultScheme)
		scheme = DefaultScheme
	}
	// scheme is always a known value here
	p.strategy, _ = NewStrategy(scheme, p.clock)
	return p
}

// NewPrioritizerFromConfig creates a Prioritizer from interest settings.
func NewPrioritizerFromConfig(cfg config.Interest, opts ...PrioritizerOption) *Prioritizer {
	return NewPrioritizer(cfg.UpdatePrioritizationScheme, opts...)
}

// Scheme returns the active scheme.
func (p *Prioritizer) Scheme() Scheme {
	return p.strategy.Scheme()
}

// Priority returns the update priority of e for observer o. Lower is more
// urgent; +Inf means "last". The observer's own avatar is always 0.
func (p *Prioritizer) Priority(o *model.Presence, e *model.Entity) float64 {
	if e == nil || o == nil {
		return math.Inf(1)
	}
	if e.ID() == o.ID() {
		return 0
	}

	priority, err := p.strategy.Score(o, e)
	// OOB already accounts for the object's extent.
	if err == nil && p.strategy.Scheme() != SchemeOOB {
		priority, err = adjustForLinkset(e, priority)
	}
	if err == nil && (math.IsNaN(priority) || math.IsInf(priority, -1)) {
		err = fmt.Errorf("priority %v of %s: %w", priority, e.ID(), ErrNonFinite)
	}
	if err != nil {
		p.metrics.IncPriorityFault(string(p.strategy.Scheme()))
		p.logger.Debug("priority evaluation failed",
			"scheme", p.strategy.Scheme(),
			"observer", o.ID(),
			"entity", e.ID(),
			"error", err)
		return math.Inf(1)
	}
	return priority
}

// adjustForLinkset sends a linkset root ahead of its children: the root is
// pulled in by its bounding radius² + 0.5 and both get a ±0.05 nudge.
// Single prims are left alone.
func adjustForLinkset(e *model.Entity, priority float64) (float64, error) {
	if math.IsInf(priority, 0) || math.IsNaN(priority) {
		return priority, nil
	}

	if parent := e.Parent(); parent != nil {
		return nudge(priority, linksetNudge), nil
	}
	if !e.IsRoot() {
		return priority, nil
	}

	radiusSq := e.BoundingRadiusSq()
	if math.IsNaN(radiusSq) || math.IsInf(radiusSq, 0) {
		return 0, fmt.Errorf("bounding radius of %s: %w", e.ID(), ErrNonFinite)
	}
	priority -= radiusSq + 0.5
	return nudge(priority, -linksetNudge), nil
}

// nudge adds delta unless the result would leave the finite float64 range.
func nudge(v, delta float64) float64 {
	if delta > 0 && v > math.MaxFloat64-delta {
		return v
	}
	if delta < 0 && v < -math.MaxFloat64-delta {
		return v
	}
	return v + delta
}
