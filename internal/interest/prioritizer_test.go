package interest

import (
	"bytes"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/gridsim/internal/metrics"
	"github.com/udisondev/gridsim/internal/model"
)

var localIDs uint32 = 1000

func observerAt(pos mgl64.Vec3) *model.Presence {
	return model.NewPresence(uuid.New(), "observer", pos, 64)
}

func primAt(pos mgl64.Vec3) *model.Entity {
	localIDs++
	return model.NewEntity(uuid.New(), localIDs, "prim", pos)
}

// linkset builds a root at pos with n children stacked above it.
func linkset(pos mgl64.Vec3, n int) (*model.Entity, []*model.Entity) {
	root := primAt(pos)
	children := make([]*model.Entity, 0, n)
	for i := 1; i <= n; i++ {
		child := primAt(pos.Add(mgl64.Vec3{0, 0, float64(i)}))
		root.Link(child)
		children = append(children, child)
	}
	root.SetBounds(mgl64.Vec3{}, 4)
	return root, children
}

func TestPriority_SelfIsZero(t *testing.T) {
	for _, scheme := range Schemes() {
		p := NewPrioritizer(string(scheme))
		o := observerAt(mgl64.Vec3{100, 100, 20})
		self := model.NewAvatarEntity(o.ID(), 1, "self", o.Position())

		if got := p.Priority(o, self); got != 0 {
			t.Errorf("%s: Priority(self) = %v, want 0", scheme, got)
		}
	}
}

func TestPriority_NilIsInfinite(t *testing.T) {
	for _, scheme := range Schemes() {
		p := NewPrioritizer(string(scheme))
		o := observerAt(mgl64.Vec3{})

		if got := p.Priority(o, nil); !math.IsInf(got, 1) {
			t.Errorf("%s: Priority(nil) = %v, want +Inf", scheme, got)
		}
	}
}

func TestPriority_RootBeforeChildren(t *testing.T) {
	clock := func() time.Time { return time.Unix(1700000000, 0) }
	root, children := linkset(mgl64.Vec3{30, 40, 20}, 3)
	o := observerAt(mgl64.Vec3{10, 10, 20})

	for _, scheme := range Schemes() {
		if scheme == SchemeOOB {
			continue
		}
		p := NewPrioritizer(string(scheme), WithClock(clock))
		rootPriority := p.Priority(o, root)
		for i, child := range children {
			assert.Less(t, rootPriority, p.Priority(o, child), "%s: child %d", scheme, i)
		}
	}
}

func TestPriority_OOBSkipsLinksetAdjustment(t *testing.T) {
	root, children := linkset(mgl64.Vec3{30, 0, 0}, 2)
	o := observerAt(mgl64.Vec3{})
	p := NewPrioritizer("OOB")

	// 30² - 4
	assert.InDelta(t, 896.0, p.Priority(o, root), 1e-9)
	for _, child := range children {
		assert.Equal(t, p.Priority(o, root), p.Priority(o, child))
	}
}

func TestPriority_SinglePrimHasNoAdjustment(t *testing.T) {
	p := NewPrioritizer("Distance")
	o := observerAt(mgl64.Vec3{})

	assert.Equal(t, 25.0, p.Priority(o, primAt(mgl64.Vec3{3, 4, 0})))
}

func TestPriority_LinksetAdjustmentValues(t *testing.T) {
	p := NewPrioritizer("Distance")
	o := observerAt(mgl64.Vec3{})
	root, children := linkset(mgl64.Vec3{3, 4, 0}, 1)

	// 25 - (4 + 0.5) - 0.05
	assert.InDelta(t, 20.45, p.Priority(o, root), 1e-9)
	// children rank by the group position: 25 + 0.05
	assert.InDelta(t, 25.05, p.Priority(o, children[0]), 1e-9)
}

func TestNudge_DoesNotOverflow(t *testing.T) {
	assert.Equal(t, math.MaxFloat64, nudge(math.MaxFloat64, linksetNudge))
	assert.Equal(t, -math.MaxFloat64, nudge(-math.MaxFloat64, -linksetNudge))
	assert.InDelta(t, 1.05, nudge(1, linksetNudge), 1e-12)
}

func TestNewPrioritizer_UnknownSchemeFallsBack(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	bogus := NewPrioritizer("Bogus", WithLogger(logger))
	def := NewPrioritizer("BestAvatarResponsiveness")

	assert.Equal(t, SchemeBestAvatarResponsiveness, bogus.Scheme())
	assert.Equal(t, 1, strings.Count(buf.String(), "level=WARN"), buf.String())

	o := observerAt(mgl64.Vec3{10, 10, 0})
	root, children := linkset(mgl64.Vec3{50, 20, 0}, 2)
	entities := append([]*model.Entity{primAt(mgl64.Vec3{12, 10, 0}), primAt(mgl64.Vec3{200, 200, 0}), root}, children...)
	for _, e := range entities {
		assert.Equal(t, def.Priority(o, e), bogus.Priority(o, e))
	}

	// Scoring never logs further warnings.
	assert.Equal(t, 1, strings.Count(buf.String(), "level=WARN"))
}

func TestNewPrioritizer_SchemeNamesAreCaseInsensitive(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	p := NewPrioritizer("frontback", WithLogger(logger))
	assert.Equal(t, SchemeFrontBack, p.Scheme())
	assert.Empty(t, buf.String())
}

func TestPriority_SeatedOnObject(t *testing.T) {
	p := NewPrioritizer("BestAvatarResponsiveness")

	physical := primAt(mgl64.Vec3{50, 50, 0})
	physical.SetPhysical(true)
	static := primAt(mgl64.Vec3{60, 60, 0})

	o := observerAt(mgl64.Vec3{50, 50, 1})
	o.SitOn(physical)
	assert.Equal(t, 0.0, p.Priority(o, physical))

	o.SitOn(static)
	assert.Equal(t, 1.2, p.Priority(o, static))
}

func TestPriority_StrategyFaultIsInfinite(t *testing.T) {
	reg := prometheus.NewRegistry()
	col, err := metrics.New(reg)
	require.NoError(t, err)

	p := NewPrioritizer("Distance", WithMetrics(col))
	o := observerAt(mgl64.Vec3{})
	broken := primAt(mgl64.Vec3{math.NaN(), 0, 0})

	assert.True(t, math.IsInf(p.Priority(o, broken), 1))
	assert.Equal(t, 1.0, promtest.ToFloat64(col.PriorityFaults.WithLabelValues("Distance")))

	// The fault is local to the pair.
	assert.Equal(t, 4.0, p.Priority(o, primAt(mgl64.Vec3{2, 0, 0})))
}

func TestPriority_MalformedEntityIsInfinite(t *testing.T) {
	nan := math.NaN()

	tests := []struct {
		name   string
		scheme Scheme
		entity func() *model.Entity
	}{
		{"nan scale", SchemeBestAvatarResponsiveness, func() *model.Entity {
			e := primAt(mgl64.Vec3{10, 0, 0})
			e.SetScale(mgl64.Vec3{nan, 1, 1})
			return e
		}},
		{"infinite scale", SchemeBestAvatarResponsiveness, func() *model.Entity {
			e := primAt(mgl64.Vec3{10, 0, 0})
			e.SetScale(mgl64.Vec3{math.Inf(1), 1, 1})
			return e
		}},
		{"nan root radius", SchemeDistance, func() *model.Entity {
			root, _ := linkset(mgl64.Vec3{10, 0, 0}, 2)
			root.SetBounds(mgl64.Vec3{}, nan)
			return root
		}},
		{"infinite root radius", SchemeFrontBack, func() *model.Entity {
			root, _ := linkset(mgl64.Vec3{10, 0, 0}, 1)
			root.SetBounds(mgl64.Vec3{}, math.Inf(1))
			return root
		}},
		{"nan rotation", SchemeOOB, func() *model.Entity {
			e := primAt(mgl64.Vec3{10, 0, 0})
			e.SetRotation(mgl64.Quat{W: nan, V: mgl64.Vec3{0, 0, 1}})
			e.SetBounds(mgl64.Vec3{1, 0, 0}, 4)
			return e
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			col, err := metrics.New(prometheus.NewRegistry())
			require.NoError(t, err)
			p := NewPrioritizer(string(tt.scheme), WithMetrics(col))

			got := p.Priority(observerAt(mgl64.Vec3{}), tt.entity())
			assert.True(t, math.IsInf(got, 1), "priority = %v", got)
			assert.Equal(t, 1.0, promtest.ToFloat64(col.PriorityFaults.WithLabelValues(string(tt.scheme))))
		})
	}
}

func TestPriority_MalformedRootLeavesChildrenFinite(t *testing.T) {
	p := NewPrioritizer("Distance")
	o := observerAt(mgl64.Vec3{})
	root, children := linkset(mgl64.Vec3{3, 4, 0}, 1)
	root.SetBounds(mgl64.Vec3{}, math.NaN())

	assert.True(t, math.IsInf(p.Priority(o, root), 1))
	assert.InDelta(t, 25.05, p.Priority(o, children[0]), 1e-9)
}
