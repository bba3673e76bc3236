package interest

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/gridsim/internal/config"
	"github.com/udisondev/gridsim/internal/event"
	"github.com/udisondev/gridsim/internal/land"
	"github.com/udisondev/gridsim/internal/metrics"
	"github.com/udisondev/gridsim/internal/model"
	"github.com/udisondev/gridsim/internal/world"
)

func newTestScene(t *testing.T) *world.Scene {
	t.Helper()
	bus := event.NewBus()
	return world.NewScene(testRegion().Handle, 256, 256, land.NewManager(bus), bus)
}

func newTestManager(t *testing.T, scene *world.Scene, cfg config.Interest, sink Sink, m *metrics.Collector) *Manager {
	t.Helper()
	culler := NewCuller(cfg, testRegion(), nil)
	prioritizer := NewPrioritizerFromConfig(cfg, WithMetrics(m))
	return NewManager(cfg, scene, culler, prioritizer, sink, m)
}

func TestManager_Rank(t *testing.T) {
	scene := newTestScene(t)
	cfg := config.DefaultInterest()
	cfg.UpdatePrioritizationScheme = "Distance"
	mgr := newTestManager(t, scene, cfg, NewRecordingSink(), nil)

	o := model.NewPresence(uuid.New(), "viewer", mgl64.Vec3{10, 10, 0}, 64)
	require.NoError(t, scene.AddPresence(o, 1))

	near := primAt(mgl64.Vec3{12, 10, 0})
	mid := primAt(mgl64.Vec3{30, 10, 0})
	far := primAt(mgl64.Vec3{200, 200, 0})
	root, children := linkset(mgl64.Vec3{20, 10, 0}, 2)
	for _, e := range []*model.Entity{far, mid, near, root} {
		require.NoError(t, scene.AddObject(e))
	}

	updates, culled := mgr.Rank(o, scene.Candidates())
	assert.Equal(t, 1, culled)

	got := make([]*model.Entity, 0, len(updates))
	for _, u := range updates {
		got = append(got, u.Entity)
	}
	require.Len(t, got, 6)
	assert.Equal(t, o.ID(), got[0].ID(), "own avatar first")
	assert.Same(t, near, got[1])
	assert.Same(t, root, got[2])
	assert.ElementsMatch(t, children, got[3:5])
	assert.Same(t, mid, got[5])

	for i := 1; i < len(updates); i++ {
		assert.LessOrEqual(t, updates[i-1].Priority, updates[i].Priority)
	}
}

func TestManager_RankWithMalformedEntities(t *testing.T) {
	scene := newTestScene(t)
	// scale only matters to BestAvatarResponsiveness
	for _, scheme := range []string{"BestAvatarResponsiveness", "Distance"} {
		cfg := config.DefaultInterest()
		cfg.UpdatePrioritizationScheme = scheme
		mgr := newTestManager(t, scene, cfg, NewRecordingSink(), nil)
		o := observerAt(mgl64.Vec3{100, 100, 0})

		badScale := primAt(mgl64.Vec3{101, 100, 0})
		badScale.SetScale(mgl64.Vec3{math.NaN(), 1, 1})
		badRoot, _ := linkset(mgl64.Vec3{102, 100, 0}, 1)
		badRoot.SetBounds(mgl64.Vec3{}, math.NaN())

		candidates := []*model.Entity{
			primAt(mgl64.Vec3{103, 100, 0}),
			primAt(mgl64.Vec3{104, 100, 0}),
			badScale,
			primAt(mgl64.Vec3{105, 100, 0}),
			badRoot,
			primAt(mgl64.Vec3{100, 101, 0}),
			primAt(mgl64.Vec3{100, 102, 0}),
		}

		updates, culled := mgr.Rank(o, candidates)
		assert.Zero(t, culled, scheme)
		require.Len(t, updates, len(candidates), scheme)

		for i, u := range updates {
			assert.False(t, math.IsNaN(u.Priority), "%s: update %d", scheme, i)
			if i > 0 {
				assert.LessOrEqual(t, updates[i-1].Priority, u.Priority, "%s: update %d", scheme, i)
			}
		}
		faulty := []*model.Entity{badRoot}
		if scheme == "BestAvatarResponsiveness" {
			faulty = append(faulty, badScale)
		}
		// faulty entities sink to the end, the rest stay ordered
		tail := updates[len(updates)-len(faulty):]
		got := make([]*model.Entity, 0, len(tail))
		for _, u := range tail {
			assert.True(t, math.IsInf(u.Priority, 1), scheme)
			got = append(got, u.Entity)
		}
		assert.ElementsMatch(t, faulty, got, scheme)
		assert.False(t, math.IsInf(updates[len(updates)-len(faulty)-1].Priority, 1), scheme)
	}
}

func TestManager_UpdateAllSequential(t *testing.T) {
	scene := newTestScene(t)
	sink := NewRecordingSink()
	reg := prometheus.NewRegistry()
	col, err := metrics.New(reg)
	require.NoError(t, err)
	mgr := newTestManager(t, scene, config.DefaultInterest(), sink, col)

	require.NoError(t, mgr.UpdateAll(context.Background()), "no observers")
	assert.Equal(t, 0.0, promtest.ToFloat64(col.InterestTicks))

	require.NoError(t, scene.AddObject(primAt(mgl64.Vec3{50, 50, 0})))
	ids := make([]uuid.UUID, 0, 3)
	for i := 0; i < 3; i++ {
		o := model.NewPresence(uuid.New(), "viewer", mgl64.Vec3{float64(50 + 10*i), 50, 0}, 64)
		require.NoError(t, scene.AddPresence(o, uint32(10+i)))
		ids = append(ids, o.ID())
	}

	require.NoError(t, mgr.UpdateAll(context.Background()))

	assert.Equal(t, 3, sink.Observers())
	for _, id := range ids {
		updates, ok := sink.Latest(id)
		require.True(t, ok)
		// one prim plus three avatars
		assert.Len(t, updates, 4)
		assert.Equal(t, id, updates[0].Entity.ID())
	}
	assert.Equal(t, 1.0, promtest.ToFloat64(col.InterestTicks))
	assert.Equal(t, 12.0, promtest.ToFloat64(col.InterestRanked))
}

func TestManager_UpdateAllParallel(t *testing.T) {
	scene := newTestScene(t)
	sink := NewRecordingSink()
	cfg := config.DefaultInterest()
	cfg.Workers = 4
	mgr := newTestManager(t, scene, cfg, sink, nil)

	for i := 0; i < 20; i++ {
		require.NoError(t, scene.AddObject(primAt(mgl64.Vec3{float64(i * 10), 128, 0})))
	}
	for i := 0; i < parallelThreshold*2; i++ {
		o := model.NewPresence(uuid.New(), "viewer", mgl64.Vec3{float64(i % 256), 128, 0}, 32)
		require.NoError(t, scene.AddPresence(o, uint32(5000+i)))
	}

	require.NoError(t, mgr.UpdateAll(context.Background()))
	assert.Equal(t, parallelThreshold*2, sink.Observers())
}

func TestManager_UpdateAllCancelled(t *testing.T) {
	scene := newTestScene(t)
	mgr := newTestManager(t, scene, config.DefaultInterest(), NewRecordingSink(), nil)
	require.NoError(t, scene.AddPresence(model.NewPresence(uuid.New(), "viewer", mgl64.Vec3{}, 64), 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, mgr.UpdateAll(ctx), context.Canceled)
}

type countingSink struct {
	mu    sync.Mutex
	calls int
}

func (s *countingSink) Deliver(*model.Presence, []Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
}

func (s *countingSink) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestManager_Start(t *testing.T) {
	scene := newTestScene(t)
	sink := &countingSink{}
	cfg := config.DefaultInterest()
	cfg.TickInterval = 5 * time.Millisecond
	mgr := newTestManager(t, scene, cfg, sink, nil)
	require.NoError(t, scene.AddPresence(model.NewPresence(uuid.New(), "viewer", mgl64.Vec3{}, 64), 1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Start(ctx) }()

	assert.Eventually(t, func() bool { return sink.Calls() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestManager_ChildReprioritizationDistance(t *testing.T) {
	cfg := config.DefaultInterest()
	mgr := newTestManager(t, newTestScene(t), cfg, NewRecordingSink(), nil)
	assert.Equal(t, 20.0, mgr.ChildReprioritizationDistance())
}
