package testutil

import (
	"sync/atomic"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"github.com/udisondev/gridsim/internal/event"
	"github.com/udisondev/gridsim/internal/land"
	"github.com/udisondev/gridsim/internal/model"
	"github.com/udisondev/gridsim/internal/world"
)

// Region bundles an empty 256×256 region at grid location 1000,1000.
type Region struct {
	Info  world.RegionInfo
	Bus   *event.Bus
	Land  *land.Manager
	Scene *world.Scene
	Grid  *world.GridService

	localIDs atomic.Uint32
}

// NewRegion creates a region registered on its own grid.
func NewRegion(tb testing.TB) *Region {
	tb.Helper()

	grid := world.NewGridService()
	info := grid.Register(world.RegionInfo{
		Name:      "test",
		LocationX: 1000,
		LocationY: 1000,
		SizeX:     256,
		SizeY:     256,
	})
	bus := event.NewBus()
	lands := land.NewManager(bus)

	r := &Region{
		Info:  info,
		Bus:   bus,
		Land:  lands,
		Scene: world.NewScene(info.Handle, info.SizeX, info.SizeY, lands, bus),
		Grid:  grid,
	}
	r.localIDs.Store(1000)
	return r
}

// NextLocalID returns a fresh region-local ID.
func (r *Region) NextLocalID() uint32 {
	return r.localIDs.Add(1)
}

// AddParcel adds a parcel or fails the test.
func (r *Region) AddParcel(tb testing.TB, p model.Parcel) *model.Parcel {
	tb.Helper()
	stored, err := r.Land.Add(p)
	if err != nil {
		tb.Fatalf("adding parcel %q: %v", p.Name, err)
	}
	return stored
}

// Linkset builds an object of prims parts at pos owned by owner. It is not added to the scene.
func (r *Region) Linkset(owner, group uuid.UUID, prims int, pos mgl64.Vec3) *model.Entity {
	root := model.NewEntity(uuid.New(), r.NextLocalID(), "object", pos)
	for i := 1; i < prims; i++ {
		root.Link(model.NewEntity(uuid.New(), r.NextLocalID(), "part", pos.Add(mgl64.Vec3{0, 0, float64(i)})))
	}
	root.SetOwnership(owner, group)
	return root
}

// AddObject builds a linkset and adds it to the scene or fails the test.
func (r *Region) AddObject(tb testing.TB, owner, group uuid.UUID, prims int, pos mgl64.Vec3) *model.Entity {
	tb.Helper()
	obj := r.Linkset(owner, group, prims, pos)
	if err := r.Scene.AddObject(obj); err != nil {
		tb.Fatalf("adding object: %v", err)
	}
	return obj
}

// AddObserver adds a root agent presence with its avatar or fails the test.
func (r *Region) AddObserver(tb testing.TB, name string, pos mgl64.Vec3, drawDistance float64) *model.Presence {
	tb.Helper()
	p := model.NewPresence(uuid.New(), name, pos, drawDistance)
	if err := r.Scene.AddPresence(p, r.NextLocalID()); err != nil {
		tb.Fatalf("adding presence %q: %v", name, err)
	}
	return p
}
