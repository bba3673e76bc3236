// Package primcount keeps per-parcel object counts for quota checks and the
// parcel info UI.
//
// The cache is tainted by any change it cannot patch cheaply (ownership,
// parcel crossing, land add/remove) and rebuilt from the live scene on the
// next read. Object add/remove on a clean cache is applied incrementally.
package primcount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/udisondev/gridsim/internal/event"
	"github.com/udisondev/gridsim/internal/metrics"
	"github.com/udisondev/gridsim/internal/model"
)

var tracer = otel.Tracer("gridsim/primcount")

var (
	ErrNilObject       = errors.New("nil object")
	ErrInvalidPosition = errors.New("object position is not finite")
	ErrObjectPanic     = errors.New("panic while counting object")
)

// LandChannel resolves parcels. Implemented by land.Manager.
type LandChannel interface {
	ParcelAt(x, y float64) (*model.Parcel, bool)
	AllParcels() []*model.Parcel
}

// ObjectSource enumerates scene objects during a rebuild. Implemented by world.Scene.
type ObjectSource interface {
	ForEachObject(fn func(*model.Entity) bool)
}

// contribution is what one object added to its parcel, kept so removal
// subtracts exactly the same amounts.
type contribution struct {
	obj       *model.Entity
	prims     int
	owner     uuid.UUID
	landOwner uuid.UUID
	category  Category
	selected  bool
}

type parcelCounts struct {
	owner     int
	group     int
	others    int
	selected  int
	temporary int // temporary-on-rez objects are never counted; kept for the UI contract

	users   map[uuid.UUID]int
	objects map[uuid.UUID]contribution
}

func newParcelCounts() *parcelCounts {
	return &parcelCounts{
		users:   make(map[uuid.UUID]int),
		objects: make(map[uuid.UUID]contribution),
	}
}

// Module is the parcel accounting cache. All state is guarded by mu; the
// tainted flag and the structures it describes form one consistency domain.
type Module struct {
	land    LandChannel
	scene   ObjectSource
	metrics *metrics.Collector

	mu       sync.Mutex
	tainted  bool
	ownerMap map[uuid.UUID]uuid.UUID // parcel → land owner
	simwide  map[uuid.UUID]int       // land owner → prims on all of its parcels
	parcels  map[uuid.UUID]*parcelCounts
	handles  map[uuid.UUID]*Counts

	gaugeMu sync.Mutex // serializes parcel gauge refreshes
}

// New creates a tainted cache; the first read performs the initial count.
func New(land LandChannel, scene ObjectSource, m *metrics.Collector) *Module {
	return &Module{
		land:     land,
		scene:    scene,
		metrics:  m,
		tainted:  true,
		ownerMap: make(map[uuid.UUID]uuid.UUID),
		simwide:  make(map[uuid.UUID]int),
		parcels:  make(map[uuid.UUID]*parcelCounts),
		handles:  make(map[uuid.UUID]*Counts),
	}
}

// Wire subscribes the cache to scene and land notifications.
func (m *Module) Wire(bus *event.Bus) {
	bus.OnObjectAdded(m.OnObjectAdded)
	bus.OnObjectRemoved(m.OnObjectRemoved)
	bus.OnOwnershipChanged(func(*model.Entity) { m.taint("ownership_changed") })
	bus.OnParcelCrossed(func(_ *model.Entity, _, _ *model.Parcel) { m.taint("parcel_crossed") })
	bus.OnLandAdded(func(*model.Parcel) { m.taint("land_added") })
	bus.OnLandRemoved(func(*model.Parcel) { m.taint("land_removed") })
	bus.OnLandOwnerChanged(func(*model.Parcel) { m.taint("land_owner_changed") })
	bus.OnPrimCountTainted(func() { m.taint("selection") })
}

// Taint marks the whole cache dirty.
func (m *Module) Taint() {
	m.taint("explicit")
}

// TaintParcel marks the whole cache dirty. The parcel only documents the call site.
func (m *Module) TaintParcel(_ *model.Parcel) {
	m.taint("parcel")
}

// TaintAt marks the whole cache dirty. The coordinates only document the call site.
func (m *Module) TaintAt(_, _ float64) {
	m.taint("coordinate")
}

func (m *Module) taint(reason string) {
	m.mu.Lock()
	m.tainted = true
	m.mu.Unlock()
	m.metrics.IncTaint(reason)
}

// Tainted reports whether the next read will trigger a rebuild.
func (m *Module) Tainted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tainted
}

// OnObjectAdded applies an incremental insert when the cache is clean.
// A tainted cache ignores it: the next rebuild picks the object up.
func (m *Module) OnObjectAdded(obj *model.Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tainted {
		return
	}
	if err := m.addObject(obj); err != nil {
		slog.Warn("skip prim count add", "error", err)
		return
	}
	m.metrics.IncIncremental("add")
}

// OnObjectRemoved applies an incremental removal when the cache is clean.
func (m *Module) OnObjectRemoved(obj *model.Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tainted {
		return
	}
	m.removeObject(obj)
	m.metrics.IncIncremental("remove")
}

// Recount rebuilds the cache from the live scene immediately.
func (m *Module) Recount() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recount()
}

// GetCounts returns the stable handle for parcelID, creating it on first access.
func (m *Module) GetCounts(parcelID uuid.UUID) *Counts {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.handles[parcelID]; ok {
		return c
	}
	c := &Counts{m: m, parcelID: parcelID}
	m.handles[parcelID] = c
	return c
}

// OwnerCount returns prims owned by the parcel owner (or owning group).
func (m *Module) OwnerCount(parcelID uuid.UUID) int {
	return m.readParcel(parcelID, func(pc *parcelCounts) int { return pc.owner })
}

// GroupCount returns prims set to the parcel group but not owned by the parcel owner.
func (m *Module) GroupCount(parcelID uuid.UUID) int {
	return m.readParcel(parcelID, func(pc *parcelCounts) int { return pc.group })
}

// OthersCount returns prims unrelated to the parcel owner and group.
func (m *Module) OthersCount(parcelID uuid.UUID) int {
	return m.readParcel(parcelID, func(pc *parcelCounts) int { return pc.others })
}

// SelectedCount returns prims currently selected or sat upon.
func (m *Module) SelectedCount(parcelID uuid.UUID) int {
	return m.readParcel(parcelID, func(pc *parcelCounts) int { return pc.selected })
}

// TemporaryCount returns temporary prims on the parcel. Temporary-on-rez
// objects are excluded from accounting, so this is always zero.
func (m *Module) TemporaryCount(parcelID uuid.UUID) int {
	return m.readParcel(parcelID, func(pc *parcelCounts) int { return pc.temporary })
}

// TotalCount returns Owner + Group + Others.
func (m *Module) TotalCount(parcelID uuid.UUID) int {
	return m.readParcel(parcelID, func(pc *parcelCounts) int { return pc.owner + pc.group + pc.others })
}

// SimulatorCount returns the prims on every parcel of the region owned by ownerID.
func (m *Module) SimulatorCount(ownerID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureFresh()
	return m.simwide[ownerID]
}

// SimulatorCountForParcel returns SimulatorCount of the parcel's owner.
func (m *Module) SimulatorCountForParcel(parcelID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureFresh()
	owner, ok := m.ownerMap[parcelID]
	if !ok {
		return 0
	}
	return m.simwide[owner]
}

// UserCount returns the prims userID owns on the parcel.
func (m *Module) UserCount(parcelID, userID uuid.UUID) int {
	return m.readParcel(parcelID, func(pc *parcelCounts) int { return pc.users[userID] })
}

// AllUserCounts returns a copy of the per-owner prim counts on the parcel.
func (m *Module) AllUserCounts(parcelID uuid.UUID) map[uuid.UUID]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureFresh()

	out := make(map[uuid.UUID]int)
	if pc, ok := m.parcels[parcelID]; ok {
		for user, n := range pc.users {
			out[user] = n
		}
	}
	return out
}

// ParcelObjects returns a snapshot of the objects counted on the parcel,
// ordered by local ID.
func (m *Module) ParcelObjects(parcelID uuid.UUID) []*model.Entity {
	m.mu.Lock()
	pc, ok := m.parcels[parcelID]
	if m.tainted {
		m.recount()
		pc, ok = m.parcels[parcelID]
	}
	var out []*model.Entity
	if ok {
		out = make([]*model.Entity, 0, len(pc.objects))
		for _, c := range pc.objects {
			out = append(out, c.obj)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].LocalID() < out[j].LocalID() })
	return out
}

func (m *Module) readParcel(parcelID uuid.UUID, read func(*parcelCounts) int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureFresh()
	pc, ok := m.parcels[parcelID]
	if !ok {
		return 0
	}
	return read(pc)
}

// ensureFresh rebuilds if tainted. Caller holds m.mu.
func (m *Module) ensureFresh() {
	if m.tainted {
		m.recount()
	}
}

// recount clears every structure and recounts every scene object.
// Caller holds m.mu.
func (m *Module) recount() {
	start := time.Now()
	_, span := tracer.Start(context.Background(), "primcount.recount", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	clear(m.ownerMap)
	clear(m.simwide)
	clear(m.parcels)

	parcels := m.land.AllParcels()
	for _, p := range parcels {
		m.ownerMap[p.GlobalID] = p.OwnerID
		m.simwide[p.OwnerID] = 0
		m.parcels[p.GlobalID] = newParcelCounts()
	}

	objects, skipped := 0, 0
	m.scene.ForEachObject(func(obj *model.Entity) bool {
		objects++
		if err := m.safeAddObject(obj); err != nil {
			skipped++
			m.metrics.IncSkipped()
			slog.Warn("skip object during prim recount", "error", err)
		}
		return true
	})

	for id := range m.handles {
		if _, ok := m.ownerMap[id]; !ok {
			delete(m.handles, id)
		}
	}
	m.tainted = false

	elapsed := time.Since(start)
	m.metrics.ObserveRebuild(elapsed)
	span.SetAttributes(
		attribute.Int("parcels", len(parcels)),
		attribute.Int("objects", objects),
		attribute.Int("skipped", skipped),
	)
	slog.Debug("prim counts recounted",
		"parcels", len(parcels),
		"objects", objects,
		"skipped", skipped,
		"duration", elapsed)
}

// addObject classifies obj into its parcel. Caller holds m.mu.
func (m *Module) addObject(obj *model.Entity) error {
	if obj == nil {
		return ErrNilObject
	}
	if obj.IsAvatar() || obj.IsAttachment() || obj.IsTemporary() {
		return nil
	}
	pos := obj.Position()
	if !model.IsFinite(pos) {
		return fmt.Errorf("counting object %s at %v: %w", obj.ID(), pos, ErrInvalidPosition)
	}

	// Footprint approximated by the origin point.
	parcel, ok := m.land.ParcelAt(pos.X(), pos.Y())
	if !ok {
		return nil
	}
	pc, ok := m.parcels[parcel.GlobalID]
	if !ok {
		return nil
	}
	if _, dup := pc.objects[obj.ID()]; dup {
		return nil
	}

	c := contribution{
		obj:       obj,
		prims:     obj.PrimCount(),
		owner:     obj.OwnerID(),
		landOwner: parcel.OwnerID,
		category:  Classify(parcel, obj.OwnerID(), obj.GroupID()),
		selected:  obj.IsSelected() || obj.SittingAvatars() > 0,
	}
	pc.objects[obj.ID()] = c

	m.simwide[c.landOwner] += c.prims
	pc.users[c.owner] += c.prims
	switch c.category {
	case CategoryOwner:
		pc.owner += c.prims
	case CategoryGroup:
		pc.group += c.prims
	default:
		pc.others += c.prims
	}
	if c.selected {
		pc.selected += c.prims
	}
	return nil
}

// safeAddObject is addObject with a panic in one object turned into an error.
// Caller holds m.mu.
func (m *Module) safeAddObject(obj *model.Entity) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("counting object: %w: %v", ErrObjectPanic, r)
		}
	}()
	return m.addObject(obj)
}

// removeObject reverses exactly what addObject recorded for obj. Caller holds m.mu.
func (m *Module) removeObject(obj *model.Entity) {
	if obj == nil || obj.IsAvatar() || obj.IsAttachment() || obj.IsTemporary() {
		return
	}
	pos := obj.Position()
	if !model.IsFinite(pos) {
		return
	}
	parcel, ok := m.land.ParcelAt(pos.X(), pos.Y())
	if !ok {
		return
	}
	pc, ok := m.parcels[parcel.GlobalID]
	if !ok {
		return
	}
	c, ok := pc.objects[obj.ID()]
	if !ok {
		return
	}
	delete(pc.objects, obj.ID())

	m.simwide[c.landOwner] -= c.prims
	if pc.users[c.owner] -= c.prims; pc.users[c.owner] <= 0 {
		delete(pc.users, c.owner)
	}
	switch c.category {
	case CategoryOwner:
		pc.owner -= c.prims
	case CategoryGroup:
		pc.group -= c.prims
	default:
		pc.others -= c.prims
	}
	if c.selected {
		pc.selected -= c.prims
	}
}
