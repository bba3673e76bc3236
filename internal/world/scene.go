package world

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"github.com/udisondev/gridsim/internal/event"
	"github.com/udisondev/gridsim/internal/land"
	"github.com/udisondev/gridsim/internal/model"
)

var (
	ErrEntityExists    = errors.New("entity already in scene")
	ErrUnknownEntity   = errors.New("unknown entity")
	ErrNotRoot         = errors.New("entity is a linkset child")
	ErrInvalidPosition = errors.New("invalid position")
)

// Scene is the region's live object population: scene objects (linkset roots
// and single prims) and the presences observing them.
type Scene struct {
	handle       uint64
	sizeX, sizeY float64

	objects   sync.Map // map[uuid.UUID]*model.Entity, root/single prims
	presences sync.Map // map[uuid.UUID]*model.Presence
	avatars   sync.Map // map[uuid.UUID]*model.Entity, avatar entity per presence

	// Candidate snapshot (immutable slice), rebuilt lazily after add/remove.
	candidates      atomic.Value // []*model.Entity
	candidatesDirty atomic.Bool

	land *land.Manager
	bus  *event.Bus
}

// NewScene creates an empty scene for the region at handle.
func NewScene(handle uint64, sizeX, sizeY uint32, lands *land.Manager, bus *event.Bus) *Scene {
	s := &Scene{
		handle: handle,
		sizeX:  float64(sizeX),
		sizeY:  float64(sizeY),
		land:   lands,
		bus:    bus,
	}
	s.candidatesDirty.Store(true)
	return s
}

// RegionHandle returns the region handle of the scene.
func (s *Scene) RegionHandle() uint64 {
	return s.handle
}

// Size returns the region extent in meters.
func (s *Scene) Size() (x, y float64) {
	return s.sizeX, s.sizeY
}

// Land returns the parcel manager backing the scene.
func (s *Scene) Land() *land.Manager {
	return s.land
}

// AddObject adds a scene object (linkset root or single prim) and publishes object-added.
func (s *Scene) AddObject(obj *model.Entity) error {
	if obj.Parent() != nil {
		return fmt.Errorf("adding object %s: %w", obj.ID(), ErrNotRoot)
	}
	if !model.IsFinite(obj.Position()) {
		return fmt.Errorf("adding object %s at %v: %w", obj.ID(), obj.Position(), ErrInvalidPosition)
	}
	if _, loaded := s.objects.LoadOrStore(obj.ID(), obj); loaded {
		return fmt.Errorf("adding object %s: %w", obj.ID(), ErrEntityExists)
	}
	s.candidatesDirty.Store(true)

	s.bus.ObjectAdded(obj)
	return nil
}

// RemoveObject removes a scene object and publishes object-removed.
// Unknown ids are ignored.
func (s *Scene) RemoveObject(id uuid.UUID) {
	value, ok := s.objects.LoadAndDelete(id)
	if !ok {
		return
	}
	s.candidatesDirty.Store(true)

	s.bus.ObjectRemoved(value.(*model.Entity))
}

// Object returns the scene object by id.
func (s *Scene) Object(id uuid.UUID) (*model.Entity, bool) {
	value, ok := s.objects.Load(id)
	if !ok {
		return nil, false
	}
	return value.(*model.Entity), true
}

// MoveObject moves a scene object and publishes parcel-crossed when the
// parcel under its origin changes.
func (s *Scene) MoveObject(id uuid.UUID, pos mgl64.Vec3) error {
	obj, ok := s.Object(id)
	if !ok {
		return fmt.Errorf("moving object %s: %w", id, ErrUnknownEntity)
	}
	if !model.IsFinite(pos) {
		return fmt.Errorf("moving object %s to %v: %w", id, pos, ErrInvalidPosition)
	}

	old := obj.Position()
	from, _ := s.parcelAt(old)
	obj.SetPosition(pos)
	to, _ := s.parcelAt(pos)

	if from != to {
		s.bus.ParcelCrossed(obj, from, to)
	}
	return nil
}

// SetObjectOwner changes ownership of a scene object and publishes ownership-changed.
func (s *Scene) SetObjectOwner(id, ownerID, groupID uuid.UUID) error {
	obj, ok := s.Object(id)
	if !ok {
		return fmt.Errorf("setting owner of %s: %w", id, ErrUnknownEntity)
	}
	obj.SetOwnership(ownerID, groupID)

	s.bus.OwnershipChanged(obj)
	return nil
}

// SelectObject toggles the selection flag of a scene object.
func (s *Scene) SelectObject(id uuid.UUID, selected bool) error {
	obj, ok := s.Object(id)
	if !ok {
		return fmt.Errorf("selecting %s: %w", id, ErrUnknownEntity)
	}
	if obj.IsSelected() == selected {
		return nil
	}
	obj.SetSelected(selected)

	s.bus.PrimCountTainted()
	return nil
}

// ForEachObject iterates over scene objects. If fn returns false, iteration stops.
func (s *Scene) ForEachObject(fn func(*model.Entity) bool) {
	s.objects.Range(func(_, value any) bool {
		return fn(value.(*model.Entity))
	})
}

// Objects returns every scene object ordered by local ID.
func (s *Scene) Objects() []*model.Entity {
	out := make([]*model.Entity, 0, 64)
	s.ForEachObject(func(obj *model.Entity) bool {
		out = append(out, obj)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].LocalID() < out[j].LocalID() })
	return out
}

// ObjectCount returns the number of scene objects (O(N)).
func (s *Scene) ObjectCount() int {
	count := 0
	s.objects.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// AddPresence registers an observer together with its avatar entity.
func (s *Scene) AddPresence(p *model.Presence, localID uint32) error {
	avatar := model.NewAvatarEntity(p.ID(), localID, p.Name(), p.Position())
	if _, loaded := s.presences.LoadOrStore(p.ID(), p); loaded {
		return fmt.Errorf("adding presence %s: %w", p.ID(), ErrEntityExists)
	}
	s.avatars.Store(p.ID(), avatar)
	s.candidatesDirty.Store(true)

	slog.Debug("presence added", "presence", p.ID(), "name", p.Name(), "child", p.IsChildAgent())
	return nil
}

// RemovePresence unregisters an observer and stands it up.
func (s *Scene) RemovePresence(id uuid.UUID) {
	value, ok := s.presences.LoadAndDelete(id)
	if !ok {
		return
	}
	s.avatars.Delete(id)
	s.candidatesDirty.Store(true)

	p := value.(*model.Presence)
	if p.SittingOn() != nil {
		p.SitOn(nil)
		s.bus.PrimCountTainted()
	}
}

// Presence returns the observer by id.
func (s *Scene) Presence(id uuid.UUID) (*model.Presence, bool) {
	value, ok := s.presences.Load(id)
	if !ok {
		return nil, false
	}
	return value.(*model.Presence), true
}

// Presences returns every registered observer.
func (s *Scene) Presences() []*model.Presence {
	out := make([]*model.Presence, 0, 16)
	s.presences.Range(func(_, value any) bool {
		out = append(out, value.(*model.Presence))
		return true
	})
	return out
}

// MovePresence moves an observer and its avatar entity.
func (s *Scene) MovePresence(id uuid.UUID, pos mgl64.Vec3) error {
	p, ok := s.Presence(id)
	if !ok {
		return fmt.Errorf("moving presence %s: %w", id, ErrUnknownEntity)
	}
	if !model.IsFinite(pos) {
		return fmt.Errorf("moving presence %s to %v: %w", id, pos, ErrInvalidPosition)
	}
	p.SetPosition(pos)
	if value, ok := s.avatars.Load(id); ok {
		value.(*model.Entity).SetPosition(pos)
	}
	return nil
}

// Sit seats the observer on part (nil stands it up).
func (s *Scene) Sit(presenceID uuid.UUID, part *model.Entity) error {
	p, ok := s.Presence(presenceID)
	if !ok {
		return fmt.Errorf("seating presence %s: %w", presenceID, ErrUnknownEntity)
	}
	p.SitOn(part)

	s.bus.PrimCountTainted()
	return nil
}

// Candidates returns every entity an observer may receive updates for: all
// parts of every scene object plus every avatar.
// IMPORTANT: Returned slice is immutable, DO NOT modify.
func (s *Scene) Candidates() []*model.Entity {
	if !s.candidatesDirty.Load() {
		if cache := s.candidates.Load(); cache != nil {
			return cache.([]*model.Entity)
		}
	}
	return s.rebuildCandidates()
}

// rebuildCandidates collects parts and avatars into a fresh immutable snapshot.
func (s *Scene) rebuildCandidates() []*model.Entity {
	// Clear the flag first: a concurrent add after this point re-dirties the cache.
	s.candidatesDirty.Store(false)

	out := make([]*model.Entity, 0, 128)
	s.objects.Range(func(_, value any) bool {
		obj := value.(*model.Entity)
		out = append(out, obj)
		out = append(out, obj.Children()...)
		return true
	})
	s.avatars.Range(func(_, value any) bool {
		out = append(out, value.(*model.Entity))
		return true
	})

	s.candidates.Store(out)
	return out
}

func (s *Scene) parcelAt(pos mgl64.Vec3) (*model.Parcel, bool) {
	if s.land == nil {
		return nil, false
	}
	return s.land.ParcelAt(pos.X(), pos.Y())
}
