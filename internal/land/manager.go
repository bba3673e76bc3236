package land

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/udisondev/gridsim/internal/event"
	"github.com/udisondev/gridsim/internal/model"
)

const cellSize = 64.0 // метров на ячейку сетки

var (
	ErrParcelExists  = errors.New("parcel already exists")
	ErrUnknownParcel = errors.New("unknown parcel")
	ErrEmptyParcel   = errors.New("parcel has empty bounds")
)

type cellKey struct {
	cx, cy int32
}

// Manager owns the region's parcels and indexes them on a uniform grid for
// point lookups. Parcels are stored as immutable copies; ownership changes
// swap in a new copy.
type Manager struct {
	mu      sync.RWMutex
	parcels map[uuid.UUID]*model.Parcel
	grid    map[cellKey][]*model.Parcel
	nextID  int32

	bus *event.Bus
}

// NewManager creates an empty parcel manager publishing to bus (may be nil).
func NewManager(bus *event.Bus) *Manager {
	return &Manager{
		parcels: make(map[uuid.UUID]*model.Parcel),
		grid:    make(map[cellKey][]*model.Parcel),
		bus:     bus,
	}
}

// Add registers a copy of p. A zero GlobalID gets a fresh one, a zero LocalID
// the next free one. Publishes a land-added notification.
func (m *Manager) Add(p model.Parcel) (*model.Parcel, error) {
	if p.Area() == 0 {
		return nil, fmt.Errorf("adding parcel %q: %w", p.Name, ErrEmptyParcel)
	}
	if p.GlobalID == uuid.Nil {
		p.GlobalID = uuid.New()
	}

	m.mu.Lock()
	if _, ok := m.parcels[p.GlobalID]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("adding parcel %s: %w", p.GlobalID, ErrParcelExists)
	}
	if p.LocalID == 0 {
		m.nextID++
		p.LocalID = m.nextID
	} else if p.LocalID > m.nextID {
		m.nextID = p.LocalID
	}
	stored := &p
	m.parcels[stored.GlobalID] = stored
	m.index(stored)
	m.mu.Unlock()

	slog.Debug("parcel added", "parcel", stored.GlobalID, "local_id", stored.LocalID, "name", stored.Name)
	m.bus.LandAdded(stored)
	return stored, nil
}

// Remove unregisters the parcel and publishes a land-removed notification.
func (m *Manager) Remove(id uuid.UUID) error {
	m.mu.Lock()
	p, ok := m.parcels[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("removing parcel %s: %w", id, ErrUnknownParcel)
	}
	delete(m.parcels, id)
	m.unindex(p)
	m.mu.Unlock()

	slog.Debug("parcel removed", "parcel", id)
	m.bus.LandRemoved(p)
	return nil
}

// SetOwner replaces the parcel's ownership and publishes a land-owner-changed notification.
func (m *Manager) SetOwner(id, ownerID, groupID uuid.UUID, groupOwned bool) error {
	m.mu.Lock()
	old, ok := m.parcels[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("setting owner of parcel %s: %w", id, ErrUnknownParcel)
	}
	next := *old
	next.OwnerID = ownerID
	next.GroupID = groupID
	next.GroupOwned = groupOwned
	m.unindex(old)
	m.parcels[id] = &next
	m.index(&next)
	m.mu.Unlock()

	m.bus.LandOwnerChanged(&next)
	return nil
}

// ParcelAt returns the parcel containing point (x, y).
// Overlapping parcels resolve to the lowest local ID.
func (m *Manager) ParcelAt(x, y float64) (*model.Parcel, bool) {
	if math.IsNaN(x) || math.IsNaN(y) {
		return nil, false
	}
	key := keyFor(x, y)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *model.Parcel
	for _, p := range m.grid[key] {
		if !p.Contains(x, y) {
			continue
		}
		if found == nil || p.LocalID < found.LocalID {
			found = p
		}
	}
	return found, found != nil
}

// Parcel returns the parcel by global ID.
func (m *Manager) Parcel(id uuid.UUID) (*model.Parcel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.parcels[id]
	return p, ok
}

// AllParcels returns every parcel ordered by local ID.
func (m *Manager) AllParcels() []*model.Parcel {
	m.mu.RLock()
	out := make([]*model.Parcel, 0, len(m.parcels))
	for _, p := range m.parcels {
		out = append(out, p)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].LocalID < out[j].LocalID })
	return out
}

// Count returns the number of parcels.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.parcels)
}

// index регистрирует участок во всех ячейках, которые пересекает его прямоугольник.
// Caller holds m.mu.
func (m *Manager) index(p *model.Parcel) {
	forEachCell(p, func(key cellKey) {
		m.grid[key] = append(m.grid[key], p)
	})
}

// unindex removes p from every cell it occupies. Caller holds m.mu.
func (m *Manager) unindex(p *model.Parcel) {
	forEachCell(p, func(key cellKey) {
		bucket := m.grid[key]
		for i, candidate := range bucket {
			if candidate == p {
				bucket = append(bucket[:i], bucket[i+1:]...)
				break
			}
		}
		if len(bucket) == 0 {
			delete(m.grid, key)
			return
		}
		m.grid[key] = bucket
	})
}

func forEachCell(p *model.Parcel, fn func(cellKey)) {
	minKey := keyFor(p.MinX, p.MinY)
	// MaxX/MaxY are exclusive: step back inside the rectangle.
	maxKey := keyFor(math.Nextafter(p.MaxX, p.MinX), math.Nextafter(p.MaxY, p.MinY))
	for cx := minKey.cx; cx <= maxKey.cx; cx++ {
		for cy := minKey.cy; cy <= maxKey.cy; cy++ {
			fn(cellKey{cx: cx, cy: cy})
		}
	}
}

func keyFor(x, y float64) cellKey {
	return cellKey{
		cx: int32(math.Floor(x / cellSize)),
		cy: int32(math.Floor(y / cellSize)),
	}
}
