package world

import (
	"sync"

	"github.com/udisondev/gridsim/internal/model"
)

// RegionInfo describes a region known to the grid.
type RegionInfo struct {
	Handle    uint64
	Name      string
	LocationX uint32 // grid coordinates (in regions)
	LocationY uint32
	SizeX     uint32 // meters
	SizeY     uint32
}

// GridService is the region registry used to resolve neighbor offsets.
type GridService struct {
	mu      sync.RWMutex
	regions map[uint64]RegionInfo
}

// NewGridService creates an empty grid registry.
func NewGridService() *GridService {
	return &GridService{
		regions: make(map[uint64]RegionInfo),
	}
}

// Register adds or replaces a region. A zero handle is derived from the location.
func (g *GridService) Register(info RegionInfo) RegionInfo {
	if info.Handle == 0 {
		info.Handle = model.RegionHandle(info.LocationX, info.LocationY)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.regions[info.Handle] = info
	return info
}

// Deregister removes a region from the grid.
func (g *GridService) Deregister(handle uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.regions, handle)
}

// Region returns the region registered under handle.
func (g *GridService) Region(handle uint64) (RegionInfo, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	info, ok := g.regions[handle]
	return info, ok
}

// RegionLocation returns the grid coordinates of the region under handle.
func (g *GridService) RegionLocation(handle uint64) (x, y uint32, ok bool) {
	info, ok := g.Region(handle)
	if !ok {
		return 0, 0, false
	}
	return info.LocationX, info.LocationY, true
}

// RegionCount returns the number of registered regions.
func (g *GridService) RegionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.regions)
}
