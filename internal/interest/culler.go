package interest

import (
	"math"
	"strconv"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/sync/singleflight"

	"github.com/udisondev/gridsim/internal/config"
	"github.com/udisondev/gridsim/internal/model"
	"github.com/udisondev/gridsim/internal/world"
)

// MinDrawDistance is the floor applied to observer draw distance when culling.
const MinDrawDistance = 32.0

// GridLookup resolves a region handle to grid coordinates. Implemented by world.GridService.
type GridLookup interface {
	RegionLocation(handle uint64) (x, y uint32, ok bool)
}

// Culler decides whether an entity is worth considering for an observer.
// Safe for concurrent use.
type Culler struct {
	useCulling  bool
	useDistance bool

	region world.RegionInfo
	extent float64
	grid   GridLookup

	mu      sync.Mutex
	offsets map[uint64]mgl64.Vec3 // home region handle → child agent position correction
	lookups singleflight.Group
}

// NewCuller creates a culler for region. grid may be nil, in which case child
// agents are never corrected.
func NewCuller(cfg config.Interest, region world.RegionInfo, grid GridLookup) *Culler {
	return &Culler{
		useCulling:  cfg.UseCulling,
		useDistance: cfg.UseDistanceBasedCulling,
		region:      region,
		extent:      math.Max(float64(region.SizeX), float64(region.SizeY)),
		grid:        grid,
		offsets:     make(map[uint64]mgl64.Vec3),
	}
}

// ShouldShow reports whether e should be considered for o at all.
func (c *Culler) ShouldShow(o *model.Presence, e *model.Entity) bool {
	if !c.useCulling || !c.useDistance {
		return true
	}
	if o == nil || e == nil {
		return false
	}

	drawDistance := math.Max(o.DrawDistance(), MinDrawDistance)
	if drawDistance > c.extent {
		return true
	}

	pos := o.Position()
	if o.IsChildAgent() {
		pos = pos.Add(c.childOffset(o.HomeRegion()))
	}
	return model.DistanceSquared(pos, e.GroupPosition()) <= drawDistance*drawDistance
}

// Reset drops cached child agent offsets.
func (c *Culler) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.offsets)
}

// childOffset translates a position in the home region's frame into this
// region's frame. Unresolvable regions yield no correction and are retried later.
func (c *Culler) childOffset(home uint64) mgl64.Vec3 {
	c.mu.Lock()
	off, ok := c.offsets[home]
	c.mu.Unlock()
	if ok {
		return off
	}
	if c.grid == nil {
		return mgl64.Vec3{}
	}

	v, _, _ := c.lookups.Do(strconv.FormatUint(home, 10), func() (any, error) {
		hx, hy, ok := c.grid.RegionLocation(home)
		if !ok {
			return mgl64.Vec3{}, nil
		}
		off := mgl64.Vec3{
			(float64(hx) - float64(c.region.LocationX)) * model.RegionUnit,
			(float64(hy) - float64(c.region.LocationY)) * model.RegionUnit,
			0,
		}

		c.mu.Lock()
		c.offsets[home] = off
		c.mu.Unlock()
		return off, nil
	})
	return v.(mgl64.Vec3)
}
