package interest

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/udisondev/gridsim/internal/model"
)

var ErrNonFinite = errors.New("non-finite input")

// Strategy scores one observer/entity pair. Lower scores are sent first.
type Strategy interface {
	Scheme() Scheme
	Score(o *model.Presence, e *model.Entity) (float64, error)
}

// NewStrategy returns the strategy for scheme. clock feeds the Time strategy.
func NewStrategy(scheme Scheme, clock func() time.Time) (Strategy, error) {
	switch scheme {
	case SchemeTime:
		if clock == nil {
			clock = time.Now
		}
		return timeStrategy{clock: clock}, nil
	case SchemeDistance, SchemeSimpleAngularDistance:
		return distanceStrategy{scheme: scheme}, nil
	case SchemeFrontBack:
		return frontBackStrategy{}, nil
	case SchemeBestAvatarResponsiveness:
		return bestAvatarStrategy{}, nil
	case SchemeOOB:
		return oobStrategy{}, nil
	default:
		return nil, fmt.Errorf("creating strategy %q: %w", scheme, ErrUnknownScheme)
	}
}

// timeStrategy ranks by wall clock, i.e. first come first served.
type timeStrategy struct {
	clock func() time.Time
}

func (timeStrategy) Scheme() Scheme { return SchemeTime }

func (s timeStrategy) Score(_ *model.Presence, _ *model.Entity) (float64, error) {
	return float64(s.clock().UnixNano()) / float64(time.Second), nil
}

// distanceStrategy ranks by squared distance from the viewpoint to the object.
type distanceStrategy struct {
	scheme Scheme
}

func (s distanceStrategy) Scheme() Scheme { return s.scheme }

func (distanceStrategy) Score(o *model.Presence, e *model.Entity) (float64, error) {
	from := viewpoint(o)
	to := e.GroupPosition()
	if err := checkFinite(from, to); err != nil {
		return 0, err
	}
	return model.DistanceSquared(from, to), nil
}

// frontBackStrategy is distance, doubled for objects behind the camera plane.
type frontBackStrategy struct{}

func (frontBackStrategy) Scheme() Scheme { return SchemeFrontBack }

func (frontBackStrategy) Score(o *model.Presence, e *model.Entity) (float64, error) {
	to := e.GroupPosition()

	if o.IsChildAgent() {
		from := o.Position()
		if err := checkFinite(from, to); err != nil {
			return 0, err
		}
		return model.DistanceSquared(from, to), nil
	}

	cam := o.CameraPosition()
	at := o.CameraAtAxis()
	if err := checkFinite(cam, at, to); err != nil {
		return 0, err
	}

	priority := model.DistanceSquared(cam, to)
	if at.Len() > 0 {
		at = at.Normalize()
		// plane through the camera with normal at: a·x + d = 0
		d := -cam.Dot(at)
		if at.Dot(to)+d < 0 {
			priority *= 2
		}
	}
	return priority, nil
}

// bestAvatarStrategy balances camera and avatar distance, favors the seat the
// avatar is on and attachments, and does not starve large objects.
type bestAvatarStrategy struct{}

func (bestAvatarStrategy) Scheme() Scheme { return SchemeBestAvatarResponsiveness }

func (bestAvatarStrategy) Score(o *model.Presence, e *model.Entity) (float64, error) {
	root := e.RootPart()
	to := root.Position()
	pos := o.Position()
	cam := pos
	if !o.IsChildAgent() {
		cam = o.CameraPosition()
	}
	if err := checkFinite(pos, cam, to, root.Scale()); err != nil {
		return 0, err
	}

	posDistSq := model.DistanceSquared(pos, to)
	priority := model.DistanceSquared(cam, to) + posDistSq

	if math.Sqrt(posDistSq) > o.DrawDistance()/2 {
		priority *= 2
	}

	if seat := o.SittingOn(); seat != nil && seat.RootPart() == root {
		if root.IsPhysical() {
			return 0, nil
		}
		return 1.2, nil
	}
	if root.IsPhysical() {
		priority /= 2
	}

	priority /= sizeDivisor(root.Scale())

	if root.IsAttachment() {
		priority = 0.5
	}
	return priority, nil
}

// sizeDivisor grows with object size past 20m and again past 40m, capped at 200m.
func sizeDivisor(scale mgl64.Vec3) float64 {
	size := math.Min(scale.Len(), 200)
	switch {
	case size <= 20:
		return 1
	case size <= 40:
		return size / 20
	default:
		return 2 + (size-40)/40
	}
}

// oobStrategy ranks by squared distance to the surface of the object's bounds.
type oobStrategy struct{}

func (oobStrategy) Scheme() Scheme { return SchemeOOB }

func (oobStrategy) Score(o *model.Presence, e *model.Entity) (float64, error) {
	root := e.RootPart()
	pos := o.Position()
	center := root.Position().Add(root.Rotation().Rotate(root.OOBOffset()))
	if err := checkFinite(pos, center); err != nil {
		return 0, err
	}
	radiusSq := root.BoundingRadiusSq()
	if math.IsNaN(radiusSq) || math.IsInf(radiusSq, 0) {
		return 0, fmt.Errorf("bounding radius of %s: %w", root.ID(), ErrNonFinite)
	}
	return math.Max(0, model.DistanceSquared(pos, center)-radiusSq), nil
}

// viewpoint is the camera of a root agent or the position of a child agent.
func viewpoint(o *model.Presence) mgl64.Vec3 {
	if o.IsChildAgent() {
		return o.Position()
	}
	return o.CameraPosition()
}

func checkFinite(vs ...mgl64.Vec3) error {
	for _, v := range vs {
		if !model.IsFinite(v) {
			return fmt.Errorf("vector %v: %w", v, ErrNonFinite)
		}
	}
	return nil
}
