package model

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// Presence is a connected avatar observing the region.
// Child agents live here only as neighbors of their home region; their
// position is expressed in the home region's local frame.
type Presence struct {
	id   uuid.UUID
	name string

	mu           sync.RWMutex
	position     mgl64.Vec3
	cameraPos    mgl64.Vec3
	cameraAt     mgl64.Vec3
	drawDistance float64
	childAgent   bool
	homeRegion   uint64 // region handle of the root agent's region
	sittingOn    *Entity
}

// NewPresence создаёт root agent в позиции pos. Камера совпадает с позицией и смотрит вдоль +X.
func NewPresence(id uuid.UUID, name string, pos mgl64.Vec3, drawDistance float64) *Presence {
	return &Presence{
		id:           id,
		name:         name,
		position:     pos,
		cameraPos:    pos,
		cameraAt:     mgl64.Vec3{1, 0, 0},
		drawDistance: drawDistance,
	}
}

func (p *Presence) ID() uuid.UUID {
	return p.id
}

func (p *Presence) Name() string {
	return p.name
}

// Position returns the absolute avatar position.
func (p *Presence) Position() mgl64.Vec3 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.position
}

func (p *Presence) SetPosition(pos mgl64.Vec3) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = pos
}

func (p *Presence) CameraPosition() mgl64.Vec3 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cameraPos
}

// CameraAtAxis returns the camera forward axis.
func (p *Presence) CameraAtAxis() mgl64.Vec3 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cameraAt
}

// SetCamera sets the camera position and forward axis.
func (p *Presence) SetCamera(pos, at mgl64.Vec3) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cameraPos = pos
	p.cameraAt = at
}

func (p *Presence) DrawDistance() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.drawDistance
}

func (p *Presence) SetDrawDistance(d float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drawDistance = d
}

func (p *Presence) IsChildAgent() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.childAgent
}

// HomeRegion returns the region handle the root agent lives in (child agents only).
func (p *Presence) HomeRegion() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.homeRegion
}

// MakeChildAgent turns the presence into a child agent of homeRegion.
func (p *Presence) MakeChildAgent(homeRegion uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.childAgent = true
	p.homeRegion = homeRegion
	p.sittingOn = nil
}

// MakeRootAgent turns the presence back into a root agent of this region.
func (p *Presence) MakeRootAgent() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.childAgent = false
	p.homeRegion = 0
}

// SittingOn returns the part the avatar is seated on, nil when standing.
func (p *Presence) SittingOn() *Entity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sittingOn
}

// SitOn seats the avatar on part; nil stands up.
func (p *Presence) SitOn(part *Entity) {
	p.mu.Lock()
	prev := p.sittingOn
	p.sittingOn = part
	p.mu.Unlock()

	if prev != nil {
		prev.RootPart().AddSitter(-1)
	}
	if part != nil {
		part.RootPart().AddSitter(1)
	}
}
