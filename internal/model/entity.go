package model

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// DefaultScale: размер нового примитива (0.5м куб).
var DefaultScale = mgl64.Vec3{0.5, 0.5, 0.5}

// Entity: базовый объект сцены: примитив (часть linkset) или аватар.
// Linkset: у корня есть children, у дочернего элемента есть parent.
// Одиночный примитив не входит ни в какой linkset.
type Entity struct {
	id      uuid.UUID
	localID uint32
	avatar  bool

	mu        sync.RWMutex
	name      string
	parent    *Entity
	children  []*Entity
	position  mgl64.Vec3
	rotation  mgl64.Quat
	scale     mgl64.Vec3
	oobOffset mgl64.Vec3
	radiusSq  float64 // bounding sphere radius², whole linkset for roots

	ownerID uuid.UUID
	groupID uuid.UUID

	attachment bool
	temporary  bool // temporary-on-rez
	physical   bool
	selected   bool
	sitters    int
}

// NewEntity создаёт примитив в позиции pos с единичным поворотом.
func NewEntity(id uuid.UUID, localID uint32, name string, pos mgl64.Vec3) *Entity {
	return &Entity{
		id:       id,
		localID:  localID,
		name:     name,
		position: pos,
		rotation: mgl64.QuatIdent(),
		scale:    DefaultScale,
		radiusSq: DefaultScale.Dot(DefaultScale) / 4,
	}
}

// NewAvatarEntity создаёт сущность аватара (участвует в приоритизации, но не в учёте примитивов).
func NewAvatarEntity(id uuid.UUID, localID uint32, name string, pos mgl64.Vec3) *Entity {
	e := NewEntity(id, localID, name, pos)
	e.avatar = true
	return e
}

// ID возвращает глобальный идентификатор (immutable).
func (e *Entity) ID() uuid.UUID {
	return e.id
}

// LocalID возвращает региональный идентификатор (immutable).
func (e *Entity) LocalID() uint32 {
	return e.localID
}

// IsAvatar reports whether the entity is an avatar rather than a prim.
func (e *Entity) IsAvatar() bool {
	return e.avatar
}

func (e *Entity) Name() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.name
}

// Link attaches child to e, making e the root of a linkset.
// Child position stays absolute.
func (e *Entity) Link(child *Entity) {
	if child == nil || child == e {
		return
	}
	e.mu.Lock()
	e.children = append(e.children, child)
	e.mu.Unlock()

	child.mu.Lock()
	child.parent = e
	child.mu.Unlock()
}

// Parent returns the linkset root for a child part, nil otherwise.
func (e *Entity) Parent() *Entity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.parent
}

// Children returns a copy of the linkset children (roots only).
func (e *Entity) Children() []*Entity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Entity, len(e.children))
	copy(out, e.children)
	return out
}

// IsRoot reports whether e is the root of a linkset with at least one child.
func (e *Entity) IsRoot() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.parent == nil && len(e.children) > 0
}

// InLinkset reports whether e is a root or a child of a composite object.
func (e *Entity) InLinkset() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.parent != nil || len(e.children) > 0
}

// RootPart returns the linkset root, or e itself for roots and single prims.
func (e *Entity) RootPart() *Entity {
	if p := e.Parent(); p != nil {
		return p
	}
	return e
}

// PrimCount returns the number of prims in the object e is the root of.
func (e *Entity) PrimCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return 1 + len(e.children)
}

func (e *Entity) Position() mgl64.Vec3 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.position
}

// GroupPosition returns the position of the linkset root.
func (e *Entity) GroupPosition() mgl64.Vec3 {
	return e.RootPart().Position()
}

// SetPosition moves the part. Moving a root moves its children by the same delta.
func (e *Entity) SetPosition(pos mgl64.Vec3) {
	e.mu.Lock()
	delta := pos.Sub(e.position)
	e.position = pos
	children := make([]*Entity, len(e.children))
	copy(children, e.children)
	e.mu.Unlock()

	for _, c := range children {
		c.mu.Lock()
		c.position = c.position.Add(delta)
		c.mu.Unlock()
	}
}

func (e *Entity) Rotation() mgl64.Quat {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rotation
}

func (e *Entity) SetRotation(rot mgl64.Quat) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rotation = rot
}

func (e *Entity) Scale() mgl64.Vec3 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.scale
}

func (e *Entity) SetScale(scale mgl64.Vec3) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scale = scale
}

// OOBOffset returns the oriented bounding box center relative to the position, in local frame.
func (e *Entity) OOBOffset() mgl64.Vec3 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.oobOffset
}

// BoundingRadiusSq returns the bounding sphere radius squared.
func (e *Entity) BoundingRadiusSq() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.radiusSq
}

// SetBounds sets the oriented bounding box offset and bounding sphere radius².
func (e *Entity) SetBounds(oobOffset mgl64.Vec3, radiusSq float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.oobOffset = oobOffset
	e.radiusSq = radiusSq
}

func (e *Entity) OwnerID() uuid.UUID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ownerID
}

func (e *Entity) GroupID() uuid.UUID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.groupID
}

// SetOwnership sets owner and group on e and every child part.
func (e *Entity) SetOwnership(ownerID, groupID uuid.UUID) {
	e.mu.Lock()
	e.ownerID = ownerID
	e.groupID = groupID
	children := make([]*Entity, len(e.children))
	copy(children, e.children)
	e.mu.Unlock()

	for _, c := range children {
		c.mu.Lock()
		c.ownerID = ownerID
		c.groupID = groupID
		c.mu.Unlock()
	}
}

func (e *Entity) IsAttachment() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.attachment
}

func (e *Entity) SetAttachment(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attachment = v
}

// IsTemporary reports the temporary-on-rez flag.
func (e *Entity) IsTemporary() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.temporary
}

func (e *Entity) SetTemporary(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.temporary = v
}

// IsPhysical reports whether the part is physically simulated.
func (e *Entity) IsPhysical() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.physical
}

func (e *Entity) SetPhysical(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.physical = v
}

func (e *Entity) IsSelected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.selected
}

func (e *Entity) SetSelected(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.selected = v
}

// SittingAvatars returns the number of avatars seated on the part.
func (e *Entity) SittingAvatars() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sitters
}

// AddSitter adjusts the seated avatar count by delta (never below zero).
func (e *Entity) AddSitter(delta int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sitters += delta
	if e.sitters < 0 {
		e.sitters = 0
	}
}
