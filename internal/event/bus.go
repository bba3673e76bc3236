// Package event delivers scene and land change notifications to subscribers.
package event

import (
	"sync"

	"github.com/udisondev/gridsim/internal/model"
)

// Handler types, one per notification.
type (
	EntityHandler        func(obj *model.Entity)
	ParcelHandler        func(p *model.Parcel)
	ParcelCrossedHandler func(obj *model.Entity, from, to *model.Parcel)
)

// Bus fans notifications out to subscribers synchronously, in subscription order.
// A nil *Bus drops every notification.
type Bus struct {
	mu sync.RWMutex

	objectAdded      []EntityHandler
	objectRemoved    []EntityHandler
	ownershipChanged []EntityHandler
	parcelCrossed    []ParcelCrossedHandler
	landAdded        []ParcelHandler
	landRemoved      []ParcelHandler
	landOwnerChanged []ParcelHandler
	primCountTainted []func()
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) OnObjectAdded(fn EntityHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objectAdded = append(b.objectAdded, fn)
}

func (b *Bus) OnObjectRemoved(fn EntityHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objectRemoved = append(b.objectRemoved, fn)
}

func (b *Bus) OnOwnershipChanged(fn EntityHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ownershipChanged = append(b.ownershipChanged, fn)
}

func (b *Bus) OnParcelCrossed(fn ParcelCrossedHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parcelCrossed = append(b.parcelCrossed, fn)
}

func (b *Bus) OnLandAdded(fn ParcelHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.landAdded = append(b.landAdded, fn)
}

func (b *Bus) OnLandRemoved(fn ParcelHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.landRemoved = append(b.landRemoved, fn)
}

func (b *Bus) OnLandOwnerChanged(fn ParcelHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.landOwnerChanged = append(b.landOwnerChanged, fn)
}

// OnPrimCountTainted subscribes to selection and seating changes that alter
// parcel counters without moving or re-owning an object.
func (b *Bus) OnPrimCountTainted(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.primCountTainted = append(b.primCountTainted, fn)
}

func (b *Bus) ObjectAdded(obj *model.Entity) {
	for _, fn := range snapshot(b, func(b *Bus) []EntityHandler { return b.objectAdded }) {
		fn(obj)
	}
}

func (b *Bus) ObjectRemoved(obj *model.Entity) {
	for _, fn := range snapshot(b, func(b *Bus) []EntityHandler { return b.objectRemoved }) {
		fn(obj)
	}
}

func (b *Bus) OwnershipChanged(obj *model.Entity) {
	for _, fn := range snapshot(b, func(b *Bus) []EntityHandler { return b.ownershipChanged }) {
		fn(obj)
	}
}

func (b *Bus) ParcelCrossed(obj *model.Entity, from, to *model.Parcel) {
	for _, fn := range snapshot(b, func(b *Bus) []ParcelCrossedHandler { return b.parcelCrossed }) {
		fn(obj, from, to)
	}
}

func (b *Bus) LandAdded(p *model.Parcel) {
	for _, fn := range snapshot(b, func(b *Bus) []ParcelHandler { return b.landAdded }) {
		fn(p)
	}
}

func (b *Bus) LandRemoved(p *model.Parcel) {
	for _, fn := range snapshot(b, func(b *Bus) []ParcelHandler { return b.landRemoved }) {
		fn(p)
	}
}

func (b *Bus) LandOwnerChanged(p *model.Parcel) {
	for _, fn := range snapshot(b, func(b *Bus) []ParcelHandler { return b.landOwnerChanged }) {
		fn(p)
	}
}

func (b *Bus) PrimCountTainted() {
	for _, fn := range snapshot(b, func(b *Bus) []func() { return b.primCountTainted }) {
		fn()
	}
}

// snapshot copies a handler list under the read lock so handlers run unlocked
// and may subscribe further handlers.
func snapshot[H any](b *Bus, pick func(*Bus) []H) []H {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	src := pick(b)
	out := make([]H, len(src))
	copy(out, src)
	return out
}
