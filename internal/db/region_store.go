package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/udisondev/gridsim/internal/event"
	"github.com/udisondev/gridsim/internal/model"
)

const (
	defaultFlushInterval = 5 * time.Second
	finalFlushTimeout    = 30 * time.Second
)

type parcelWriter interface {
	Save(ctx context.Context, p *model.Parcel) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type objectWriter interface {
	Save(ctx context.Context, root *model.Entity) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ObjectSource enumerates live scene objects for the shutdown snapshot.
type ObjectSource interface {
	ForEachObject(fn func(*model.Entity) bool)
}

// RegionStore writes land and scene changes back to the database.
// Bus handlers only mark entries dirty; Flush does the I/O.
type RegionStore struct {
	parcels parcelWriter
	objects objectWriter
	scene   ObjectSource

	mu             sync.Mutex
	dirtyParcels   map[uuid.UUID]*model.Parcel
	removedParcels map[uuid.UUID]struct{}
	dirtyObjects   map[uuid.UUID]*model.Entity
	removedObjects map[uuid.UUID]struct{}
}

// NewRegionStore создаёт write-behind хранилище региона.
func NewRegionStore(parcels *ParcelRepository, objects *ObjectRepository, scene ObjectSource) *RegionStore {
	return newRegionStore(parcels, objects, scene)
}

func newRegionStore(parcels parcelWriter, objects objectWriter, scene ObjectSource) *RegionStore {
	return &RegionStore{
		parcels:        parcels,
		objects:        objects,
		scene:          scene,
		dirtyParcels:   make(map[uuid.UUID]*model.Parcel),
		removedParcels: make(map[uuid.UUID]struct{}),
		dirtyObjects:   make(map[uuid.UUID]*model.Entity),
		removedObjects: make(map[uuid.UUID]struct{}),
	}
}

// Wire subscribes the store to land and scene notifications.
// Subscribe after the initial load so loaded state is not written back.
func (s *RegionStore) Wire(bus *event.Bus) {
	bus.OnLandAdded(s.markParcel)
	bus.OnLandOwnerChanged(s.markParcel)
	bus.OnLandRemoved(func(p *model.Parcel) { s.removeParcel(p.GlobalID) })

	bus.OnObjectAdded(s.markObject)
	bus.OnOwnershipChanged(s.markObject)
	bus.OnParcelCrossed(func(obj *model.Entity, _, _ *model.Parcel) { s.markObject(obj) })
	bus.OnObjectRemoved(func(obj *model.Entity) { s.removeObject(obj.RootPart().ID()) })
}

func (s *RegionStore) markParcel(p *model.Parcel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.removedParcels, p.GlobalID)
	s.dirtyParcels[p.GlobalID] = p
}

func (s *RegionStore) removeParcel(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dirtyParcels, id)
	s.removedParcels[id] = struct{}{}
}

func (s *RegionStore) markObject(obj *model.Entity) {
	if obj.IsAvatar() || obj.IsTemporary() {
		return
	}
	root := obj.RootPart()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.removedObjects, root.ID())
	s.dirtyObjects[root.ID()] = root
}

func (s *RegionStore) removeObject(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dirtyObjects, id)
	s.removedObjects[id] = struct{}{}
}

// Pending returns the number of queued writes.
func (s *RegionStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirtyParcels) + len(s.removedParcels) + len(s.dirtyObjects) + len(s.removedObjects)
}

// Flush writes every queued change. Failed writes stay queued for the next flush.
func (s *RegionStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	dirtyParcels, removedParcels := s.dirtyParcels, s.removedParcels
	dirtyObjects, removedObjects := s.dirtyObjects, s.removedObjects
	s.dirtyParcels = make(map[uuid.UUID]*model.Parcel)
	s.removedParcels = make(map[uuid.UUID]struct{})
	s.dirtyObjects = make(map[uuid.UUID]*model.Entity)
	s.removedObjects = make(map[uuid.UUID]struct{})
	s.mu.Unlock()

	var errs []error

	for id, p := range dirtyParcels {
		if err := s.parcels.Save(ctx, p); err != nil {
			errs = append(errs, err)
			s.requeue(func() {
				_, removed := s.removedParcels[id]
				if _, ok := s.dirtyParcels[id]; !ok && !removed {
					s.dirtyParcels[id] = p
				}
			})
		}
	}
	for id, root := range dirtyObjects {
		if err := s.objects.Save(ctx, root); err != nil {
			errs = append(errs, err)
			s.requeue(func() {
				_, removed := s.removedObjects[id]
				if _, ok := s.dirtyObjects[id]; !ok && !removed {
					s.dirtyObjects[id] = root
				}
			})
		}
	}
	for id := range removedObjects {
		if err := s.objects.Delete(ctx, id); err != nil {
			errs = append(errs, err)
			s.requeue(func() {
				if _, readded := s.dirtyObjects[id]; !readded {
					s.removedObjects[id] = struct{}{}
				}
			})
		}
	}
	for id := range removedParcels {
		if err := s.parcels.Delete(ctx, id); err != nil {
			errs = append(errs, err)
			s.requeue(func() {
				if _, readded := s.dirtyParcels[id]; !readded {
					s.removedParcels[id] = struct{}{}
				}
			})
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("flushing region store: %w", errors.Join(errs...))
	}
	if n := len(dirtyParcels) + len(removedParcels) + len(dirtyObjects) + len(removedObjects); n > 0 {
		slog.Debug("region store flushed", "writes", n)
	}
	return nil
}

func (s *RegionStore) requeue(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// Run flushes on every tick until ctx is cancelled. On shutdown every live
// object is queued, so moves that crossed no parcel are saved too.
func (s *RegionStore) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.scene != nil {
				s.scene.ForEachObject(func(obj *model.Entity) bool {
					s.markObject(obj)
					return true
				})
			}
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
			defer cancel()
			if err := s.Flush(flushCtx); err != nil {
				slog.Error("final region store flush", "pending", s.Pending(), "err", err)
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.Flush(ctx); err != nil && ctx.Err() == nil {
				slog.Error("region store flush", "pending", s.Pending(), "err", err)
			}
		}
	}
}
