package model

import "github.com/google/uuid"

// Parcel: участок земли региона. Прямоугольник [MinX, MaxX) × [MinY, MaxY).
// Value type: land.Manager заменяет копию целиком при смене владельца.
type Parcel struct {
	GlobalID   uuid.UUID
	LocalID    int32
	Name       string
	OwnerID    uuid.UUID
	GroupID    uuid.UUID
	GroupOwned bool

	MinX, MinY float64
	MaxX, MaxY float64
}

// Contains reports whether point (x, y) lies inside the parcel bounds.
func (p *Parcel) Contains(x, y float64) bool {
	return x >= p.MinX && x < p.MaxX && y >= p.MinY && y < p.MaxY
}

// Area returns the parcel area in square meters.
func (p *Parcel) Area() float64 {
	w := p.MaxX - p.MinX
	h := p.MaxY - p.MinY
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}
