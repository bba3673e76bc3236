package primcount

import (
	"github.com/google/uuid"

	"github.com/udisondev/gridsim/internal/model"
)

// Counts: стабильный хэндл учёта одного участка.
// Каждый вызов перечитывает кэш (с ленивой перестройкой), поэтому хэндл
// можно держать сколько угодно долго. Если участок удалён, все счётчики равны нулю.
type Counts struct {
	m        *Module
	parcelID uuid.UUID
}

func (c *Counts) ParcelID() uuid.UUID {
	return c.parcelID
}

func (c *Counts) Owner() int {
	return c.m.OwnerCount(c.parcelID)
}

func (c *Counts) Group() int {
	return c.m.GroupCount(c.parcelID)
}

func (c *Counts) Others() int {
	return c.m.OthersCount(c.parcelID)
}

func (c *Counts) Selected() int {
	return c.m.SelectedCount(c.parcelID)
}

func (c *Counts) Temporary() int {
	return c.m.TemporaryCount(c.parcelID)
}

// Total returns Owner + Group + Others.
func (c *Counts) Total() int {
	return c.m.TotalCount(c.parcelID)
}

// Simulator returns the region-wide prim count of the parcel owner.
func (c *Counts) Simulator() int {
	return c.m.SimulatorCountForParcel(c.parcelID)
}

// User returns prims owned by userID on this parcel.
func (c *Counts) User(userID uuid.UUID) int {
	return c.m.UserCount(c.parcelID, userID)
}

// Users returns a copy of the per-owner counts.
func (c *Counts) Users() map[uuid.UUID]int {
	return c.m.AllUserCounts(c.parcelID)
}

// Objects returns the counted objects ordered by local ID.
func (c *Counts) Objects() []*model.Entity {
	return c.m.ParcelObjects(c.parcelID)
}
