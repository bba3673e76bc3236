package primcount

import (
	"github.com/google/uuid"

	"github.com/udisondev/gridsim/internal/model"
)

// Category is an object's relationship to the owner of the parcel it stands on.
type Category int

const (
	CategoryOwner Category = iota
	CategoryGroup
	CategoryOthers
)

func (c Category) String() string {
	switch c {
	case CategoryOwner:
		return "owner"
	case CategoryGroup:
		return "group"
	default:
		return "others"
	}
}

// Classify places an object owned by ownerID with group groupID into exactly
// one category for parcel p.
//
// Group-owned parcels compare the object owner against the parcel group;
// individually owned parcels compare it against the parcel owner. Either way
// a matching object group (with a non-zero parcel group) falls back to Group.
func Classify(p *model.Parcel, ownerID, groupID uuid.UUID) Category {
	landOwner := p.OwnerID
	if p.GroupOwned {
		landOwner = p.GroupID
	}
	switch {
	case ownerID == landOwner:
		return CategoryOwner
	case p.GroupID != uuid.Nil && groupID == p.GroupID:
		return CategoryGroup
	default:
		return CategoryOthers
	}
}
