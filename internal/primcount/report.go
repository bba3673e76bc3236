package primcount

import (
	"time"

	"github.com/google/uuid"

	"github.com/udisondev/gridsim/internal/model"
)

// ParcelReport is one parcel's counts at report time.
type ParcelReport struct {
	ParcelID  uuid.UUID         `json:"parcel_id"`
	LocalID   int32             `json:"local_id"`
	Name      string            `json:"name"`
	OwnerID   uuid.UUID         `json:"owner_id"`
	Owner     int               `json:"owner"`
	Group     int               `json:"group"`
	Others    int               `json:"others"`
	Selected  int               `json:"selected"`
	Temporary int               `json:"temporary"`
	Total     int               `json:"total"`
	Simulator int               `json:"simulator"`
	Users     map[uuid.UUID]int `json:"users,omitempty"`
}

// Report is a consistent snapshot of every parcel's counts.
type Report struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Parcels     []ParcelReport `json:"parcels"`
}

// Report takes a snapshot of all parcels and refreshes the per-parcel gauges.
func (m *Module) Report() Report {
	rep := m.Snapshot()

	m.gaugeMu.Lock()
	defer m.gaugeMu.Unlock()
	m.metrics.ResetParcelPrims()
	for _, pr := range rep.Parcels {
		m.metrics.SetParcelPrims(pr.ParcelID.String(), pr.Owner, pr.Group, pr.Others, pr.Selected)
	}
	return rep
}

// Snapshot takes a snapshot of all parcels under one lock, rebuilding first if
// tainted. Gauges are left untouched.
func (m *Module) Snapshot() Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureFresh()

	parcels := m.land.AllParcels()
	rep := Report{
		GeneratedAt: time.Now().UTC(),
		Parcels:     make([]ParcelReport, 0, len(parcels)),
	}
	for _, p := range parcels {
		rep.Parcels = append(rep.Parcels, m.parcelReport(p))
	}
	return rep
}

// ParcelReport returns the counts of one parcel, or false when the parcel is unknown.
func (m *Module) ParcelReport(parcelID uuid.UUID) (ParcelReport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureFresh()

	for _, p := range m.land.AllParcels() {
		if p.GlobalID == parcelID {
			return m.parcelReport(p), true
		}
	}
	return ParcelReport{}, false
}

// parcelReport builds one parcel's entry. Caller holds m.mu.
func (m *Module) parcelReport(p *model.Parcel) ParcelReport {
	pr := ParcelReport{
		ParcelID: p.GlobalID,
		LocalID:  p.LocalID,
		Name:     p.Name,
		OwnerID:  p.OwnerID,
	}
	// Parcels added after the last recount have no entry yet; they report zeros.
	if pc, ok := m.parcels[p.GlobalID]; ok {
		pr.Owner = pc.owner
		pr.Group = pc.group
		pr.Others = pc.others
		pr.Selected = pc.selected
		pr.Temporary = pc.temporary
		pr.Total = pc.owner + pc.group + pc.others
		if len(pc.users) > 0 {
			pr.Users = make(map[uuid.UUID]int, len(pc.users))
			for u, n := range pc.users {
				pr.Users[u] = n
			}
		}
	}
	pr.Simulator = m.simwide[p.OwnerID]
	return pr
}
