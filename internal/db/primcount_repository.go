package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/gridsim/internal/primcount"
)

// PrimCountRepository keeps the history of parcel prim-count reports.
type PrimCountRepository struct {
	pool *pgxpool.Pool
}

func NewPrimCountRepository(pool *pgxpool.Pool) *PrimCountRepository {
	return &PrimCountRepository{pool: pool}
}

// PrimCountRow is one stored parcel snapshot.
type PrimCountRow struct {
	ParcelID   uuid.UUID `json:"parcel_id"`
	RecordedAt time.Time `json:"recorded_at"`
	Owner      int32     `json:"owner"`
	Group      int32     `json:"group"`
	Others     int32     `json:"others"`
	Selected   int32     `json:"selected"`
	Temporary  int32     `json:"temporary"`
	Total      int32     `json:"total"`
	Simulator  int32     `json:"simulator"`
}

// SaveReport appends one row per parcel of rep.
func (r *PrimCountRepository) SaveReport(ctx context.Context, rep primcount.Report) error {
	if len(rep.Parcels) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(rep.Parcels))
	for _, p := range rep.Parcels {
		rows = append(rows, []any{
			p.ParcelID, rep.GeneratedAt,
			int32(p.Owner), int32(p.Group), int32(p.Others), int32(p.Selected),
			int32(p.Temporary), int32(p.Total), int32(p.Simulator),
		})
	}

	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"parcel_prim_counts"},
		[]string{"parcel_id", "recorded_at", "owner_count", "group_count", "others_count",
			"selected_count", "temporary_count", "total_count", "simulator_count"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("saving prim count report: %w", err)
	}
	return nil
}

// History returns up to limit snapshots of a parcel, newest first.
func (r *PrimCountRepository) History(ctx context.Context, parcelID uuid.UUID, limit int) ([]PrimCountRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT parcel_id, recorded_at, owner_count, group_count, others_count,
		        selected_count, temporary_count, total_count, simulator_count
		 FROM parcel_prim_counts
		 WHERE parcel_id = $1
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT $2`, parcelID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying prim count history of %s: %w", parcelID, err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (PrimCountRow, error) {
		var r PrimCountRow
		err := row.Scan(&r.ParcelID, &r.RecordedAt, &r.Owner, &r.Group, &r.Others,
			&r.Selected, &r.Temporary, &r.Total, &r.Simulator)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning prim count history of %s: %w", parcelID, err)
	}
	return out, nil
}
