package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/gridsim/internal/model"
)

// ParcelRepository stores the region's land parcels.
type ParcelRepository struct {
	pool *pgxpool.Pool
}

func NewParcelRepository(pool *pgxpool.Pool) *ParcelRepository {
	return &ParcelRepository{pool: pool}
}

const parcelColumns = `id, local_id, name, owner_id, group_id, group_owned, min_x, min_y, max_x, max_y`

// LoadAll returns every parcel ordered by local ID.
func (r *ParcelRepository) LoadAll(ctx context.Context) ([]model.Parcel, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+parcelColumns+` FROM parcels ORDER BY local_id`)
	if err != nil {
		return nil, fmt.Errorf("querying parcels: %w", err)
	}
	defer rows.Close()

	var parcels []model.Parcel
	for rows.Next() {
		var p model.Parcel
		if err := rows.Scan(&p.GlobalID, &p.LocalID, &p.Name, &p.OwnerID, &p.GroupID, &p.GroupOwned,
			&p.MinX, &p.MinY, &p.MaxX, &p.MaxY); err != nil {
			return nil, fmt.Errorf("scanning parcel: %w", err)
		}
		parcels = append(parcels, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating parcels: %w", err)
	}
	return parcels, nil
}

// Save inserts or updates a parcel.
func (r *ParcelRepository) Save(ctx context.Context, p *model.Parcel) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO parcels (`+parcelColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		     local_id = EXCLUDED.local_id,
		     name = EXCLUDED.name,
		     owner_id = EXCLUDED.owner_id,
		     group_id = EXCLUDED.group_id,
		     group_owned = EXCLUDED.group_owned,
		     min_x = EXCLUDED.min_x,
		     min_y = EXCLUDED.min_y,
		     max_x = EXCLUDED.max_x,
		     max_y = EXCLUDED.max_y`,
		p.GlobalID, p.LocalID, p.Name, p.OwnerID, p.GroupID, p.GroupOwned,
		p.MinX, p.MinY, p.MaxX, p.MaxY,
	)
	if err != nil {
		return fmt.Errorf("saving parcel %s: %w", p.GlobalID, err)
	}
	return nil
}

// Delete removes a parcel.
func (r *ParcelRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM parcels WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting parcel %s: %w", id, err)
	}
	return nil
}
