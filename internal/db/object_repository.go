package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/gridsim/internal/model"
)

// ObjectRepository stores scene objects. Each linkset is a root row plus one
// row per child referencing it through parent_id.
type ObjectRepository struct {
	pool *pgxpool.Pool
}

func NewObjectRepository(pool *pgxpool.Pool) *ObjectRepository {
	return &ObjectRepository{pool: pool}
}

// objectRow is one stored prim.
type objectRow struct {
	id       uuid.UUID
	localID  int64
	parentID uuid.NullUUID
	name     string
	pos      mgl64.Vec3
	rot      mgl64.Quat
	scale    mgl64.Vec3
	oob      mgl64.Vec3
	radiusSq float64
	ownerID  uuid.UUID
	groupID  uuid.UUID

	attachment bool
	temporary  bool
	physical   bool
}

func (r objectRow) entity() *model.Entity {
	e := model.NewEntity(r.id, uint32(r.localID), r.name, r.pos)
	e.SetRotation(r.rot)
	e.SetScale(r.scale)
	e.SetBounds(r.oob, r.radiusSq)
	e.SetOwnership(r.ownerID, r.groupID)
	e.SetAttachment(r.attachment)
	e.SetTemporary(r.temporary)
	e.SetPhysical(r.physical)
	return e
}

// LoadAll returns every stored scene object with its linkset rebuilt.
// Children whose root is missing are skipped.
func (r *ObjectRepository) LoadAll(ctx context.Context) ([]*model.Entity, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, local_id, parent_id, name,
		        pos_x, pos_y, pos_z, rot_w, rot_x, rot_y, rot_z,
		        scale_x, scale_y, scale_z, oob_x, oob_y, oob_z, radius_sq,
		        owner_id, group_id, attachment, temporary, physical
		 FROM scene_objects
		 ORDER BY parent_id NULLS FIRST, link_number, local_id`)
	if err != nil {
		return nil, fmt.Errorf("querying scene objects: %w", err)
	}
	defer rows.Close()

	var (
		roots  []*model.Entity
		byID   = make(map[uuid.UUID]*model.Entity)
		orphan int
	)
	for rows.Next() {
		var row objectRow
		if err := rows.Scan(&row.id, &row.localID, &row.parentID, &row.name,
			&row.pos[0], &row.pos[1], &row.pos[2],
			&row.rot.W, &row.rot.V[0], &row.rot.V[1], &row.rot.V[2],
			&row.scale[0], &row.scale[1], &row.scale[2],
			&row.oob[0], &row.oob[1], &row.oob[2], &row.radiusSq,
			&row.ownerID, &row.groupID, &row.attachment, &row.temporary, &row.physical,
		); err != nil {
			return nil, fmt.Errorf("scanning scene object: %w", err)
		}

		e := row.entity()
		if !row.parentID.Valid {
			roots = append(roots, e)
			byID[row.id] = e
			continue
		}
		root, ok := byID[row.parentID.UUID]
		if !ok {
			orphan++
			continue
		}
		root.Link(e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scene objects: %w", err)
	}

	if orphan > 0 {
		slog.Warn("skipped orphaned linkset children", "count", orphan)
	}
	return roots, nil
}

// Save replaces a stored linkset with the current state of root and its children.
func (r *ObjectRepository) Save(ctx context.Context, root *model.Entity) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction for object %s: %w", root.ID(), err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("rollback failed", "object", root.ID(), "error", err)
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM scene_objects WHERE id = $1`, root.ID()); err != nil {
		return fmt.Errorf("deleting object %s: %w", root.ID(), err)
	}

	batch := &pgx.Batch{}
	queueObject(batch, root, uuid.NullUUID{}, 0)
	for i, child := range root.Children() {
		queueObject(batch, child, uuid.NullUUID{UUID: root.ID(), Valid: true}, i+1)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting object %s: %w", root.ID(), err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction for object %s: %w", root.ID(), err)
	}
	return nil
}

// Delete removes a stored linkset.
func (r *ObjectRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM scene_objects WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting object %s: %w", id, err)
	}
	return nil
}

func queueObject(batch *pgx.Batch, e *model.Entity, parent uuid.NullUUID, link int) {
	pos, rot, scale, oob := e.Position(), e.Rotation(), e.Scale(), e.OOBOffset()
	batch.Queue(
		`INSERT INTO scene_objects (id, local_id, parent_id, link_number, name,
		     pos_x, pos_y, pos_z, rot_w, rot_x, rot_y, rot_z,
		     scale_x, scale_y, scale_z, oob_x, oob_y, oob_z, radius_sq,
		     owner_id, group_id, attachment, temporary, physical)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		     $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`,
		e.ID(), int64(e.LocalID()), parent, link, e.Name(),
		pos[0], pos[1], pos[2], rot.W, rot.V[0], rot.V[1], rot.V[2],
		scale[0], scale[1], scale[2], oob[0], oob[1], oob[2], e.BoundingRadiusSq(),
		e.OwnerID(), e.GroupID(), e.IsAttachment(), e.IsTemporary(), e.IsPhysical(),
	)
}
