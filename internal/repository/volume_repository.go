package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jbweber/hearth/api/v1alpha1"
)

const volumeColumns = `id, account_id, vm_id, image_id, format, path, size, tags, created_at, updated_at`

// VolumeRepository persists Volume records.
type VolumeRepository struct {
	db *sql.DB
}

// NewVolumeRepository creates a new volume repository
func NewVolumeRepository(db *sql.DB) *VolumeRepository {
	return &VolumeRepository{db: db}
}

// Insert stores a new volume record.
func (r *VolumeRepository) Insert(ctx context.Context, vol *v1alpha1.Volume) error {
	if vol.ID == "" {
		return errors.New("volume id is required")
	}
	vol.Touch(v1alpha1.Now().Time)

	tags, err := encodeTags(vol.Tags)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, "INSERT INTO volumes ("+volumeColumns+") VALUES ("+placeholders(10)+")",
		vol.ID, vol.AccountID, nullString(vol.VMID), vol.ImageID, vol.Format, vol.Path, vol.Size,
		tags, formatTime(vol.CreatedAt), formatTime(vol.UpdatedAt))
	if err != nil {
		return mapExecError(err, "volume "+vol.ID)
	}
	return nil
}

// Get retrieves a volume by id.
func (r *VolumeRepository) Get(ctx context.Context, id string) (*v1alpha1.Volume, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+volumeColumns+" FROM volumes WHERE id = ?", id)
	vol, err := scanVolume(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("volume %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find volume: %w", err)
	}
	return vol, nil
}

// ListByVM returns the volumes attached to vmID.
func (r *VolumeRepository) ListByVM(ctx context.Context, vmID string) ([]*v1alpha1.Volume, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+volumeColumns+" FROM volumes WHERE vm_id = ? ORDER BY created_at ASC, id ASC", vmID)
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes for vm %s: %w", vmID, err)
	}
	defer rows.Close()

	var vols []*v1alpha1.Volume
	for rows.Next() {
		vol, err := scanVolume(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan volume: %w", err)
		}
		vols = append(vols, vol)
	}
	return vols, rows.Err()
}

// DeleteByVM removes every volume record of vmID and returns how many went.
func (r *VolumeRepository) DeleteByVM(ctx context.Context, vmID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM volumes WHERE vm_id = ?", vmID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete volumes for vm %s: %w", vmID, err)
	}
	return res.RowsAffected()
}

// Delete removes one volume record.
func (r *VolumeRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM volumes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete volume: %w", err)
	}
	return expectOne(res, "volume "+id)
}

func scanVolume(s scanner) (*v1alpha1.Volume, error) {
	var (
		vol                        v1alpha1.Volume
		vmID                       sql.NullString
		tags, createdAt, updatedAt string
	)
	if err := s.Scan(&vol.ID, &vol.AccountID, &vmID, &vol.ImageID, &vol.Format, &vol.Path, &vol.Size,
		&tags, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	vol.VMID = vmID.String
	if err := decodeMeta(&vol.ObjectMeta, tags, createdAt, updatedAt); err != nil {
		return nil, err
	}
	return &vol, nil
}
