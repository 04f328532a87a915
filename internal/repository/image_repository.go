package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jbweber/hearth/api/v1alpha1"
)

const imageColumns = `id, account_id, name, description, visibility, format, path, state,
	deactivated, source_vm_id, tags, created_at, updated_at`

// visibleClause restricts a query to images the account can resolve.
// Deactivated images are never visible.
const visibleClause = `deactivated = 0 AND (visibility = 'guest' OR account_id = ?)`

// ImageRepository is the image catalog.
type ImageRepository struct {
	db *sql.DB
}

// NewImageRepository creates a new image repository
func NewImageRepository(db *sql.DB) *ImageRepository {
	return &ImageRepository{db: db}
}

// Insert registers an image, assigning a gmi- or umi- id by visibility when
// it has none.
func (r *ImageRepository) Insert(ctx context.Context, img *v1alpha1.Image) error {
	switch img.Visibility {
	case v1alpha1.ImageVisibilityGuest, v1alpha1.ImageVisibilityUser:
	default:
		return fmt.Errorf("%w: image visibility %q", ErrInvalidEntity, img.Visibility)
	}
	if img.Name == "" || img.Path == "" {
		return fmt.Errorf("%w: image requires a name and a path", ErrInvalidEntity)
	}
	if img.ID == "" {
		if err := img.SetID(v1alpha1.NewID(v1alpha1.ImageIDPrefix(img.Visibility))); err != nil {
			return err
		}
	}
	if img.State == "" {
		img.State = v1alpha1.ImageStateReady
	}
	img.Touch(v1alpha1.Now().Time)

	tags, err := encodeTags(img.Tags)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, "INSERT INTO images ("+imageColumns+") VALUES ("+placeholders(13)+")",
		img.ID, img.AccountID, img.Name, img.Description, string(img.Visibility), img.Format, img.Path,
		string(img.State), img.Deactivated, img.SourceVMID, tags, formatTime(img.CreatedAt), formatTime(img.UpdatedAt))
	if err != nil {
		return mapExecError(err, "image "+img.ID)
	}
	return nil
}

// Get retrieves an image by id, deactivated or not.
func (r *ImageRepository) Get(ctx context.Context, id string) (v1alpha1.Image, error) {
	return r.get(ctx, "SELECT "+imageColumns+" FROM images WHERE id = ?", id)
}

// FindVisible retrieves imageID if accountID can resolve it.
func (r *ImageRepository) FindVisible(ctx context.Context, imageID, accountID string) (v1alpha1.Image, error) {
	return r.get(ctx, "SELECT "+imageColumns+" FROM images WHERE id = ? AND "+visibleClause, imageID, accountID)
}

func (r *ImageRepository) get(ctx context.Context, query string, args ...any) (v1alpha1.Image, error) {
	img, err := scanImage(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return v1alpha1.Image{}, fmt.Errorf("image %v: %w", args[0], ErrNotFound)
		}
		return v1alpha1.Image{}, fmt.Errorf("failed to find image: %w", err)
	}
	return img, nil
}

// ListVisible returns every image accountID can resolve, guest images first.
func (r *ImageRepository) ListVisible(ctx context.Context, accountID string) ([]v1alpha1.Image, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+imageColumns+" FROM images WHERE "+visibleClause+" ORDER BY visibility ASC, name ASC", accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	defer rows.Close()

	var images []v1alpha1.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// UpdateState sets the capture state of an image.
func (r *ImageRepository) UpdateState(ctx context.Context, id string, state v1alpha1.ImageState) error {
	res, err := r.db.ExecContext(ctx, "UPDATE images SET state = ?, updated_at = ? WHERE id = ?",
		string(state), formatTime(v1alpha1.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update image state: %w", err)
	}
	return expectOne(res, "image "+id)
}

// Deactivate hides an image from resolution and listing.
func (r *ImageRepository) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE images SET deactivated = 1, updated_at = ? WHERE id = ?",
		formatTime(v1alpha1.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate image: %w", err)
	}
	return expectOne(res, "image "+id)
}

// Delete removes an image record. The file is the caller's concern.
func (r *ImageRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM images WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return expectOne(res, "image "+id)
}

func scanImage(s scanner) (v1alpha1.Image, error) {
	var (
		img                        v1alpha1.Image
		visibility, state          string
		tags, createdAt, updatedAt string
	)
	if err := s.Scan(&img.ID, &img.AccountID, &img.Name, &img.Description, &visibility, &img.Format, &img.Path,
		&state, &img.Deactivated, &img.SourceVMID, &tags, &createdAt, &updatedAt); err != nil {
		return v1alpha1.Image{}, err
	}
	img.Visibility = v1alpha1.ImageVisibility(visibility)
	img.State = v1alpha1.ImageState(state)
	if err := decodeMeta(&img.ObjectMeta, tags, createdAt, updatedAt); err != nil {
		return v1alpha1.Image{}, err
	}
	return img, nil
}
