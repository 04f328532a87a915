package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jbweber/hearth/api/v1alpha1"
)

const profileColumns = `id, account_id, name, type, config, tags, created_at, updated_at`

// NetworkProfileRepository persists account network profiles.
type NetworkProfileRepository struct {
	db *sql.DB
}

// NewNetworkProfileRepository creates a new network profile repository
func NewNetworkProfileRepository(db *sql.DB) *NetworkProfileRepository {
	return &NetworkProfileRepository{db: db}
}

// Create stores a profile, assigning an id when it has none. Names are
// unique per account.
func (r *NetworkProfileRepository) Create(ctx context.Context, p *v1alpha1.NetworkProfile) error {
	if p.AccountID == "" || p.Name == "" {
		return fmt.Errorf("%w: profile requires an account and a name", ErrInvalidEntity)
	}
	if p.ID == "" {
		if err := p.SetID(v1alpha1.NewID(v1alpha1.PrefixProfile)); err != nil {
			return err
		}
	}
	p.Touch(v1alpha1.Now().Time)

	cfg, err := json.Marshal(p.Config)
	if err != nil {
		return fmt.Errorf("failed to encode profile config: %w", err)
	}
	tags, err := encodeTags(p.Tags)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, "INSERT INTO network_profiles ("+profileColumns+") VALUES ("+placeholders(8)+")",
		p.ID, p.AccountID, p.Name, string(p.Type), string(cfg), tags, formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return mapExecError(err, "network profile "+p.Name)
	}
	return nil
}

// FindByName retrieves the account's profile called name.
func (r *NetworkProfileRepository) FindByName(ctx context.Context, accountID, name string) (v1alpha1.NetworkProfile, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+profileColumns+" FROM network_profiles WHERE account_id = ? AND name = ?", accountID, name)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return v1alpha1.NetworkProfile{}, fmt.Errorf("network profile %s in account %s: %w", name, accountID, ErrNotFound)
		}
		return v1alpha1.NetworkProfile{}, fmt.Errorf("failed to find network profile: %w", err)
	}
	return p, nil
}

// ListByAccount returns the account's profiles ordered by name.
func (r *NetworkProfileRepository) ListByAccount(ctx context.Context, accountID string) ([]v1alpha1.NetworkProfile, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+profileColumns+" FROM network_profiles WHERE account_id = ? ORDER BY name ASC", accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list network profiles: %w", err)
	}
	defer rows.Close()

	var profiles []v1alpha1.NetworkProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan network profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// Delete removes the account's profile called name.
func (r *NetworkProfileRepository) Delete(ctx context.Context, accountID, name string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM network_profiles WHERE account_id = ? AND name = ?", accountID, name)
	if err != nil {
		return fmt.Errorf("failed to delete network profile: %w", err)
	}
	return expectOne(res, "network profile "+name)
}

func scanProfile(s scanner) (v1alpha1.NetworkProfile, error) {
	var (
		p                          v1alpha1.NetworkProfile
		typ, cfg                   string
		tags, createdAt, updatedAt string
	)
	if err := s.Scan(&p.ID, &p.AccountID, &p.Name, &typ, &cfg, &tags, &createdAt, &updatedAt); err != nil {
		return v1alpha1.NetworkProfile{}, err
	}
	p.Type = v1alpha1.NetworkProfileType(typ)
	if err := json.Unmarshal([]byte(cfg), &p.Config); err != nil {
		return v1alpha1.NetworkProfile{}, fmt.Errorf("failed to decode config of profile %s: %w", p.Name, err)
	}
	if err := decodeMeta(&p.ObjectMeta, tags, createdAt, updatedAt); err != nil {
		return v1alpha1.NetworkProfile{}, err
	}
	return p, nil
}
