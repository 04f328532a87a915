package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/jbweber/hearth/api/v1alpha1"
)

const vmColumns = `id, account_id, host, instance_family, instance_size, cpu, memory_mb,
	image_id, image_name, network_profile_id, network_profile_name, network_type,
	address, mac_address, bridge, virtual_network, key_name, hostname, console,
	state, workspace_path, tags, created_at, updated_at`

// VMRepository persists VirtualMachine records.
type VMRepository struct {
	db *sql.DB
}

// NewVMRepository creates a new VM repository
func NewVMRepository(db *sql.DB) *VMRepository {
	return &VMRepository{db: db}
}

// Insert stores a new record. A reused id or a static address already
// claimed on the same profile returns ErrDuplicate.
func (r *VMRepository) Insert(ctx context.Context, vm *v1alpha1.VirtualMachine) error {
	if vm.ID == "" {
		return errors.New("vm id is required")
	}
	vm.Touch(v1alpha1.Now().Time)

	args, err := vmArgs(vm)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, "INSERT INTO vms ("+vmColumns+") VALUES ("+placeholders(24)+")", args...)
	if err != nil {
		return mapExecError(err, "vm "+vm.ID)
	}
	return nil
}

// Get retrieves a record by id regardless of owner.
func (r *VMRepository) Get(ctx context.Context, id string) (*v1alpha1.VirtualMachine, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+vmColumns+" FROM vms WHERE id = ?", id)
	vm, err := scanVM(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("vm %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find vm: %w", err)
	}
	return vm, nil
}

// GetForAccount retrieves a record owned by accountID. A record owned by
// another account is reported as ErrNotFound.
func (r *VMRepository) GetForAccount(ctx context.Context, id, accountID string) (*v1alpha1.VirtualMachine, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+vmColumns+" FROM vms WHERE id = ? AND account_id = ?", id, accountID)
	vm, err := scanVM(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("vm %s in account %s: %w", id, accountID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find vm: %w", err)
	}
	return vm, nil
}

// Update replaces every mutable column of an existing record.
func (r *VMRepository) Update(ctx context.Context, vm *v1alpha1.VirtualMachine) error {
	vm.Touch(v1alpha1.Now().Time)

	args, err := vmArgs(vm)
	if err != nil {
		return err
	}
	// id, account_id and created_at never change.
	set := append(args[2:22:22], args[23], vm.ID)
	res, err := r.db.ExecContext(ctx, `UPDATE vms SET
		host = ?, instance_family = ?, instance_size = ?, cpu = ?, memory_mb = ?,
		image_id = ?, image_name = ?, network_profile_id = ?, network_profile_name = ?, network_type = ?,
		address = ?, mac_address = ?, bridge = ?, virtual_network = ?, key_name = ?, hostname = ?, console = ?,
		state = ?, workspace_path = ?, tags = ?, updated_at = ?
		WHERE id = ?`, set...)
	if err != nil {
		return mapExecError(err, "vm "+vm.ID)
	}
	return expectOne(res, "vm "+vm.ID)
}

// Delete removes a record. Its volume records go with it.
func (r *VMRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM vms WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete vm: %w", err)
	}
	return expectOne(res, "vm "+id)
}

// ListByAccount returns the account's records ordered by creation.
func (r *VMRepository) ListByAccount(ctx context.Context, accountID string) ([]*v1alpha1.VirtualMachine, error) {
	return r.list(ctx, "SELECT "+vmColumns+" FROM vms WHERE account_id = ? ORDER BY created_at ASC, id ASC", accountID)
}

// List returns every record on the host.
func (r *VMRepository) List(ctx context.Context) ([]*v1alpha1.VirtualMachine, error) {
	return r.list(ctx, "SELECT "+vmColumns+" FROM vms ORDER BY created_at ASC, id ASC")
}

func (r *VMRepository) list(ctx context.Context, query string, args ...any) ([]*v1alpha1.VirtualMachine, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list vms: %w", err)
	}
	defer rows.Close()

	var vms []*v1alpha1.VirtualMachine
	for rows.Next() {
		vm, err := scanVM(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vm: %w", err)
		}
		vms = append(vms, vm)
	}
	return vms, rows.Err()
}

// CompareAndSwapState moves the record to `to` only if its current state is
// one of from, and returns the state it replaced. ErrStateConflict means the
// record exists in another state.
func (r *VMRepository) CompareAndSwapState(ctx context.Context, id string, from []v1alpha1.VMState, to v1alpha1.VMState) (v1alpha1.VMState, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current v1alpha1.VMState
	if err := tx.QueryRowContext(ctx, "SELECT state FROM vms WHERE id = ?", id).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("vm %s: %w", id, ErrNotFound)
		}
		return "", fmt.Errorf("failed to read vm state: %w", err)
	}
	if !slices.Contains(from, current) {
		return current, fmt.Errorf("vm %s is %s, want one of %v: %w", id, current, from, ErrStateConflict)
	}

	res, err := tx.ExecContext(ctx, "UPDATE vms SET state = ?, updated_at = ? WHERE id = ? AND state = ?",
		to, formatTime(v1alpha1.Now()), id, current)
	if err != nil {
		return current, fmt.Errorf("failed to update vm state: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return current, fmt.Errorf("vm %s changed state concurrently: %w", id, ErrStateConflict)
	}
	if err := tx.Commit(); err != nil {
		return current, fmt.Errorf("failed to commit vm state: %w", err)
	}
	return current, nil
}

// vmArgs returns the column values in vmColumns order.
func vmArgs(vm *v1alpha1.VirtualMachine) ([]any, error) {
	tags, err := encodeTags(vm.Tags)
	if err != nil {
		return nil, err
	}
	var console sql.NullString
	if vm.Console != nil {
		b, err := json.Marshal(vm.Console)
		if err != nil {
			return nil, fmt.Errorf("failed to encode console: %w", err)
		}
		console = sql.NullString{String: string(b), Valid: true}
	}
	return []any{
		vm.ID, vm.AccountID, vm.Host, vm.InstanceFamily, vm.InstanceSize, vm.CPU, vm.MemoryMB,
		vm.Image.ID, vm.Image.Name, vm.Network.ProfileID, vm.Network.ProfileName, string(vm.Network.Type),
		nullString(vm.Network.Address), vm.Network.MACAddress, vm.Network.Bridge, vm.Network.VirtualNetwork,
		vm.KeyName, vm.Hostname, console,
		string(vm.State), vm.WorkspacePath, tags, formatTime(vm.CreatedAt), formatTime(vm.UpdatedAt),
	}, nil
}

func scanVM(s scanner) (*v1alpha1.VirtualMachine, error) {
	var (
		vm                         v1alpha1.VirtualMachine
		networkType, state         string
		address, console           sql.NullString
		tags, createdAt, updatedAt string
	)
	err := s.Scan(
		&vm.ID, &vm.AccountID, &vm.Host, &vm.InstanceFamily, &vm.InstanceSize, &vm.CPU, &vm.MemoryMB,
		&vm.Image.ID, &vm.Image.Name, &vm.Network.ProfileID, &vm.Network.ProfileName, &networkType,
		&address, &vm.Network.MACAddress, &vm.Network.Bridge, &vm.Network.VirtualNetwork,
		&vm.KeyName, &vm.Hostname, &console,
		&state, &vm.WorkspacePath, &tags, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	vm.Network.Type = v1alpha1.NetworkProfileType(networkType)
	vm.Network.Address = address.String
	vm.State = v1alpha1.VMState(state)
	if console.Valid {
		vm.Console = &v1alpha1.ConsoleConfig{}
		if err := json.Unmarshal([]byte(console.String), vm.Console); err != nil {
			return nil, fmt.Errorf("failed to decode console of vm %s: %w", vm.ID, err)
		}
	}
	if err := decodeMeta(&vm.ObjectMeta, tags, createdAt, updatedAt); err != nil {
		return nil, err
	}
	return &vm, nil
}
