package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/jbweber/hearth/api/v1alpha1"
)

const keyPairColumns = `id, account_id, name, public_key, fingerprint, tags, created_at, updated_at`

// KeyPairRepository is the account key store.
type KeyPairRepository struct {
	db *sql.DB
}

// NewKeyPairRepository creates a new key pair repository
func NewKeyPairRepository(db *sql.DB) *KeyPairRepository {
	return &KeyPairRepository{db: db}
}

// Import validates publicKey as an authorized_keys line and stores it under
// name for the account.
func (r *KeyPairRepository) Import(ctx context.Context, accountID, name, publicKey string) (*v1alpha1.KeyPair, error) {
	if accountID == "" || name == "" {
		return nil, fmt.Errorf("%w: key pair requires an account and a name", ErrInvalidEntity)
	}
	parsed, _, _, _, err := ssh.ParseAuthorizedKey([]byte(publicKey))
	if err != nil {
		return nil, fmt.Errorf("%w: key %s: %v", ErrInvalidEntity, name, err)
	}

	kp := &v1alpha1.KeyPair{
		Name:        name,
		PublicKey:   strings.TrimSpace(publicKey),
		Fingerprint: ssh.FingerprintSHA256(parsed),
	}
	kp.AccountID = accountID
	if err := kp.SetID(v1alpha1.NewID(v1alpha1.PrefixKeyPair)); err != nil {
		return nil, err
	}
	kp.Touch(v1alpha1.Now().Time)

	_, err = r.db.ExecContext(ctx, "INSERT INTO key_pairs ("+keyPairColumns+") VALUES ("+placeholders(8)+")",
		kp.ID, kp.AccountID, kp.Name, kp.PublicKey, kp.Fingerprint, "{}", formatTime(kp.CreatedAt), formatTime(kp.UpdatedAt))
	if err != nil {
		return nil, mapExecError(err, "key pair "+name)
	}
	return kp, nil
}

// FindByName retrieves the account's key called name.
func (r *KeyPairRepository) FindByName(ctx context.Context, accountID, name string) (v1alpha1.KeyPair, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+keyPairColumns+" FROM key_pairs WHERE account_id = ? AND name = ?", accountID, name)
	kp, err := scanKeyPair(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return v1alpha1.KeyPair{}, fmt.Errorf("key pair %s in account %s: %w", name, accountID, ErrNotFound)
		}
		return v1alpha1.KeyPair{}, fmt.Errorf("failed to find key pair: %w", err)
	}
	return kp, nil
}

// ListByAccount returns the account's keys ordered by name.
func (r *KeyPairRepository) ListByAccount(ctx context.Context, accountID string) ([]v1alpha1.KeyPair, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+keyPairColumns+" FROM key_pairs WHERE account_id = ? ORDER BY name ASC", accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list key pairs: %w", err)
	}
	defer rows.Close()

	var keys []v1alpha1.KeyPair
	for rows.Next() {
		kp, err := scanKeyPair(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan key pair: %w", err)
		}
		keys = append(keys, kp)
	}
	return keys, rows.Err()
}

// Delete removes the account's key called name.
func (r *KeyPairRepository) Delete(ctx context.Context, accountID, name string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM key_pairs WHERE account_id = ? AND name = ?", accountID, name)
	if err != nil {
		return fmt.Errorf("failed to delete key pair: %w", err)
	}
	return expectOne(res, "key pair "+name)
}

func scanKeyPair(s scanner) (v1alpha1.KeyPair, error) {
	var (
		kp                         v1alpha1.KeyPair
		tags, createdAt, updatedAt string
	)
	if err := s.Scan(&kp.ID, &kp.AccountID, &kp.Name, &kp.PublicKey, &kp.Fingerprint, &tags, &createdAt, &updatedAt); err != nil {
		return v1alpha1.KeyPair{}, err
	}
	if err := decodeMeta(&kp.ObjectMeta, tags, createdAt, updatedAt); err != nil {
		return v1alpha1.KeyPair{}, err
	}
	return kp, nil
}
