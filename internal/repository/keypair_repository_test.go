package repository

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/hearth/internal/testutil"
)

const testPublicKey = "ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIIbJKZscbOLzBsgY5y2QupKW4A2kSDjMBQGPb1dChr+S test@example.com"

func TestKeyPairRepository(t *testing.T) {
	repo := NewKeyPairRepository(testutil.SetupTestDB(t))
	ctx := context.Background()

	kp, err := repo.Import(ctx, "acct-a", "k1", testPublicKey+"\n")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(kp.Fingerprint, "SHA256:"), "fingerprint %q", kp.Fingerprint)
	assert.Equal(t, testPublicKey, kp.PublicKey)

	got, err := repo.FindByName(ctx, "acct-a", "k1")
	require.NoError(t, err)
	assert.Equal(t, kp.ID, got.ID)
	assert.Equal(t, kp.Fingerprint, got.Fingerprint)

	_, err = repo.FindByName(ctx, "acct-b", "k1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.Import(ctx, "acct-a", "k1", testPublicKey)
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = repo.Import(ctx, "acct-a", "k2", testPublicKey)
	require.NoError(t, err)
	keys, err := repo.ListByAccount(ctx, "acct-a")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "k1", keys[0].Name)

	require.NoError(t, repo.Delete(ctx, "acct-a", "k2"))
	assert.ErrorIs(t, repo.Delete(ctx, "acct-a", "k2"), ErrNotFound)
}

func TestKeyPairRepository_InvalidKey(t *testing.T) {
	repo := NewKeyPairRepository(testutil.SetupTestDB(t))
	ctx := context.Background()

	_, err := repo.Import(ctx, "acct-a", "bad", "ssh-rsa not-base64")
	assert.ErrorIs(t, err, ErrInvalidEntity)

	_, err = repo.Import(ctx, "acct-a", "", testPublicKey)
	assert.ErrorIs(t, err, ErrInvalidEntity)
}
