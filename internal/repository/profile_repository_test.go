package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/hearth/api/v1alpha1"
	"github.com/jbweber/hearth/internal/testutil"
)

func homeProfile(accountID string) *v1alpha1.NetworkProfile {
	p := &v1alpha1.NetworkProfile{
		Name: "home",
		Type: v1alpha1.NetworkBridgeToLan,
		Config: v1alpha1.NetworkConfig{
			Network:    "172.16.9.0",
			Prefix:     24,
			Gateway:    "172.16.9.1",
			DNSServers: []string{"172.16.9.1"},
			Bridge:     "br0",
		},
	}
	p.AccountID = accountID
	return p
}

func TestNetworkProfileRepository(t *testing.T) {
	repo := NewNetworkProfileRepository(testutil.SetupTestDB(t))
	ctx := context.Background()

	p := homeProfile("acct-a")
	require.NoError(t, repo.Create(ctx, p))
	assert.True(t, v1alpha1.IDHasPrefix(p.ID, v1alpha1.PrefixProfile), "id %q", p.ID)

	got, err := repo.FindByName(ctx, "acct-a", "home")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, v1alpha1.NetworkBridgeToLan, got.Type)
	assert.Equal(t, p.Config, got.Config)

	// Names are scoped per account.
	_, err = repo.FindByName(ctx, "acct-b", "home")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, repo.Create(ctx, homeProfile("acct-b")))

	assert.ErrorIs(t, repo.Create(ctx, homeProfile("acct-a")), ErrDuplicate)

	nat := &v1alpha1.NetworkProfile{Name: "lab", Type: v1alpha1.NetworkNAT, Config: v1alpha1.NetworkConfig{VirtualNetwork: "default"}}
	nat.AccountID = "acct-a"
	require.NoError(t, repo.Create(ctx, nat))

	list, err := repo.ListByAccount(ctx, "acct-a")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "home", list[0].Name)
	assert.Equal(t, "lab", list[1].Name)

	require.NoError(t, repo.Delete(ctx, "acct-a", "lab"))
	assert.ErrorIs(t, repo.Delete(ctx, "acct-a", "lab"), ErrNotFound)
}

func TestNetworkProfileRepository_Invalid(t *testing.T) {
	repo := NewNetworkProfileRepository(testutil.SetupTestDB(t))
	err := repo.Create(context.Background(), &v1alpha1.NetworkProfile{Name: "home"})
	assert.ErrorIs(t, err, ErrInvalidEntity)
}
