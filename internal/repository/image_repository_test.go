package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/hearth/api/v1alpha1"
	"github.com/jbweber/hearth/internal/testutil"
)

func TestImageRepository_Visibility(t *testing.T) {
	repo := NewImageRepository(testutil.SetupTestDB(t))
	ctx := context.Background()

	guest := &v1alpha1.Image{Name: "fedora-42", Visibility: v1alpha1.ImageVisibilityGuest, Format: "qcow2", Path: "/srv/images/fedora.qcow2"}
	guest.AccountID = "system"
	require.NoError(t, repo.Insert(ctx, guest))
	assert.True(t, v1alpha1.IDHasPrefix(guest.ID, v1alpha1.PrefixGuestImg), "id %q", guest.ID)
	assert.Equal(t, v1alpha1.ImageStateReady, guest.State)

	private := &v1alpha1.Image{Name: "golden", Visibility: v1alpha1.ImageVisibilityUser, Path: "/srv/acct-a/images/golden.qcow2"}
	private.AccountID = "acct-a"
	require.NoError(t, repo.Insert(ctx, private))
	assert.True(t, v1alpha1.IDHasPrefix(private.ID, v1alpha1.PrefixUserImg), "id %q", private.ID)

	tests := []struct {
		name    string
		imageID string
		account string
		found   bool
	}{
		{"guest image for any account", guest.ID, "acct-b", true},
		{"user image for owner", private.ID, "acct-a", true},
		{"user image for other account", private.ID, "acct-b", false},
		{"unknown image", "gmi-00000000", "acct-a", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := repo.FindVisible(ctx, tt.imageID, tt.account)
			if tt.found {
				require.NoError(t, err)
				assert.Equal(t, tt.imageID, img.ID)
			} else {
				assert.ErrorIs(t, err, ErrNotFound)
			}
		})
	}

	listA, err := repo.ListVisible(ctx, "acct-a")
	require.NoError(t, err)
	assert.Len(t, listA, 2)
	listB, err := repo.ListVisible(ctx, "acct-b")
	require.NoError(t, err)
	assert.Len(t, listB, 1)
}

func TestImageRepository_DeactivatedExcluded(t *testing.T) {
	repo := NewImageRepository(testutil.SetupTestDB(t))
	ctx := context.Background()

	img := &v1alpha1.Image{Name: "centos-7", Visibility: v1alpha1.ImageVisibilityGuest, Path: "/srv/images/centos.qcow2"}
	require.NoError(t, repo.Insert(ctx, img))
	require.NoError(t, repo.Deactivate(ctx, img.ID))

	_, err := repo.FindVisible(ctx, img.ID, "acct-a")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := repo.ListVisible(ctx, "acct-a")
	require.NoError(t, err)
	assert.Empty(t, list)

	// Still reachable by id for administration.
	got, err := repo.Get(ctx, img.ID)
	require.NoError(t, err)
	assert.True(t, got.Deactivated)
}

func TestImageRepository_StateAndDelete(t *testing.T) {
	repo := NewImageRepository(testutil.SetupTestDB(t))
	ctx := context.Background()

	img := &v1alpha1.Image{
		Name:       "snap",
		Visibility: v1alpha1.ImageVisibilityUser,
		Path:       "/srv/acct-a/images/snap.qcow2",
		State:      v1alpha1.ImageStatePending,
		SourceVMID: "vm-1a2b3c4d",
	}
	img.AccountID = "acct-a"
	require.NoError(t, repo.Insert(ctx, img))

	got, err := repo.Get(ctx, img.ID)
	require.NoError(t, err)
	assert.Equal(t, v1alpha1.ImageStatePending, got.State)
	assert.Equal(t, "vm-1a2b3c4d", got.SourceVMID)

	require.NoError(t, repo.UpdateState(ctx, img.ID, v1alpha1.ImageStateReady))
	got, err = repo.Get(ctx, img.ID)
	require.NoError(t, err)
	assert.Equal(t, v1alpha1.ImageStateReady, got.State)

	require.NoError(t, repo.Delete(ctx, img.ID))
	assert.ErrorIs(t, repo.UpdateState(ctx, img.ID, v1alpha1.ImageStateReady), ErrNotFound)
}

func TestImageRepository_Invalid(t *testing.T) {
	repo := NewImageRepository(testutil.SetupTestDB(t))
	ctx := context.Background()

	assert.ErrorIs(t, repo.Insert(ctx, &v1alpha1.Image{Name: "x", Path: "/x"}), ErrInvalidEntity)
	assert.ErrorIs(t, repo.Insert(ctx, &v1alpha1.Image{Visibility: v1alpha1.ImageVisibilityGuest}), ErrInvalidEntity)
}
