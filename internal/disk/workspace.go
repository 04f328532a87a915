// Package disk lays out VM workspaces and provisions their volumes from
// catalog images using qemu-img and the libguestfs tools.
package disk

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/jbweber/hearth/internal/naming"
)

const (
	// DefaultRoot is the default base directory for account workspaces.
	DefaultRoot = "/var/lib/hearth"

	// DirPermissions are the permissions for workspace directories.
	DirPermissions = 0o755

	// FilePermissions are the permissions for volume and media files.
	FilePermissions = 0o644
)

var (
	// ErrWorkspaceExists is returned when a VM directory is already present.
	ErrWorkspaceExists = errors.New("workspace already exists")

	// ErrOutsideRoot is returned when asked to remove a path that is not
	// below the workspace root.
	ErrOutsideRoot = errors.New("path is outside the workspace root")

	// ErrInsufficientSpace is returned when the filesystem cannot hold a volume.
	ErrInsufficientSpace = errors.New("insufficient disk space")
)

// Workspace owns the on-disk layout:
//
//	<root>/<account>/<vm-id>/   volumes, boot media, boot documents
//	<root>/<account>/images/    captured images
type Workspace struct {
	root  string
	owner Owner
}

// NewWorkspace returns a Workspace rooted at root. Files it creates are
// chowned to owner unless owner is NoOwner.
func NewWorkspace(root string, owner Owner) *Workspace {
	return &Workspace{root: filepath.Clean(root), owner: owner}
}

// OwnerForProcess returns the QEMU owner when running as root, and NoOwner
// otherwise since an unprivileged process cannot chown.
func OwnerForProcess() (Owner, error) {
	if os.Geteuid() != 0 {
		return NoOwner, nil
	}
	return QEMUOwner()
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string {
	return w.root
}

// Owner returns the ownership applied to created files.
func (w *Workspace) Owner() Owner {
	return w.owner
}

// VMDirectory returns the directory for a VM without creating it.
func (w *Workspace) VMDirectory(accountID, vmID string) string {
	return filepath.Join(w.root, accountID, vmID)
}

// ImageDirectory returns the captured image directory for an account.
func (w *Workspace) ImageDirectory(accountID string) string {
	return filepath.Join(w.root, accountID, naming.ImagesDirName)
}

// CreateVMDirectory creates the VM directory. It fails with
// ErrWorkspaceExists if the directory is already there, so two builds can
// never share a workspace.
func (w *Workspace) CreateVMDirectory(accountID, vmID string) (string, error) {
	if err := validateSegment(accountID); err != nil {
		return "", fmt.Errorf("invalid account id: %w", err)
	}
	if err := validateSegment(vmID); err != nil {
		return "", fmt.Errorf("invalid vm id: %w", err)
	}

	accountDir := filepath.Join(w.root, accountID)
	if err := os.MkdirAll(accountDir, DirPermissions); err != nil {
		return "", fmt.Errorf("failed to create account directory %s: %w", accountDir, err)
	}

	dir := w.VMDirectory(accountID, vmID)
	if err := os.Mkdir(dir, DirPermissions); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%s: %w", dir, ErrWorkspaceExists)
		}
		return "", fmt.Errorf("failed to create VM directory %s: %w", dir, err)
	}

	if err := w.Chown(dir); err != nil {
		_ = os.Remove(dir)
		return "", err
	}
	return dir, nil
}

// EnsureImageDirectory creates the account image directory if needed.
func (w *Workspace) EnsureImageDirectory(accountID string) (string, error) {
	if err := validateSegment(accountID); err != nil {
		return "", fmt.Errorf("invalid account id: %w", err)
	}
	dir := w.ImageDirectory(accountID)
	if err := os.MkdirAll(dir, DirPermissions); err != nil {
		return "", fmt.Errorf("failed to create image directory %s: %w", dir, err)
	}
	if err := w.Chown(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// Remove deletes path and everything below it. A missing path is not an
// error. Paths outside the root, and the root itself, are refused.
func (w *Workspace) Remove(path string) error {
	if !w.contains(path) {
		return fmt.Errorf("%s: %w", path, ErrOutsideRoot)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// Chown applies the workspace owner to path.
func (w *Workspace) Chown(path string) error {
	if w.owner == NoOwner {
		return nil
	}
	if err := os.Chown(path, w.owner.UID, w.owner.GID); err != nil {
		return fmt.Errorf("failed to set ownership on %s: %w", path, err)
	}
	return nil
}

// CheckDiskSpace verifies the filesystem holding dir has at least need bytes
// available to unprivileged users.
func (w *Workspace) CheckDiskSpace(dir string, need int64) error {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return fmt.Errorf("failed to get filesystem stats for %s: %w", dir, err)
	}
	available := int64(stat.Bavail) * int64(stat.Bsize)
	if need > available {
		return fmt.Errorf("%w: need %d bytes, have %d available", ErrInsufficientSpace, need, available)
	}
	return nil
}

func (w *Workspace) contains(path string) bool {
	rel, err := filepath.Rel(w.root, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func validateSegment(s string) error {
	switch {
	case s == "":
		return errors.New("must not be empty")
	case s == "." || s == "..":
		return fmt.Errorf("%q is not allowed", s)
	case strings.ContainsRune(s, filepath.Separator):
		return fmt.Errorf("%q must not contain %q", s, filepath.Separator)
	}
	return nil
}
