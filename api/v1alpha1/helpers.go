package v1alpha1

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Id prefixes for generated identifiers.
const (
	PrefixVM       = "vm"
	PrefixVolume   = "vol"
	PrefixGuestImg = "gmi"
	PrefixUserImg  = "umi"
	PrefixProfile  = "net"
	PrefixKeyPair  = "key"

	idSuffixLength = 8
	idSeparator    = "-"
)

// NewID returns prefix + "-" + 8 lowercase hex characters taken from a
// random UUID.
func NewID(prefix string) string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return prefix + idSeparator + raw[:idSuffixLength]
}

// IDHasPrefix reports whether id was generated with the given prefix.
func IDHasPrefix(id, prefix string) bool {
	return strings.HasPrefix(id, prefix+idSeparator) && len(id) == len(prefix)+1+idSuffixLength
}

// NewVirtualMachine returns a record in BUILDING state with a fresh id.
func NewVirtualMachine(accountID string) *VirtualMachine {
	vm := &VirtualMachine{State: VMStateBuilding}
	vm.AccountID = accountID
	// SetID cannot fail on a fresh object.
	_ = vm.SetID(NewID(PrefixVM))
	vm.Touch(Now().Time)
	return vm
}

// ImageIDPrefix returns the id prefix used for images of the given visibility.
func ImageIDPrefix(v ImageVisibility) string {
	if v == ImageVisibilityGuest {
		return PrefixGuestImg
	}
	return PrefixUserImg
}

// VisibleTo reports whether the image can be resolved by accountID.
// Deactivated images are never visible.
func (img *Image) VisibleTo(accountID string) bool {
	if img.Deactivated {
		return false
	}
	switch img.Visibility {
	case ImageVisibilityGuest:
		return true
	case ImageVisibilityUser:
		return img.AccountID == accountID
	}
	return false
}

// ParseInstanceType splits "family.size".
func ParseInstanceType(name string) (family, size string, err error) {
	family, size, ok := strings.Cut(name, ".")
	if !ok || family == "" || size == "" {
		return "", "", fmt.Errorf("instance type %q must be of the form family.size", name)
	}
	return family, size, nil
}
