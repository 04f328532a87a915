package vm

import (
	"context"
	"time"

	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/hearth/api/v1alpha1"
	"github.com/jbweber/hearth/internal/descriptor"
	"github.com/jbweber/hearth/internal/disk"
	"github.com/jbweber/hearth/internal/metadata"
)

// VMStore persists VM records. *repository.VMRepository satisfies it.
type VMStore interface {
	Insert(ctx context.Context, vm *v1alpha1.VirtualMachine) error
	Get(ctx context.Context, id string) (*v1alpha1.VirtualMachine, error)
	GetForAccount(ctx context.Context, id, accountID string) (*v1alpha1.VirtualMachine, error)
	Update(ctx context.Context, vm *v1alpha1.VirtualMachine) error
	Delete(ctx context.Context, id string) error
	ListByAccount(ctx context.Context, accountID string) ([]*v1alpha1.VirtualMachine, error)
	CompareAndSwapState(ctx context.Context, id string, from []v1alpha1.VMState, to v1alpha1.VMState) (v1alpha1.VMState, error)
}

// VolumeStore reads and removes volume records.
type VolumeStore interface {
	ListByVM(ctx context.Context, vmID string) ([]*v1alpha1.Volume, error)
	DeleteByVM(ctx context.Context, vmID string) (int64, error)
}

// ImageStore registers captured images.
type ImageStore interface {
	Insert(ctx context.Context, img *v1alpha1.Image) error
	UpdateState(ctx context.Context, id string, state v1alpha1.ImageState) error
	Delete(ctx context.Context, id string) error
}

// KeyStore resolves account public keys.
type KeyStore interface {
	FindByName(ctx context.Context, accountID, name string) (v1alpha1.KeyPair, error)
}

// ProfileResolver resolves account network profiles. *network.Resolver
// satisfies it.
type ProfileResolver interface {
	Resolve(ctx context.Context, accountID, name string) (*v1alpha1.NetworkProfile, error)
}

// DiskProvisioner prepares volumes and captured images. *disk.Provisioner
// satisfies it.
type DiskProvisioner interface {
	Workspace() *disk.Workspace
	ResolveImage(ctx context.Context, imageID, accountID string) (disk.ImageRef, error)
	CloneToWorkspace(ctx context.Context, ref disk.ImageRef, dir, volumeID string) (string, error)
	Resize(ctx context.Context, path string, format disk.ImageFormat, requested string) error
	RecordVolume(ctx context.Context, accountID, vmID, volumeID string, ref disk.ImageRef, path, size string) (*v1alpha1.Volume, error)
	Convert(ctx context.Context, src string, srcFormat disk.ImageFormat, dst string, format disk.ImageFormat) error
	Sysprep(ctx context.Context, path string) error
	Sparsify(ctx context.Context, path string) error
}

// Hypervisor is the domain surface the manager drives. *libvirt.Gateway
// from internal/libvirt satisfies it.
type Hypervisor interface {
	Lookup(name string) (libvirt.Domain, bool, error)
	Define(desc descriptor.DomainDescriptor, rec metadata.Record) (libvirt.Domain, error)
	Start(dom libvirt.Domain) error
	Stop(ctx context.Context, dom libvirt.Domain, grace time.Duration) error
	Destroy(dom libvirt.Domain) error
	Undefine(dom libvirt.Domain) error
	State(dom libvirt.Domain) (v1alpha1.RunState, error)
	ConsolePort(dom libvirt.Domain) (int, error)
}
