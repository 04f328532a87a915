package v1alpha1

// Volume is a disk file cloned from an image into a VM workspace.
type Volume struct {
	ObjectMeta `json:",inline" yaml:",inline"`

	// VMID is empty until the volume is attached.
	VMID    string `json:"vmId,omitempty" yaml:"vmId,omitempty"`
	ImageID string `json:"imageId" yaml:"imageId"`
	Format  string `json:"format" yaml:"format"`
	Path    string `json:"path" yaml:"path"`
	Size    string `json:"size" yaml:"size"`
}

// NetworkProfileType selects how a VM is attached to the network.
type NetworkProfileType string

const (
	// NetworkBridgeToLan bridges the VM directly onto a LAN segment. Guest
	// addressing is delivered through the boot configuration.
	NetworkBridgeToLan NetworkProfileType = "BridgeToLan"

	// NetworkNAT attaches the VM to a hypervisor virtual network.
	NetworkNAT NetworkProfileType = "NAT"
)

// NetworkProfile is a named, account-scoped network definition.
type NetworkProfile struct {
	ObjectMeta `json:",inline" yaml:",inline"`

	Name   string             `json:"name" yaml:"name"`
	Type   NetworkProfileType `json:"type" yaml:"type"`
	Config NetworkConfig      `json:"config" yaml:"config"`
}

// NetworkConfig holds the per-type profile settings.
type NetworkConfig struct {
	// Network is the subnet base address, e.g. 172.16.9.0.
	Network    string   `json:"network,omitempty" yaml:"network,omitempty"`
	Prefix     int      `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Gateway    string   `json:"gateway,omitempty" yaml:"gateway,omitempty"`
	DNSServers []string `json:"dnsServers,omitempty" yaml:"dnsServers,omitempty"`

	// Bridge is the host bridge interface for BridgeToLan profiles.
	Bridge string `json:"bridge,omitempty" yaml:"bridge,omitempty"`

	// VirtualNetwork is the libvirt network name for NAT profiles.
	VirtualNetwork string `json:"virtualNetwork,omitempty" yaml:"virtualNetwork,omitempty"`
}

// ImageVisibility controls which accounts can resolve an image.
type ImageVisibility string

const (
	// ImageVisibilityGuest images are visible to every account.
	ImageVisibilityGuest ImageVisibility = "guest"

	// ImageVisibilityUser images are visible only to their owning account.
	ImageVisibilityUser ImageVisibility = "user"
)

// ImageState tracks image capture progress.
type ImageState string

const (
	ImageStatePending ImageState = "PENDING"
	ImageStateReady   ImageState = "READY"
)

// Image is a bootable disk image in the catalog.
type Image struct {
	ObjectMeta `json:",inline" yaml:",inline"`

	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Visibility  ImageVisibility `json:"visibility" yaml:"visibility"`
	Format      string          `json:"format" yaml:"format"`
	Path        string          `json:"path" yaml:"path"`
	State       ImageState      `json:"state" yaml:"state"`

	// Deactivated images are hidden from resolution and listing.
	Deactivated bool `json:"deactivated,omitempty" yaml:"deactivated,omitempty"`

	// SourceVMID is set for images captured from a VM.
	SourceVMID string `json:"sourceVmId,omitempty" yaml:"sourceVmId,omitempty"`
}

// KeyPair is a named SSH public key owned by an account.
type KeyPair struct {
	ObjectMeta `json:",inline" yaml:",inline"`

	Name        string `json:"name" yaml:"name"`
	PublicKey   string `json:"publicKey" yaml:"publicKey"`
	Fingerprint string `json:"fingerprint" yaml:"fingerprint"`
}
