// Package descriptor builds the hypervisor-neutral description of a VM
// domain from already validated inputs.
package descriptor

import (
	"github.com/jbweber/hearth/api/v1alpha1"
)

// Disk slots used for every domain.
const (
	RootTarget = "vda"
	RootBus    = "virtio"

	MediaTarget = "sda"
	MediaBus    = "sata"
)

// AutoPort asks the hypervisor to pick a console port.
const AutoPort = -1

// DiskDevice is the guest-visible device kind.
type DiskDevice string

const (
	DeviceDisk  DiskDevice = "disk"
	DeviceCDROM DiskDevice = "cdrom"
)

// InterfaceKind selects how the NIC is attached on the host.
type InterfaceKind string

const (
	InterfaceBridge  InterfaceKind = "bridge"
	InterfaceNetwork InterfaceKind = "network"
)

// Disk is one attached file.
type Disk struct {
	Path     string
	Format   string
	Device   DiskDevice
	Bus      string
	Target   string
	ReadOnly bool
}

// Interface is the single network attachment of a domain.
type Interface struct {
	Kind InterfaceKind

	// Source is the bridge name or the virtual network name.
	Source     string
	MACAddress string

	// TargetDev is the host tap name. Empty lets the hypervisor choose.
	TargetDev string
}

// Console is a remote graphical console.
type Console struct {
	Port     int
	AutoPort bool
	Listen   string
	Password string
}

// DomainDescriptor is everything the gateway needs to define a domain.
type DomainDescriptor struct {
	Name      string
	CPU       int
	MemoryMB  int
	Disks     []Disk
	Interface Interface
	Console   *Console
}

// NetworkInput is the resolved network attachment.
type NetworkInput struct {
	Type           v1alpha1.NetworkProfileType
	Bridge         string
	VirtualNetwork string
	MACAddress     string
	TargetDev      string
}

// ConsoleInput requests a console. A Port of zero or AutoPort lets the
// hypervisor pick one. The password is generated by the caller.
type ConsoleInput struct {
	Port     int
	Listen   string
	Password string
}

// Input collects the outputs of the earlier provisioning steps.
type Input struct {
	Name     string
	CPU      int
	MemoryMB int

	RootVolumePath   string
	RootVolumeFormat string

	// BootMediaPath is empty when no boot media is attached.
	BootMediaPath string

	Network NetworkInput
	Console *ConsoleInput
}

// Build assembles the descriptor. The root volume always takes the primary
// slot and boot media, when present, follows as a read-only cdrom.
func Build(in Input) DomainDescriptor {
	desc := DomainDescriptor{
		Name:     in.Name,
		CPU:      in.CPU,
		MemoryMB: in.MemoryMB,
		Disks: []Disk{{
			Path:   in.RootVolumePath,
			Format: in.RootVolumeFormat,
			Device: DeviceDisk,
			Bus:    RootBus,
			Target: RootTarget,
		}},
		Interface: buildInterface(in.Network),
	}

	if in.BootMediaPath != "" {
		desc.Disks = append(desc.Disks, Disk{
			Path:     in.BootMediaPath,
			Format:   "raw",
			Device:   DeviceCDROM,
			Bus:      MediaBus,
			Target:   MediaTarget,
			ReadOnly: true,
		})
	}

	if in.Console != nil {
		c := &Console{
			Port:     in.Console.Port,
			Listen:   in.Console.Listen,
			Password: in.Console.Password,
		}
		if c.Port <= 0 {
			c.Port = AutoPort
			c.AutoPort = true
		}
		desc.Console = c
	}

	return desc
}

func buildInterface(n NetworkInput) Interface {
	iface := Interface{MACAddress: n.MACAddress, TargetDev: n.TargetDev}
	if n.Type == v1alpha1.NetworkBridgeToLan {
		iface.Kind = InterfaceBridge
		iface.Source = n.Bridge
		return iface
	}
	iface.Kind = InterfaceNetwork
	iface.Source = n.VirtualNetwork
	return iface
}

// RootDisk returns the primary disk.
func (d DomainDescriptor) RootDisk() Disk {
	return d.Disks[0]
}

// BootMedia returns the boot media attachment, if any.
func (d DomainDescriptor) BootMedia() (Disk, bool) {
	for _, disk := range d.Disks[1:] {
		if disk.Device == DeviceCDROM {
			return disk, true
		}
	}
	return Disk{}, false
}
