package libvirt

import (
	"fmt"

	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/hearth/internal/descriptor"
	"github.com/jbweber/hearth/internal/metadata"
)

// RenderDomainXML renders desc as libvirt domain XML with the hearth
// ownership record embedded in <metadata>.
func RenderDomainXML(desc descriptor.DomainDescriptor, rec metadata.Record) (string, error) {
	if len(desc.Disks) == 0 {
		return "", fmt.Errorf("domain %s has no disks", desc.Name)
	}

	meta, err := metadata.Marshal(rec)
	if err != nil {
		return "", err
	}

	domain := baseDomain(desc.Name, desc.CPU, desc.MemoryMB)
	domain.Metadata = &libvirtxml.DomainMetadata{XML: meta}

	for i, d := range desc.Disks {
		domain.Devices.Disks = append(domain.Devices.Disks, renderDisk(d, i == 0))
	}
	domain.Devices.Interfaces = []libvirtxml.DomainInterface{renderInterface(desc.Interface)}

	if desc.Console != nil {
		domain.Devices.Graphics = []libvirtxml.DomainGraphic{renderConsole(*desc.Console)}
	}

	xml, err := domain.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal domain XML: %w", err)
	}
	return xml, nil
}

func baseDomain(name string, cpu, memoryMB int) *libvirtxml.Domain {
	zero := func() *uint { i := uint(0); return &i }

	return &libvirtxml.Domain{
		Type: "kvm",
		Name: name,
		Memory: &libvirtxml.DomainMemory{
			Value: uint(memoryMB),
			Unit:  "MiB",
		},
		VCPU: &libvirtxml.DomainVCPU{
			Placement: "static",
			Value:     uint(cpu),
		},
		OS: &libvirtxml.DomainOS{
			Firmware: "efi",
			Type: &libvirtxml.DomainOSType{
				Arch: "x86_64",
				Type: "hvm",
			},
			BIOS: &libvirtxml.DomainBIOS{
				UseSerial: "yes",
			},
		},
		Features: &libvirtxml.DomainFeatureList{
			ACPI: &libvirtxml.DomainFeature{},
			APIC: &libvirtxml.DomainFeatureAPIC{},
		},
		CPU: &libvirtxml.DomainCPU{
			Mode: "host-model",
			Model: &libvirtxml.DomainCPUModel{
				Fallback: "allow",
			},
		},
		Clock: &libvirtxml.DomainClock{
			Offset: "utc",
			Timer: []libvirtxml.DomainTimer{
				{Name: "rtc", TickPolicy: "catchup"},
				{Name: "pit", TickPolicy: "delay"},
				{Name: "hpet", Present: "no"},
			},
		},
		OnPoweroff: "destroy",
		OnReboot:   "restart",
		OnCrash:    "restart",
		Devices: &libvirtxml.DomainDeviceList{
			Controllers: []libvirtxml.DomainController{
				{Type: "pci", Index: zero(), Model: "pci-root"},
			},
			MemBalloon: &libvirtxml.DomainMemBalloon{Model: "virtio"},
			RNGs: []libvirtxml.DomainRNG{{
				Model: "virtio",
				Backend: &libvirtxml.DomainRNGBackend{
					Random: &libvirtxml.DomainRNGBackendRandom{Device: "/dev/urandom"},
				},
			}},
			Serials: []libvirtxml.DomainSerial{{
				Source: &libvirtxml.DomainChardevSource{Pty: &libvirtxml.DomainChardevSourcePty{}},
				Target: &libvirtxml.DomainSerialTarget{Port: zero()},
			}},
			Consoles: []libvirtxml.DomainConsole{{
				Source: &libvirtxml.DomainChardevSource{Pty: &libvirtxml.DomainChardevSourcePty{}},
				Target: &libvirtxml.DomainConsoleTarget{Type: "serial", Port: zero()},
			}},
		},
	}
}

func renderDisk(d descriptor.Disk, boot bool) libvirtxml.DomainDisk {
	disk := libvirtxml.DomainDisk{
		Device: string(d.Device),
		Driver: &libvirtxml.DomainDiskDriver{
			Name: "qemu",
			Type: d.Format,
		},
		Source: &libvirtxml.DomainDiskSource{
			File: &libvirtxml.DomainDiskSourceFile{File: d.Path},
		},
		Target: &libvirtxml.DomainDiskTarget{
			Dev: d.Target,
			Bus: d.Bus,
		},
	}
	if d.Device == descriptor.DeviceDisk {
		disk.Driver.Cache = "none"
	}
	if d.ReadOnly {
		disk.ReadOnly = &libvirtxml.DomainDiskReadOnly{}
	}
	if boot {
		disk.Boot = &libvirtxml.DomainDeviceBoot{Order: 1}
	}
	return disk
}

func renderInterface(iface descriptor.Interface) libvirtxml.DomainInterface {
	out := libvirtxml.DomainInterface{
		Model: &libvirtxml.DomainInterfaceModel{Type: "virtio"},
	}
	if iface.MACAddress != "" {
		out.MAC = &libvirtxml.DomainInterfaceMAC{Address: iface.MACAddress}
	}
	if iface.TargetDev != "" {
		out.Target = &libvirtxml.DomainInterfaceTarget{Dev: iface.TargetDev}
	}

	switch iface.Kind {
	case descriptor.InterfaceBridge:
		out.Source = &libvirtxml.DomainInterfaceSource{
			Bridge: &libvirtxml.DomainInterfaceSourceBridge{Bridge: iface.Source},
		}
	default:
		out.Source = &libvirtxml.DomainInterfaceSource{
			Network: &libvirtxml.DomainInterfaceSourceNetwork{Network: iface.Source},
		}
	}
	return out
}

func renderConsole(c descriptor.Console) libvirtxml.DomainGraphic {
	vnc := &libvirtxml.DomainGraphicVNC{
		Listen: c.Listen,
		Passwd: c.Password,
	}
	if c.AutoPort {
		vnc.Port = -1
		vnc.AutoPort = "yes"
	} else {
		vnc.Port = c.Port
		vnc.AutoPort = "no"
	}
	return libvirtxml.DomainGraphic{VNC: vnc}
}

// ConsolePort returns the VNC port from live domain XML, or -1 when the
// domain has no console or the port is not assigned yet.
func ConsolePort(domainXML string) (int, error) {
	var domain libvirtxml.Domain
	if err := domain.Unmarshal(domainXML); err != nil {
		return -1, fmt.Errorf("failed to parse domain XML: %w", err)
	}
	if domain.Devices == nil {
		return -1, nil
	}
	for _, g := range domain.Devices.Graphics {
		if g.VNC != nil {
			return g.VNC.Port, nil
		}
	}
	return -1, nil
}
