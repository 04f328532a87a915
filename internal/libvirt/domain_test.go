package libvirt

import (
	"strings"
	"testing"

	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/hearth/api/v1alpha1"
	"github.com/jbweber/hearth/internal/descriptor"
	"github.com/jbweber/hearth/internal/metadata"
)

func parseDomain(t *testing.T, xml string) libvirtxml.Domain {
	t.Helper()
	var domain libvirtxml.Domain
	if err := domain.Unmarshal(xml); err != nil {
		t.Fatalf("rendered XML does not parse: %v", err)
	}
	return domain
}

func TestRenderDomainXML_Bridged(t *testing.T) {
	xml, err := RenderDomainXML(testDescriptor(), testRecord())
	if err != nil {
		t.Fatalf("RenderDomainXML() error = %v", err)
	}
	domain := parseDomain(t, xml)

	if domain.Name != "vm-1a2b3c4d" || domain.Type != "kvm" {
		t.Errorf("name/type = %s/%s", domain.Name, domain.Type)
	}
	if domain.Memory.Value != 2048 || domain.Memory.Unit != "MiB" {
		t.Errorf("memory = %+v", domain.Memory)
	}
	if domain.VCPU.Value != 2 {
		t.Errorf("vcpu = %d", domain.VCPU.Value)
	}

	disks := domain.Devices.Disks
	if len(disks) != 2 {
		t.Fatalf("got %d disks, want 2", len(disks))
	}
	root := disks[0]
	if root.Target.Dev != "vda" || root.Target.Bus != "virtio" || root.Driver.Type != "qcow2" {
		t.Errorf("root disk = %+v / %+v", root.Target, root.Driver)
	}
	if root.Boot == nil || root.Boot.Order != 1 {
		t.Error("root disk is not first in boot order")
	}
	if root.Source.File.File != "/var/lib/hearth/acct-a/vm-1a2b3c4d/vol-0a0b0c0d.qcow2" {
		t.Errorf("root source = %s", root.Source.File.File)
	}
	media := disks[1]
	if media.Device != "cdrom" || media.Target.Dev != "sda" || media.Target.Bus != "sata" {
		t.Errorf("media disk = %s %+v", media.Device, media.Target)
	}
	if media.ReadOnly == nil {
		t.Error("boot media is writable")
	}

	if len(domain.Devices.Interfaces) != 1 {
		t.Fatalf("got %d interfaces", len(domain.Devices.Interfaces))
	}
	iface := domain.Devices.Interfaces[0]
	if iface.Source.Bridge == nil || iface.Source.Bridge.Bridge != "br0" {
		t.Errorf("interface source = %+v", iface.Source)
	}
	if iface.MAC.Address != "be:ef:ac:10:09:0c" || iface.Target.Dev != "vmac10090c" {
		t.Errorf("interface mac/target = %+v %+v", iface.MAC, iface.Target)
	}
	if len(domain.Devices.Graphics) != 0 {
		t.Error("console rendered without a request")
	}

	rec, err := metadata.Parse(domain.Metadata.XML)
	if err != nil {
		t.Fatalf("embedded metadata does not parse: %v", err)
	}
	if rec != testRecord() {
		t.Errorf("metadata = %+v, want %+v", rec, testRecord())
	}
}

func TestRenderDomainXML_NATWithConsole(t *testing.T) {
	desc := descriptor.Build(descriptor.Input{
		Name:             "vm-1a2b3c4d",
		CPU:              1,
		MemoryMB:         512,
		RootVolumePath:   "/tmp/root.raw",
		RootVolumeFormat: "raw",
		Network: descriptor.NetworkInput{
			Type:           v1alpha1.NetworkNAT,
			VirtualNetwork: "default",
		},
		Console: &descriptor.ConsoleInput{Listen: "127.0.0.1", Password: "s3cr3t!!"},
	})

	xml, err := RenderDomainXML(desc, testRecord())
	if err != nil {
		t.Fatalf("RenderDomainXML() error = %v", err)
	}
	domain := parseDomain(t, xml)

	if len(domain.Devices.Disks) != 1 {
		t.Errorf("got %d disks, want root only", len(domain.Devices.Disks))
	}
	iface := domain.Devices.Interfaces[0]
	if iface.Source.Network == nil || iface.Source.Network.Network != "default" {
		t.Errorf("interface source = %+v", iface.Source)
	}
	if iface.MAC != nil {
		t.Errorf("NAT interface has fixed mac %+v", iface.MAC)
	}

	if len(domain.Devices.Graphics) != 1 || domain.Devices.Graphics[0].VNC == nil {
		t.Fatalf("graphics = %+v", domain.Devices.Graphics)
	}
	vnc := domain.Devices.Graphics[0].VNC
	if vnc.AutoPort != "yes" || vnc.Port != -1 || vnc.Listen != "127.0.0.1" || vnc.Passwd != "s3cr3t!!" {
		t.Errorf("vnc = %+v", vnc)
	}
}

func TestRenderDomainXML_FixedConsolePort(t *testing.T) {
	desc := testDescriptor()
	desc.Console = &descriptor.Console{Port: 5905, Listen: "0.0.0.0"}

	xml, err := RenderDomainXML(desc, testRecord())
	if err != nil {
		t.Fatalf("RenderDomainXML() error = %v", err)
	}
	port, err := ConsolePort(xml)
	if err != nil {
		t.Fatalf("ConsolePort() error = %v", err)
	}
	if port != 5905 {
		t.Errorf("port = %d, want 5905", port)
	}
	if !strings.Contains(xml, `autoport="no"`) {
		t.Error("fixed port rendered with autoport")
	}
}

func TestRenderDomainXML_Errors(t *testing.T) {
	if _, err := RenderDomainXML(descriptor.DomainDescriptor{Name: "vm-1a2b3c4d"}, testRecord()); err == nil {
		t.Error("descriptor without disks expected error")
	}
	if _, err := RenderDomainXML(testDescriptor(), metadata.Record{}); err == nil {
		t.Error("record without vm id expected error")
	}
}

func TestConsolePort_NoConsole(t *testing.T) {
	port, err := ConsolePort("<domain><name>x</name></domain>")
	if err != nil {
		t.Fatalf("ConsolePort() error = %v", err)
	}
	if port != -1 {
		t.Errorf("port = %d, want -1", port)
	}
	if _, err := ConsolePort("not xml"); err == nil {
		t.Error("invalid XML expected error")
	}
}
