package libvirt

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/hearth/api/v1alpha1"
	"github.com/jbweber/hearth/internal/descriptor"
	"github.com/jbweber/hearth/internal/metadata"
)

func newTestGateway(m *mockLibvirtClient) *Gateway {
	log := logrus.New()
	log.SetOutput(io.Discard)
	g := NewGateway(m, log)
	g.pollInterval = 5 * time.Millisecond
	return g
}

func TestLookup(t *testing.T) {
	m := newMockLibvirtClient()
	g := newTestGateway(m)

	dom, found, err := g.Lookup("vm-1a2b3c4d")
	if err != nil || !found || dom.Name != "vm-1a2b3c4d" {
		t.Errorf("Lookup(existing) = %v, %v, %v", dom, found, err)
	}

	_, found, err = g.Lookup("vm-missing0")
	if err != nil {
		t.Errorf("Lookup(missing) error = %v, want nil", err)
	}
	if found {
		t.Error("Lookup(missing) found = true")
	}

	m.domainLookupByNameFunc = func(string) (libvirt.Domain, error) { return libvirt.Domain{}, errors.New("connection reset") }
	if _, _, err := g.Lookup("vm-1a2b3c4d"); err == nil {
		t.Error("Lookup() with transport failure expected error")
	}
}

func TestDefine(t *testing.T) {
	m := newMockLibvirtClient()
	g := newTestGateway(m)

	dom, err := g.Define(testDescriptor(), testRecord())
	if err != nil {
		t.Fatalf("Define() error = %v", err)
	}
	if dom.Name != "vm-1a2b3c4d" {
		t.Errorf("domain = %v", dom)
	}
	if len(m.domainDefineXMLCalls) != 1 {
		t.Fatalf("DomainDefineXML calls = %d", len(m.domainDefineXMLCalls))
	}
	if len(m.domainSetAutostartCalls) != 1 || m.domainSetAutostartCalls[0] != 1 {
		t.Errorf("autostart calls = %v", m.domainSetAutostartCalls)
	}
}

func TestDefine_Rejected(t *testing.T) {
	m := newMockLibvirtClient()
	m.domainDefineXMLFunc = func(string) (libvirt.Domain, error) {
		return libvirt.Domain{}, libvirt.Error{Code: 27, Message: "XML error: bad bridge"}
	}
	g := newTestGateway(m)

	_, err := g.Define(testDescriptor(), testRecord())
	if !errors.Is(err, ErrDefine) {
		t.Fatalf("Define() error = %v, want ErrDefine", err)
	}
	if len(m.domainUndefineFlagsCalls) != 0 {
		t.Error("undefine called for a domain that was never defined")
	}
}

func TestDefine_AutostartFailureUndefines(t *testing.T) {
	m := newMockLibvirtClient()
	m.domainSetAutostartFunc = func(libvirt.Domain, int32) error { return errors.New("permission denied") }
	g := newTestGateway(m)

	if _, err := g.Define(testDescriptor(), testRecord()); !errors.Is(err, ErrDefine) {
		t.Fatalf("Define() error = %v, want ErrDefine", err)
	}
	if len(m.domainUndefineFlagsCalls) != 1 {
		t.Errorf("undefine calls = %d, want 1", len(m.domainUndefineFlagsCalls))
	}
}

func TestDefine_InvalidRecord(t *testing.T) {
	g := newTestGateway(newMockLibvirtClient())
	if _, err := g.Define(testDescriptor(), metadata.Record{}); !errors.Is(err, ErrDefine) {
		t.Errorf("Define() error = %v, want ErrDefine", err)
	}
}

func TestStart(t *testing.T) {
	tests := []struct {
		name        string
		state       int32
		wantCreates int
	}{
		{name: "shut off domain is started", state: domainStateShutoff, wantCreates: 1},
		{name: "crashed domain is started", state: domainStateCrashed, wantCreates: 1},
		{name: "running domain is a no-op", state: domainStateRunning, wantCreates: 0},
		{name: "paused domain is a no-op", state: domainStatePaused, wantCreates: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMockLibvirtClient()
			m.setState(tt.state)
			g := newTestGateway(m)

			if err := g.Start(libvirt.Domain{Name: "vm-1a2b3c4d"}); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			if m.domainCreateCalls != tt.wantCreates {
				t.Errorf("DomainCreate calls = %d, want %d", m.domainCreateCalls, tt.wantCreates)
			}
		})
	}
}

func TestStart_Failure(t *testing.T) {
	m := newMockLibvirtClient()
	m.setState(domainStateShutoff)
	m.domainCreateFunc = func(libvirt.Domain) error { return errors.New("bridge br0 missing") }
	g := newTestGateway(m)

	if err := g.Start(libvirt.Domain{Name: "vm-1a2b3c4d"}); err == nil {
		t.Error("Start() expected error")
	}
}

func TestStop_Graceful(t *testing.T) {
	m := newMockLibvirtClient()
	g := newTestGateway(m)

	if err := g.Stop(context.Background(), libvirt.Domain{Name: "vm-1a2b3c4d"}, time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if m.domainShutdownCalls != 1 {
		t.Errorf("shutdown calls = %d, want 1", m.domainShutdownCalls)
	}
	if m.domainDestroyCalls != 0 {
		t.Errorf("destroy calls = %d, want 0", m.domainDestroyCalls)
	}
}

func TestStop_TimeoutEscalates(t *testing.T) {
	m := newMockLibvirtClient()
	// Guest ignores the ACPI request.
	m.domainShutdownFunc = func(libvirt.Domain) error { return nil }
	g := newTestGateway(m)

	if err := g.Stop(context.Background(), libvirt.Domain{Name: "vm-1a2b3c4d"}, 30*time.Millisecond); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if m.domainDestroyCalls != 1 {
		t.Errorf("destroy calls = %d, want 1", m.domainDestroyCalls)
	}
}

func TestStop_CancelledDoesNotDestroy(t *testing.T) {
	m := newMockLibvirtClient()
	// Guest ignores the ACPI request.
	m.domainShutdownFunc = func(libvirt.Domain) error { return nil }
	g := newTestGateway(m)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := g.Stop(ctx, libvirt.Domain{Name: "vm-1a2b3c4d"}, 240*time.Second)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop() error = %v, want %v", err, context.DeadlineExceeded)
	}
	if m.domainShutdownCalls != 1 {
		t.Errorf("shutdown calls = %d, want 1", m.domainShutdownCalls)
	}
	if m.domainDestroyCalls != 0 {
		t.Errorf("destroy calls = %d, want 0", m.domainDestroyCalls)
	}
}

func TestStop_ShutdownRequestFails(t *testing.T) {
	m := newMockLibvirtClient()
	m.domainShutdownFunc = func(libvirt.Domain) error { return errors.New("agent not responding") }
	g := newTestGateway(m)

	if err := g.Stop(context.Background(), libvirt.Domain{Name: "vm-1a2b3c4d"}, time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if m.domainDestroyCalls != 1 {
		t.Errorf("destroy calls = %d, want 1", m.domainDestroyCalls)
	}
}

func TestStop_AlreadyStopped(t *testing.T) {
	m := newMockLibvirtClient()
	m.setState(domainStateShutoff)
	g := newTestGateway(m)

	if err := g.Stop(context.Background(), libvirt.Domain{Name: "vm-1a2b3c4d"}, time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if m.domainShutdownCalls != 0 || m.domainDestroyCalls != 0 {
		t.Errorf("shutdown/destroy calls = %d/%d, want 0/0", m.domainShutdownCalls, m.domainDestroyCalls)
	}
}

func TestDestroy_RacesGuestPoweroff(t *testing.T) {
	m := newMockLibvirtClient()
	m.domainDestroyFunc = func(libvirt.Domain) error {
		return libvirt.Error{Code: uint32(libvirt.ErrOperationInvalid), Message: "domain is not running"}
	}
	g := newTestGateway(m)

	if err := g.Destroy(libvirt.Domain{Name: "vm-1a2b3c4d"}); err != nil {
		t.Errorf("Destroy() error = %v, want nil", err)
	}

	m.domainDestroyFunc = func(libvirt.Domain) error { return errors.New("connection reset") }
	if err := g.Destroy(libvirt.Domain{Name: "vm-1a2b3c4d"}); err == nil {
		t.Error("Destroy() expected error")
	}
}

func TestUndefine(t *testing.T) {
	t.Run("with flags", func(t *testing.T) {
		m := newMockLibvirtClient()
		g := newTestGateway(m)
		if err := g.Undefine(libvirt.Domain{Name: "vm-1a2b3c4d"}); err != nil {
			t.Fatalf("Undefine() error = %v", err)
		}
		want := libvirt.DomainUndefineNvram | libvirt.DomainUndefineManagedSave
		if len(m.domainUndefineFlagsCalls) != 1 || m.domainUndefineFlagsCalls[0] != want {
			t.Errorf("flags calls = %v", m.domainUndefineFlagsCalls)
		}
		if m.domainUndefineCalls != 0 {
			t.Error("fallback undefine should not run")
		}
	})

	t.Run("falls back without flags", func(t *testing.T) {
		m := newMockLibvirtClient()
		m.domainUndefineFlagsFunc = func(libvirt.Domain, libvirt.DomainUndefineFlagsValues) error {
			return errors.New("unsupported flags")
		}
		g := newTestGateway(m)
		if err := g.Undefine(libvirt.Domain{Name: "vm-1a2b3c4d"}); err != nil {
			t.Fatalf("Undefine() error = %v", err)
		}
		if m.domainUndefineCalls != 1 {
			t.Errorf("fallback calls = %d, want 1", m.domainUndefineCalls)
		}
	})

	t.Run("already undefined", func(t *testing.T) {
		m := newMockLibvirtClient()
		m.domainUndefineFlagsFunc = func(libvirt.Domain, libvirt.DomainUndefineFlagsValues) error { return errNoDomain }
		g := newTestGateway(m)
		if err := g.Undefine(libvirt.Domain{Name: "vm-1a2b3c4d"}); err != nil {
			t.Errorf("Undefine() error = %v, want nil", err)
		}
	})

	t.Run("both fail", func(t *testing.T) {
		m := newMockLibvirtClient()
		m.domainUndefineFlagsFunc = func(libvirt.Domain, libvirt.DomainUndefineFlagsValues) error { return errors.New("busy") }
		m.domainUndefineFunc = func(libvirt.Domain) error { return errors.New("busy") }
		g := newTestGateway(m)
		if err := g.Undefine(libvirt.Domain{Name: "vm-1a2b3c4d"}); err == nil {
			t.Error("Undefine() expected error")
		}
	})
}

func TestState(t *testing.T) {
	tests := []struct {
		state int32
		want  v1alpha1.RunState
	}{
		{domainStateNoState, v1alpha1.RunStateNoState},
		{domainStateRunning, v1alpha1.RunStateRunning},
		{domainStateBlocked, v1alpha1.RunStateBlocked},
		{domainStatePaused, v1alpha1.RunStatePaused},
		{domainStateShutdown, v1alpha1.RunStateShuttingDown},
		{domainStateShutoff, v1alpha1.RunStateShutOff},
		{domainStateCrashed, v1alpha1.RunStateCrashed},
		{domainStatePMSuspended, v1alpha1.RunStateSuspended},
		{42, v1alpha1.RunStateUnknown},
	}

	m := newMockLibvirtClient()
	g := newTestGateway(m)
	for _, tt := range tests {
		m.setState(tt.state)
		got, err := g.State(libvirt.Domain{Name: "vm-1a2b3c4d"})
		if err != nil {
			t.Fatalf("State() error = %v", err)
		}
		if got != tt.want {
			t.Errorf("State(%d) = %s, want %s", tt.state, got, tt.want)
		}
	}

	m.domainGetStateErr = errors.New("connection reset")
	if _, err := g.State(libvirt.Domain{}); err == nil {
		t.Error("State() expected error")
	}
}

func TestGatewayConsolePort(t *testing.T) {
	m := newMockLibvirtClient()
	m.domainGetXMLDescFunc = func(libvirt.Domain) (string, error) {
		return `<domain type="kvm"><name>vm-1a2b3c4d</name><devices><graphics type="vnc" port="5901" autoport="yes" listen="0.0.0.0"></graphics></devices></domain>`, nil
	}
	g := newTestGateway(m)

	port, err := g.ConsolePort(libvirt.Domain{Name: "vm-1a2b3c4d"})
	if err != nil {
		t.Fatalf("ConsolePort() error = %v", err)
	}
	if port != 5901 {
		t.Errorf("port = %d, want 5901", port)
	}
}

func TestListDomains(t *testing.T) {
	m := newMockLibvirtClient()
	el, err := metadata.Marshal(testRecord())
	if err != nil {
		t.Fatal(err)
	}
	m.connectListAllDomainsFunc = func() ([]libvirt.Domain, uint32, error) {
		return []libvirt.Domain{{Name: "vm-1a2b3c4d"}, {Name: "legacy"}}, 2, nil
	}
	m.domainGetMetadataFunc = func(dom libvirt.Domain) (string, error) {
		if dom.Name == "vm-1a2b3c4d" {
			return el, nil
		}
		return "", libvirt.Error{Code: uint32(libvirt.ErrNoDomainMetadata)}
	}
	g := newTestGateway(m)

	infos, err := g.ListDomains()
	if err != nil {
		t.Fatalf("ListDomains() error = %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("got %d domains, want 2", len(infos))
	}
	if infos[0].Record == nil || infos[0].Record.AccountID != "acct-a" {
		t.Errorf("hearth domain record = %+v", infos[0].Record)
	}
	if infos[1].Record != nil {
		t.Errorf("foreign domain has record %+v", infos[1].Record)
	}
	if infos[0].State != v1alpha1.RunStateRunning {
		t.Errorf("state = %s", infos[0].State)
	}

	m.connectListAllDomainsFunc = func() ([]libvirt.Domain, uint32, error) { return nil, 0, errors.New("denied") }
	if _, err := g.ListDomains(); err == nil {
		t.Error("ListDomains() expected error")
	}
}

func testDescriptor() descriptor.DomainDescriptor {
	return descriptor.Build(descriptor.Input{
		Name:             "vm-1a2b3c4d",
		CPU:              2,
		MemoryMB:         2048,
		RootVolumePath:   "/var/lib/hearth/acct-a/vm-1a2b3c4d/vol-0a0b0c0d.qcow2",
		RootVolumeFormat: "qcow2",
		BootMediaPath:    "/var/lib/hearth/acct-a/vm-1a2b3c4d/cidata.iso",
		Network: descriptor.NetworkInput{
			Type:       v1alpha1.NetworkBridgeToLan,
			Bridge:     "br0",
			MACAddress: "be:ef:ac:10:09:0c",
			TargetDev:  "vmac10090c",
		},
	})
}

func testRecord() metadata.Record {
	return metadata.Record{
		VMID:         "vm-1a2b3c4d",
		AccountID:    "acct-a",
		ImageID:      "gmi-fedora01",
		ImageName:    "fedora-42",
		InstanceType: "standard.small",
	}
}
