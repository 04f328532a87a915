package libvirt

import (
	"sync"

	"github.com/digitalocean/go-libvirt"
)

var errNoDomain = libvirt.Error{Code: uint32(libvirt.ErrNoDomain), Message: "Domain not found"}

// mockLibvirtClient is a hand-written Client. By default it behaves like a
// daemon holding one running domain named "vm-1a2b3c4d" whose guest honours
// shutdown requests.
type mockLibvirtClient struct {
	mu sync.Mutex

	state int32

	// Configurable behavior
	domainLookupByNameFunc    func(name string) (libvirt.Domain, error)
	domainDefineXMLFunc       func(xml string) (libvirt.Domain, error)
	domainSetAutostartFunc    func(dom libvirt.Domain, autostart int32) error
	domainCreateFunc          func(dom libvirt.Domain) error
	domainShutdownFunc        func(dom libvirt.Domain) error
	domainDestroyFunc         func(dom libvirt.Domain) error
	domainUndefineFlagsFunc   func(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error
	domainUndefineFunc        func(dom libvirt.Domain) error
	domainGetStateErr         error
	domainGetXMLDescFunc      func(dom libvirt.Domain) (string, error)
	domainGetMetadataFunc     func(dom libvirt.Domain) (string, error)
	connectListAllDomainsFunc func() ([]libvirt.Domain, uint32, error)

	// Call tracking
	domainDefineXMLCalls     []string
	domainSetAutostartCalls  []int32
	domainCreateCalls        int
	domainShutdownCalls      int
	domainDestroyCalls       int
	domainUndefineFlagsCalls []libvirt.DomainUndefineFlagsValues
	domainUndefineCalls      int
	domainSetMetadataCalls   int
}

func newMockLibvirtClient() *mockLibvirtClient {
	m := &mockLibvirtClient{state: domainStateRunning}

	m.domainLookupByNameFunc = func(name string) (libvirt.Domain, error) {
		if name == "vm-1a2b3c4d" {
			return libvirt.Domain{Name: name}, nil
		}
		return libvirt.Domain{}, errNoDomain
	}
	m.domainDefineXMLFunc = func(string) (libvirt.Domain, error) {
		m.state = domainStateShutoff
		return libvirt.Domain{Name: "vm-1a2b3c4d"}, nil
	}
	m.domainSetAutostartFunc = func(libvirt.Domain, int32) error { return nil }
	m.domainCreateFunc = func(libvirt.Domain) error {
		m.state = domainStateRunning
		return nil
	}
	m.domainShutdownFunc = func(libvirt.Domain) error {
		m.state = domainStateShutoff
		return nil
	}
	m.domainDestroyFunc = func(libvirt.Domain) error {
		m.state = domainStateShutoff
		return nil
	}
	m.domainUndefineFlagsFunc = func(libvirt.Domain, libvirt.DomainUndefineFlagsValues) error { return nil }
	m.domainUndefineFunc = func(libvirt.Domain) error { return nil }
	m.domainGetXMLDescFunc = func(libvirt.Domain) (string, error) { return "<domain><name>vm-1a2b3c4d</name></domain>", nil }
	m.domainGetMetadataFunc = func(libvirt.Domain) (string, error) {
		return "", libvirt.Error{Code: uint32(libvirt.ErrNoDomainMetadata), Message: "metadata not found"}
	}
	m.connectListAllDomainsFunc = func() ([]libvirt.Domain, uint32, error) {
		return []libvirt.Domain{{Name: "vm-1a2b3c4d"}}, 1, nil
	}
	return m
}

func (m *mockLibvirtClient) setState(s int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

func (m *mockLibvirtClient) DomainLookupByName(name string) (libvirt.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.domainLookupByNameFunc(name)
}

func (m *mockLibvirtClient) DomainDefineXML(xml string) (libvirt.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainDefineXMLCalls = append(m.domainDefineXMLCalls, xml)
	return m.domainDefineXMLFunc(xml)
}

func (m *mockLibvirtClient) DomainSetAutostart(dom libvirt.Domain, autostart int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainSetAutostartCalls = append(m.domainSetAutostartCalls, autostart)
	return m.domainSetAutostartFunc(dom, autostart)
}

func (m *mockLibvirtClient) DomainCreate(dom libvirt.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainCreateCalls++
	return m.domainCreateFunc(dom)
}

func (m *mockLibvirtClient) DomainGetState(libvirt.Domain, uint32) (int32, int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.domainGetStateErr != nil {
		return 0, 0, m.domainGetStateErr
	}
	return m.state, 0, nil
}

func (m *mockLibvirtClient) DomainShutdown(dom libvirt.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainShutdownCalls++
	return m.domainShutdownFunc(dom)
}

func (m *mockLibvirtClient) DomainDestroy(dom libvirt.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainDestroyCalls++
	return m.domainDestroyFunc(dom)
}

func (m *mockLibvirtClient) DomainUndefineFlags(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainUndefineFlagsCalls = append(m.domainUndefineFlagsCalls, flags)
	return m.domainUndefineFlagsFunc(dom, flags)
}

func (m *mockLibvirtClient) DomainUndefine(dom libvirt.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainUndefineCalls++
	return m.domainUndefineFunc(dom)
}

func (m *mockLibvirtClient) DomainGetXMLDesc(dom libvirt.Domain, _ libvirt.DomainXMLFlags) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.domainGetXMLDescFunc(dom)
}

func (m *mockLibvirtClient) ConnectListAllDomains(int32, libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectListAllDomainsFunc()
}

func (m *mockLibvirtClient) DomainSetMetadata(libvirt.Domain, int32, libvirt.OptString, libvirt.OptString, libvirt.OptString, libvirt.DomainModificationImpact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainSetMetadataCalls++
	return nil
}

func (m *mockLibvirtClient) DomainGetMetadata(dom libvirt.Domain, _ int32, _ libvirt.OptString, _ libvirt.DomainModificationImpact) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.domainGetMetadataFunc(dom)
}
