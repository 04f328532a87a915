package vm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/hearth/api/v1alpha1"
	"github.com/jbweber/hearth/internal/descriptor"
	"github.com/jbweber/hearth/internal/metadata"
)

// fakeHypervisor keeps domains in memory. Error fields make the matching
// call fail.
type fakeHypervisor struct {
	mu sync.Mutex

	domains     map[string]v1alpha1.RunState
	consolePort int

	lookupErr   error
	defineErr   error
	startErr    error
	stopErr     error
	destroyErr  error
	undefineErr error

	calls       []string
	descriptors []descriptor.DomainDescriptor
	records     []metadata.Record

	// onDefine runs after a successful Define, outside the lock.
	onDefine func()
}

func newFakeHypervisor() *fakeHypervisor {
	return &fakeHypervisor{domains: make(map[string]v1alpha1.RunState), consolePort: -1}
}

func (f *fakeHypervisor) record(call string, dom string) {
	f.calls = append(f.calls, call+" "+dom)
}

func (f *fakeHypervisor) Lookup(name string) (libvirt.Domain, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("lookup", name)
	if f.lookupErr != nil {
		return libvirt.Domain{}, false, f.lookupErr
	}
	_, ok := f.domains[name]
	return libvirt.Domain{Name: name}, ok, nil
}

func (f *fakeHypervisor) Define(desc descriptor.DomainDescriptor, rec metadata.Record) (libvirt.Domain, error) {
	f.mu.Lock()
	f.record("define", desc.Name)
	if f.defineErr != nil {
		f.mu.Unlock()
		return libvirt.Domain{}, f.defineErr
	}
	f.domains[desc.Name] = v1alpha1.RunStateShutOff
	f.descriptors = append(f.descriptors, desc)
	f.records = append(f.records, rec)
	onDefine := f.onDefine
	f.mu.Unlock()

	if onDefine != nil {
		onDefine()
	}
	return libvirt.Domain{Name: desc.Name}, nil
}

func (f *fakeHypervisor) Start(dom libvirt.Domain) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start", dom.Name)
	if f.startErr != nil {
		return f.startErr
	}
	if _, ok := f.domains[dom.Name]; !ok {
		return fmt.Errorf("domain %s not found", dom.Name)
	}
	f.domains[dom.Name] = v1alpha1.RunStateRunning
	return nil
}

func (f *fakeHypervisor) Stop(_ context.Context, dom libvirt.Domain, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop", dom.Name)
	if f.stopErr != nil {
		return f.stopErr
	}
	if _, ok := f.domains[dom.Name]; ok {
		f.domains[dom.Name] = v1alpha1.RunStateShutOff
	}
	return nil
}

func (f *fakeHypervisor) Destroy(dom libvirt.Domain) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("destroy", dom.Name)
	if f.destroyErr != nil {
		return f.destroyErr
	}
	if _, ok := f.domains[dom.Name]; ok {
		f.domains[dom.Name] = v1alpha1.RunStateShutOff
	}
	return nil
}

func (f *fakeHypervisor) Undefine(dom libvirt.Domain) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("undefine", dom.Name)
	if f.undefineErr != nil {
		return f.undefineErr
	}
	delete(f.domains, dom.Name)
	return nil
}

func (f *fakeHypervisor) State(dom libvirt.Domain) (v1alpha1.RunState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.domains[dom.Name]
	if !ok {
		return v1alpha1.RunStateUnknown, fmt.Errorf("domain %s not found", dom.Name)
	}
	return state, nil
}

func (f *fakeHypervisor) ConsolePort(dom libvirt.Domain) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.consolePort, nil
}

// setState places a domain in state, creating it if needed.
func (f *fakeHypervisor) setState(name string, state v1alpha1.RunState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.domains[name] = state
}

func (f *fakeHypervisor) stateOf(name string) (v1alpha1.RunState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.domains[name]
	return state, ok
}

// count returns how many times call was made, e.g. count("stop").
func (f *fakeHypervisor) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, call+" ") {
			n++
		}
	}
	return n
}

// lifecycleCalls returns the calls other than lookups, in order.
func (f *fakeHypervisor) lifecycleCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if !strings.HasPrefix(c, "lookup ") {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeHypervisor) lastDescriptor() descriptor.DomainDescriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.descriptors[len(f.descriptors)-1]
}

// fakeRunner answers tool invocations. qemu-img info reports a 2 GiB
// image; Fail makes any invocation whose command line contains the key
// fail.
type fakeRunner struct {
	mu    sync.Mutex
	calls []string

	Fail   map[string]error
	OnCall func(cmdline string)
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	cmdline := strings.Join(append([]string{name}, args...), " ")

	f.mu.Lock()
	f.calls = append(f.calls, cmdline)
	onCall := f.OnCall
	var failErr error
	for key, err := range f.Fail {
		if strings.Contains(cmdline, key) {
			failErr = err
		}
	}
	f.mu.Unlock()

	if onCall != nil {
		onCall(cmdline)
	}
	if failErr != nil {
		return nil, failErr
	}
	if len(args) > 0 && args[0] == "info" {
		return []byte(fmt.Sprintf(`{"virtual-size": %d, "format": "qcow2"}`, int64(2<<30))), nil
	}
	return nil, nil
}

func (f *fakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRunner) ran(key string) bool {
	for _, c := range f.Calls() {
		if strings.Contains(c, key) {
			return true
		}
	}
	return false
}
