package vm

import (
	"context"
	"errors"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/hearth/api/v1alpha1"
	"github.com/jbweber/hearth/internal/repository"
	"github.com/jbweber/hearth/internal/status"
)

// DefaultStopTimeout is how long a guest gets to power off before it is
// destroyed.
const DefaultStopTimeout = 240 * time.Second

// Deps are the collaborators of a Manager.
type Deps struct {
	VMs        VMStore
	Volumes    VolumeStore
	Images     ImageStore
	Keys       KeyStore
	Profiles   ProfileResolver
	Disks      DiskProvisioner
	Hypervisor Hypervisor
}

// Options tune a Manager.
type Options struct {
	// Host is recorded on every VM built by this manager.
	Host string

	CloudName string
	Zone      string
	Region    string

	// KeepFailedBuilds leaves a failed create's workspace and record in
	// place, with the record marked FAILED, instead of rolling back.
	KeepFailedBuilds bool

	StopTimeout time.Duration

	// ServiceKey is injected into every guest after the user's key.
	ServiceKey string

	ConsoleListen string

	Log logrus.FieldLogger
}

// Manager orchestrates VM lifecycles across the record store, the disk
// provisioner and the hypervisor. Operations on one VM id are serialized by
// compare-and-swap on the record state; a clash fails fast with
// KindConflictingOperation.
type Manager struct {
	vms      VMStore
	volumes  VolumeStore
	images   ImageStore
	keys     KeyStore
	profiles ProfileResolver
	disks    DiskProvisioner
	hv       Hypervisor
	opts     Options
	log      logrus.FieldLogger
}

// NewManager returns a Manager.
func NewManager(deps Deps, opts Options) *Manager {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.ConsoleListen == "" {
		opts.ConsoleListen = "0.0.0.0"
	}
	if opts.CloudName == "" {
		opts.CloudName = "hearth"
	}
	return &Manager{
		vms:      deps.VMs,
		volumes:  deps.Volumes,
		images:   deps.Images,
		keys:     deps.Keys,
		profiles: deps.Profiles,
		disks:    deps.Disks,
		hv:       deps.Hypervisor,
		opts:     opts,
		log:      opts.Log,
	}
}

// loadRecord fetches a record, scoped to accountID when one is given.
func (m *Manager) loadRecord(ctx context.Context, op, accountID, vmID string) (*v1alpha1.VirtualMachine, error) {
	var (
		rec *v1alpha1.VirtualMachine
		err error
	)
	if accountID != "" {
		rec, err = m.vms.GetForAccount(ctx, vmID, accountID)
	} else {
		rec, err = m.vms.Get(ctx, vmID)
	}
	if err != nil {
		return nil, m.recordErr(op, vmID, err)
	}
	return rec, nil
}

func (m *Manager) recordErr(op, vmID string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return newError(op, KindNotFound, vmID, "no such vm")
	}
	return newError(op, KindInternal, vmID, "failed to load record: %v", err)
}

func (m *Manager) casErr(op, vmID string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return newError(op, KindNotFound, vmID, "no such vm")
	case errors.Is(err, repository.ErrStateConflict):
		return newError(op, KindConflictingOperation, vmID, "%v", err)
	}
	return newError(op, KindInternal, vmID, "failed to lock record: %v", err)
}

// acquire moves the record into the operation's holding state and returns
// a release func that puts back the state it was taken from.
func (m *Manager) acquire(ctx context.Context, op status.Operation, vmID string, force bool) (func(), error) {
	from, hold, err := status.Gate(op, force)
	if err != nil {
		return nil, newError(string(op), KindInternal, vmID, "%v", err)
	}

	prev, err := m.vms.CompareAndSwapState(ctx, vmID, from, hold)
	if err != nil {
		return nil, m.casErr(string(op), vmID, err)
	}
	return func() { m.restoreState(ctx, vmID, hold, prev) }, nil
}

// restoreState swaps the record from held back to prev. The caller's
// context may be done by now, so its cancellation is ignored.
func (m *Manager) restoreState(ctx context.Context, vmID string, held, prev v1alpha1.VMState) {
	if _, err := m.vms.CompareAndSwapState(context.WithoutCancel(ctx), vmID, []v1alpha1.VMState{held}, prev); err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{"vm_id": vmID, "state": prev}).Warn("failed to release vm record")
	}
}

// lookupDomain resolves the domain of vmID. Absence is reported as
// found=false.
func (m *Manager) lookupDomain(op, vmID string) (libvirt.Domain, bool, error) {
	dom, found, err := m.hv.Lookup(vmID)
	if err != nil {
		return libvirt.Domain{}, false, newError(op, KindInternal, vmID, "hypervisor lookup failed: %v", err)
	}
	return dom, found, nil
}

func (m *Manager) vmLog(vmID string) logrus.FieldLogger {
	return m.log.WithField("vm_id", vmID)
}
