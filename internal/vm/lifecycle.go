package vm

import (
	"context"

	"github.com/jbweber/hearth/internal/status"
)

// Start boots the VM's domain. Starting a running VM succeeds without
// change. An empty accountID skips the ownership check.
func (m *Manager) Start(ctx context.Context, accountID, vmID string) error {
	const op = string(status.OpStart)

	if _, err := m.loadRecord(ctx, op, accountID, vmID); err != nil {
		return err
	}
	release, err := m.acquire(ctx, status.OpStart, vmID, false)
	if err != nil {
		return err
	}
	defer release()

	dom, found, err := m.lookupDomain(op, vmID)
	if err != nil {
		return err
	}
	if !found {
		return newError(op, KindNotFound, vmID, "no domain on this host")
	}

	m.vmLog(vmID).Info("starting vm")
	if err := m.hv.Start(dom); err != nil {
		return withCause(newError(op, KindLaunchError, vmID, "%v", err), CauseStart)
	}
	return nil
}

// Stop shuts the VM's domain down, giving the guest StopTimeout to power
// off before it is destroyed. Stopping a stopped VM succeeds without change.
func (m *Manager) Stop(ctx context.Context, accountID, vmID string) error {
	const op = string(status.OpStop)

	if _, err := m.loadRecord(ctx, op, accountID, vmID); err != nil {
		return err
	}
	release, err := m.acquire(ctx, status.OpStop, vmID, false)
	if err != nil {
		return err
	}
	defer release()

	dom, found, err := m.lookupDomain(op, vmID)
	if err != nil {
		return err
	}
	if !found {
		return newError(op, KindNotFound, vmID, "no domain on this host")
	}

	m.vmLog(vmID).WithField("timeout", m.opts.StopTimeout).Info("stopping vm")
	if err := m.hv.Stop(ctx, dom, m.opts.StopTimeout); err != nil {
		return newError(op, KindInternal, vmID, "failed to stop domain: %v", err)
	}
	return nil
}
