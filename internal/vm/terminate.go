package vm

import (
	"context"

	"github.com/jbweber/hearth/api/v1alpha1"
	"github.com/jbweber/hearth/internal/status"
)

// Terminate tears a VM down: stop, undefine, remove the workspace, delete
// the volume records and the VM record. The VM must belong to accountID.
//
// A record with no domain behind it (left by an earlier partial failure) is
// reconciled by deleting the record and its workspace without touching the
// hypervisor.
//
// force destroys the domain without a graceful shutdown and also accepts
// records stuck in a transient state.
func (m *Manager) Terminate(ctx context.Context, accountID, vmID string, force bool) error {
	const op = string(status.OpTerminate)
	log := m.vmLog(vmID)

	rec, err := m.vms.GetForAccount(ctx, vmID, accountID)
	if err != nil {
		return m.recordErr(op, vmID, err)
	}

	prev, err := m.vms.CompareAndSwapState(ctx, vmID, status.TerminableStates(force), v1alpha1.VMStateTerminating)
	if err != nil {
		return m.casErr(op, vmID, err)
	}

	// Put the record back on failure so terminate can be retried.
	var termErr error
	defer func() {
		if termErr != nil {
			m.restoreState(ctx, vmID, v1alpha1.VMStateTerminating, prev)
		}
	}()

	dom, found, err := m.lookupDomain(op, vmID)
	if err != nil {
		termErr = err
		return err
	}

	if found {
		if force {
			log.Info("destroying domain")
			err = m.hv.Destroy(dom)
		} else {
			log.WithField("timeout", m.opts.StopTimeout).Info("stopping domain")
			err = m.hv.Stop(ctx, dom, m.opts.StopTimeout)
		}
		if err != nil {
			termErr = newError(op, KindInternal, vmID, "failed to stop domain: %v", err)
			return termErr
		}

		log.Info("undefining domain")
		if err := m.hv.Undefine(dom); err != nil {
			termErr = newError(op, KindInternal, vmID, "failed to undefine domain: %v", err)
			return termErr
		}
	} else {
		log.Info("no domain for vm record, removing orphaned record")
	}

	workspace := rec.WorkspacePath
	if workspace == "" {
		workspace = m.disks.Workspace().VMDirectory(rec.AccountID, rec.ID)
	}
	if err := m.disks.Workspace().Remove(workspace); err != nil {
		termErr = newError(op, KindInternal, vmID, "failed to remove workspace: %v", err)
		return termErr
	}

	ctx = context.WithoutCancel(ctx)
	if _, err := m.volumes.DeleteByVM(ctx, vmID); err != nil {
		termErr = newError(op, KindInternal, vmID, "failed to delete volume records: %v", err)
		return termErr
	}
	if err := m.vms.Delete(ctx, vmID); err != nil {
		termErr = newError(op, KindInternal, vmID, "failed to delete vm record: %v", err)
		return termErr
	}

	log.Info("vm terminated")
	return nil
}
