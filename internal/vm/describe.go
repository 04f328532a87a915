package vm

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/jbweber/hearth/api/v1alpha1"
)

const opDescribe = "describe"

// describeConcurrency bounds hypervisor queries in DescribeAll.
const describeConcurrency = 8

// Description is a VM record joined with what the hypervisor reports.
type Description struct {
	Record   *v1alpha1.VirtualMachine `json:"record" yaml:"record"`
	RunState v1alpha1.RunState        `json:"runState" yaml:"runState"`
	Volumes  []*v1alpha1.Volume       `json:"volumes" yaml:"volumes"`
}

// Describe returns the VM if it belongs to accountID. A record with no
// domain reports RunStateNoState; one whose domain cannot be queried reports
// RunStateUnknown.
func (m *Manager) Describe(ctx context.Context, accountID, vmID string) (*Description, error) {
	rec, err := m.vms.GetForAccount(ctx, vmID, accountID)
	if err != nil {
		return nil, m.recordErr(opDescribe, vmID, err)
	}
	return m.describe(ctx, rec)
}

// DescribeAll returns every VM of accountID in creation order.
func (m *Manager) DescribeAll(ctx context.Context, accountID string) ([]*Description, error) {
	recs, err := m.vms.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, newError(opDescribe, KindInternal, "", "failed to list vms: %v", err)
	}

	out := make([]*Description, len(recs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(describeConcurrency)
	for i, rec := range recs {
		g.Go(func() error {
			d, err := m.describe(ctx, rec)
			if err != nil {
				return err
			}
			out[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) describe(ctx context.Context, rec *v1alpha1.VirtualMachine) (*Description, error) {
	vols, err := m.volumes.ListByVM(ctx, rec.ID)
	if err != nil {
		return nil, newError(opDescribe, KindInternal, rec.ID, "failed to list volumes: %v", err)
	}
	d := &Description{Record: rec, RunState: v1alpha1.RunStateNoState, Volumes: vols}

	log := m.vmLog(rec.ID)
	dom, found, err := m.hv.Lookup(rec.ID)
	if err != nil {
		log.WithError(err).Warn("failed to look up domain")
		d.RunState = v1alpha1.RunStateUnknown
		return d, nil
	}
	if !found {
		return d, nil
	}

	state, err := m.hv.State(dom)
	if err != nil {
		log.WithError(err).Warn("failed to read domain state")
	}
	d.RunState = state

	// An auto-assigned console port is only known while the domain runs.
	if rec.Console != nil && state.IsActive() {
		port, err := m.hv.ConsolePort(dom)
		if err != nil {
			log.WithError(err).Warn("failed to read console port")
		} else if port > 0 {
			console := *rec.Console
			console.Port = port
			rec.Console = &console
		}
	}
	return d, nil
}
