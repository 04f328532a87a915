package libvirt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/hearth/api/v1alpha1"
	"github.com/jbweber/hearth/internal/descriptor"
	"github.com/jbweber/hearth/internal/metadata"
)

// Domain states (from libvirt VIR_DOMAIN_* constants)
const (
	domainStateNoState     = 0
	domainStateRunning     = 1
	domainStateBlocked     = 2
	domainStatePaused      = 3
	domainStateShutdown    = 4
	domainStateShutoff     = 5
	domainStateCrashed     = 6
	domainStatePMSuspended = 7
)

// DefaultPollInterval is how often Stop checks for a completed shutdown.
const DefaultPollInterval = 500 * time.Millisecond

// ErrDefine is returned when libvirt rejects a domain definition.
var ErrDefine = errors.New("domain definition failed")

// Client is the libvirt surface the gateway uses. *libvirt.Libvirt
// satisfies it.
type Client interface {
	metadata.Client

	DomainLookupByName(name string) (libvirt.Domain, error)
	DomainDefineXML(xml string) (libvirt.Domain, error)
	DomainSetAutostart(dom libvirt.Domain, autostart int32) error
	DomainCreate(dom libvirt.Domain) error
	DomainGetState(dom libvirt.Domain, flags uint32) (state int32, reason int32, err error)
	DomainShutdown(dom libvirt.Domain) error
	DomainDestroy(dom libvirt.Domain) error
	DomainUndefineFlags(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error
	DomainUndefine(dom libvirt.Domain) error
	DomainGetXMLDesc(dom libvirt.Domain, flags libvirt.DomainXMLFlags) (string, error)
	ConnectListAllDomains(needResults int32, flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error)
}

// Gateway is the boundary to the hypervisor. Domain handles are never
// cached; every call works on a handle the caller just looked up.
type Gateway struct {
	client       Client
	log          logrus.FieldLogger
	pollInterval time.Duration
}

// NewGateway returns a Gateway over client.
func NewGateway(client Client, log logrus.FieldLogger) *Gateway {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Gateway{client: client, log: log, pollInterval: DefaultPollInterval}
}

// Lookup finds a domain by name. A missing domain is reported as
// found=false with a nil error.
func (g *Gateway) Lookup(name string) (libvirt.Domain, bool, error) {
	dom, err := g.client.DomainLookupByName(name)
	if err != nil {
		if libvirt.IsNotFound(err) {
			return libvirt.Domain{}, false, nil
		}
		return libvirt.Domain{}, false, fmt.Errorf("failed to look up domain %s: %w", name, err)
	}
	return dom, true, nil
}

// Define renders desc and defines it as a persistent, autostarting domain.
// If the definition succeeds but autostart cannot be set, the domain is
// undefined again before returning.
func (g *Gateway) Define(desc descriptor.DomainDescriptor, rec metadata.Record) (libvirt.Domain, error) {
	xml, err := RenderDomainXML(desc, rec)
	if err != nil {
		return libvirt.Domain{}, fmt.Errorf("%w: %v", ErrDefine, err)
	}

	dom, err := g.client.DomainDefineXML(xml)
	if err != nil {
		return libvirt.Domain{}, fmt.Errorf("%w: %v", ErrDefine, err)
	}

	if err := g.client.DomainSetAutostart(dom, 1); err != nil {
		if uerr := g.Undefine(dom); uerr != nil {
			g.log.WithError(uerr).WithField("domain", dom.Name).Warn("failed to undefine domain after autostart failure")
		}
		return libvirt.Domain{}, fmt.Errorf("%w: failed to set autostart: %v", ErrDefine, err)
	}
	return dom, nil
}

// Start boots the domain. Starting an active domain is a no-op.
func (g *Gateway) Start(dom libvirt.Domain) error {
	state, err := g.State(dom)
	if err != nil {
		return err
	}
	if state.IsActive() {
		return nil
	}
	if err := g.client.DomainCreate(dom); err != nil {
		return fmt.Errorf("failed to start domain %s: %w", dom.Name, err)
	}
	return nil
}

// Stop asks the guest to shut down and waits up to grace for it to power
// off, then destroys it. Stopping an inactive domain is a no-op. If ctx ends
// before grace runs out the guest is left shutting down and ctx's error is
// returned.
func (g *Gateway) Stop(ctx context.Context, dom libvirt.Domain, grace time.Duration) error {
	state, err := g.State(dom)
	if err != nil {
		return err
	}
	if !state.IsActive() {
		return nil
	}

	log := g.log.WithField("domain", dom.Name)
	if err := g.client.DomainShutdown(dom); err != nil {
		log.WithError(err).Warn("graceful shutdown request failed")
		return g.Destroy(dom)
	}

	log.WithField("grace", grace).Info("waiting for graceful shutdown")
	off, err := g.waitForShutoff(ctx, dom, grace)
	if err != nil {
		log.WithError(err).Warn("stopped waiting for graceful shutdown")
		return fmt.Errorf("stop of domain %s interrupted: %w", dom.Name, err)
	}
	if off {
		log.Info("domain shut down gracefully")
		return nil
	}

	log.Warn("graceful shutdown timed out, destroying domain")
	return g.Destroy(dom)
}

// waitForShutoff reports whether the domain powered off within grace. Only
// the grace timer and a failed state check report false; an ended ctx is
// returned as an error.
func (g *Gateway) waitForShutoff(ctx context.Context, dom libvirt.Domain, grace time.Duration) (bool, error) {
	timer := time.NewTimer(grace)
	defer timer.Stop()
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
			return false, nil
		case <-ticker.C:
			state, err := g.State(dom)
			if err != nil {
				g.log.WithError(err).WithField("domain", dom.Name).Warn("failed to check shutdown state")
				return false, nil
			}
			if !state.IsActive() {
				return true, nil
			}
		}
	}
}

// Destroy forcefully stops the domain. An inactive domain is left alone.
func (g *Gateway) Destroy(dom libvirt.Domain) error {
	state, err := g.State(dom)
	if err != nil {
		return err
	}
	if !state.IsActive() {
		return nil
	}
	if err := g.client.DomainDestroy(dom); err != nil {
		if isNotRunning(err) {
			return nil
		}
		return fmt.Errorf("failed to destroy domain %s: %w", dom.Name, err)
	}
	return nil
}

// Undefine removes the persistent definition, along with UEFI NVRAM and any
// managed save image. An already undefined domain is not an error.
func (g *Gateway) Undefine(dom libvirt.Domain) error {
	err := g.client.DomainUndefineFlags(dom, libvirt.DomainUndefineNvram|libvirt.DomainUndefineManagedSave)
	if err == nil || libvirt.IsNotFound(err) {
		return nil
	}

	g.log.WithError(err).WithField("domain", dom.Name).Debug("undefine with flags failed, retrying without")
	if err := g.client.DomainUndefine(dom); err != nil {
		if libvirt.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to undefine domain %s: %w", dom.Name, err)
	}
	return nil
}

// State returns the run state of the domain.
func (g *Gateway) State(dom libvirt.Domain) (v1alpha1.RunState, error) {
	state, _, err := g.client.DomainGetState(dom, 0)
	if err != nil {
		return v1alpha1.RunStateUnknown, fmt.Errorf("failed to get state of domain %s: %w", dom.Name, err)
	}
	return runState(state), nil
}

// ConsolePort returns the live VNC port of the domain, or -1.
func (g *Gateway) ConsolePort(dom libvirt.Domain) (int, error) {
	xml, err := g.client.DomainGetXMLDesc(dom, 0)
	if err != nil {
		return -1, fmt.Errorf("failed to get XML of domain %s: %w", dom.Name, err)
	}
	return ConsolePort(xml)
}

// DomainInfo is a host-side view of one domain.
type DomainInfo struct {
	Name  string
	State v1alpha1.RunState

	// Record is nil for domains hearth did not create.
	Record *metadata.Record
}

// ListDomains returns every domain on the host, active or not.
func (g *Gateway) ListDomains() ([]DomainInfo, error) {
	domains, _, err := g.client.ConnectListAllDomains(1, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}

	infos := make([]DomainInfo, 0, len(domains))
	for _, dom := range domains {
		info := DomainInfo{Name: dom.Name}

		state, err := g.State(dom)
		if err != nil {
			g.log.WithError(err).WithField("domain", dom.Name).Warn("failed to get domain state")
		}
		info.State = state

		rec, err := metadata.Load(g.client, dom)
		switch {
		case err == nil:
			info.Record = &rec
		case !errors.Is(err, metadata.ErrNoMetadata):
			g.log.WithError(err).WithField("domain", dom.Name).Warn("failed to read domain metadata")
		}

		infos = append(infos, info)
	}
	return infos, nil
}

func runState(state int32) v1alpha1.RunState {
	switch state {
	case domainStateNoState:
		return v1alpha1.RunStateNoState
	case domainStateRunning:
		return v1alpha1.RunStateRunning
	case domainStateBlocked:
		return v1alpha1.RunStateBlocked
	case domainStatePaused:
		return v1alpha1.RunStatePaused
	case domainStateShutdown:
		return v1alpha1.RunStateShuttingDown
	case domainStateShutoff:
		return v1alpha1.RunStateShutOff
	case domainStateCrashed:
		return v1alpha1.RunStateCrashed
	case domainStatePMSuspended:
		return v1alpha1.RunStateSuspended
	default:
		return v1alpha1.RunStateUnknown
	}
}

// isNotRunning matches libvirt's "domain is not running" refusal, which
// races with a guest that powered off on its own.
func isNotRunning(err error) bool {
	var lverr libvirt.Error
	return errors.As(err, &lverr) && lverr.Code == uint32(libvirt.ErrOperationInvalid)
}
