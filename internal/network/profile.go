// Package network resolves account network profiles and validates
// addresses against them.
package network

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/jbweber/hearth/api/v1alpha1"
	"github.com/jbweber/hearth/internal/repository"
)

var (
	// ErrProfileNotFound is returned when an account has no profile with the given name.
	ErrProfileNotFound = errors.New("network profile not found")

	// ErrInvalidAddress is returned when an address cannot be parsed.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrInvalidProfile is returned when a profile definition is rejected.
	ErrInvalidProfile = errors.New("invalid network profile")

	// ErrNotApplicable is returned when address validation is requested for
	// a profile type whose addresses are assigned out-of-band.
	ErrNotApplicable = errors.New("address validation not applicable")
)

// ProfileStore is the read/write surface of the network profile store.
type ProfileStore interface {
	FindByName(ctx context.Context, accountID, name string) (v1alpha1.NetworkProfile, error)
	Create(ctx context.Context, profile *v1alpha1.NetworkProfile) error
}

// Resolver looks up network profiles for an account.
type Resolver struct {
	store ProfileStore
}

// NewResolver returns a Resolver backed by store.
func NewResolver(store ProfileStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the named profile for accountID.
func (r *Resolver) Resolve(ctx context.Context, accountID, name string) (*v1alpha1.NetworkProfile, error) {
	p, err := r.store.FindByName(ctx, accountID, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%q for account %s: %w", name, accountID, ErrProfileNotFound)
		}
		return nil, fmt.Errorf("failed to load network profile %q: %w", name, err)
	}
	return &p, nil
}

// Create validates and stores a new profile. NAT profiles default to the
// "default" virtual network.
func (r *Resolver) Create(ctx context.Context, profile *v1alpha1.NetworkProfile) error {
	if profile.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}

	switch profile.Type {
	case v1alpha1.NetworkBridgeToLan:
		cfg := profile.Config
		if cfg.Bridge == "" {
			return fmt.Errorf("%w: bridge is required for %s", ErrInvalidProfile, profile.Type)
		}
		if err := ValidateProfileDefinition(cfg.Network, cfg.Prefix, cfg.Gateway, cfg.DNSServers); err != nil {
			return err
		}
	case v1alpha1.NetworkNAT:
		if profile.Config.VirtualNetwork == "" {
			profile.Config.VirtualNetwork = "default"
		}
		for _, dns := range profile.Config.DNSServers {
			if _, err := netip.ParseAddr(dns); err != nil {
				return fmt.Errorf("%w: dns server %q: %v", ErrInvalidProfile, dns, err)
			}
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidProfile, profile.Type)
	}

	if err := r.store.Create(ctx, profile); err != nil {
		return fmt.Errorf("failed to store network profile %q: %w", profile.Name, err)
	}
	return nil
}

// ValidateAddress reports whether address is a usable host address within a
// BridgeToLan profile's subnet. The network address, the broadcast address
// and the gateway are not usable.
func ValidateAddress(profile *v1alpha1.NetworkProfile, address string) (bool, error) {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return false, fmt.Errorf("%q: %w", address, ErrInvalidAddress)
	}
	if profile.Type != v1alpha1.NetworkBridgeToLan {
		return false, fmt.Errorf("%s profile %q: %w", profile.Type, profile.Name, ErrNotApplicable)
	}

	subnet, err := Subnet(profile.Config)
	if err != nil {
		return false, err
	}

	if !isHost(subnet, addr) {
		return false, nil
	}

	if gw, err := netip.ParseAddr(profile.Config.Gateway); err == nil && gw == addr {
		return false, nil
	}
	return true, nil
}

// ValidateProfileDefinition checks a BridgeToLan definition: the network must
// be an aligned IPv4 subnet with at least one usable host, the gateway must be
// a usable host inside it, and every DNS server must parse.
func ValidateProfileDefinition(network string, prefix int, gateway string, dnsServers []string) error {
	subnet, err := Subnet(v1alpha1.NetworkConfig{Network: network, Prefix: prefix})
	if err != nil {
		return err
	}
	if subnet.Addr() != subnet.Masked().Addr() {
		return fmt.Errorf("%w: %s is not the network address of /%d", ErrInvalidProfile, network, prefix)
	}
	if prefix > 30 {
		return fmt.Errorf("%w: /%d has no usable host range", ErrInvalidProfile, prefix)
	}

	gw, err := netip.ParseAddr(gateway)
	if err != nil {
		return fmt.Errorf("%w: gateway %q: %v", ErrInvalidProfile, gateway, err)
	}
	if !isHost(subnet, gw) {
		return fmt.Errorf("%w: gateway %s is not a host address in %s", ErrInvalidProfile, gw, subnet)
	}

	for _, dns := range dnsServers {
		if _, err := netip.ParseAddr(dns); err != nil {
			return fmt.Errorf("%w: dns server %q: %v", ErrInvalidProfile, dns, err)
		}
	}
	return nil
}

// Subnet returns the IPv4 prefix described by cfg.
func Subnet(cfg v1alpha1.NetworkConfig) (netip.Prefix, error) {
	base, err := netip.ParseAddr(cfg.Network)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: network %q: %v", ErrInvalidProfile, cfg.Network, err)
	}
	if !base.Is4() {
		return netip.Prefix{}, fmt.Errorf("%w: network %s is not IPv4", ErrInvalidProfile, base)
	}
	if cfg.Prefix < 0 || cfg.Prefix > 32 {
		return netip.Prefix{}, fmt.Errorf("%w: prefix %d out of range", ErrInvalidProfile, cfg.Prefix)
	}
	return netip.PrefixFrom(base, cfg.Prefix), nil
}

// isHost reports whether addr lies in subnet and is neither its network
// nor its broadcast address.
func isHost(subnet netip.Prefix, addr netip.Addr) bool {
	if !addr.Is4() || !subnet.Contains(addr) {
		return false
	}
	if subnet.Bits() > 30 {
		return false
	}
	network := subnet.Masked().Addr()
	return addr != network && addr != broadcast(subnet)
}

func broadcast(subnet netip.Prefix) netip.Addr {
	b := subnet.Masked().Addr().As4()
	hostBits := 32 - subnet.Bits()
	for i := 3; i >= 0 && hostBits > 0; i-- {
		n := min(hostBits, 8)
		b[i] |= byte(1<<n - 1)
		hostBits -= n
	}
	return netip.AddrFrom4(b)
}
