package cloudinit

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/hearth/api/v1alpha1"
)

// Options carries the identity values stamped into meta-data.
type Options struct {
	CloudName string
	Zone      string
	Region    string
	Log       logrus.FieldLogger
}

// Builder produces a Bundle in a fixed order. Each stage is only reachable
// from the one before it: Network, then UserData, then MetaData.
type Builder struct {
	vmID string
	opts Options
}

// NewBuilder starts a bundle for vmID.
func NewBuilder(vmID string, opts Options) *Builder {
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	return &Builder{vmID: vmID, opts: opts}
}

// NetworkStage holds the generated network-config, if any.
type NetworkStage struct {
	b             *Builder
	address       string
	networkConfig string
}

// Network generates network-config for BridgeToLan profiles. Other profile
// types skip the document entirely.
func (b *Builder) Network(profile *v1alpha1.NetworkProfile, address, mac string) (*NetworkStage, error) {
	stage := &NetworkStage{b: b, address: address}

	if profile.Type != v1alpha1.NetworkBridgeToLan {
		b.opts.Log.WithField("profile", profile.Name).Debug("skipping network-config for non-bridged profile")
		return stage, nil
	}

	doc, err := GenerateNetworkConfig(profile, address, mac)
	if err != nil {
		return nil, fmt.Errorf("failed to generate network-config: %w", err)
	}
	stage.networkConfig = doc
	return stage, nil
}

// UserDataStage holds network-config and user-data.
type UserDataStage struct {
	net      *NetworkStage
	userData string
	keys     []PublicKey
}

// UserData generates user-data from in.
func (s *NetworkStage) UserData(in UserDataInput) (*UserDataStage, error) {
	if in.Log == nil {
		in.Log = s.b.opts.Log.WithField("vm_id", s.b.vmID)
	}
	doc, err := GenerateUserData(in)
	if err != nil {
		return nil, fmt.Errorf("failed to generate user-data: %w", err)
	}
	return &UserDataStage{net: s, userData: doc, keys: in.PublicKeys}, nil
}

// CustomUserData uses a caller-supplied user-data document in place of the
// generated one. keys still populate the meta-data public-keys map.
func (s *NetworkStage) CustomUserData(doc string, keys []PublicKey) *UserDataStage {
	return &UserDataStage{net: s, userData: doc, keys: keys}
}

// Bundle is the complete boot configuration for one VM.
type Bundle struct {
	VMID          string
	NetworkConfig string
	UserData      string
	MetaData      string
}

// MetaData generates meta-data and completes the bundle. hostname may be
// empty.
func (s *UserDataStage) MetaData(hostname string) (*Bundle, error) {
	b := s.net.b
	doc, err := GenerateMetaData(MetaDataInput{
		VMID:       b.vmID,
		Address:    s.net.address,
		Hostname:   hostname,
		PublicKeys: s.keys,
		CloudName:  b.opts.CloudName,
		Zone:       b.opts.Zone,
		Region:     b.opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate meta-data: %w", err)
	}

	return &Bundle{
		VMID:          b.vmID,
		NetworkConfig: s.net.networkConfig,
		UserData:      s.userData,
		MetaData:      doc,
	}, nil
}
