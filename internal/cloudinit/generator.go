// Package cloudinit generates the guest first-boot configuration for a VM
// and packages it as NoCloud boot media.
//
// Three documents are produced: network-config (BridgeToLan profiles only),
// user-data (a single cloud-config document, or a multi-part MIME payload
// when scripts, files or run-commands are present) and meta-data.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
package cloudinit

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/hearth/api/v1alpha1"
	"github.com/jbweber/hearth/internal/naming"
)

// CloudConfigHeader prefixes every cloud-config document.
const CloudConfigHeader = "#cloud-config\n"

// ErrNotBridged is returned when network-config is requested for a profile
// that is not BridgeToLan.
var ErrNotBridged = errors.New("network-config is only generated for BridgeToLan profiles")

// PublicKey is a named authorized key.
type PublicKey struct {
	Name     string `yaml:"name"`
	Material string `yaml:"material"`
}

// File is an extra file written on first boot.
type File struct {
	Path        string `json:"path" yaml:"path"`
	Content     string `json:"content" yaml:"content"`
	Permissions string `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Owner       string `json:"owner,omitempty" yaml:"owner,omitempty"`
}

// UserData is the base cloud-config document.
//
// See https://cloudinit.readthedocs.io/en/latest/explanation/format.html#cloud-config-data
type UserData struct {
	SSHPasswordAuth   bool     `yaml:"ssh_pwauth"`
	DisableRoot       bool     `yaml:"disable_root"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys,omitempty"`
	Output            *Output  `yaml:"output,omitempty"`
}

// Output configures cloud-init output logging.
type Output struct {
	All string `yaml:"all"`
}

// writeFilesConfig is the cloud-config part carrying a write_files group.
type writeFilesConfig struct {
	WriteFiles []writeFile `yaml:"write_files"`
}

type writeFile struct {
	Path        string `yaml:"path"`
	Content     string `yaml:"content"`
	Permissions string `yaml:"permissions,omitempty"`
	Owner       string `yaml:"owner,omitempty"`
}

// runCmdConfig is the cloud-config part carrying the run-command list.
type runCmdConfig struct {
	RunCmd []string `yaml:"runcmd"`
}

// MetaData is the instance-identity document.
type MetaData struct {
	InstanceID       string            `yaml:"instance-id"`
	LocalHostname    string            `yaml:"local-hostname"`
	Hostname         string            `yaml:"hostname"`
	CloudName        string            `yaml:"cloud-name"`
	AvailabilityZone string            `yaml:"availability-zone,omitempty"`
	Region           string            `yaml:"region,omitempty"`
	PublicKeys       map[string]string `yaml:"public-keys,omitempty"`
}

// NetworkConfig represents the netplan v2 network configuration.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/network-config-format-v2.html
type NetworkConfig struct {
	Version   int                       `yaml:"version"`
	Ethernets map[string]EthernetConfig `yaml:"ethernets"`
}

// EthernetConfig represents a single ethernet interface configuration.
type EthernetConfig struct {
	Match       MatchConfig   `yaml:"match"`
	SetName     string        `yaml:"set-name,omitempty"`
	DHCP4       bool          `yaml:"dhcp4"`
	Addresses   []string      `yaml:"addresses,omitempty"`
	Routes      []RouteConfig `yaml:"routes,omitempty"`
	Nameservers *Nameservers  `yaml:"nameservers,omitempty"`
}

// MatchConfig matches an interface by MAC address.
type MatchConfig struct {
	MACAddress string `yaml:"macaddress"`
}

// RouteConfig represents a static route.
type RouteConfig struct {
	To  string `yaml:"to"`
	Via string `yaml:"via"`
}

// Nameservers represents DNS server configuration.
type Nameservers struct {
	Addresses []string `yaml:"addresses"`
}

// GenerateNetworkConfig renders netplan v2 for a BridgeToLan profile. An
// empty address produces a DHCP config; otherwise a static config with the
// profile prefix, gateway and DNS servers. The interface is matched by mac.
func GenerateNetworkConfig(profile *v1alpha1.NetworkProfile, address, mac string) (string, error) {
	if profile == nil {
		return "", fmt.Errorf("network profile cannot be nil")
	}
	if profile.Type != v1alpha1.NetworkBridgeToLan {
		return "", fmt.Errorf("profile %q (%s): %w", profile.Name, profile.Type, ErrNotBridged)
	}
	if mac == "" {
		return "", fmt.Errorf("mac address is required")
	}

	eth := EthernetConfig{
		Match:   MatchConfig{MACAddress: mac},
		SetName: "eth0",
	}

	if address == "" {
		eth.DHCP4 = true
	} else {
		eth.Addresses = []string{fmt.Sprintf("%s/%d", address, profile.Config.Prefix)}
		if profile.Config.Gateway != "" {
			eth.Routes = []RouteConfig{{To: "0.0.0.0/0", Via: profile.Config.Gateway}}
		}
	}
	if len(profile.Config.DNSServers) > 0 {
		eth.Nameservers = &Nameservers{Addresses: profile.Config.DNSServers}
	}

	cfg := NetworkConfig{
		Version:   2,
		Ethernets: map[string]EthernetConfig{"eth0": eth},
	}

	yamlBytes, err := yaml.Marshal(&cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal network-config to YAML: %w", err)
	}
	return string(yamlBytes), nil
}

// UserDataInput is everything that goes into user-data.
type UserDataInput struct {
	// PublicKeys are emitted in order.
	PublicKeys  []PublicKey
	Script      string
	Files       []File
	RunCommands []string

	// Log receives multipart assembly messages. Nil uses the standard logger.
	Log logrus.FieldLogger
}

// multipart reports whether the input needs a multi-part payload.
func (in UserDataInput) multipart() bool {
	return in.Script != "" || len(in.Files) > 0 || len(in.RunCommands) > 0
}

// GenerateUserData renders user-data. Password authentication is always
// disabled. With no script, files or run-commands the result is a single
// cloud-config document; otherwise a multipart/mixed payload with the base
// cloud-config first, then one part each for the write_files group, the
// run-command list and the shell script.
func GenerateUserData(in UserDataInput) (string, error) {
	base := UserData{
		SSHPasswordAuth: false,
		DisableRoot:     true,
		Output: &Output{
			All: "| tee -a /var/log/cloud-init-output.log",
		},
	}
	for _, k := range in.PublicKeys {
		base.SSHAuthorizedKeys = append(base.SSHAuthorizedKeys, k.Material)
	}

	baseDoc, err := cloudConfig(&base)
	if err != nil {
		return "", fmt.Errorf("failed to marshal user-data to YAML: %w", err)
	}

	if !in.multipart() {
		return baseDoc, nil
	}

	parts := []Part{{ContentType: ContentTypeCloudConfig, Filename: "cloud-config.txt", Body: baseDoc}}

	if len(in.Files) > 0 {
		group := writeFilesConfig{}
		for _, f := range in.Files {
			group.WriteFiles = append(group.WriteFiles, writeFile(f))
		}
		doc, err := cloudConfig(&group)
		if err != nil {
			return "", fmt.Errorf("failed to marshal write_files: %w", err)
		}
		parts = append(parts, Part{ContentType: ContentTypeCloudConfig, Filename: "write-files.txt", Body: doc})
	}

	if len(in.RunCommands) > 0 {
		doc, err := cloudConfig(&runCmdConfig{RunCmd: in.RunCommands})
		if err != nil {
			return "", fmt.Errorf("failed to marshal runcmd: %w", err)
		}
		parts = append(parts, Part{ContentType: ContentTypeCloudConfig, Filename: "runcmd.txt", Body: doc})
	}

	if in.Script != "" {
		parts = append(parts, Part{ContentType: ContentTypeShellScript, Filename: "user-script.sh", Body: in.Script})
	}

	return BuildMultipart(parts, in.Log)
}

func cloudConfig(v any) (string, error) {
	yamlBytes, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}
	return CloudConfigHeader + string(yamlBytes), nil
}

// MetaDataInput is everything that goes into meta-data.
type MetaDataInput struct {
	VMID     string
	Address  string
	Hostname string

	PublicKeys []PublicKey

	CloudName string
	Zone      string
	Region    string
}

// GenerateMetaData renders the instance-identity document. The hostname is
// the explicit one, else derived from the address, else the VM id.
func GenerateMetaData(in MetaDataInput) (string, error) {
	if in.VMID == "" {
		return "", fmt.Errorf("vm id is required")
	}

	hostname := naming.Hostname(in.Hostname, in.Address, in.VMID)

	md := MetaData{
		InstanceID:       in.VMID,
		LocalHostname:    hostname,
		Hostname:         hostname,
		CloudName:        in.CloudName,
		AvailabilityZone: in.Zone,
		Region:           in.Region,
	}
	if len(in.PublicKeys) > 0 {
		md.PublicKeys = make(map[string]string, len(in.PublicKeys))
		for _, k := range in.PublicKeys {
			md.PublicKeys[k.Name] = k.Material
		}
	}

	yamlBytes, err := yaml.Marshal(&md)
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta-data to YAML: %w", err)
	}
	return string(yamlBytes), nil
}
