// Package naming provides the deterministic naming conventions for hearth
// resources: MAC and tap names derived from an address, guest hostnames,
// and the file names used inside a VM workspace.
package naming

import (
	"crypto/sha256"
	"fmt"
	"net/netip"
	"strings"
)

const (
	// BootMediaFileName is the NoCloud media image inside a workspace.
	BootMediaFileName = "cidata.iso"

	// UserDataFileName, MetaDataFileName and NetworkConfigFileName are the
	// intermediate boot-configuration documents kept next to the media.
	UserDataFileName      = "user-data"
	MetaDataFileName      = "meta-data"
	NetworkConfigFileName = "network-config"

	// ImagesDirName is the per-account sibling directory for captured images.
	ImagesDirName = "images"
)

func parseIPv4(ip string) ([4]byte, error) {
	// Accept both "10.1.2.3" and "10.1.2.3/24".
	var addr netip.Addr
	if strings.Contains(ip, "/") {
		prefix, err := netip.ParsePrefix(ip)
		if err != nil {
			return [4]byte{}, fmt.Errorf("invalid IP/CIDR: %w", err)
		}
		addr = prefix.Addr()
	} else {
		parsed, err := netip.ParseAddr(ip)
		if err != nil {
			return [4]byte{}, fmt.Errorf("invalid IP address: %s", ip)
		}
		addr = parsed
	}
	if !addr.Is4() {
		return [4]byte{}, fmt.Errorf("not an IPv4 address: %s", ip)
	}
	return addr.As4(), nil
}

// MACFromIP calculates a deterministic MAC address from an IP address.
// Uses the locally administered prefix be:ef:.
//
// Example: IP 10.55.22.22 → MAC be:ef:0a:37:16:16
func MACFromIP(ip string) (string, error) {
	b, err := parseIPv4(ip)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("be:ef:%02x:%02x:%02x:%02x", b[0], b[1], b[2], b[3]), nil
}

// MACFromID derives a stable MAC from a VM id for attachments with no
// static address. Uses the QEMU OUI 52:54:00.
func MACFromID(vmID string) string {
	sum := sha256.Sum256([]byte(vmID))
	return fmt.Sprintf("52:54:00:%02x:%02x:%02x", sum[0], sum[1], sum[2])
}

// InterfaceNameFromIP calculates a deterministic tap interface name from an IP address.
// Format: vm{hex_octets}, within the 15-char Linux limit.
//
// Example: IP 10.55.22.22 → vm0a371616
func InterfaceNameFromIP(ip string) (string, error) {
	b, err := parseIPv4(ip)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("vm%02x%02x%02x%02x", b[0], b[1], b[2], b[3]), nil
}

// HostnameFromIP returns "ip-a-b-c-d".
func HostnameFromIP(ip string) (string, error) {
	b, err := parseIPv4(ip)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ip-%d-%d-%d-%d", b[0], b[1], b[2], b[3]), nil
}

// Hostname picks the guest hostname: the explicit name if given, else one
// derived from the address, else the VM id.
func Hostname(explicit, address, vmID string) string {
	if explicit != "" {
		return explicit
	}
	if address != "" {
		if h, err := HostnameFromIP(address); err == nil {
			return h
		}
	}
	return vmID
}

// VolumeFileName returns the workspace file name of a volume.
// Format: {volumeID}.{format}
func VolumeFileName(volumeID, format string) string {
	return fmt.Sprintf("%s.%s", volumeID, format)
}

// ImageFileName returns the file name of a captured image.
// Format: {imageID}.qcow2
func ImageFileName(imageID string) string {
	return imageID + ".qcow2"
}
