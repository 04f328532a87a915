// Package metadata keeps hearth ownership data inside libvirt domain XML so
// a domain can be traced back to its account and image without the record
// store.
package metadata

import (
	"encoding/xml"
	"errors"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"gopkg.in/yaml.v3"
)

const (
	// Namespace is the XML namespace of the hearth metadata element.
	Namespace = "http://hearth.jbweber.dev/v1alpha1"

	// Key is the element prefix libvirt uses for the namespace.
	Key = "hearth"
)

// ErrNoMetadata is returned when a domain carries no hearth element.
var ErrNoMetadata = errors.New("domain has no hearth metadata")

// Record is the ownership data stored with a domain.
type Record struct {
	VMID         string `yaml:"vmId"`
	AccountID    string `yaml:"accountId"`
	ImageID      string `yaml:"imageId"`
	ImageName    string `yaml:"imageName,omitempty"`
	InstanceType string `yaml:"instanceType"`
	Hostname     string `yaml:"hostname,omitempty"`
}

// element wraps the record. The record is kept as YAML text so it stays
// readable in virsh dumpxml.
type element struct {
	XMLName xml.Name `xml:"instance"`
	Xmlns   string   `xml:"xmlns,attr"`
	Body    string   `xml:",chardata"`
}

// Client is the libvirt metadata surface.
type Client interface {
	DomainSetMetadata(dom libvirt.Domain, typ int32, metadata libvirt.OptString, key libvirt.OptString, uri libvirt.OptString, flags libvirt.DomainModificationImpact) error
	DomainGetMetadata(dom libvirt.Domain, typ int32, uri libvirt.OptString, flags libvirt.DomainModificationImpact) (string, error)
}

// Marshal renders rec as the namespaced element embedded in domain XML.
func Marshal(rec Record) (string, error) {
	if rec.VMID == "" {
		return "", errors.New("metadata record requires a vm id")
	}
	body, err := yaml.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata record: %w", err)
	}
	out, err := xml.Marshal(element{Xmlns: Namespace, Body: "\n" + string(body)})
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata XML: %w", err)
	}
	return string(out), nil
}

// Parse reads an element produced by Marshal.
func Parse(s string) (Record, error) {
	var el element
	if err := xml.Unmarshal([]byte(s), &el); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal metadata XML: %w", err)
	}
	if el.Xmlns != Namespace {
		return Record{}, fmt.Errorf("%w: unexpected namespace %q", ErrNoMetadata, el.Xmlns)
	}
	var rec Record
	if err := yaml.Unmarshal([]byte(el.Body), &rec); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal metadata record: %w", err)
	}
	if rec.VMID == "" {
		return Record{}, ErrNoMetadata
	}
	return rec, nil
}

// Store replaces the hearth element on a defined domain.
func Store(c Client, dom libvirt.Domain, rec Record) error {
	el, err := Marshal(rec)
	if err != nil {
		return err
	}
	err = c.DomainSetMetadata(
		dom,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{el},
		libvirt.OptString{Key},
		libvirt.OptString{Namespace},
		libvirt.DomainAffectConfig,
	)
	if err != nil {
		return fmt.Errorf("failed to set domain metadata: %w", err)
	}
	return nil
}

// Load reads the hearth element of a domain. Domains not created by hearth
// return ErrNoMetadata.
func Load(c Client, dom libvirt.Domain) (Record, error) {
	s, err := c.DomainGetMetadata(
		dom,
		int32(libvirt.DomainMetadataElement),
		libvirt.OptString{Namespace},
		libvirt.DomainAffectConfig,
	)
	if err != nil {
		if isNoMetadata(err) {
			return Record{}, ErrNoMetadata
		}
		return Record{}, fmt.Errorf("failed to get domain metadata: %w", err)
	}
	return Parse(s)
}

func isNoMetadata(err error) bool {
	var lverr libvirt.Error
	return errors.As(err, &lverr) && lverr.Code == uint32(libvirt.ErrNoDomainMetadata)
}
