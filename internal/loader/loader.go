// Package loader reads VM launch requests from YAML files.
//
// A request document looks like:
//
//	apiVersion: hearth/v1alpha1
//	kind: LaunchRequest
//	spec:
//	  instanceType: standard.small
//	  image: gmi-1a2b3c4d
//	  network:
//	    profile: home
//	    address: 172.16.9.12
//	  diskSize: 20G
//	  keyName: laptop
//	  boot:
//	    scriptFile: ./bootstrap.sh
//	    runcmd: ["systemctl enable --now nginx"]
//
// Structural checks happen here; the manager validates the request against
// the catalogs when it is submitted.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/hearth/internal/cloudinit"
	"github.com/jbweber/hearth/internal/vm"
)

// Document header values.
const (
	APIVersion = "hearth/v1alpha1"
	Kind       = "LaunchRequest"
)

// Document is the on-disk launch request.
type Document struct {
	APIVersion string `yaml:"apiVersion"`
	Kind       string `yaml:"kind"`
	Spec       Spec   `yaml:"spec"`
}

// Spec describes the VM to build.
type Spec struct {
	InstanceType string            `yaml:"instanceType"`
	Image        string            `yaml:"image"`
	Network      NetworkSpec       `yaml:"network"`
	DiskSize     string            `yaml:"diskSize"`
	KeyName      string            `yaml:"keyName,omitempty"`
	Hostname     string            `yaml:"hostname,omitempty"`
	Console      *ConsoleSpec      `yaml:"console,omitempty"`
	Boot         BootSpec          `yaml:"boot,omitempty"`
	Tags         map[string]string `yaml:"tags,omitempty"`
}

// NetworkSpec selects the profile and optional static address.
type NetworkSpec struct {
	Profile string `yaml:"profile"`
	Address string `yaml:"address,omitempty"`
}

// ConsoleSpec requests a remote console. Port 0 lets the hypervisor pick.
type ConsoleSpec struct {
	Port int `yaml:"port,omitempty"`
}

// BootSpec is the guest boot configuration. Script and UserData may be
// given inline or read from a file relative to the document.
type BootSpec struct {
	Script       string           `yaml:"script,omitempty"`
	ScriptFile   string           `yaml:"scriptFile,omitempty"`
	Files        []cloudinit.File `yaml:"files,omitempty"`
	RunCommands  []string         `yaml:"runcmd,omitempty"`
	UserData     string           `yaml:"userData,omitempty"`
	UserDataFile string           `yaml:"userDataFile,omitempty"`
}

// LoadFromFile loads a launch request from a YAML file. Relative scriptFile
// and userDataFile paths are resolved against the file's directory.
func LoadFromFile(path string) (*vm.CreateRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	doc, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := inlineFiles(&doc.Spec.Boot, filepath.Dir(path)); err != nil {
		return nil, err
	}
	if err := validateSpec(&doc.Spec); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return doc.Spec.Request(), nil
}

// LoadFromYAML loads a launch request from YAML bytes. File references are
// rejected since there is no directory to resolve them against.
func LoadFromYAML(data []byte) (*vm.CreateRequest, error) {
	doc, err := parse(data)
	if err != nil {
		return nil, err
	}
	if doc.Spec.Boot.ScriptFile != "" || doc.Spec.Boot.UserDataFile != "" {
		return nil, fmt.Errorf("scriptFile and userDataFile require loading from a file")
	}
	if err := validateSpec(&doc.Spec); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return doc.Spec.Request(), nil
}

func parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	if doc.APIVersion == "" {
		return nil, fmt.Errorf("missing required field: apiVersion")
	}
	if doc.Kind == "" {
		return nil, fmt.Errorf("missing required field: kind")
	}
	if doc.APIVersion != APIVersion {
		return nil, fmt.Errorf("unsupported apiVersion: %s (expected: %s)", doc.APIVersion, APIVersion)
	}
	if doc.Kind != Kind {
		return nil, fmt.Errorf("unsupported kind: %s (expected: %s)", doc.Kind, Kind)
	}

	normalize(&doc.Spec)
	return &doc, nil
}

func normalize(s *Spec) {
	s.InstanceType = strings.ToLower(strings.TrimSpace(s.InstanceType))
	s.Image = strings.TrimSpace(s.Image)
	s.Network.Profile = strings.TrimSpace(s.Network.Profile)
	s.Network.Address = strings.TrimSpace(s.Network.Address)
	s.DiskSize = strings.TrimSpace(s.DiskSize)
	s.Hostname = strings.ToLower(strings.TrimSpace(s.Hostname))
}

func inlineFiles(b *BootSpec, dir string) error {
	read := func(field, ref string) (string, error) {
		if !filepath.IsAbs(ref) {
			ref = filepath.Join(dir, ref)
		}
		data, err := os.ReadFile(ref)
		if err != nil {
			return "", fmt.Errorf("boot.%s: %w", field, err)
		}
		return string(data), nil
	}

	if b.ScriptFile != "" {
		if b.Script != "" {
			return fmt.Errorf("boot.script and boot.scriptFile are mutually exclusive")
		}
		content, err := read("scriptFile", b.ScriptFile)
		if err != nil {
			return err
		}
		b.Script, b.ScriptFile = content, ""
	}
	if b.UserDataFile != "" {
		if b.UserData != "" {
			return fmt.Errorf("boot.userData and boot.userDataFile are mutually exclusive")
		}
		content, err := read("userDataFile", b.UserDataFile)
		if err != nil {
			return err
		}
		b.UserData, b.UserDataFile = content, ""
	}
	return nil
}

// validateSpec checks required fields and internal consistency.
func validateSpec(s *Spec) error {
	if s.InstanceType == "" {
		return fmt.Errorf("spec.instanceType is required")
	}
	if s.Image == "" {
		return fmt.Errorf("spec.image is required")
	}
	if s.Network.Profile == "" {
		return fmt.Errorf("spec.network.profile is required")
	}
	if s.DiskSize == "" {
		return fmt.Errorf("spec.diskSize is required")
	}
	if s.Console != nil && (s.Console.Port < 0 || s.Console.Port > 65535) {
		return fmt.Errorf("spec.console.port %d is out of range", s.Console.Port)
	}

	b := s.Boot
	if b.UserData != "" && (b.Script != "" || len(b.Files) > 0 || len(b.RunCommands) > 0) {
		return fmt.Errorf("spec.boot.userData cannot be combined with script, files or runcmd")
	}
	pathsSeen := make(map[string]bool)
	for i, f := range b.Files {
		if f.Path == "" {
			return fmt.Errorf("spec.boot.files[%d].path is required", i)
		}
		if !strings.HasPrefix(f.Path, "/") {
			return fmt.Errorf("spec.boot.files[%d].path %q must be absolute", i, f.Path)
		}
		if pathsSeen[f.Path] {
			return fmt.Errorf("spec.boot.files[%d].path %q is duplicated", i, f.Path)
		}
		pathsSeen[f.Path] = true
	}
	for i, c := range b.RunCommands {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("spec.boot.runcmd[%d] is empty", i)
		}
	}
	return nil
}

// Request converts the spec into a manager request. AccountID is left for
// the caller.
func (s *Spec) Request() *vm.CreateRequest {
	req := &vm.CreateRequest{
		InstanceType:   s.InstanceType,
		ImageID:        s.Image,
		NetworkProfile: s.Network.Profile,
		Address:        s.Network.Address,
		DiskSize:       s.DiskSize,
		KeyName:        s.KeyName,
		Hostname:       s.Hostname,
		Script:         s.Boot.Script,
		Files:          s.Boot.Files,
		RunCommands:    s.Boot.RunCommands,
		UserData:       s.Boot.UserData,
		Tags:           s.Tags,
	}
	if s.Console != nil {
		req.EnableConsole = true
		req.ConsolePort = s.Console.Port
	}
	return req
}
