package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/hearth/api/v1alpha1"
	"github.com/jbweber/hearth/internal/vm"
)

// newDescription builds a description for testing.
func newDescription(id string, state v1alpha1.VMState, run v1alpha1.RunState, address string) *vm.Description {
	rec := &v1alpha1.VirtualMachine{
		InstanceFamily: "standard",
		InstanceSize:   "small",
		CPU:            2,
		MemoryMB:       2048,
		Image:          v1alpha1.ImageLineage{ID: "gmi-1a2b3c4d", Name: "fedora-42"},
		Network: v1alpha1.NetworkAttachment{
			ProfileName: "home",
			Type:        v1alpha1.NetworkBridgeToLan,
			Address:     address,
		},
		State: state,
	}
	rec.ID = id
	rec.AccountID = "acct-a"
	rec.CreatedAt = v1alpha1.Time{Time: time.Now().Add(-5 * time.Minute)}
	return &vm.Description{Record: rec, RunState: run}
}

func newImage(id, name string) *v1alpha1.Image {
	img := &v1alpha1.Image{
		Name:       name,
		Visibility: v1alpha1.ImageVisibilityGuest,
		Format:     "qcow2",
		State:      v1alpha1.ImageStateReady,
	}
	img.ID = id
	return img
}

func TestTableFormatter_FormatVM(t *testing.T) {
	tests := []struct {
		name string
		d    *vm.Description
		want []string
	}{
		{
			name: "running with address",
			d:    newDescription("vm-00000001", v1alpha1.VMStateAvailable, v1alpha1.RunStateRunning, "172.16.9.12"),
			want: []string{"vm-00000001", "AVAILABLE", "Running", "standard.small", "172.16.9.12", "fedora-42", "5m"},
		},
		{
			name: "orphan without address",
			d:    newDescription("vm-00000002", v1alpha1.VMStateAvailable, v1alpha1.RunStateNoState, ""),
			want: []string{"vm-00000002", "NoState", "dhcp"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := &TableFormatter{}
			output, err := formatter.FormatVM(tt.d)
			if err != nil {
				t.Fatalf("FormatVM() error = %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(output, want) {
					t.Errorf("output missing %q: %s", want, output)
				}
			}
		})
	}
}

func TestTableFormatter_HidesConsolePassword(t *testing.T) {
	d := newDescription("vm-00000001", v1alpha1.VMStateAvailable, v1alpha1.RunStateRunning, "172.16.9.12")
	d.Record.Console = &v1alpha1.ConsoleConfig{Port: 5901, Listen: "0.0.0.0", Password: "s3cr3tpw"}

	output, err := (&TableFormatter{}).FormatVM(d)
	if err != nil {
		t.Fatalf("FormatVM() error = %v", err)
	}
	if strings.Contains(output, "s3cr3tpw") {
		t.Errorf("table output leaked the console password: %s", output)
	}
	if !strings.Contains(output, "0.0.0.0:5901") {
		t.Errorf("output missing console endpoint: %s", output)
	}
}

func TestTableFormatter_FormatVMList(t *testing.T) {
	tests := []struct {
		name       string
		ds         []*vm.Description
		noHeaders  bool
		wantCount  int
		wantHeader bool
	}{
		{
			name:      "empty list",
			ds:        []*vm.Description{},
			wantCount: 0,
		},
		{
			name: "multiple VMs",
			ds: []*vm.Description{
				newDescription("vm-00000001", v1alpha1.VMStateAvailable, v1alpha1.RunStateRunning, "172.16.9.12"),
				newDescription("vm-00000002", v1alpha1.VMStateAvailable, v1alpha1.RunStateShutOff, "172.16.9.13"),
				newDescription("vm-00000003", v1alpha1.VMStateFailed, v1alpha1.RunStateNoState, ""),
			},
			wantCount:  3,
			wantHeader: true,
		},
		{
			name: "no headers",
			ds: []*vm.Description{
				newDescription("vm-00000001", v1alpha1.VMStateAvailable, v1alpha1.RunStateRunning, "172.16.9.12"),
			},
			noHeaders: true,
			wantCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := &TableFormatter{NoHeaders: tt.noHeaders}
			output, err := formatter.FormatVMList(tt.ds)
			if err != nil {
				t.Fatalf("FormatVMList() error = %v", err)
			}

			if tt.wantCount == 0 {
				if !strings.Contains(output, "No VMs found") {
					t.Errorf("expected 'No VMs found' message, got: %s", output)
				}
				return
			}

			hasHeader := strings.Contains(output, "ID") && strings.Contains(output, "RUN-STATE")
			if tt.wantHeader != hasHeader {
				t.Errorf("header present = %v, want %v: %s", hasHeader, tt.wantHeader, output)
			}

			lines := strings.Split(strings.TrimSpace(output), "\n")
			expectedLines := tt.wantCount
			if tt.wantHeader {
				expectedLines++
			}
			if len(lines) != expectedLines {
				t.Errorf("expected %d lines, got %d: %s", expectedLines, len(lines), output)
			}
		})
	}
}

func TestTableFormatter_FormatImageList(t *testing.T) {
	formatter := &TableFormatter{}

	output, err := formatter.FormatImageList(nil)
	if err != nil {
		t.Fatalf("FormatImageList() error = %v", err)
	}
	if !strings.Contains(output, "No images found") {
		t.Errorf("expected 'No images found', got: %s", output)
	}

	captured := newImage("umi-00000002", "golden")
	captured.Visibility = v1alpha1.ImageVisibilityUser
	captured.SourceVMID = "vm-00000001"
	output, err = formatter.FormatImageList([]*v1alpha1.Image{newImage("gmi-00000001", "fedora-42"), captured})
	if err != nil {
		t.Fatalf("FormatImageList() error = %v", err)
	}
	for _, want := range []string{"VISIBILITY", "fedora-42", "guest", "golden", "user", "vm-00000001"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q: %s", want, output)
		}
	}
}

func TestYAMLFormatter_FormatVM(t *testing.T) {
	d := newDescription("vm-00000001", v1alpha1.VMStateAvailable, v1alpha1.RunStateRunning, "172.16.9.12")

	output, err := (&YAMLFormatter{}).FormatVM(d)
	if err != nil {
		t.Fatalf("FormatVM() error = %v", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal([]byte(output), &doc); err != nil {
		t.Fatalf("output is not YAML: %v", err)
	}
	if doc["runState"] != "Running" {
		t.Errorf("runState = %v", doc["runState"])
	}
	record, ok := doc["record"].(map[string]any)
	if !ok {
		t.Fatalf("record missing: %s", output)
	}
	if record["id"] != "vm-00000001" || record["state"] != "AVAILABLE" {
		t.Errorf("unexpected record: %v", record)
	}
}

func TestYAMLFormatter_FormatVMList(t *testing.T) {
	f := &YAMLFormatter{}

	output, err := f.FormatVMList(nil)
	if err != nil {
		t.Fatalf("FormatVMList() error = %v", err)
	}
	if output != "" {
		t.Errorf("expected empty output, got: %s", output)
	}

	ds := []*vm.Description{
		newDescription("vm-00000001", v1alpha1.VMStateAvailable, v1alpha1.RunStateRunning, "172.16.9.12"),
		newDescription("vm-00000002", v1alpha1.VMStateAvailable, v1alpha1.RunStateShutOff, "172.16.9.13"),
	}
	output, err = f.FormatVMList(ds)
	if err != nil {
		t.Fatalf("FormatVMList() error = %v", err)
	}
	if strings.Count(output, "---\n") != 1 {
		t.Errorf("expected one document separator: %s", output)
	}
	for _, d := range ds {
		if !strings.Contains(output, d.Record.ID) {
			t.Errorf("output missing %q", d.Record.ID)
		}
	}
}

func TestJSONFormatter_FormatVM(t *testing.T) {
	d := newDescription("vm-00000001", v1alpha1.VMStateAvailable, v1alpha1.RunStateRunning, "172.16.9.12")
	d.Volumes = []*v1alpha1.Volume{{Format: "qcow2", Path: "/var/lib/hearth/acct-a/vm-00000001/vol-1.qcow2"}}

	output, err := (&JSONFormatter{}).FormatVM(d)
	if err != nil {
		t.Fatalf("FormatVM() error = %v", err)
	}

	var doc struct {
		Record struct {
			ID      string `json:"id"`
			Network struct {
				Address string `json:"address"`
			} `json:"network"`
		} `json:"record"`
		RunState string `json:"runState"`
		Volumes  []struct {
			Format string `json:"format"`
		} `json:"volumes"`
	}
	if err := json.Unmarshal([]byte(output), &doc); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if doc.Record.ID != "vm-00000001" || doc.Record.Network.Address != "172.16.9.12" {
		t.Errorf("unexpected record: %+v", doc.Record)
	}
	if doc.RunState != "Running" || len(doc.Volumes) != 1 || doc.Volumes[0].Format != "qcow2" {
		t.Errorf("unexpected description: %+v", doc)
	}
}

func TestJSONFormatter_Lists(t *testing.T) {
	f := &JSONFormatter{}

	out, err := f.FormatVMList(nil)
	if err != nil || out != "[]\n" {
		t.Errorf("FormatVMList(nil) = %q, %v", out, err)
	}
	out, err = f.FormatImageList(nil)
	if err != nil || out != "[]\n" {
		t.Errorf("FormatImageList(nil) = %q, %v", out, err)
	}

	out, err = f.FormatImageList([]*v1alpha1.Image{newImage("gmi-00000001", "fedora-42")})
	if err != nil {
		t.Fatalf("FormatImageList() error = %v", err)
	}
	var imgs []map[string]any
	if err := json.Unmarshal([]byte(out), &imgs); err != nil {
		t.Fatalf("output is not a JSON array: %v", err)
	}
	if len(imgs) != 1 || imgs[0]["name"] != "fedora-42" {
		t.Errorf("unexpected images: %v", imgs)
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"table format", Options{Format: FormatTable}, false},
		{"yaml format", Options{Format: FormatYAML}, false},
		{"json format", Options{Format: FormatJSON}, false},
		{"invalid format", Options{Format: "invalid"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter, err := NewFormatter(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewFormatter() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && formatter == nil {
				t.Error("NewFormatter() returned nil formatter")
			}
		})
	}
}

func TestValidateFormat(t *testing.T) {
	for _, format := range []string{"table", "yaml", "json"} {
		if err := ValidateFormat(format); err != nil {
			t.Errorf("ValidateFormat(%q) error = %v", format, err)
		}
	}
	for _, format := range []string{"xml", ""} {
		if err := ValidateFormat(format); err == nil {
			t.Errorf("ValidateFormat(%q) expected error", format)
		}
	}
}

func TestFormatAge(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		want     string
	}{
		{"5 seconds", 5 * time.Second, "5s"},
		{"90 seconds", 90 * time.Second, "1m"},
		{"90 minutes", 90 * time.Minute, "1h"},
		{"2 days", 48 * time.Hour, "2d"},
		{"2 weeks", 14 * 24 * time.Hour, "2w"},
		{"60 days", 60 * 24 * time.Hour, "60d"},
		{"400 days", 400 * 24 * time.Hour, "1y"},
		{"negative", -time.Second, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatAge(tt.duration); got != tt.want {
				t.Errorf("formatAge(%v) = %q, want %q", tt.duration, got, tt.want)
			}
		})
	}
}
