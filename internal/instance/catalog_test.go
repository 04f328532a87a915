package instance

import (
	"errors"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		family, size string
		wantCPU      int
		wantMemory   int
		wantErr      bool
	}{
		{"standard", "nano", 1, 512, false},
		{"standard", "small", 1, 2048, false},
		{"compute", "2xlarge", 16, 16384, false},
		{"memory", "large", 2, 16384, false},
		{"standard", "gigantic", 0, 0, true},
		{"gpu", "small", 0, 0, true},
		{"compute", "nano", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.family+"."+tt.size, func(t *testing.T) {
			got, err := Resolve(tt.family, tt.size)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownInstanceType) {
					t.Errorf("Resolve() error = %v, want ErrUnknownInstanceType", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got.CPU != tt.wantCPU || got.MemoryMB != tt.wantMemory {
				t.Errorf("Resolve() = %d cpu / %d MB, want %d / %d", got.CPU, got.MemoryMB, tt.wantCPU, tt.wantMemory)
			}
		})
	}
}

func TestResolveName(t *testing.T) {
	d, err := ResolveName("standard.small")
	if err != nil {
		t.Fatalf("ResolveName() error = %v", err)
	}
	if d.Name() != "standard.small" {
		t.Errorf("Name() = %q", d.Name())
	}

	for _, bad := range []string{"standard.gigantic", "standard", ""} {
		if _, err := ResolveName(bad); !errors.Is(err, ErrUnknownInstanceType) {
			t.Errorf("ResolveName(%q) error = %v, want ErrUnknownInstanceType", bad, err)
		}
	}
}

func TestList(t *testing.T) {
	defs := List()
	if len(defs) != len(table) {
		t.Fatalf("List() returned %d entries, want %d", len(defs), len(table))
	}
	if defs[0].Name() != "compute.medium" {
		t.Errorf("first entry = %s, want compute.medium", defs[0].Name())
	}
	last := defs[len(defs)-1]
	if last.Name() != "standard.2xlarge" {
		t.Errorf("last entry = %s, want standard.2xlarge", last.Name())
	}
}
