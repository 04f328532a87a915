// Package instance holds the static table of instance definitions.
package instance

import (
	"errors"
	"fmt"
	"sort"

	"github.com/jbweber/hearth/api/v1alpha1"
)

// ErrUnknownInstanceType is returned when a (family, size) pair is not in the table.
var ErrUnknownInstanceType = errors.New("unknown instance type")

// Definition is the CPU and memory allotment of one instance type.
type Definition struct {
	Family   string `json:"family" yaml:"family"`
	Size     string `json:"size" yaml:"size"`
	CPU      int    `json:"cpu" yaml:"cpu"`
	MemoryMB int    `json:"memoryMB" yaml:"memoryMB"`
}

// Name returns "family.size".
func (d Definition) Name() string {
	return d.Family + "." + d.Size
}

type key struct {
	family string
	size   string
}

// sizeOrder sorts sizes smallest first.
var sizeOrder = map[string]int{
	"nano": 0, "micro": 1, "small": 2, "medium": 3, "large": 4, "xlarge": 5, "2xlarge": 6,
}

var table = map[key]Definition{}

func init() {
	for _, d := range []Definition{
		{"standard", "nano", 1, 512},
		{"standard", "micro", 1, 1024},
		{"standard", "small", 1, 2048},
		{"standard", "medium", 2, 4096},
		{"standard", "large", 2, 8192},
		{"standard", "xlarge", 4, 16384},
		{"standard", "2xlarge", 8, 32768},

		{"compute", "medium", 2, 2048},
		{"compute", "large", 4, 4096},
		{"compute", "xlarge", 8, 8192},
		{"compute", "2xlarge", 16, 16384},

		{"memory", "medium", 1, 8192},
		{"memory", "large", 2, 16384},
		{"memory", "xlarge", 4, 32768},
		{"memory", "2xlarge", 8, 65536},
	} {
		table[key{d.Family, d.Size}] = d
	}
}

// Resolve looks up a (family, size) pair.
func Resolve(family, size string) (Definition, error) {
	d, ok := table[key{family, size}]
	if !ok {
		return Definition{}, fmt.Errorf("%s.%s: %w", family, size, ErrUnknownInstanceType)
	}
	return d, nil
}

// ResolveName looks up a "family.size" name.
func ResolveName(name string) (Definition, error) {
	family, size, err := v1alpha1.ParseInstanceType(name)
	if err != nil {
		return Definition{}, fmt.Errorf("%w: %v", ErrUnknownInstanceType, err)
	}
	return Resolve(family, size)
}

// List returns every definition sorted by family then size.
func List() []Definition {
	defs := make([]Definition, 0, len(table))
	for _, d := range table {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool {
		if defs[i].Family != defs[j].Family {
			return defs[i].Family < defs[j].Family
		}
		return sizeOrder[defs[i].Size] < sizeOrder[defs[j].Size]
	})
	return defs
}
