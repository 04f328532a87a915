package disk

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/docker/go-units"
)

// ErrShrinkUnsupported is returned for negative deltas and for absolute sizes
// below a volume's current virtual size.
var ErrShrinkUnsupported = errors.New("shrinking a volume is not supported")

// Size is a parsed disk size request: either an absolute size or a growth
// delta, both in bytes.
type Size struct {
	Bytes    int64
	Relative bool
}

// ParseSize parses "10G", "512MiB" or a "+5G" delta. Units are binary, as
// qemu-img interprets them.
func ParseSize(s string) (Size, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Size{}, errors.New("disk size is required")
	}

	var relative bool
	switch s[0] {
	case '-':
		return Size{}, fmt.Errorf("%q: %w", s, ErrShrinkUnsupported)
	case '+':
		relative = true
		s = s[1:]
	}

	n, err := units.RAMInBytes(s)
	if err != nil {
		return Size{}, fmt.Errorf("invalid disk size %q: %w", s, err)
	}
	if n <= 0 {
		return Size{}, fmt.Errorf("invalid disk size %q: must be positive", s)
	}
	return Size{Bytes: n, Relative: relative}, nil
}

// Arg renders the size as a qemu-img resize argument.
func (s Size) Arg() string {
	v := strconv.FormatInt(s.Bytes, 10)
	if s.Relative {
		return "+" + v
	}
	return v
}

// String returns a human readable form.
func (s Size) String() string {
	h := units.BytesSize(float64(s.Bytes))
	if s.Relative {
		return "+" + h
	}
	return h
}
