package disk

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// ImageFormat is the on-disk format of a volume or image file.
type ImageFormat string

const (
	FormatQCOW2 ImageFormat = "qcow2"
	FormatRaw   ImageFormat = "raw"
)

// ErrUnsupportedFormat is returned when a file is neither qcow2 nor a
// bootable raw disk.
var ErrUnsupportedFormat = errors.New("unsupported image format")

var (
	// "QFI" followed by 0xfb at offset 0.
	// https://www.qemu.org/docs/master/interop/qcow2.html
	qcow2Magic = []byte{0x51, 0x46, 0x49, 0xfb}

	// Boot sector signature at offset 510. GPT disks carry it too in their
	// protective MBR.
	mbrSignature = []byte{0x55, 0xaa}
)

// ParseFormat converts a catalog format string. An empty string is returned
// as an empty format so callers can fall back to detection.
func ParseFormat(s string) (ImageFormat, error) {
	switch ImageFormat(s) {
	case "":
		return "", nil
	case FormatQCOW2, FormatRaw:
		return ImageFormat(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// DetectImageFormat reads the magic bytes of filePath.
//
// A file is qcow2 if it starts with the qcow2 magic, and raw if it carries a
// boot sector signature. Anything else is rejected so that arbitrary data files
// are never registered as bootable images.
func DetectImageFormat(filePath string) (ImageFormat, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	magic := make([]byte, len(qcow2Magic))
	if _, err := io.ReadFull(f, magic); err != nil {
		return "", fmt.Errorf("%w: file too small to be an image: %v", ErrUnsupportedFormat, err)
	}
	if bytes.Equal(magic, qcow2Magic) {
		return FormatQCOW2, nil
	}

	if _, err := f.Seek(510, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to seek to boot sector signature: %w", err)
	}
	sig := make([]byte, len(mbrSignature))
	if _, err := io.ReadFull(f, sig); err != nil {
		return "", fmt.Errorf("%w: file too small for a boot sector: %v", ErrUnsupportedFormat, err)
	}
	if bytes.Equal(sig, mbrSignature) {
		return FormatRaw, nil
	}

	return "", fmt.Errorf("%w: not qcow2 and missing boot sector signature", ErrUnsupportedFormat)
}
