package disk

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ErrImagePrep is returned when converting, generalizing or compacting a
// captured image fails.
var ErrImagePrep = errors.New("image preparation failed")

// Convert writes a copy of src in format to dst.
func (p *Provisioner) Convert(ctx context.Context, src string, srcFormat ImageFormat, dst string, format ImageFormat) error {
	p.log.WithFields(logrus.Fields{"source": src, "dest": dst, "format": format}).Info("converting image")

	args := []string{"convert", "-O", string(format)}
	if srcFormat != "" {
		args = append(args, "-f", string(srcFormat))
	}
	args = append(args, src, dst)

	if _, err := p.runner.Run(ctx, p.tools.QemuImg, args...); err != nil {
		return fmt.Errorf("%w: convert: %v", ErrImagePrep, err)
	}
	if err := p.workspace.Chown(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrImagePrep, err)
	}
	return nil
}

// Sysprep strips machine identity (ssh host keys, machine-id, logs) from the
// image at path.
func (p *Provisioner) Sysprep(ctx context.Context, path string) error {
	p.log.WithField("path", path).Info("generalizing image")
	if _, err := p.runner.Run(ctx, p.tools.VirtSysprep, "-a", path); err != nil {
		return fmt.Errorf("%w: sysprep: %v", ErrImagePrep, err)
	}
	return nil
}

// Sparsify compacts the image at path in place.
func (p *Provisioner) Sparsify(ctx context.Context, path string) error {
	p.log.WithField("path", path).Info("compacting image")
	if _, err := p.runner.Run(ctx, p.tools.VirtSparsify, "--in-place", path); err != nil {
		return fmt.Errorf("%w: sparsify: %v", ErrImagePrep, err)
	}
	return nil
}
