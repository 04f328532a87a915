package disk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/hearth/api/v1alpha1"
	"github.com/jbweber/hearth/internal/naming"
	"github.com/jbweber/hearth/internal/repository"
)

var (
	// ErrImageNotFound is returned when no image with the id is visible to
	// the account.
	ErrImageNotFound = errors.New("image not found")

	// ErrImageCopy is returned when cloning an image into a workspace fails.
	ErrImageCopy = errors.New("image copy failed")

	// ErrDiskResize is returned when resizing a volume fails.
	ErrDiskResize = errors.New("disk resize failed")
)

// ImageCatalog resolves images visible to an account.
type ImageCatalog interface {
	FindVisible(ctx context.Context, imageID, accountID string) (v1alpha1.Image, error)
}

// VolumeStore persists volume records.
type VolumeStore interface {
	Insert(ctx context.Context, vol *v1alpha1.Volume) error
}

// Tools names the external binaries. Empty fields use the defaults.
type Tools struct {
	QemuImg      string
	VirtSysprep  string
	VirtSparsify string
}

func (t Tools) withDefaults() Tools {
	if t.QemuImg == "" {
		t.QemuImg = "qemu-img"
	}
	if t.VirtSysprep == "" {
		t.VirtSysprep = "virt-sysprep"
	}
	if t.VirtSparsify == "" {
		t.VirtSparsify = "virt-sparsify"
	}
	return t
}

// ImageRef is a resolved image source.
type ImageRef struct {
	ID     string
	Name   string
	Path   string
	Format ImageFormat
}

// Provisioner turns catalog images into per-VM volumes.
type Provisioner struct {
	images    ImageCatalog
	volumes   VolumeStore
	workspace *Workspace
	runner    Runner
	tools     Tools
	log       logrus.FieldLogger
}

// ProvisionerOptions configures a Provisioner.
type ProvisionerOptions struct {
	Runner Runner
	Tools  Tools
	Log    logrus.FieldLogger
}

// NewProvisioner returns a Provisioner. A nil Runner uses an ExecRunner with
// the default timeout.
func NewProvisioner(images ImageCatalog, volumes VolumeStore, ws *Workspace, opts ProvisionerOptions) *Provisioner {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	runner := opts.Runner
	if runner == nil {
		runner = NewExecRunner(DefaultToolTimeout, log)
	}
	return &Provisioner{
		images:    images,
		volumes:   volumes,
		workspace: ws,
		runner:    runner,
		tools:     opts.Tools.withDefaults(),
		log:       log,
	}
}

// Workspace returns the workspace the provisioner writes into.
func (p *Provisioner) Workspace() *Workspace {
	return p.workspace
}

// ResolveImage returns the source of imageID as seen by accountID. The format
// is detected from the file when the catalog does not record one.
func (p *Provisioner) ResolveImage(ctx context.Context, imageID, accountID string) (ImageRef, error) {
	img, err := p.images.FindVisible(ctx, imageID, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ImageRef{}, fmt.Errorf("%s: %w", imageID, ErrImageNotFound)
		}
		return ImageRef{}, fmt.Errorf("failed to resolve image %s: %w", imageID, err)
	}
	if img.State != v1alpha1.ImageStateReady {
		return ImageRef{}, fmt.Errorf("%s is %s: %w", imageID, img.State, ErrImageNotFound)
	}

	format, err := ParseFormat(img.Format)
	if err != nil {
		return ImageRef{}, fmt.Errorf("image %s: %w", imageID, err)
	}

	ref := ImageRef{ID: img.ID, Name: img.Name, Path: img.Path, Format: format}
	if ref.Format == "" {
		// Missing files surface later as a copy error.
		if detected, err := DetectImageFormat(img.Path); err == nil {
			ref.Format = detected
		} else {
			ref.Format = FormatRaw
		}
	}
	return ref, nil
}

// CloneToWorkspace copies the image byte for byte into dir as
// <volumeID>.<format> and returns the new path. Any failure, including a
// source that vanished since resolution, is reported as ErrImageCopy and
// leaves no partial file behind.
func (p *Provisioner) CloneToWorkspace(ctx context.Context, ref ImageRef, dir, volumeID string) (string, error) {
	dst := filepath.Join(dir, naming.VolumeFileName(volumeID, string(ref.Format)))

	src, err := os.Open(ref.Path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrImageCopy, err)
	}
	defer func() { _ = src.Close() }()

	info, err := src.Stat()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrImageCopy, err)
	}
	if err := p.workspace.CheckDiskSpace(dir, info.Size()); err != nil {
		return "", fmt.Errorf("%w: %v", ErrImageCopy, err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, FilePermissions)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrImageCopy, err)
	}

	p.log.WithFields(logrus.Fields{
		"image":  ref.ID,
		"source": ref.Path,
		"dest":   dst,
		"bytes":  info.Size(),
	}).Info("cloning image")

	if err := copyFile(ctx, out, src); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("%w: %v", ErrImageCopy, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("%w: %v", ErrImageCopy, err)
	}
	if err := p.workspace.Chown(dst); err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("%w: %v", ErrImageCopy, err)
	}
	return dst, nil
}

func copyFile(ctx context.Context, dst *os.File, src io.Reader) error {
	if _, err := io.Copy(dst, &contextReader{ctx: ctx, r: src}); err != nil {
		return err
	}
	return dst.Sync()
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Resize grows the volume at path to requested. Deltas ("+5G") grow from
// the current size; absolute sizes below the current virtual size are
// refused. A size equal to the current one is a no-op.
func (p *Provisioner) Resize(ctx context.Context, path string, format ImageFormat, requested string) error {
	size, err := ParseSize(requested)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDiskResize, err)
	}

	if !size.Relative {
		current, err := p.VirtualSize(ctx, path, format)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDiskResize, err)
		}
		switch {
		case size.Bytes < current:
			return fmt.Errorf("%w: %w: %s is below current size %d", ErrDiskResize, ErrShrinkUnsupported, requested, current)
		case size.Bytes == current:
			return nil
		}
	}

	p.log.WithFields(logrus.Fields{"path": path, "size": size.String()}).Info("resizing volume")
	if _, err := p.runner.Run(ctx, p.tools.QemuImg, "resize", "-f", string(format), path, size.Arg()); err != nil {
		return fmt.Errorf("%w: %v", ErrDiskResize, err)
	}
	return nil
}

type imageInfo struct {
	VirtualSize int64  `json:"virtual-size"`
	Format      string `json:"format"`
}

// VirtualSize returns the guest visible size of the image at path.
func (p *Provisioner) VirtualSize(ctx context.Context, path string, format ImageFormat) (int64, error) {
	out, err := p.runner.Run(ctx, p.tools.QemuImg, "info", "--output=json", "-f", string(format), path)
	if err != nil {
		return 0, err
	}
	var info imageInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return 0, fmt.Errorf("unable to parse qemu-img info output for %s: %w", path, err)
	}
	return info.VirtualSize, nil
}

// RecordVolume persists the volume cloned from ref at path for vmID.
func (p *Provisioner) RecordVolume(ctx context.Context, accountID, vmID, volumeID string, ref ImageRef, path, size string) (*v1alpha1.Volume, error) {
	vol := &v1alpha1.Volume{
		VMID:    vmID,
		ImageID: ref.ID,
		Format:  string(ref.Format),
		Path:    path,
		Size:    size,
	}
	if err := vol.SetID(volumeID); err != nil {
		return nil, err
	}
	vol.AccountID = accountID
	vol.Touch(v1alpha1.Now().Time)

	if err := p.volumes.Insert(ctx, vol); err != nil {
		return nil, fmt.Errorf("failed to record volume %s: %w", volumeID, err)
	}
	return vol, nil
}
