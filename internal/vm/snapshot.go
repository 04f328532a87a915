package vm

import (
	"context"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/hearth/api/v1alpha1"
	"github.com/jbweber/hearth/internal/disk"
	"github.com/jbweber/hearth/internal/naming"
	"github.com/jbweber/hearth/internal/status"
)

const opCapture = "capture"

// CaptureRequest names the image to create from a VM.
type CaptureRequest struct {
	AccountID   string
	VMID        string
	Name        string
	Description string
	Tags        map[string]string
}

// CreateImageFromVM captures the VM's root volume as a user image and
// returns the image id.
//
// The VM is stopped for the copy and started again afterwards if it was
// running. The copy is then generalized and compacted; the image only
// becomes READY once every step has succeeded, and a failure removes both
// the image record and the file.
func (m *Manager) CreateImageFromVM(ctx context.Context, req CaptureRequest) (string, error) {
	if req.Name == "" {
		return "", newError(opCapture, KindInvalidLaunchConfiguration, req.VMID, "image name is required")
	}
	if _, err := m.vms.GetForAccount(ctx, req.VMID, req.AccountID); err != nil {
		return "", m.recordErr(opCapture, req.VMID, err)
	}

	release, err := m.acquire(ctx, status.OpSnapshot, req.VMID, false)
	if err != nil {
		return "", err
	}
	defer release()

	dom, found, err := m.lookupDomain(opCapture, req.VMID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", newError(opCapture, KindNotFound, req.VMID, "no domain on this host")
	}

	vols, err := m.volumes.ListByVM(ctx, req.VMID)
	if err != nil {
		return "", newError(opCapture, KindInternal, req.VMID, "failed to list volumes: %v", err)
	}
	if len(vols) == 0 {
		return "", newError(opCapture, KindImagePrepError, req.VMID, "vm has no root volume")
	}
	root := vols[0]
	srcFormat, err := disk.ParseFormat(root.Format)
	if err != nil {
		return "", newError(opCapture, KindImagePrepError, req.VMID, "%v", err)
	}

	dir, err := m.disks.Workspace().EnsureImageDirectory(req.AccountID)
	if err != nil {
		return "", newError(opCapture, KindImagePrepError, req.VMID, "%v", err)
	}

	state, err := m.hv.State(dom)
	if err != nil {
		return "", newError(opCapture, KindInternal, req.VMID, "failed to read domain state: %v", err)
	}
	wasRunning := state.IsActive()

	log := m.vmLog(req.VMID).WithField("image_name", req.Name)
	if wasRunning {
		log.Info("stopping vm for capture")
		if err := m.hv.Stop(ctx, dom, m.opts.StopTimeout); err != nil {
			return "", newError(opCapture, KindImagePrepError, req.VMID, "failed to stop vm: %v", err)
		}
	}

	restored := !wasRunning
	restore := func() {
		if restored {
			return
		}
		restored = true
		log.Info("restarting vm after capture")
		if err := m.hv.Start(dom); err != nil {
			log.WithError(err).Warn("failed to restart vm after capture")
		}
	}
	defer restore()

	img := &v1alpha1.Image{
		Name:        req.Name,
		Description: req.Description,
		Visibility:  v1alpha1.ImageVisibilityUser,
		Format:      string(disk.FormatQCOW2),
		State:       v1alpha1.ImageStatePending,
		SourceVMID:  req.VMID,
	}
	id := v1alpha1.NewID(v1alpha1.ImageIDPrefix(img.Visibility))
	if err := img.SetID(id); err != nil {
		return "", newError(opCapture, KindInternal, req.VMID, "%v", err)
	}
	img.AccountID = req.AccountID
	img.Tags = req.Tags
	img.Path = filepath.Join(dir, naming.ImageFileName(id))

	if err := m.images.Insert(ctx, img); err != nil {
		return "", newError(opCapture, KindInternal, req.VMID, "failed to register image: %v", err)
	}

	if err := m.prepareImage(ctx, root.Path, srcFormat, img.Path, restore); err != nil {
		m.discardImage(ctx, img, log)
		return "", newError(opCapture, KindImagePrepError, req.VMID, "%v", err)
	}

	if err := m.images.UpdateState(context.WithoutCancel(ctx), img.ID, v1alpha1.ImageStateReady); err != nil {
		m.discardImage(ctx, img, log)
		return "", newError(opCapture, KindInternal, req.VMID, "failed to mark image ready: %v", err)
	}

	log.WithField("image_id", img.ID).Info("image captured")
	return img.ID, nil
}

// prepareImage copies the volume into dst, hands the VM back through
// restore, and then generalizes and compacts the copy.
func (m *Manager) prepareImage(ctx context.Context, src string, srcFormat disk.ImageFormat, dst string, restore func()) error {
	if err := m.disks.Convert(ctx, src, srcFormat, dst, disk.FormatQCOW2); err != nil {
		return err
	}
	restore()

	if err := m.disks.Sysprep(ctx, dst); err != nil {
		return err
	}
	return m.disks.Sparsify(ctx, dst)
}

func (m *Manager) discardImage(ctx context.Context, img *v1alpha1.Image, log logrus.FieldLogger) {
	ctx = context.WithoutCancel(ctx)
	if err := m.images.Delete(ctx, img.ID); err != nil {
		log.WithError(err).Warn("failed to delete image record")
	}
	if err := m.disks.Workspace().Remove(img.Path); err != nil {
		log.WithError(err).Warn("failed to remove image file")
	}
}
