package vm

import (
	"context"
	"crypto/rand"
	"errors"

	"github.com/digitalocean/go-libvirt"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/hearth/api/v1alpha1"
	"github.com/jbweber/hearth/internal/cloudinit"
	"github.com/jbweber/hearth/internal/descriptor"
	"github.com/jbweber/hearth/internal/disk"
	"github.com/jbweber/hearth/internal/instance"
	"github.com/jbweber/hearth/internal/metadata"
	"github.com/jbweber/hearth/internal/naming"
	"github.com/jbweber/hearth/internal/network"
	"github.com/jbweber/hearth/internal/repository"
	"github.com/jbweber/hearth/internal/status"
)

const (
	opCreate = "create"

	// VNC authentication uses at most 8 characters.
	consolePasswordLength = 8

	// serviceKeyName labels the service key in meta-data public-keys.
	serviceKeyName = "hearth-service"
)

// CreateRequest describes a VM to build.
type CreateRequest struct {
	AccountID string

	// InstanceType is "family.size", e.g. "standard.small".
	InstanceType string
	ImageID      string

	NetworkProfile string

	// Address is a static address on a BridgeToLan profile. Empty means
	// DHCP, or the virtual network's own addressing for NAT.
	Address string

	// DiskSize is an absolute size ("10G") or a growth delta ("+5G").
	DiskSize string

	KeyName  string
	Hostname string

	Script      string
	Files       []cloudinit.File
	RunCommands []string

	// UserData replaces the generated user-data document. It cannot be
	// combined with Script, Files or RunCommands.
	UserData string

	EnableConsole bool
	// ConsolePort pins the console port. Zero lets the hypervisor pick.
	ConsolePort int

	Tags map[string]string
}

// build tracks what a create has done so far so a failure can undo it.
type build struct {
	vm        *v1alpha1.VirtualMachine
	recorded  bool
	workspace string
	domain    *libvirt.Domain
}

// Create builds, defines and starts a VM and returns its id.
//
// The sequence is:
//  1. Validate the request and resolve the instance type (no side effects)
//  2. Insert a BUILDING record and create the workspace
//  3. Resolve the network profile and claim the address
//  4. Clone and resize the root volume
//  5. Resolve the account key
//  6. Generate the boot configuration and package the boot media
//  7. Reserve the console
//  8. Build the domain descriptor
//  9. Define and start the domain
//  10. Mark the record AVAILABLE
//
// Any failure after step 2 rolls back everything done so far unless
// KeepFailedBuilds is set. Cancelling ctx before step 9 is treated as a
// failure; once the domain is being defined the build runs to completion.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (string, error) {
	// Step 1: validate
	def, err := m.validateCreate(req)
	if err != nil {
		return "", err
	}

	b := &build{vm: v1alpha1.NewVirtualMachine(req.AccountID)}
	vm := b.vm
	log := m.vmLog(vm.ID)

	var createErr error
	defer func() {
		if createErr != nil {
			m.rollback(ctx, b, createErr)
		}
	}()
	fail := func(err *Error) (string, error) {
		createErr = err
		return "", err
	}

	// Step 2: record and workspace
	log.WithFields(logrus.Fields{"account": req.AccountID, "instance_type": def.Name()}).Info("creating vm")
	vm.Host = m.opts.Host
	vm.InstanceFamily = def.Family
	vm.InstanceSize = def.Size
	vm.CPU = def.CPU
	vm.MemoryMB = def.MemoryMB
	vm.KeyName = req.KeyName
	vm.Tags = req.Tags
	vm.Network.ProfileName = req.NetworkProfile

	if err := m.vms.Insert(ctx, vm); err != nil {
		return fail(newError(opCreate, KindInternal, vm.ID, "failed to record vm: %v", err))
	}
	b.recorded = true

	dir, err := m.disks.Workspace().CreateVMDirectory(req.AccountID, vm.ID)
	if err != nil {
		return fail(newError(opCreate, KindInternal, vm.ID, "failed to create workspace: %v", err))
	}
	b.workspace = dir
	vm.WorkspacePath = dir

	if err := ctx.Err(); err != nil {
		return fail(cancelled(vm.ID, err))
	}

	// Step 3: network
	log.WithField("profile", req.NetworkProfile).Info("resolving network profile")
	profile, err := m.profiles.Resolve(ctx, req.AccountID, req.NetworkProfile)
	if err != nil {
		if errors.Is(err, network.ErrProfileNotFound) {
			return fail(newError(opCreate, KindProfileNotFound, vm.ID, "%v", err))
		}
		return fail(newError(opCreate, KindInternal, vm.ID, "failed to resolve network profile: %v", err))
	}
	if e := m.attachNetwork(ctx, vm, profile, req.Address); e != nil {
		return fail(e)
	}

	if err := ctx.Err(); err != nil {
		return fail(cancelled(vm.ID, err))
	}

	// Step 4: root volume
	log.WithField("image", req.ImageID).Info("provisioning root volume")
	ref, rootPath, e := m.provisionRoot(ctx, vm, req.ImageID, req.DiskSize, dir)
	if e != nil {
		return fail(e)
	}

	if err := ctx.Err(); err != nil {
		return fail(cancelled(vm.ID, err))
	}

	// Step 5: keys
	keys, e := m.resolveKeys(ctx, vm.ID, req.AccountID, req.KeyName)
	if e != nil {
		return fail(e)
	}

	// Step 6: boot configuration
	log.Info("generating boot media")
	vm.Hostname = naming.Hostname(req.Hostname, req.Address, vm.ID)
	mediaPath, e := m.createBootMedia(vm, profile, req, keys, dir)
	if e != nil {
		return fail(e)
	}

	// Step 7: console
	if req.EnableConsole {
		password := consolePassword()
		port := descriptor.AutoPort
		if req.ConsolePort > 0 {
			port = req.ConsolePort
		}
		vm.Console = &v1alpha1.ConsoleConfig{Port: port, Listen: m.opts.ConsoleListen, Password: password}
	}

	// Step 8: descriptor
	desc := descriptor.Build(descriptorInput(vm, rootPath, string(ref.Format), mediaPath))
	rec := metadata.Record{
		VMID:         vm.ID,
		AccountID:    vm.AccountID,
		ImageID:      vm.Image.ID,
		ImageName:    vm.Image.Name,
		InstanceType: vm.InstanceType(),
		Hostname:     vm.Hostname,
	}

	if err := ctx.Err(); err != nil {
		return fail(cancelled(vm.ID, err))
	}

	// Step 9: define and start. Past this point cancellation no longer
	// aborts the build; it is handled once the vm is available.
	log.Info("defining domain")
	dom, err := m.hv.Define(desc, rec)
	if err != nil {
		return fail(withCause(newError(opCreate, KindLaunchError, vm.ID, "%v", err), CauseDefine))
	}
	b.domain = &dom

	log.Info("starting domain")
	if err := m.hv.Start(dom); err != nil {
		return fail(withCause(newError(opCreate, KindLaunchError, vm.ID, "%v", err), CauseStart))
	}

	// Step 10: available
	if err := status.TransitionToAvailable(vm); err != nil {
		return fail(newError(opCreate, KindInternal, vm.ID, "%v", err))
	}
	if err := m.vms.Update(context.WithoutCancel(ctx), vm); err != nil {
		return fail(newError(opCreate, KindInternal, vm.ID, "failed to persist vm: %v", err))
	}

	// A cancellation that arrived while the domain was defined or starting
	// becomes a terminate of the finished VM.
	if err := ctx.Err(); err != nil {
		log.Warn("create cancelled after the domain was defined, terminating vm")
		if termErr := m.Terminate(context.WithoutCancel(ctx), vm.AccountID, vm.ID, true); termErr != nil {
			log.WithError(termErr).Warn("failed to terminate cancelled vm")
			return "", newError(opCreate, KindLaunchError, vm.ID, "create cancelled: %v; terminate failed: %v", err, termErr)
		}
		return "", cancelled(vm.ID, err)
	}
	log.WithField("address", vm.Network.Address).Info("vm available")
	return vm.ID, nil
}

func (m *Manager) validateCreate(req CreateRequest) (instance.Definition, error) {
	invalid := func(format string, args ...any) (instance.Definition, error) {
		return instance.Definition{}, newError(opCreate, KindInvalidLaunchConfiguration, "", format, args...)
	}

	switch {
	case req.AccountID == "":
		return invalid("account is required")
	case req.ImageID == "":
		return invalid("image id is required")
	case req.NetworkProfile == "":
		return invalid("network profile is required")
	case req.UserData != "" && (req.Script != "" || len(req.Files) > 0 || len(req.RunCommands) > 0):
		return invalid("custom user-data cannot be combined with script, files or run commands")
	case req.ConsolePort < 0:
		return invalid("console port %d is invalid", req.ConsolePort)
	}

	family, size, err := v1alpha1.ParseInstanceType(req.InstanceType)
	if err != nil {
		return instance.Definition{}, newError(opCreate, KindUnknownInstanceType, "", "%v", err)
	}
	def, err := instance.Resolve(family, size)
	if err != nil {
		return instance.Definition{}, newError(opCreate, KindUnknownInstanceType, "", "%v", err)
	}

	if _, err := disk.ParseSize(req.DiskSize); err != nil {
		return invalid("disk size: %v", err)
	}
	return def, nil
}

// attachNetwork validates address against profile, fills in the network
// snapshot and claims the address. Two builds asking for the same address
// on the same profile collide here on the record store's unique index.
func (m *Manager) attachNetwork(ctx context.Context, vm *v1alpha1.VirtualMachine, profile *v1alpha1.NetworkProfile, address string) *Error {
	att := v1alpha1.NetworkAttachment{
		ProfileID:   profile.ID,
		ProfileName: profile.Name,
		Type:        profile.Type,
		Address:     address,
	}

	switch profile.Type {
	case v1alpha1.NetworkBridgeToLan:
		att.Bridge = profile.Config.Bridge
	case v1alpha1.NetworkNAT:
		att.VirtualNetwork = profile.Config.VirtualNetwork
	}

	if address != "" {
		if profile.Type != v1alpha1.NetworkBridgeToLan {
			return newError(opCreate, KindInvalidLaunchConfiguration, vm.ID,
				"static address requires a %s profile, %q is %s", v1alpha1.NetworkBridgeToLan, profile.Name, profile.Type)
		}
		ok, err := network.ValidateAddress(profile, address)
		if err != nil {
			return newError(opCreate, KindInvalidAddress, vm.ID, "%v", err)
		}
		if !ok {
			return newError(opCreate, KindInvalidAddress, vm.ID, "%s is not a usable host address on profile %q", address, profile.Name)
		}
		mac, err := naming.MACFromIP(address)
		if err != nil {
			return newError(opCreate, KindInvalidAddress, vm.ID, "%v", err)
		}
		att.MACAddress = mac
	} else {
		att.MACAddress = naming.MACFromID(vm.ID)
	}

	vm.Network = att
	if err := m.vms.Update(ctx, vm); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return newError(opCreate, KindInvalidLaunchConfiguration, vm.ID, "address %s is already in use on profile %q", address, profile.Name)
		}
		return newError(opCreate, KindInternal, vm.ID, "failed to record network attachment: %v", err)
	}
	return nil
}

// provisionRoot clones the image into dir, resizes it and records the volume.
func (m *Manager) provisionRoot(ctx context.Context, vm *v1alpha1.VirtualMachine, imageID, size, dir string) (disk.ImageRef, string, *Error) {
	ref, err := m.disks.ResolveImage(ctx, imageID, vm.AccountID)
	if err != nil {
		if errors.Is(err, disk.ErrImageNotFound) {
			return ref, "", newError(opCreate, KindImageNotFound, vm.ID, "%v", err)
		}
		return ref, "", newError(opCreate, KindInternal, vm.ID, "failed to resolve image: %v", err)
	}
	vm.Image = v1alpha1.ImageLineage{ID: ref.ID, Name: ref.Name}

	volumeID := v1alpha1.NewID(v1alpha1.PrefixVolume)
	path, err := m.disks.CloneToWorkspace(ctx, ref, dir, volumeID)
	if err != nil {
		return ref, "", withCause(newError(opCreate, KindLaunchError, vm.ID, "%v", err), CauseImageCopy)
	}

	if err := m.disks.Resize(ctx, path, ref.Format, size); err != nil {
		if errors.Is(err, disk.ErrShrinkUnsupported) {
			return ref, "", withCause(newError(opCreate, KindInvalidLaunchConfiguration, vm.ID, "%v", err), CauseDiskResize)
		}
		return ref, "", withCause(newError(opCreate, KindLaunchError, vm.ID, "%v", err), CauseDiskResize)
	}

	if _, err := m.disks.RecordVolume(ctx, vm.AccountID, vm.ID, volumeID, ref, path, size); err != nil {
		return ref, "", newError(opCreate, KindInternal, vm.ID, "%v", err)
	}
	return ref, path, nil
}

// resolveKeys returns the user key, if one was named, followed by the
// service key.
func (m *Manager) resolveKeys(ctx context.Context, vmID, accountID, keyName string) ([]cloudinit.PublicKey, *Error) {
	var keys []cloudinit.PublicKey
	if keyName != "" {
		kp, err := m.keys.FindByName(ctx, accountID, keyName)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, newError(opCreate, KindKeyNotFound, vmID, "no key named %q", keyName)
			}
			return nil, newError(opCreate, KindInternal, vmID, "failed to resolve key: %v", err)
		}
		keys = append(keys, cloudinit.PublicKey{Name: kp.Name, Material: kp.PublicKey})
	}
	if m.opts.ServiceKey != "" {
		keys = append(keys, cloudinit.PublicKey{Name: serviceKeyName, Material: m.opts.ServiceKey})
	}
	return keys, nil
}

func (m *Manager) createBootMedia(vm *v1alpha1.VirtualMachine, profile *v1alpha1.NetworkProfile, req CreateRequest, keys []cloudinit.PublicKey, dir string) (string, *Error) {
	configErr := func(cause Kind, err error) (string, *Error) {
		return "", withCause(newError(opCreate, KindConfigurationError, vm.ID, "%v", err), cause)
	}

	builder := cloudinit.NewBuilder(vm.ID, cloudinit.Options{
		CloudName: m.opts.CloudName,
		Zone:      m.opts.Zone,
		Region:    m.opts.Region,
		Log:       m.vmLog(vm.ID),
	})

	net, err := builder.Network(profile, vm.Network.Address, vm.Network.MACAddress)
	if err != nil {
		return configErr(CauseBootMediaValidation, err)
	}

	var ud *cloudinit.UserDataStage
	if req.UserData != "" {
		ud = net.CustomUserData(req.UserData, keys)
	} else {
		ud, err = net.UserData(cloudinit.UserDataInput{
			PublicKeys:  keys,
			Script:      req.Script,
			Files:       req.Files,
			RunCommands: req.RunCommands,
		})
		if err != nil {
			return configErr(CauseBootMediaValidation, err)
		}
	}

	bundle, err := ud.MetaData(vm.Hostname)
	if err != nil {
		return configErr(CauseBootMediaValidation, err)
	}

	path, err := bundle.CreateMedia(dir)
	if err != nil {
		if errors.Is(err, cloudinit.ErrMediaValidation) {
			return configErr(CauseBootMediaValidation, err)
		}
		return configErr(CauseBootMediaCreation, err)
	}
	if err := m.disks.Workspace().Chown(path); err != nil {
		return configErr(CauseBootMediaCreation, err)
	}
	return path, nil
}

func descriptorInput(vm *v1alpha1.VirtualMachine, rootPath, rootFormat, mediaPath string) descriptor.Input {
	in := descriptor.Input{
		Name:             vm.ID,
		CPU:              vm.CPU,
		MemoryMB:         vm.MemoryMB,
		RootVolumePath:   rootPath,
		RootVolumeFormat: rootFormat,
		BootMediaPath:    mediaPath,
		Network: descriptor.NetworkInput{
			Type:           vm.Network.Type,
			Bridge:         vm.Network.Bridge,
			VirtualNetwork: vm.Network.VirtualNetwork,
			MACAddress:     vm.Network.MACAddress,
		},
	}
	if vm.Network.Address != "" {
		// Address was validated, so the name derives cleanly.
		in.Network.TargetDev, _ = naming.InterfaceNameFromIP(vm.Network.Address)
	}
	if vm.Console != nil {
		in.Console = &descriptor.ConsoleInput{
			Port:     vm.Console.Port,
			Listen:   vm.Console.Listen,
			Password: vm.Console.Password,
		}
	}
	return in
}

// rollback undoes a failed build. Every step is best effort; failures are
// logged so they do not mask cause.
func (m *Manager) rollback(ctx context.Context, b *build, cause error) {
	ctx = context.WithoutCancel(ctx)
	log := m.vmLog(b.vm.ID).WithField("cause", cause.Error())

	if b.domain != nil {
		log.Info("removing domain after failed create")
		if err := m.hv.Destroy(*b.domain); err != nil {
			log.WithError(err).Warn("failed to destroy domain")
		}
		if err := m.hv.Undefine(*b.domain); err != nil {
			log.WithError(err).Warn("failed to undefine domain")
		}
	}

	if m.opts.KeepFailedBuilds {
		if b.recorded {
			if err := status.TransitionToFailed(b.vm); err != nil {
				log.WithError(err).Warn("failed to mark vm failed")
				return
			}
			if err := m.vms.Update(ctx, b.vm); err != nil {
				log.WithError(err).Warn("failed to persist failed vm")
			}
		}
		log.WithField("workspace", b.workspace).Warn("keeping failed build for inspection")
		return
	}

	log.Info("rolling back failed create")
	if b.workspace != "" {
		if err := m.disks.Workspace().Remove(b.workspace); err != nil {
			log.WithError(err).Warn("failed to remove workspace")
		}
	}
	if b.recorded {
		if _, err := m.volumes.DeleteByVM(ctx, b.vm.ID); err != nil {
			log.WithError(err).Warn("failed to delete volume records")
		}
		if err := m.vms.Delete(ctx, b.vm.ID); err != nil {
			log.WithError(err).Warn("failed to delete vm record")
		}
	}
}

func cancelled(vmID string, err error) *Error {
	return newError(opCreate, KindLaunchError, vmID, "create cancelled: %v", err)
}

// consolePassword returns a random base32 console password.
func consolePassword() string {
	return rand.Text()[:consolePasswordLength]
}
