package v1alpha1

// VMState is the persisted lifecycle state of a VirtualMachine record.
type VMState string

const (
	// VMStateBuilding is set before any side effect of a create.
	VMStateBuilding VMState = "BUILDING"

	// VMStateAvailable means the domain was defined and started and the
	// record persisted. Start, stop and snapshot are only accepted here.
	VMStateAvailable VMState = "AVAILABLE"

	// VMStateStarting, VMStateStopping and VMStateSnapshotting are transient
	// states held while an operation owns the record.
	VMStateStarting     VMState = "STARTING"
	VMStateStopping     VMState = "STOPPING"
	VMStateSnapshotting VMState = "SNAPSHOTTING"

	// VMStateTerminating is held while a terminate tears the VM down.
	VMStateTerminating VMState = "TERMINATING"

	// VMStateFailed is reachable only from BUILDING, when rollback is disabled.
	VMStateFailed VMState = "FAILED"
)

// RunState is the hypervisor-reported state of a domain.
type RunState string

const (
	RunStateNoState      RunState = "NoState"
	RunStateRunning      RunState = "Running"
	RunStateBlocked      RunState = "Blocked"
	RunStatePaused       RunState = "Paused"
	RunStateShuttingDown RunState = "ShuttingDown"
	RunStateShutOff      RunState = "ShutOff"
	RunStateCrashed      RunState = "Crashed"
	RunStateSuspended    RunState = "Suspended"
	RunStateUnknown      RunState = "Unknown"
)

// IsActive reports whether the domain has a live QEMU process.
func (s RunState) IsActive() bool {
	switch s {
	case RunStateRunning, RunStateBlocked, RunStatePaused, RunStateShuttingDown, RunStateSuspended:
		return true
	}
	return false
}

// VirtualMachine is the durable record of a VM.
type VirtualMachine struct {
	ObjectMeta `json:",inline" yaml:",inline"`

	// Host is the hypervisor host the VM was built on.
	Host string `json:"host" yaml:"host"`

	// InstanceFamily and InstanceSize name the instance definition.
	InstanceFamily string `json:"instanceFamily" yaml:"instanceFamily"`
	InstanceSize   string `json:"instanceSize" yaml:"instanceSize"`
	CPU            int    `json:"cpu" yaml:"cpu"`
	MemoryMB       int    `json:"memoryMB" yaml:"memoryMB"`

	Image   ImageLineage      `json:"image" yaml:"image"`
	Network NetworkAttachment `json:"network" yaml:"network"`

	// KeyName is the account key injected at build time. Empty if none.
	KeyName string `json:"keyName,omitempty" yaml:"keyName,omitempty"`

	Hostname string `json:"hostname,omitempty" yaml:"hostname,omitempty"`

	// Console is nil unless a remote console was requested.
	Console *ConsoleConfig `json:"console,omitempty" yaml:"console,omitempty"`

	State VMState `json:"state" yaml:"state"`

	// WorkspacePath is the per-VM directory holding volumes and boot media.
	WorkspacePath string `json:"workspacePath" yaml:"workspacePath"`
}

// InstanceType returns "family.size".
func (vm *VirtualMachine) InstanceType() string {
	return vm.InstanceFamily + "." + vm.InstanceSize
}

// ImageLineage records which image a VM was built from.
type ImageLineage struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// NetworkAttachment is the snapshot of the network profile a VM was attached to.
type NetworkAttachment struct {
	ProfileID   string             `json:"profileId" yaml:"profileId"`
	ProfileName string             `json:"profileName" yaml:"profileName"`
	Type        NetworkProfileType `json:"type" yaml:"type"`

	// Address is empty for DHCP and NAT attachments.
	Address        string `json:"address,omitempty" yaml:"address,omitempty"`
	MACAddress     string `json:"macAddress" yaml:"macAddress"`
	Bridge         string `json:"bridge,omitempty" yaml:"bridge,omitempty"`
	VirtualNetwork string `json:"virtualNetwork,omitempty" yaml:"virtualNetwork,omitempty"`
}

// ConsoleConfig is the remote console reservation for a VM.
type ConsoleConfig struct {
	// Port is -1 until the hypervisor assigns one.
	Port     int    `json:"port" yaml:"port"`
	Listen   string `json:"listen" yaml:"listen"`
	Password string `json:"password" yaml:"password"`
}
