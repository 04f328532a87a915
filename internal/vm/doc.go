// Package vm orchestrates VM lifecycles for hearth.
//
// The Manager ties together the record store, the network profile
// resolver, the disk provisioner, the boot-configuration generator and the
// hypervisor gateway. The main operations are:
//   - Create: build, define and start a VM from a CreateRequest
//   - Start, Stop: power the domain of an existing VM on or off
//   - Terminate: tear a VM down, reconciling records whose domain is gone
//   - Describe, DescribeAll: records joined with hypervisor run state
//   - CreateImageFromVM: capture a VM's root volume as a user image
//
// Error Handling:
//
// Every operation fails with an *Error carrying a stable Kind. Errors from
// the hypervisor, the filesystem and external tools are folded into its
// message and never returned directly. A failed Create rolls back the
// domain, the workspace, the volume records and the VM record; rollback
// failures are logged and do not replace the original error.
//
// Concurrency:
//
// Operations are long running and are meant to be run off the request path,
// for example on an internal/worker pool. Two operations on the same VM are
// serialized by a compare-and-swap on the record state; the loser fails at
// once with KindConflictingOperation.
//
// Context Support:
//
// All operations accept a context.Context. Cancelling a Create before the
// domain is defined rolls it back; after that the build runs to completion
// and the VM should be terminated if it is no longer wanted.
package vm
