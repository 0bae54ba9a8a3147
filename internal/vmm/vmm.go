// Package vmm abstracts the hardware-virtualization library as a small
// capability interface — create VM, attach rootfs, attach net, boot, kill —
// per spec.md's "Out of scope" note that the VMM library itself is an
// external collaborator. The Firecracker-backed implementation here is one
// concrete capability; nothing above this package depends on Firecracker
// specifically.
package vmm

import "context"

// Spec describes the machine to create.
type Spec struct {
	MemoryMB int
	CPUs     int
	KernelPath string
	BootArgs   string
}

// NetAttachment is the result of attaching a tun/tap network interface.
type NetAttachment struct {
	TAPName  string
	GuestMAC string
}

// Capability is the set of operations a VMM backend must provide. A
// supervisor (C3) drives exactly this sequence: Create, AttachRootfs,
// AttachNet, Boot, then eventually Kill.
type Capability interface {
	// Create allocates VM resources (not yet booted) and returns an opaque
	// handle used by the remaining calls.
	Create(ctx context.Context, spec Spec) (Handle, error)
}

// Handle is one created-but-not-necessarily-running microVM.
type Handle interface {
	// AttachRootfs mounts mountPoint (an already-merged overlay rootfs, see
	// internal/rootfs) as the VM's root block device.
	AttachRootfs(ctx context.Context, mountPoint string) error
	// AttachNet wires a tun/tap device with the given guest MAC.
	AttachNet(ctx context.Context, net NetAttachment) error
	// Boot starts the VM with the given entrypoint (the portal binary).
	Boot(ctx context.Context, entrypoint string) error
	// PID returns the host-visible process id backing this VM, once booted.
	PID() int
	// Kill forcibly stops the VM.
	Kill(ctx context.Context) error
}
