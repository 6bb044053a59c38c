//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package domain

// KernelEvent is what the kernel delivers to a waiting worker on a call:
// the portal it woke up on, the caller's process id, the raw message-buffer
// bytes for a service call, or an exception frame for a trap.
type KernelEvent struct {
	Portal  PortalIface
	Caller  Pid
	Payload []byte          // service-call message-buffer contents
	Frame   *ExceptionFrame // set only for KindException portals
}

// KernelIface is the black-box microkernel boundary described in spec.md
// §6: protection-domain creation, execution-context creation, portal
// objects, capability delegation, and the blocking call/reply primitive.
// Out of scope per spec.md §1; this repository only consumes it.
type KernelIface interface {
	// CreateProtectionDomain mints a new protection domain and returns its
	// capability-space handle.
	CreateProtectionDomain() (CapSpaceHandle, error)

	// DelegateMemory asks the kernel to make the pages covering
	// [guestAddr, guestAddr+byteLen) in src's address space appear at a
	// kernel-chosen root-virtual address, coalescing contiguous pages into
	// the largest power-of-two granules the delegation primitive supports.
	// Returns the root-virtual address and the number of delegation calls
	// actually issued (for the coalescing property in spec.md §8.4).
	DelegateMemory(src CapSpaceHandle, guestAddr uint64, byteLen uint64, perms MapPerm) (rootAddr uint64, delegations int, err error)

	// ReadGuestBytes / WriteGuestBytes let the root task touch a delegated
	// window without a separate physical aliasing step; the in-process
	// kernel simulator backs these with real process-memory access via
	// golang.org/x/sys/unix.
	ReadGuestBytes(rootAddr uint64, buf []byte) error
	WriteGuestBytes(rootAddr uint64, buf []byte) error

	// AllocPages obtains n zeroed pages from the root task's backing
	// chunk allocator and maps them at guestAddr in dst's address space.
	AllocPages(dst CapSpaceHandle, guestAddr uint64, n int) error

	// Wait blocks the calling worker until the kernel delivers the next
	// event on one of the portals it attached.
	Wait(portals []PortalIface) (KernelEvent, error)

	// Reply sends payload back to the caller of the in-flight event and
	// does not return (in the real kernel); the simulator returns normally
	// so tests can inspect the reply.
	Reply(payload []byte) error
}
