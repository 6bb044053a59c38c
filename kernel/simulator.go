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

// Package kernel implements the black-box boundary spec.md §6 describes:
// protection-domain creation, portal/call/reply, and capability delegation
// of guest memory. The real microkernel is out of scope (spec.md §1); this
// package instead provides Simulator, an in-process stand-in used by this
// repository's tests and by the roottaskd daemon, which always runs on it. Simulator
// backs guest address spaces with real host memory reachable through
// golang.org/x/sys/unix, the same way seccomp/memParserProcfs.go in the
// teacher repo reaches into a tracee's /proc/<pid>/mem.
package kernel

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-uuid"
	"golang.org/x/sys/unix"

	"github.com/hedronos/roottask/domain"
)

// addressSpace is a simulated guest protection domain: a growable byte
// arena addressed from virtual 0, backed by an anonymous mmap region the
// same way seccomp/memParserIOvec.go reaches real process memory through
// golang.org/x/sys/unix, rather than by a plain Go-managed slice.
type addressSpace struct {
	mu     sync.Mutex
	arena  []byte
	mapped bool // true if arena is an unix.Mmap region requiring unix.Munmap
}

func (a *addressSpace) ensure(end uint64) {
	if uint64(len(a.arena)) >= end {
		return
	}

	grown, err := unix.Mmap(-1, 0, int(end), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		// Host refused the mapping (e.g. sandboxed test environment);
		// fall back to a Go-managed buffer with the same semantics.
		grown = make([]byte, end)
	}
	copy(grown, a.arena)

	if a.mapped {
		unix.Munmap(a.arena)
	}
	a.arena = grown
	a.mapped = err == nil
}

// window records one active delegation: rootAddr..rootAddr+len aliases
// src's arena at [pageStart, pageStart+len).
type window struct {
	rootAddr  uint64
	pageStart uint64
	length    uint64
	src       *addressSpace
}

// Simulator is an in-process domain.KernelIface implementation.
type Simulator struct {
	mu      sync.Mutex
	spaces  map[domain.CapSpaceHandle]*addressSpace
	windows []window
	rootCur uint64 // bump allocator cursor for root-virtual addresses

	events  chan domain.KernelEvent
	replyCh chan []byte

	lastDelegationCount int // diagnostics for tests exercising coalescing
}

// NewSimulator constructs a Simulator with an empty capability space table.
// rootVirtBase is the first root-virtual address the bump allocator hands
// out; tests typically pass a large value to make root-virtual and
// guest-virtual addresses visually distinct.
func NewSimulator(rootVirtBase uint64) *Simulator {
	return &Simulator{
		spaces:  make(map[domain.CapSpaceHandle]*addressSpace),
		rootCur: rootVirtBase,
		events:  make(chan domain.KernelEvent),
		replyCh: make(chan []byte),
	}
}

func (s *Simulator) CreateProtectionDomain() (domain.CapSpaceHandle, error) {
	token, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("kernel: failed to mint capability-space handle: %w", err)
	}
	handle := domain.CapSpaceHandle(token)

	s.mu.Lock()
	s.spaces[handle] = &addressSpace{}
	s.mu.Unlock()

	return handle, nil
}

func (s *Simulator) space(h domain.CapSpaceHandle) (*addressSpace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	as, ok := s.spaces[h]
	if !ok {
		return nil, fmt.Errorf("kernel: unknown capability-space handle %q", h)
	}
	return as, nil
}

// powerOfTwoPieces returns the minimal count of power-of-two-sized pieces
// that tile n contiguous units -- the number of set bits in n's binary
// representation. This is the delegation-coalescing count referenced by
// domain.KernelIface.DelegateMemory and exercised by the mapper coalescing
// test property in spec.md §8.4.
func powerOfTwoPieces(n uint64) int {
	count := 0
	for n > 0 {
		n &= n - 1
		count++
	}
	return count
}

func (s *Simulator) DelegateMemory(
	src domain.CapSpaceHandle,
	guestAddr uint64,
	byteLen uint64,
	perms domain.MapPerm,
) (uint64, int, error) {

	if byteLen == 0 {
		return 0, 0, nil
	}

	as, err := s.space(src)
	if err != nil {
		return 0, 0, domain.ErrMapFailed
	}

	pageStart := guestAddr &^ (domain.PageSize - 1)
	pageEnd := (guestAddr + byteLen + domain.PageSize - 1) &^ (domain.PageSize - 1)
	length := pageEnd - pageStart
	npages := length / domain.PageSize

	as.mu.Lock()
	as.ensure(pageEnd)
	as.mu.Unlock()

	s.mu.Lock()
	rootAddr := s.rootCur
	s.rootCur += length
	s.windows = append(s.windows, window{
		rootAddr:  rootAddr,
		pageStart: pageStart,
		length:    length,
		src:       as,
	})
	s.mu.Unlock()

	pieces := powerOfTwoPieces(npages)

	s.mu.Lock()
	s.lastDelegationCount = pieces
	s.mu.Unlock()

	return rootAddr, pieces, nil
}

// LastDelegationCount reports the delegation count of the most recent
// DelegateMemory call; a test-only diagnostic for the coalescing property.
func (s *Simulator) LastDelegationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDelegationCount
}

// WriteAt directly seeds a protection domain's simulated guest memory, for
// test setup that needs to act "as the guest" without going through a
// delegated window.
func (s *Simulator) WriteAt(h domain.CapSpaceHandle, addr uint64, data []byte) error {
	as, err := s.space(h)
	if err != nil {
		return err
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	as.ensure(addr + uint64(len(data)))
	copy(as.arena[addr:], data)
	return nil
}

func (s *Simulator) findWindow(rootAddr uint64, n int) (*window, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.windows {
		w := &s.windows[i]
		if rootAddr >= w.rootAddr && rootAddr+uint64(n) <= w.rootAddr+w.length {
			return w, rootAddr - w.rootAddr, nil
		}
	}
	return nil, 0, domain.ErrMapFailed
}

func (s *Simulator) ReadGuestBytes(rootAddr uint64, buf []byte) error {
	w, off, err := s.findWindow(rootAddr, len(buf))
	if err != nil {
		return err
	}
	w.src.mu.Lock()
	defer w.src.mu.Unlock()
	copy(buf, w.src.arena[w.pageStart+off:w.pageStart+off+uint64(len(buf))])
	return nil
}

func (s *Simulator) WriteGuestBytes(rootAddr uint64, buf []byte) error {
	w, off, err := s.findWindow(rootAddr, len(buf))
	if err != nil {
		return err
	}
	w.src.mu.Lock()
	defer w.src.mu.Unlock()
	copy(w.src.arena[w.pageStart+off:w.pageStart+off+uint64(len(buf))], buf)
	return nil
}

func (s *Simulator) AllocPages(dst domain.CapSpaceHandle, guestAddr uint64, n int) error {
	as, err := s.space(dst)
	if err != nil {
		return err
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	end := guestAddr + uint64(n)*domain.PageSize
	as.ensure(end)
	for i := guestAddr; i < end; i++ {
		as.arena[i] = 0
	}
	return nil
}

// SendDeferred delivers one event to a Wait()-ing worker without waiting for
// a reply -- for test harnesses driving a handler expected to set
// ReplyDeferred (spec.md §8.6) rather than call kernel.Reply.
func (s *Simulator) SendDeferred(p domain.PortalIface, caller domain.Pid, payload []byte) {
	s.events <- domain.KernelEvent{Portal: p, Caller: caller, Payload: payload}
}

// Wait blocks until a test harness (or the Call helper below) delivers an
// event via the simulator's internal channel.
func (s *Simulator) Wait(portals []domain.PortalIface) (domain.KernelEvent, error) {
	ev := <-s.events
	return ev, nil
}

// Reply delivers payload back to whoever is blocked in Call.
func (s *Simulator) Reply(payload []byte) error {
	s.replyCh <- payload
	return nil
}

// Call simulates a guest's synchronous call into portal p: it enqueues a
// KernelEvent for a Wait()-ing worker and blocks until that worker's
// handler invokes Reply. This is the simulator-only counterpart of the
// real kernel's call primitive (spec.md §6); it exists so tests can drive
// the dispatcher end-to-end without a real microkernel underneath it.
func (s *Simulator) Call(p domain.PortalIface, caller domain.Pid, payload []byte) ([]byte, error) {
	s.events <- domain.KernelEvent{Portal: p, Caller: caller, Payload: payload}
	return <-s.replyCh, nil
}

// Trap simulates a guest foreign-syscall trap: like Call, but delivers an
// exception frame instead of a message-buffer payload. The handler mutates
// frame directly rather than returning bytes; its completion is signaled
// through the same reply channel Call uses, so a dispatcher can treat
// "finish handling an exception" and "reply to a service call" as the same
// kernel.Reply primitive (spec.md §6 lists one reply primitive, not two).
func (s *Simulator) Trap(p domain.PortalIface, caller domain.Pid, frame *domain.ExceptionFrame) {
	s.events <- domain.KernelEvent{Portal: p, Caller: caller, Frame: frame}
	<-s.replyCh
}
