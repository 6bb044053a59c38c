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

// Package mapper implements component B, the cross-domain mapper: it lets
// the root task read or write a guest's memory by asking the kernel
// (domain.KernelIface) to temporarily attach the guest's pages into the
// root task's own address space. Grounded on seccomp/memParser*.go's
// ReadSyscallStringArgs/ReadSyscallBytesArgs/WriteSyscallBytesArgs shape --
// there too, a tracee's memory is reached indirectly through a handle
// (there a pid, here a root-virtual window) rather than a raw pointer.
package mapper

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hedronos/roottask/domain"
)

// Mapper is the root task's single cross-domain mapper instance. Its one
// mutex serializes delegation requests; the root-virtual address cursor
// itself lives behind domain.KernelIface.DelegateMemory (spec.md §5).
type Mapper struct {
	kernel domain.KernelIface
	mu     sync.Mutex
}

func New(k domain.KernelIface) *Mapper {
	return &Mapper{kernel: k}
}

// window is the concrete domain.MappedWindowIface.
type window struct {
	kernel    domain.KernelIface
	guestAddr uint64
	length    uint64
	perms     domain.MapPerm
	pid       domain.Pid
	rootAddr  uint64
}

func (w *window) GuestAddr() uint64     { return w.guestAddr }
func (w *window) Len() uint64           { return w.length }
func (w *window) Perms() domain.MapPerm { return w.perms }
func (w *window) Pid() domain.Pid       { return w.pid }
func (w *window) BeginPtr() uint64      { return w.rootAddr }

func (w *window) Slice(pageOffset int, ln int) ([]byte, error) {
	if uint64(pageOffset+ln) > w.length {
		return nil, domain.ErrMapFailed
	}
	buf := make([]byte, ln)
	if err := w.kernel.ReadGuestBytes(w.rootAddr+uint64(pageOffset), buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (w *window) WriteSlice(pageOffset int, data []byte) error {
	if uint64(pageOffset+len(data)) > w.length {
		return domain.ErrMapFailed
	}
	return w.kernel.WriteGuestBytes(w.rootAddr+uint64(pageOffset), data)
}

// emptyWindow is returned for a zero-length Map request (spec.md §4.B's
// "when requested len is zero, return an empty view without asking the
// kernel").
type emptyWindow struct {
	pid domain.Pid
}

func (e *emptyWindow) GuestAddr() uint64     { return 0 }
func (e *emptyWindow) Len() uint64           { return 0 }
func (e *emptyWindow) Perms() domain.MapPerm { return 0 }
func (e *emptyWindow) Pid() domain.Pid       { return e.pid }
func (e *emptyWindow) BeginPtr() uint64      { return 0 }
func (e *emptyWindow) Slice(int, int) ([]byte, error) {
	return nil, nil
}

func (e *emptyWindow) WriteSlice(int, []byte) error {
	return nil
}

func (m *Mapper) Map(process domain.ProcessIface, guestAddr uint64, byteLen uint64, perms domain.MapPerm) (domain.MappedWindowIface, error) {
	if byteLen == 0 {
		return &emptyWindow{pid: process.Pid()}, nil
	}

	m.mu.Lock()
	rootAddr, delegations, err := m.kernel.DelegateMemory(process.CapSpace(), guestAddr, byteLen, perms)
	m.mu.Unlock()

	if err != nil {
		logrus.Warnf("mapper: delegation failed for pid %d at 0x%x (%d bytes): %v",
			process.Pid(), guestAddr, byteLen, err)
		return nil, domain.ErrMapFailed
	}

	pageStart := guestAddr &^ (domain.PageSize - 1)
	length := (guestAddr + byteLen + domain.PageSize - 1) &^ (domain.PageSize - 1)
	length -= pageStart

	w := &window{
		kernel:    m.kernel,
		guestAddr: pageStart,
		length:    length,
		perms:     perms,
		pid:       process.Pid(),
		rootAddr:  rootAddr,
	}

	logrus.Debugf("mapper: pid %d 0x%x+%d -> root 0x%x (%d delegation(s))",
		process.Pid(), guestAddr, byteLen, rootAddr, delegations)

	process.Windows().Insert(w)
	return w, nil
}

func (m *Mapper) CreateGetMapping(process domain.ProcessIface, addr uint64, ln uint64) (domain.MappedWindowIface, error) {
	if cached, ok := process.Windows().Find(addr, ln); ok {
		return cached, nil
	}
	return m.Map(process, addr, ln, domain.MapRead|domain.MapWrite)
}

var _ domain.MapperIface = (*Mapper)(nil)
