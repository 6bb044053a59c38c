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

// Package fsyscall implements component E, the foreign syscall personality:
// a trap-based entry point for guests built against another OS's UNIX-style
// ABI. Grounded on seccomp/tracer.go's syscallStr switch (there, dispatch on
// the decoded syscall name gates a table of per-syscall handlers) and on
// seccomp/memParser*.go for the discipline of never dereferencing a guest
// pointer directly, always going through a mapped window (component B).
package fsyscall

import (
	"github.com/sirupsen/logrus"

	"github.com/hedronos/roottask/domain"
)

// iovec mirrors the Linux struct iovec layout for writev argument decoding.
type iovec struct {
	Base uint64
	Len  uint64
}

const iovecSize = 16

// Personality is the root task's foreign-syscall personality (component E).
type Personality struct {
	mapper   domain.MapperIface
	fs       domain.FilesystemIface
	alloc    domain.AllocatorIface
	registry domain.ProcessRegistryIface
}

// New constructs a Personality bound to the mapper, filesystem and
// allocator services it mediates through (spec.md §2's control-flow
// summary: "E ... mediates via B and D"), plus the process registry it
// tears a process down through on exit_group.
func New(mapper domain.MapperIface, fs domain.FilesystemIface, alloc domain.AllocatorIface, registry domain.ProcessRegistryIface) *Personality {
	return &Personality{mapper: mapper, fs: fs, alloc: alloc, registry: registry}
}

// success writes a non-negative result (spec.md §8.5: bit 63 of the result
// register is 0 on success) and advances RIP past the trap instruction.
func success(frame *domain.ExceptionFrame, val uint64) {
	frame.Rax = val
	frame.Rip += domain.TrapInstructionLen
}

// fail writes -errno (spec.md §8.5: errno in [1, 4095]) and advances RIP.
func fail(frame *domain.ExceptionFrame, errno domain.Errno) {
	frame.Rax = uint64(-int64(errno))
	frame.Rip += domain.TrapInstructionLen
}

// HandleTrap decodes frame.Rax and dispatches to the matching syscall
// handler; unrecognized numbers return ENOSYS untouched otherwise
// (spec.md §8.5, scenario S3).
func (p *Personality) HandleTrap(process domain.ProcessIface, frame *domain.ExceptionFrame) {
	num := domain.SyscallNum(frame.Rax)

	switch num {
	case domain.SysRead:
		p.sysRead(process, frame)
	case domain.SysWrite:
		p.sysWrite(process, frame)
	case domain.SysWritev:
		p.sysWritev(process, frame)
	case domain.SysOpen:
		p.sysOpen(process, frame)
	case domain.SysClose:
		p.sysClose(process, frame)
	case domain.SysLseek:
		p.sysLseek(process, frame)
	case domain.SysUnlink:
		p.sysUnlink(process, frame)
	case domain.SysFstat:
		p.sysFstat(process, frame)
	case domain.SysBrk:
		p.sysBrk(process, frame)
	case domain.SysMmap:
		p.sysMmap(process, frame)
	case domain.SysMprotect, domain.SysMunmap:
		success(frame, 0) // acknowledged, not implemented (spec.md §9)
	case domain.SysArchPrctl:
		p.sysArchPrctl(process, frame)
	case domain.SysClockGettime:
		p.sysClockGettime(process, frame)
	case domain.SysSchedGetaffinity:
		p.sysSchedGetaffinity(process, frame)
	case domain.SysSetTidAddress, domain.SysSigaltstack, domain.SysRtSigaction,
		domain.SysRtSigprocmask, domain.SysPoll, domain.SysMadvise,
		domain.SysIoctl, domain.SysFcntl, domain.SysSysinfo:
		success(frame, 0) // minimal stub; spec.md §4.E's "success stubs" group
	case domain.SysExitGroup:
		p.sysExitGroup(process, frame)
	default:
		logrus.Warnf("fsyscall: pid %d issued unknown syscall %d", process.Pid(), num)
		fail(frame, domain.ENOSYS)
	}
}

var _ domain.ForeignSyscallIface = (*Personality)(nil)
