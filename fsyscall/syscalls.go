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

package fsyscall

import (
	"bytes"
	"encoding/binary"

	"github.com/sirupsen/logrus"

	"github.com/hedronos/roottask/domain"
)

const maxPathLen = 4096

// readGuest maps [addr, addr+length) into the root task and copies it out.
func (p *Personality) readGuest(process domain.ProcessIface, addr uint64, length int) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	w, err := p.mapper.CreateGetMapping(process, addr, uint64(length))
	if err != nil {
		return nil, err
	}
	offset := int(addr - w.GuestAddr())
	return w.Slice(offset, length)
}

// writeGuest maps [addr, addr+len(data)) and writes data into it.
func (p *Personality) writeGuest(process domain.ProcessIface, addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	w, err := p.mapper.CreateGetMapping(process, addr, uint64(len(data)))
	if err != nil {
		return err
	}
	offset := int(addr - w.GuestAddr())
	return w.WriteSlice(offset, data)
}

// readCString reads a NUL-terminated string from guest memory, growing the
// read window geometrically until the terminator is found or maxPathLen is
// exceeded.
func (p *Personality) readCString(process domain.ProcessIface, addr uint64) (string, error) {
	for length := 64; length <= maxPathLen; length *= 2 {
		chunk, err := p.readGuest(process, addr, length)
		if err != nil {
			return "", domain.ErrMapFailed
		}
		if i := bytes.IndexByte(chunk, 0); i >= 0 {
			return string(chunk[:i]), nil
		}
	}
	return "", domain.ErrMapFailed
}

func (p *Personality) sysRead(process domain.ProcessIface, frame *domain.ExceptionFrame) {
	fd := domain.FD(frame.Rdi)
	bufAddr := frame.Rsi
	count := frame.Rdx

	data, err := p.fs.Read(process.Pid(), fd, int(count))
	if err != nil {
		fail(frame, domain.ErrnoOf(err))
		return
	}
	if err := p.writeGuest(process, bufAddr, data); err != nil {
		fail(frame, domain.EFAULT)
		return
	}
	success(frame, uint64(len(data)))
}

func (p *Personality) sysWrite(process domain.ProcessIface, frame *domain.ExceptionFrame) {
	fd := domain.FD(frame.Rdi)
	bufAddr := frame.Rsi
	count := frame.Rdx

	data, err := p.readGuest(process, bufAddr, int(count))
	if err != nil {
		fail(frame, domain.EFAULT)
		return
	}
	n, err := p.fs.Write(process.Pid(), fd, data)
	if err != nil {
		fail(frame, domain.ErrnoOf(err))
		return
	}
	success(frame, uint64(n))
}

// sysWritev iterates the iovec array and, for each entry, performs the same
// readGuest-then-fs.Write steps sysWrite performs for its single buffer.
func (p *Personality) sysWritev(process domain.ProcessIface, frame *domain.ExceptionFrame) {
	fd := domain.FD(frame.Rdi)
	iovAddr := frame.Rsi
	iovcnt := frame.Rdx

	var total uint64
	for i := uint64(0); i < iovcnt; i++ {
		raw, err := p.readGuest(process, iovAddr+i*iovecSize, iovecSize)
		if err != nil {
			fail(frame, domain.EFAULT)
			return
		}
		iov := iovec{
			Base: binary.LittleEndian.Uint64(raw[0:8]),
			Len:  binary.LittleEndian.Uint64(raw[8:16]),
		}
		segment, err := p.readGuest(process, iov.Base, int(iov.Len))
		if err != nil {
			fail(frame, domain.EFAULT)
			return
		}
		n, err := p.fs.Write(process.Pid(), fd, segment)
		if err != nil {
			fail(frame, domain.ErrnoOf(err))
			return
		}
		total += uint64(n)
	}
	success(frame, total)
}

func (p *Personality) sysOpen(process domain.ProcessIface, frame *domain.ExceptionFrame) {
	path, err := p.readCString(process, frame.Rdi)
	if err != nil {
		fail(frame, domain.EFAULT)
		return
	}
	flags := domain.OpenFlags(frame.Rsi)
	umode := uint16(frame.Rdx)

	fd, err := p.fs.Open(process.Pid(), path, flags, umode)
	if err != nil {
		fail(frame, domain.ErrnoOf(err))
		return
	}
	success(frame, uint64(fd))
}

func (p *Personality) sysClose(process domain.ProcessIface, frame *domain.ExceptionFrame) {
	if err := p.fs.Close(process.Pid(), domain.FD(frame.Rdi)); err != nil {
		fail(frame, domain.ErrnoOf(err))
		return
	}
	success(frame, 0)
}

func (p *Personality) sysLseek(process domain.ProcessIface, frame *domain.ExceptionFrame) {
	off, err := p.fs.LSeek(process.Pid(), domain.FD(frame.Rdi), int64(frame.Rsi), domain.Whence(frame.Rdx))
	if err != nil {
		fail(frame, domain.ErrnoOf(err))
		return
	}
	success(frame, uint64(off))
}

func (p *Personality) sysUnlink(process domain.ProcessIface, frame *domain.ExceptionFrame) {
	path, err := p.readCString(process, frame.Rdi)
	if err != nil {
		fail(frame, domain.EFAULT)
		return
	}
	if err := p.fs.Unlink(path); err != nil {
		fail(frame, domain.ErrnoOf(err))
		return
	}
	success(frame, 0)
}

func (p *Personality) sysFstat(process domain.ProcessIface, frame *domain.ExceptionFrame) {
	st, err := p.fs.Stat(process.Pid(), domain.FD(frame.Rdi))
	if err != nil {
		fail(frame, domain.ErrnoOf(err))
		return
	}
	if err := p.writeGuest(process, frame.Rsi, st.Marshal()); err != nil {
		fail(frame, domain.EFAULT)
		return
	}
	success(frame, 0)
}

// sysBrk pushes the heap frontier to the requested address and returns the
// new frontier, or the current frontier on a brk(0) probe (spec.md §8.4,
// scenario S4).
func (p *Personality) sysBrk(process domain.ProcessIface, frame *domain.ExceptionFrame) {
	requested := frame.Rdi
	if requested == 0 {
		success(frame, process.HeapFrontier())
		return
	}
	process.SetHeapFrontier(requested)
	success(frame, requested)
}

// sysMmap allocates zeroed pages through the allocator service and maps
// them at a kernel-chosen guest-virtual range (spec.md §4.E).
func (p *Personality) sysMmap(process domain.ProcessIface, frame *domain.ExceptionFrame) {
	length := frame.Rsi
	addr, err := p.alloc.Alloc(process, length, 0)
	if err != nil {
		fail(frame, domain.ErrnoOf(err))
		return
	}
	success(frame, addr)
}

// sysArchPrctl sets or reads the saved FS/GS base per ARCH_SET_FS /
// ARCH_GET_FS and their GS counterparts (spec.md §4.E).
const (
	archSetGS = 0x1001
	archSetFS = 0x1002
	archGetFS = 0x1003
	archGetGS = 0x1004
)

func (p *Personality) sysArchPrctl(process domain.ProcessIface, frame *domain.ExceptionFrame) {
	switch frame.Rdi {
	case archSetFS:
		frame.FsBase = frame.Rsi
	case archSetGS:
		frame.GsBase = frame.Rsi
	case archGetFS:
		if err := p.writeGuest(process, frame.Rsi, encodeU64(frame.FsBase)); err != nil {
			fail(frame, domain.EFAULT)
			return
		}
	case archGetGS:
		if err := p.writeGuest(process, frame.Rsi, encodeU64(frame.GsBase)); err != nil {
			fail(frame, domain.EFAULT)
			return
		}
	default:
		fail(frame, domain.EINVAL)
		return
	}
	success(frame, 0)
}

func encodeU64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

// sysClockGettime writes an all-zero timespec (spec.md §4.E's stub group).
func (p *Personality) sysClockGettime(process domain.ProcessIface, frame *domain.ExceptionFrame) {
	if err := p.writeGuest(process, frame.Rsi, make([]byte, 16)); err != nil {
		fail(frame, domain.EFAULT)
		return
	}
	success(frame, 0)
}

// sysSchedGetaffinity writes an all-ones CPU mask (spec.md §4.E's stub
// group).
func (p *Personality) sysSchedGetaffinity(process domain.ProcessIface, frame *domain.ExceptionFrame) {
	cpusetsize := frame.Rsi
	maskAddr := frame.Rdx
	mask := make([]byte, cpusetsize)
	for i := range mask {
		mask[i] = 0xFF
	}
	if err := p.writeGuest(process, maskAddr, mask); err != nil {
		// best-effort; absence of a valid buffer isn't fatal for a stub
		logrus.Debugf("fsyscall: pid %d sched_getaffinity stub couldn't write mask: %v", process.Pid(), err)
	}
	success(frame, cpusetsize)
}

// sysExitGroup tears down the process; the dispatcher will not see another
// event from this pid (spec.md §4.E). Destroy releases the process's open
// files and mapped windows along with it.
func (p *Personality) sysExitGroup(process domain.ProcessIface, frame *domain.ExceptionFrame) {
	pid := process.Pid()
	logrus.Debugf("fsyscall: pid %d exit_group(%d)", pid, int32(frame.Rdi))
	if err := p.registry.Destroy(pid); err != nil {
		logrus.Warnf("fsyscall: pid %d exit_group: %v", pid, err)
	}
	success(frame, 0)
}
