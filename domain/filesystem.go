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

// OpenFlags mirrors the Linux open(2) flag bits (spec.md §6).
type OpenFlags uint32

const (
	O_RDONLY   OpenFlags = 0
	O_WRONLY   OpenFlags = 01
	O_RDWR     OpenFlags = 02
	O_CREAT    OpenFlags = 0100
	O_EXCL     OpenFlags = 0200
	O_TRUNC    OpenFlags = 01000
	O_APPEND   OpenFlags = 02000
	O_LARGEFILE OpenFlags = 0100000
	O_CLOEXEC  OpenFlags = 02000000
)

func (f OpenFlags) Has(bit OpenFlags) bool { return f&bit == bit }

// Whence values for lseek (spec.md §4.D). DATA and HOLE degrade to SET.
type Whence int

const (
	SeekSet  Whence = 0
	SeekCur  Whence = 1
	SeekEnd  Whence = 2
	SeekData Whence = 3
	SeekHole Whence = 4
)

// FD is a small non-negative per-process file descriptor.
type FD int32

// FileStat matches the UNIX struct stat wire layout (spec.md §6): 144 bytes,
// little-endian, C packing.
type FileStat struct {
	Dev     uint64
	Ino     uint64
	Nlink   uint64
	Mode    uint32
	Uid     uint32
	Gid     uint32
	_pad0   uint32
	Rdev    uint64
	Size    int64
	Blksize int64
	Blocks  int64
	Atime   int64
	AtimeNs int64
	Mtime   int64
	MtimeNs int64
	Ctime   int64
	CtimeNs int64
	_unused [3]int64
}

// FileStatWireSize is the byte length of FileStat's C-packed wire form
// (spec.md §6).
const FileStatWireSize = 144

// Marshal encodes the stat structure in the exact field order spec.md §6
// specifies, for direct placement into a guest's fstat output buffer (as
// opposed to FsResponse's codec-carried subset of the same fields).
func (s FileStat) Marshal() []byte {
	buf := make([]byte, 0, FileStatWireSize)
	buf = putU64(buf, s.Dev)
	buf = putU64(buf, s.Ino)
	buf = putU64(buf, s.Nlink)
	buf = putU32(buf, s.Mode)
	buf = putU32(buf, s.Uid)
	buf = putU32(buf, s.Gid)
	buf = putU32(buf, 0) // pad
	buf = putU64(buf, s.Rdev)
	buf = putI64(buf, s.Size)
	buf = putI64(buf, s.Blksize)
	buf = putI64(buf, s.Blocks)
	buf = putI64(buf, s.Atime)
	buf = putI64(buf, s.AtimeNs)
	buf = putI64(buf, s.Mtime)
	buf = putI64(buf, s.MtimeNs)
	buf = putI64(buf, s.Ctime)
	buf = putI64(buf, s.CtimeNs)
	for range s._unused {
		buf = putI64(buf, 0)
	}
	return buf
}

// OpenFileEntryIface is one row of a process's open-file table. It is the
// canonical store for a descriptor's offset: fs is the only caller that
// mutates it, always under its own single mutex (spec.md §4.D).
type OpenFileEntryIface interface {
	FD() FD
	Inode() uint64
	Offset() int64
	SetOffset(int64)
	Flags() OpenFlags
}

// FileTableIface is a process's dense-descriptor open-file table
// (spec.md §3, "Invariants": descriptors are dense small integers).
type FileTableIface interface {
	// Install places entry at the smallest free descriptor and returns it.
	Install(makeEntry func(fd FD) OpenFileEntryIface) FD
	Get(fd FD) (OpenFileEntryIface, bool)
	Remove(fd FD) (OpenFileEntryIface, bool)
}

// FilesystemIface is the in-memory filesystem service (component D).
type FilesystemIface interface {
	Open(pid Pid, path string, flags OpenFlags, umode uint16) (FD, error)
	Read(pid Pid, fd FD, length int) ([]byte, error)
	Write(pid Pid, fd FD, data []byte) (int, error)
	LSeek(pid Pid, fd FD, offset int64, whence Whence) (int64, error)
	Close(pid Pid, fd FD) error
	Unlink(path string) error
	Stat(pid Pid, fd FD) (FileStat, error)
}
