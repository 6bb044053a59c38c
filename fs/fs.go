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

// Package fs implements component D, the in-memory filesystem service: a
// single global filesystem keyed by absolute path strings, backing
// open/read/write/lseek/close/unlink/stat for every process's open-file
// table. Grounded on the teacher's state.containerStateService (a single
// RWMutex-guarded table with a constructor-returned service interface) and
// on original_source's libfileserver (in-memory file + stat mapping).
package fs

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hedronos/roottask/domain"
	"github.com/hedronos/roottask/process"
)

// file is the global filesystem's per-path record (spec.md §3, "File").
type file struct {
	inode   uint64
	path    string
	umode   uint16
	data    []byte
	refs    int // open descriptors referencing this file
	unlinked bool
}

// Filesystem is the root task's single in-memory filesystem service. All
// mutations are serialized by one mutex held only for the critical section
// of one operation (spec.md §5) -- no I/O blocks under it, since all "I/O"
// here is a slice append.
//
// A descriptor's offset and flags live in exactly one place: the
// domain.OpenFileEntryIface row installed into the process's FileTableIface
// at open time. Read/Write/LSeek mutate that row through SetOffset rather
// than keeping a shadow copy, so the table a process can introspect is
// always the table driving its own I/O.
type Filesystem struct {
	mu        sync.Mutex
	byPath    map[string]*file
	byInode   map[uint64]*file
	nextInode uint64

	registry domain.ProcessRegistryIface
}

// New constructs an empty Filesystem service bound to the given process
// registry (used to resolve a pid to its domain.FileTableIface).
func New(registry domain.ProcessRegistryIface) *Filesystem {
	return &Filesystem{
		byPath:    make(map[string]*file),
		byInode:   make(map[uint64]*file),
		nextInode: 1,
		registry:  registry,
	}
}

func (fsys *Filesystem) fileTable(pid domain.Pid) (domain.FileTableIface, error) {
	p, ok := fsys.registry.Lookup(pid)
	if !ok {
		return nil, domain.EBADF
	}
	return p.Files(), nil
}

func (fsys *Filesystem) Open(pid domain.Pid, path string, flags domain.OpenFlags, umode uint16) (domain.FD, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	ft, err := fsys.fileTable(pid)
	if err != nil {
		return 0, err
	}

	f, exists := fsys.byPath[path]
	if !exists {
		if !flags.Has(domain.O_CREAT) {
			return 0, domain.ENOENT
		}
		f = &file{
			inode: fsys.nextInode,
			path:  path,
			umode: umode,
		}
		fsys.nextInode++
		fsys.byPath[path] = f
	} else if flags.Has(domain.O_CREAT) && flags.Has(domain.O_EXCL) {
		return 0, domain.EEXIST
	}

	if flags.Has(domain.O_TRUNC) && len(f.data) > 0 {
		f.data = f.data[:0]
	}

	offset := int64(0)
	if flags.Has(domain.O_APPEND) {
		offset = int64(len(f.data))
	}

	f.refs++
	fsys.byInode[f.inode] = f

	fd := ft.Install(func(fd domain.FD) domain.OpenFileEntryIface {
		return process.NewOpenFileEntry(fd, f.inode, offset, flags)
	})

	logrus.Debugf("fs: pid %d opened %q as fd %d (inode %d)", pid, path, fd, f.inode)
	return fd, nil
}

// lookupEntry resolves fd to its FileTableIface row and the file it refers
// to. The row is the sole source of truth for offset and flags.
func (fsys *Filesystem) lookupEntry(pid domain.Pid, fd domain.FD) (domain.OpenFileEntryIface, *file, error) {
	ft, err := fsys.fileTable(pid)
	if err != nil {
		return nil, nil, err
	}
	e, ok := ft.Get(fd)
	if !ok {
		return nil, nil, domain.EBADF
	}
	f, ok := fsys.byInode[e.Inode()]
	if !ok {
		return nil, nil, domain.EBADF
	}
	return e, f, nil
}

func (fsys *Filesystem) Read(pid domain.Pid, fd domain.FD, length int) ([]byte, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	e, f, err := fsys.lookupEntry(pid, fd)
	if err != nil {
		return nil, err
	}

	offset := e.Offset()
	if offset >= int64(len(f.data)) {
		return []byte{}, nil // EOF is not an error
	}

	end := offset + int64(length)
	if end > int64(len(f.data)) {
		end = int64(len(f.data))
	}

	out := make([]byte, end-offset)
	copy(out, f.data[offset:end])
	e.SetOffset(end)

	return out, nil
}

func (fsys *Filesystem) Write(pid domain.Pid, fd domain.FD, data []byte) (int, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	e, f, err := fsys.lookupEntry(pid, fd)
	if err != nil {
		return 0, err
	}

	offset := e.Offset()
	if e.Flags().Has(domain.O_APPEND) {
		offset = int64(len(f.data))
	}

	end := offset + int64(len(data))
	if end > int64(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		// Zero-fill any hole created by a preceding seek beyond end.
		f.data = grown
	}

	copy(f.data[offset:end], data)
	e.SetOffset(end)

	return len(data), nil
}

func (fsys *Filesystem) LSeek(pid domain.Pid, fd domain.FD, offset int64, whence domain.Whence) (int64, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	e, f, err := fsys.lookupEntry(pid, fd)
	if err != nil {
		return 0, err
	}

	var newOffset int64
	switch whence {
	case domain.SeekSet, domain.SeekData, domain.SeekHole:
		newOffset = offset
	case domain.SeekCur:
		newOffset = e.Offset() + offset
	case domain.SeekEnd:
		newOffset = int64(len(f.data)) + offset
	default:
		return 0, domain.EINVAL
	}

	e.SetOffset(newOffset)
	return newOffset, nil
}

func (fsys *Filesystem) Close(pid domain.Pid, fd domain.FD) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	ft, err := fsys.fileTable(pid)
	if err != nil {
		return err
	}

	e, ok := ft.Remove(fd)
	if !ok {
		return domain.EBADF
	}

	f, ok := fsys.byInode[e.Inode()]
	if !ok {
		return domain.EBADF
	}

	f.refs--
	if f.refs == 0 && f.unlinked {
		delete(fsys.byInode, f.inode)
	}

	return nil
}

func (fsys *Filesystem) Unlink(path string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	f, ok := fsys.byPath[path]
	if !ok {
		return domain.ENOENT
	}

	// Path is removed from the directory immediately; open descriptors keep
	// reading/writing the file until the last close (spec.md §4.D), at
	// which point Close reaps it.
	f.unlinked = true
	delete(fsys.byPath, path)

	return nil
}

func (fsys *Filesystem) Stat(pid domain.Pid, fd domain.FD) (domain.FileStat, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	_, f, err := fsys.lookupEntry(pid, fd)
	if err != nil {
		return domain.FileStat{}, err
	}

	return domain.FileStat{
		Ino:  f.inode,
		Mode: uint32(f.umode),
		Size: int64(len(f.data)),
	}, nil
}

var _ domain.FilesystemIface = (*Filesystem)(nil)
