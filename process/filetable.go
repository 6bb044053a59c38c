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

package process

import "github.com/hedronos/roottask/domain"

// reservedFDs pre-reserves 0, 1, 2 for stdin/stdout/stderr sinks, per the
// dense-descriptor invariant in spec.md §3.
const reservedFDs = 3

type openFileEntry struct {
	fd     domain.FD
	inode  uint64
	offset int64
	flags  domain.OpenFlags
}

// NewOpenFileEntry constructs the FileTableIface row the fs package installs
// via FileTableIface.Install; exported because the fs service, not process,
// knows each entry's inode/offset/flags at open time.
func NewOpenFileEntry(fd domain.FD, inode uint64, offset int64, flags domain.OpenFlags) domain.OpenFileEntryIface {
	return &openFileEntry{fd: fd, inode: inode, offset: offset, flags: flags}
}

func (e *openFileEntry) FD() domain.FD           { return e.fd }
func (e *openFileEntry) Inode() uint64           { return e.inode }
func (e *openFileEntry) Offset() int64           { return e.offset }
func (e *openFileEntry) SetOffset(offset int64)  { e.offset = offset }
func (e *openFileEntry) Flags() domain.OpenFlags { return e.flags }

// fileTable is a process's dense-descriptor open-file table (component D
// consumer, spec.md §3's "Invariants"). All mutation is expected to happen
// under the filesystem service's single mutex (spec.md §4.D) -- fileTable
// itself does no locking.
type fileTable struct {
	entries map[domain.FD]*openFileEntry
}

func newFileTable() *fileTable {
	return &fileTable{entries: make(map[domain.FD]*openFileEntry)}
}

func (t *fileTable) Install(makeEntry func(fd domain.FD) domain.OpenFileEntryIface) domain.FD {
	fd := domain.FD(reservedFDs)
	for {
		if _, taken := t.entries[fd]; !taken {
			break
		}
		fd++
	}
	e := makeEntry(fd).(*openFileEntry)
	t.entries[fd] = e
	return fd
}

func (t *fileTable) Get(fd domain.FD) (domain.OpenFileEntryIface, bool) {
	e, ok := t.entries[fd]
	return e, ok
}

func (t *fileTable) Remove(fd domain.FD) (domain.OpenFileEntryIface, bool) {
	e, ok := t.entries[fd]
	if ok {
		delete(t.entries, fd)
	}
	return e, ok
}

var _ domain.FileTableIface = (*fileTable)(nil)
var _ domain.OpenFileEntryIface = (*openFileEntry)(nil)
