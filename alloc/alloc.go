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

// Package alloc implements component F, the page-granular allocator
// service: it rounds a guest's Alloc request up to whole pages, obtains
// zeroed pages from the kernel's backing chunk allocator, maps them at the
// calling process's heap frontier, and advances the frontier. Dealloc
// currently only records the request (spec.md §4.F, §9) -- actual page
// recovery is deferred work, the same posture the teacher takes toward
// unimplemented cgroup knobs in handler/implementations (stubbed, logged,
// success returned).
package alloc

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hedronos/roottask/domain"
)

// roundUpPages rounds size up to a multiple of domain.PageSize, with a
// floor of one page for a zero-size request.
func roundUpPages(size uint64) uint64 {
	if size == 0 {
		size = 1
	}
	return (size + domain.PageSize - 1) &^ (domain.PageSize - 1)
}

// Allocator is the root task's page-granular allocator service. Its own
// state is one mutex and a Dealloc counter; per-process heap-frontier
// bookkeeping lives on domain.ProcessIface. The mutex is held for the whole
// of one Alloc (read frontier, obtain pages, advance frontier), the same
// single-mutex-per-operation discipline the filesystem uses (spec.md §5).
type Allocator struct {
	kernel domain.KernelIface
	mu     sync.Mutex

	// deallocs records Dealloc requests for diagnostics only; real page
	// recovery is deferred (spec.md §9).
	deallocs int
}

func New(k domain.KernelIface) *Allocator {
	return &Allocator{kernel: k}
}

func (a *Allocator) Alloc(process domain.ProcessIface, size uint64, align uint64) (uint64, error) {
	pages := roundUpPages(size)
	if align > domain.PageSize {
		// Page-granular service; alignment coarser than a page isn't
		// representable without a dedicated slab, which nothing in
		// spec.md §4.F's scope asks for.
		return 0, domain.EINVAL
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	frontier := process.HeapFrontier()

	if err := a.kernel.AllocPages(process.CapSpace(), frontier, int(pages/domain.PageSize)); err != nil {
		logrus.Warnf("alloc: pid %d failed to obtain %d page(s) at 0x%x: %v", process.Pid(), pages/domain.PageSize, frontier, err)
		return 0, domain.ErrMapFailed
	}

	process.GrowHeap(pages)

	logrus.Debugf("alloc: pid %d grew heap by %d byte(s) (%d page(s)) at 0x%x", process.Pid(), pages, pages/domain.PageSize, frontier)
	return frontier, nil
}

func (a *Allocator) Dealloc(process domain.ProcessIface, ptr uint64, size uint64, align uint64) error {
	a.mu.Lock()
	a.deallocs++
	a.mu.Unlock()

	logrus.Debugf("alloc: pid %d dealloc of 0x%x (%d bytes) recorded, page recovery deferred", process.Pid(), ptr, size)
	return nil
}

var _ domain.AllocatorIface = (*Allocator)(nil)
