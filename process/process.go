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

// Package process implements the Process entity of spec.md §3: the guest
// identity the root task tracks from spawn to exit, its heap frontier, its
// open-file table, and its cross-domain-mapper window cache.
package process

import (
	"sync"

	"github.com/hedronos/roottask/domain"
)

// process is the concrete domain.ProcessIface. Exported only via the
// Registry below -- the root task exclusively owns the set of Processes,
// matching the "cyclic ownership" design note in spec.md §9: workers
// borrow a Process by id for one dispatch rather than holding references.
type process struct {
	pid           domain.Pid
	parent        domain.Pid
	caps          domain.CapSpaceHandle
	personality   domain.Personality
	hybridCapable bool

	mu     sync.Mutex
	heap   uint64
	files  *fileTable
	window *windowCache
}

func (p *process) Pid() domain.Pid                    { return p.pid }
func (p *process) ParentPid() domain.Pid               { return p.parent }
func (p *process) CapSpace() domain.CapSpaceHandle     { return p.caps }
func (p *process) Personality() domain.Personality     { return p.personality }
func (p *process) HybridCapable() bool                 { return p.hybridCapable }
func (p *process) Files() domain.FileTableIface         { return p.files }
func (p *process) Windows() domain.WindowCacheIface    { return p.window }

func (p *process) HeapFrontier() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.heap
}

func (p *process) GrowHeap(n uint64) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.heap += n
	return p.heap
}

func (p *process) SetHeapFrontier(addr uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.heap = addr
}

var _ domain.ProcessIface = (*process)(nil)
