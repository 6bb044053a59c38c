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

import (
	"fmt"
	"sync"

	"github.com/hedronos/roottask/domain"
)

// Registry is the root task's exclusive owner of the set of live Processes
// (spec.md §3: "The root task exclusively owns the set of Processes").
// Grounded on the teacher's state.containerStateService: a single
// RWMutex-guarded map keyed by an identifier minted at registration.
type Registry struct {
	mu      sync.RWMutex
	table   map[domain.Pid]*process
	nextPid domain.Pid // 0 is reserved for the root task itself
}

// NewRegistry constructs an empty Registry; process id 0 is reserved for
// the root task and is never handed out by Spawn.
func NewRegistry() *Registry {
	return &Registry{
		table:   make(map[domain.Pid]*process),
		nextPid: 1,
	}
}

func (r *Registry) Spawn(
	parent domain.Pid,
	caps domain.CapSpaceHandle,
	personality domain.Personality,
	hybridCapable bool,
) domain.ProcessIface {

	r.mu.Lock()
	defer r.mu.Unlock()

	pid := r.nextPid
	r.nextPid++

	p := &process{
		pid:           pid,
		parent:        parent,
		caps:          caps,
		personality:   personality,
		hybridCapable: hybridCapable,
		files:         newFileTable(),
		window:        newWindowCache(),
	}
	r.table[pid] = p
	return p
}

func (r *Registry) Lookup(pid domain.Pid) (domain.ProcessIface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.table[pid]
	return p, ok
}

func (r *Registry) Destroy(pid domain.Pid) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.table[pid]; !ok {
		return fmt.Errorf("process: pid %d not found", pid)
	}
	delete(r.table, pid)
	return nil
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.table)
}

var _ domain.ProcessRegistryIface = (*Registry)(nil)
