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

import "time"

// ProcessRecord is the administrative view of a Process exposed through the
// ipc control plane: richer than ProcessIface (which is the dispatch-time
// working set), narrower than a live snapshot (label/registration time only,
// no open-file or mapping state).
type ProcessRecord struct {
	Pid           Pid
	Label         string
	Personality   Personality
	HybridCapable bool
	RegisteredAt  time.Time
}

// ProcessStateServiceIface tracks the administrative metadata (label,
// registration time) associated with a live Process, keyed by Pid. It
// mirrors the teacher's container-table service, one layer above the
// dispatch-facing ProcessRegistryIface.
type ProcessStateServiceIface interface {
	Setup(registry ProcessRegistryIface)
	RegisterProcess(pid Pid, label string) error
	UnregisterProcess(pid Pid) error
	LookupProcess(pid Pid) (ProcessRecord, bool)
	ListProcesses() []ProcessRecord
}

// IpcServiceIface is the root task's administrative control plane: a grpc
// server fronting a ProcessStateServiceIface for external tooling (mirrors
// the teacher's domain.IpcServiceIface).
type IpcServiceIface interface {
	Setup(registry ProcessRegistryIface, prs ProcessStateServiceIface)
	Init() error
	Stop()
}
