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

// Package state tracks the administrative metadata the ipc control plane
// exposes for live processes: a label and a registration timestamp layered
// on top of the dispatch-facing process.Registry. Grounded on
// state/containerDB.go's idTable -- there a map[string]*container guarded
// by one RWMutex is the source of truth for container lookups; here a
// map[domain.Pid]*domain.ProcessRecord plays the same role for processes.
package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	grpcCodes "google.golang.org/grpc/codes"
	grpcStatus "google.golang.org/grpc/status"

	"github.com/hedronos/roottask/domain"
)

type processStateService struct {
	mu       sync.RWMutex
	registry domain.ProcessRegistryIface
	records  map[domain.Pid]*domain.ProcessRecord
}

func NewProcessStateService() domain.ProcessStateServiceIface {
	return &processStateService{
		records: make(map[domain.Pid]*domain.ProcessRecord),
	}
}

func (s *processStateService) Setup(registry domain.ProcessRegistryIface) {
	s.registry = registry
}

// RegisterProcess attaches a label to an already-spawned process, making it
// visible to ipc inspection RPCs. Registering a pid the registry doesn't
// know about, or registering the same pid twice, is an error (mirrors the
// teacher's ContainerRegister rejecting an unknown/duplicate container id).
func (s *processStateService) RegisterProcess(pid domain.Pid, label string) error {
	if _, ok := s.registry.Lookup(pid); !ok {
		return grpcStatus.Errorf(grpcCodes.NotFound, "process %d not found", pid)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[pid]; exists {
		return grpcStatus.Errorf(grpcCodes.AlreadyExists, "process %d already registered", pid)
	}

	proc, _ := s.registry.Lookup(pid)
	s.records[pid] = &domain.ProcessRecord{
		Pid:           pid,
		Label:         label,
		Personality:   proc.Personality(),
		HybridCapable: proc.HybridCapable(),
		RegisteredAt:  time.Now(),
	}

	logrus.Infof("state: process %d registered as %q", pid, label)
	return nil
}

func (s *processStateService) UnregisterProcess(pid domain.Pid) error {
	s.mu.Lock()
	if _, ok := s.records[pid]; !ok {
		s.mu.Unlock()
		return grpcStatus.Errorf(grpcCodes.NotFound, "process %d not registered", pid)
	}
	delete(s.records, pid)
	s.mu.Unlock()

	if err := s.registry.Destroy(pid); err != nil {
		return fmt.Errorf("state: tearing down process %d: %w", pid, err)
	}

	logrus.Infof("state: process %d unregistered", pid)
	return nil
}

func (s *processStateService) LookupProcess(pid domain.Pid) (domain.ProcessRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[pid]
	if !ok {
		return domain.ProcessRecord{}, false
	}
	return *rec, true
}

func (s *processStateService) ListProcesses() []domain.ProcessRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ProcessRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	return out
}

var _ domain.ProcessStateServiceIface = (*processStateService)(nil)
