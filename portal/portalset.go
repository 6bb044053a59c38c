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

package portal

import "github.com/hedronos/roottask/domain"

// Portal is the production domain.PortalIface: a capability selector paired
// with the tag the kernel delivers on entry. A real microkernel mints these
// at boot from the root task's manifest; kernel.Simulator's test harnesses
// build their own (see portal_test.go's fakePortal), but this is the one
// roottaskd itself constructs.
type Portal struct {
	capSel uint64
	tag    domain.PortalTag
	kind   domain.PortalKind
	svc    domain.ServiceID
	vector domain.ExceptionVector
}

func NewServicePortal(capSel uint64, tag domain.PortalTag, svc domain.ServiceID) *Portal {
	return &Portal{capSel: capSel, tag: tag, kind: domain.KindService, svc: svc}
}

func NewExceptionPortal(capSel uint64, tag domain.PortalTag, vector domain.ExceptionVector) *Portal {
	return &Portal{capSel: capSel, tag: tag, kind: domain.KindException, vector: vector}
}

func (p *Portal) CapSel() uint64       { return p.capSel }
func (p *Portal) Tag() domain.PortalTag { return p.tag }
func (p *Portal) Kind() domain.PortalKind { return p.kind }

func (p *Portal) ServiceID() (domain.ServiceID, bool) {
	if p.kind != domain.KindService {
		return 0, false
	}
	return p.svc, true
}

func (p *Portal) ExceptionVector() (domain.ExceptionVector, bool) {
	if p.kind != domain.KindException {
		return 0, false
	}
	return p.vector, true
}

// FixedPortalSet builds the per-process portal set spec.md §6's tag
// assignment table describes: one portal per fixed service, plus the
// foreign-syscall trap entry and page-fault exception, for numCPUs worker
// contexts.
func FixedPortalSet(numCPUs int) []domain.PortalIface {
	portals := []domain.PortalIface{
		NewServicePortal(uint64(domain.AllocatorServicePT), domain.AllocatorServicePT, domain.ServiceAllocator),
		NewServicePortal(uint64(domain.StdoutServicePT), domain.StdoutServicePT, domain.ServiceStdout),
		NewServicePortal(uint64(domain.StderrServicePT), domain.StderrServicePT, domain.ServiceStderr),
		NewServicePortal(uint64(domain.FsServicePT), domain.FsServicePT, domain.ServiceFilesystem),
		NewServicePortal(uint64(domain.EchoServicePT), domain.EchoServicePT, domain.ServiceEcho),
		NewServicePortal(uint64(domain.RawEchoServicePT), domain.RawEchoServicePT, domain.ServiceRawEcho),
		NewExceptionPortal(uint64(domain.ExceptionBase)+uint64(domain.ExceptionPageFault), domain.ExceptionBase+domain.PortalTag(domain.ExceptionPageFault), domain.ExceptionPageFault),
	}

	if numCPUs > domain.MaxCPUs {
		numCPUs = domain.MaxCPUs
	}
	for cpu := 0; cpu < numCPUs; cpu++ {
		tag := domain.SyscallPortalTag(cpu)
		portals = append(portals, NewExceptionPortal(uint64(tag), tag, domain.ExceptionSyscall))
	}

	return portals
}

var _ domain.PortalIface = (*Portal)(nil)
