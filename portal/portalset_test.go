package portal

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hedronos/roottask/domain"
)

func TestFixedPortalSetIncludesEveryService(t *testing.T) {
	portals := FixedPortalSet(2)

	svcSeen := map[domain.ServiceID]bool{}
	var sawPageFault, sawSyscall bool

	for _, p := range portals {
		if svc, ok := p.ServiceID(); ok {
			svcSeen[svc] = true
		}
		if vec, ok := p.ExceptionVector(); ok {
			switch vec {
			case domain.ExceptionPageFault:
				sawPageFault = true
			case domain.ExceptionSyscall:
				sawSyscall = true
			}
		}
	}

	require.True(t, svcSeen[domain.ServiceAllocator])
	require.True(t, svcSeen[domain.ServiceStdout])
	require.True(t, svcSeen[domain.ServiceStderr])
	require.True(t, svcSeen[domain.ServiceFilesystem])
	require.True(t, svcSeen[domain.ServiceEcho])
	require.True(t, svcSeen[domain.ServiceRawEcho])
	require.True(t, sawPageFault)
	require.True(t, sawSyscall)
}

func TestFixedPortalSetCapsAtMaxCPUs(t *testing.T) {
	portals := FixedPortalSet(domain.MaxCPUs + 10)

	count := 0
	for _, p := range portals {
		if vec, ok := p.ExceptionVector(); ok && vec == domain.ExceptionSyscall {
			count++
		}
	}
	require.Equal(t, domain.MaxCPUs, count)
}
