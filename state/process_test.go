package state

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hedronos/roottask/domain"
	"github.com/hedronos/roottask/kernel"
	"github.com/hedronos/roottask/process"
)

func setup(t *testing.T) (domain.ProcessStateServiceIface, domain.ProcessRegistryIface, domain.Pid) {
	t.Helper()
	sim := kernel.NewSimulator(1 << 40)
	reg := process.NewRegistry()
	caps, err := sim.CreateProtectionDomain()
	require.NoError(t, err)
	proc := reg.Spawn(0, caps, domain.Native, false)

	svc := NewProcessStateService()
	svc.Setup(reg)
	return svc, reg, proc.Pid()
}

func TestRegisterThenLookup(t *testing.T) {
	svc, _, pid := setup(t)

	require.NoError(t, svc.RegisterProcess(pid, "init"))

	rec, ok := svc.LookupProcess(pid)
	require.True(t, ok)
	require.Equal(t, "init", rec.Label)
	require.Equal(t, pid, rec.Pid)
}

func TestRegisterUnknownPidIsNotFound(t *testing.T) {
	svc, _, _ := setup(t)

	err := svc.RegisterProcess(domain.Pid(9999), "ghost")
	require.Error(t, err)
}

func TestRegisterTwiceIsAlreadyExists(t *testing.T) {
	svc, _, pid := setup(t)

	require.NoError(t, svc.RegisterProcess(pid, "init"))
	err := svc.RegisterProcess(pid, "init-again")
	require.Error(t, err)
}

func TestUnregisterTearsDownProcessInRegistry(t *testing.T) {
	svc, reg, pid := setup(t)

	require.NoError(t, svc.RegisterProcess(pid, "init"))
	require.NoError(t, svc.UnregisterProcess(pid))

	_, ok := svc.LookupProcess(pid)
	require.False(t, ok)

	_, ok = reg.Lookup(pid)
	require.False(t, ok)
}

func TestUnregisterUnknownIsNotFound(t *testing.T) {
	svc, _, _ := setup(t)

	err := svc.UnregisterProcess(domain.Pid(42))
	require.Error(t, err)
}

func TestListProcessesReturnsAllRegistered(t *testing.T) {
	svc, reg, pid1 := setup(t)

	proc2 := reg.Spawn(pid1, domain.CapSpaceHandle("cap-2"), domain.Foreign, true)

	require.NoError(t, svc.RegisterProcess(pid1, "first"))
	require.NoError(t, svc.RegisterProcess(proc2.Pid(), "second"))

	all := svc.ListProcesses()
	require.Len(t, all, 2)
}
