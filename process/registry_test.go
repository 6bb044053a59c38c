package process

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hedronos/roottask/domain"
)

func TestSpawnAssignsDenseNonZeroPids(t *testing.T) {
	r := NewRegistry()

	p1 := r.Spawn(0, "caps-1", domain.Native, false)
	p2 := r.Spawn(0, "caps-2", domain.Foreign, true)

	require.Equal(t, domain.Pid(1), p1.Pid())
	require.Equal(t, domain.Pid(2), p2.Pid())
	require.Equal(t, 2, r.Count())
}

func TestDestroyRemovesProcess(t *testing.T) {
	r := NewRegistry()
	p := r.Spawn(0, "caps", domain.Native, false)

	require.NoError(t, r.Destroy(p.Pid()))
	_, ok := r.Lookup(p.Pid())
	require.False(t, ok)

	require.Error(t, r.Destroy(p.Pid()))
}

func TestHeapFrontierGrowth(t *testing.T) {
	r := NewRegistry()
	p := r.Spawn(0, "caps", domain.Foreign, false)

	p.SetHeapFrontier(0x1000)
	require.Equal(t, uint64(0x1000), p.HeapFrontier())

	newFrontier := p.GrowHeap(0x2000)
	require.Equal(t, uint64(0x3000), newFrontier)
	require.Equal(t, uint64(0x3000), p.HeapFrontier())
}

func TestFileTableDescriptorDensity(t *testing.T) {
	r := NewRegistry()
	p := r.Spawn(0, "caps", domain.Native, false)

	fd1 := p.Files().Install(func(fd domain.FD) domain.OpenFileEntryIface {
		return &openFileEntry{fd: fd, inode: 1}
	})
	fd2 := p.Files().Install(func(fd domain.FD) domain.OpenFileEntryIface {
		return &openFileEntry{fd: fd, inode: 2}
	})
	require.Equal(t, domain.FD(3), fd1)
	require.Equal(t, domain.FD(4), fd2)

	_, ok := p.Files().Remove(fd1)
	require.True(t, ok)

	fd3 := p.Files().Install(func(fd domain.FD) domain.OpenFileEntryIface {
		return &openFileEntry{fd: fd, inode: 3}
	})
	require.Equal(t, domain.FD(3), fd3, "closed descriptor must be reused before a larger one")
}
