package fs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hedronos/roottask/domain"
	"github.com/hedronos/roottask/process"
)

func setup(t *testing.T) (*Filesystem, *process.Registry, domain.Pid) {
	t.Helper()
	reg := process.NewRegistry()
	p := reg.Spawn(0, "caps", domain.Native, false)
	return New(reg), reg, p.Pid()
}

// S1 -- write/read/close.
func TestWriteReadClose(t *testing.T) {
	f, _, pid := setup(t)

	fd, err := f.Open(pid, "/a", domain.O_CREAT|domain.O_RDWR, 0644)
	require.NoError(t, err)
	require.Equal(t, domain.FD(3), fd)

	n, err := f.Write(pid, fd, []byte("hi"))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	_, err = f.LSeek(pid, fd, 0, domain.SeekSet)
	require.NoError(t, err)

	data, err := f.Read(pid, fd, 2)
	require.NoError(t, err)
	require.Equal(t, "hi", string(data))

	require.NoError(t, f.Close(pid, fd))
}

// S2 -- stat layout.
func TestStatAfterReopen(t *testing.T) {
	f, _, pid := setup(t)

	fd, err := f.Open(pid, "/a", domain.O_CREAT|domain.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = f.Write(pid, fd, []byte("hi"))
	require.NoError(t, err)
	require.NoError(t, f.Close(pid, fd))

	fd2, err := f.Open(pid, "/a", domain.O_RDWR, 0)
	require.NoError(t, err)

	st, err := f.Stat(pid, fd2)
	require.NoError(t, err)
	require.Equal(t, uint64(1), st.Ino)
	require.Equal(t, int64(2), st.Size)
	require.Equal(t, uint32(0644), st.Mode)
}

func TestOpenTruncWronlyThenStatIsZero(t *testing.T) {
	f, _, pid := setup(t)

	fd, err := f.Open(pid, "/b", domain.O_CREAT|domain.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = f.Write(pid, fd, []byte("xyz"))
	require.NoError(t, err)
	require.NoError(t, f.Close(pid, fd))

	fd2, err := f.Open(pid, "/b", domain.O_TRUNC|domain.O_WRONLY, 0)
	require.NoError(t, err)

	st, err := f.Stat(pid, fd2)
	require.NoError(t, err)
	require.Equal(t, int64(0), st.Size)
}

// S6 -- unlink with open fd.
func TestUnlinkWithOpenFDKeepsReading(t *testing.T) {
	f, _, pid := setup(t)

	fd, err := f.Open(pid, "/tmp/x", domain.O_CREAT|domain.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = f.Write(pid, fd, []byte("k"))
	require.NoError(t, err)

	require.NoError(t, f.Unlink("/tmp/x"))

	_, err = f.LSeek(pid, fd, 0, domain.SeekSet)
	require.NoError(t, err)
	data, err := f.Read(pid, fd, 1)
	require.NoError(t, err)
	require.Equal(t, "k", string(data))

	_, err = f.Open(pid, "/tmp/x", domain.O_RDWR, 0)
	require.ErrorIs(t, err, domain.ENOENT)
}

func TestOpenWithoutCreateOnMissingPathIsENOENT(t *testing.T) {
	f, _, pid := setup(t)
	_, err := f.Open(pid, "/missing", domain.O_RDONLY, 0)
	require.ErrorIs(t, err, domain.ENOENT)
}

func TestOpenCreateExclOnExistingIsEEXIST(t *testing.T) {
	f, _, pid := setup(t)
	fd, err := f.Open(pid, "/c", domain.O_CREAT|domain.O_RDWR, 0644)
	require.NoError(t, err)
	require.NoError(t, f.Close(pid, fd))

	_, err = f.Open(pid, "/c", domain.O_CREAT|domain.O_EXCL|domain.O_RDWR, 0644)
	require.ErrorIs(t, err, domain.EEXIST)
}

func TestReadPastEOFIsEmptyNotError(t *testing.T) {
	f, _, pid := setup(t)
	fd, err := f.Open(pid, "/d", domain.O_CREAT|domain.O_RDWR, 0644)
	require.NoError(t, err)

	data, err := f.Read(pid, fd, 10)
	require.NoError(t, err)
	require.Empty(t, data)
}

func TestWriteGrowsFileAndZeroFillsHole(t *testing.T) {
	f, _, pid := setup(t)
	fd, err := f.Open(pid, "/e", domain.O_CREAT|domain.O_RDWR, 0644)
	require.NoError(t, err)

	_, err = f.LSeek(pid, fd, 4, domain.SeekSet)
	require.NoError(t, err)
	_, err = f.Write(pid, fd, []byte("Z"))
	require.NoError(t, err)

	_, err = f.LSeek(pid, fd, 0, domain.SeekSet)
	require.NoError(t, err)
	data, err := f.Read(pid, fd, 5)
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0, 0, 'Z'}, data)
}

func TestAppendWritesAtEnd(t *testing.T) {
	f, _, pid := setup(t)
	fd, err := f.Open(pid, "/f", domain.O_CREAT|domain.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = f.Write(pid, fd, []byte("abc"))
	require.NoError(t, err)
	require.NoError(t, f.Close(pid, fd))

	fd2, err := f.Open(pid, "/f", domain.O_WRONLY|domain.O_APPEND, 0)
	require.NoError(t, err)
	_, err = f.Write(pid, fd2, []byte("def"))
	require.NoError(t, err)

	fd3, err := f.Open(pid, "/f", domain.O_RDONLY, 0)
	require.NoError(t, err)
	data, err := f.Read(pid, fd3, 64)
	require.NoError(t, err)
	require.Equal(t, "abcdef", string(data))
}

func TestLSeekUnknownWhenceIsEINVAL(t *testing.T) {
	f, _, pid := setup(t)
	fd, err := f.Open(pid, "/g", domain.O_CREAT|domain.O_RDWR, 0644)
	require.NoError(t, err)

	_, err = f.LSeek(pid, fd, 0, domain.Whence(99))
	require.ErrorIs(t, err, domain.EINVAL)
}

func TestCloseUnknownFDIsEBADF(t *testing.T) {
	f, _, pid := setup(t)
	err := f.Close(pid, 42)
	require.ErrorIs(t, err, domain.EBADF)
}
