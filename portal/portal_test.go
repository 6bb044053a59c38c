package portal

import (
	"bytes"
	"testing"

	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/stretchr/testify/require"

	"github.com/hedronos/roottask/alloc"
	"github.com/hedronos/roottask/codec"
	"github.com/hedronos/roottask/domain"
	"github.com/hedronos/roottask/fs"
	"github.com/hedronos/roottask/kernel"
	"github.com/hedronos/roottask/process"
)

// fakePortal is a minimal domain.PortalIface for test-driven dispatch.
type fakePortal struct {
	tag    domain.PortalTag
	kind   domain.PortalKind
	svc    domain.ServiceID
	hasSvc bool
	vector domain.ExceptionVector
	hasVec bool
}

func (p *fakePortal) CapSel() uint64      { return uint64(p.tag) }
func (p *fakePortal) Tag() domain.PortalTag { return p.tag }
func (p *fakePortal) Kind() domain.PortalKind { return p.kind }
func (p *fakePortal) ServiceID() (domain.ServiceID, bool)         { return p.svc, p.hasSvc }
func (p *fakePortal) ExceptionVector() (domain.ExceptionVector, bool) { return p.vector, p.hasVec }

func servicePortal(tag domain.PortalTag, svc domain.ServiceID) *fakePortal {
	return &fakePortal{tag: tag, kind: domain.KindService, svc: svc, hasSvc: true}
}

func exceptionPortal(tag domain.PortalTag, vec domain.ExceptionVector) *fakePortal {
	return &fakePortal{tag: tag, kind: domain.KindException, vector: vec, hasVec: true}
}

func testEnv(t *testing.T) (*Dispatcher, *kernel.Simulator, *process.Registry, domain.Pid) {
	t.Helper()
	sim := kernel.NewSimulator(1 << 40)
	reg := process.NewRegistry()
	caps, err := sim.CreateProtectionDomain()
	require.NoError(t, err)
	p := reg.Spawn(0, caps, domain.Foreign, false)

	filesystem := fs.New(reg)
	allocator := alloc.New(sim)
	var stdout, stderr bytes.Buffer

	d := New(sim, reg, nil, filesystem, allocator, &stdout, &stderr)
	return d, sim, reg, p.Pid()
}

func encode(t *testing.T, v domain.Encodable) []byte {
	t.Helper()
	buf := codec.NewBuffer()
	require.NoError(t, buf.Store(v))
	return buf.Bytes()
}

func decode(t *testing.T, raw []byte, v domain.Encodable) {
	t.Helper()
	require.NoError(t, codec.LoadFrom(raw, v))
}

func TestDispatchEchoServiceRoundTrip(t *testing.T) {
	d, sim, _, pid := testEnv(t)
	portal := servicePortal(domain.EchoServicePT, domain.ServiceEcho)

	go func() {
		_, _ = d.DispatchOnce([]domain.PortalIface{portal})
	}()

	reply, err := sim.Call(portal, pid, encode(t, &domain.EchoMessage{Data: []byte("hi")}))
	require.NoError(t, err)

	var msg domain.EchoMessage
	decode(t, reply, &msg)
	require.Equal(t, "hi", string(msg.Data))
}

func TestDispatchRawEchoBypassesCodec(t *testing.T) {
	d, sim, _, pid := testEnv(t)
	portal := servicePortal(domain.RawEchoServicePT, domain.ServiceRawEcho)

	go func() {
		_, _ = d.DispatchOnce([]domain.PortalIface{portal})
	}()

	reply, err := sim.Call(portal, pid, []byte("raw-bytes"))
	require.NoError(t, err)
	require.Equal(t, "raw-bytes", string(reply))
}

func TestDispatchFilesystemOpenWriteRead(t *testing.T) {
	d, sim, _, pid := testEnv(t)
	portal := servicePortal(domain.FsServicePT, domain.ServiceFilesystem)

	call := func(req *domain.FsRequest) domain.FsResponse {
		done := make(chan struct{})
		go func() {
			_, _ = d.DispatchOnce([]domain.PortalIface{portal})
			close(done)
		}()
		reply, err := sim.Call(portal, pid, encode(t, req))
		require.NoError(t, err)
		<-done
		var resp domain.FsResponse
		decode(t, reply, &resp)
		return resp
	}

	openResp := call(&domain.FsRequest{Op: domain.FsOpOpen, Path: "/a", Flags: domain.O_CREAT | domain.O_RDWR, Umode: 0644})
	require.Equal(t, domain.Errno(0), openResp.Err)
	fd := openResp.FD

	writeResp := call(&domain.FsRequest{Op: domain.FsOpWrite, FD: fd, Data: []byte("hi")})
	require.Equal(t, domain.Errno(0), writeResp.Err)
	require.Equal(t, int32(2), writeResp.N)

	seekResp := call(&domain.FsRequest{Op: domain.FsOpLSeek, FD: fd, Whence: domain.SeekSet})
	require.Equal(t, domain.Errno(0), seekResp.Err)

	readResp := call(&domain.FsRequest{Op: domain.FsOpRead, FD: fd, Length: 2})
	require.Equal(t, domain.Errno(0), readResp.Err)
	require.Equal(t, "hi", string(readResp.Data))
}

func TestDispatchAllocatorService(t *testing.T) {
	d, sim, _, pid := testEnv(t)
	portal := servicePortal(domain.AllocatorServicePT, domain.ServiceAllocator)

	go func() {
		_, _ = d.DispatchOnce([]domain.PortalIface{portal})
	}()

	reply, err := sim.Call(portal, pid, encode(t, &domain.AllocRequest{Kind: domain.AllocAlloc, Size: 4096}))
	require.NoError(t, err)

	var resp domain.AllocResponse
	decode(t, reply, &resp)
	require.Equal(t, domain.Errno(0), resp.Err)
	require.Equal(t, uint64(0), resp.Addr)
}

func TestDispatchStdoutWritesToSink(t *testing.T) {
	_, sim, reg, pid := testEnv(t)
	portal := servicePortal(domain.StdoutServicePT, domain.ServiceStdout)

	var stdoutBuf bytes.Buffer
	d2 := New(sim, reg, nil, nil, nil, &stdoutBuf, &bytes.Buffer{})

	go func() {
		_, _ = d2.DispatchOnce([]domain.PortalIface{portal})
	}()

	_, err := sim.Call(portal, pid, encode(t, &domain.EchoMessage{Data: []byte("hello\n")}))
	require.NoError(t, err)
	require.Equal(t, "hello\n", stdoutBuf.String())
}

// Property 6: a handler that elects not to reply leaves the dispatcher in
// ReplyDeferred and issues no kernel.Reply.
func TestDispatchReplyDisciplineDeferred(t *testing.T) {
	sim := kernel.NewSimulator(1 << 40)
	reg := process.NewRegistry()
	caps, err := sim.CreateProtectionDomain()
	require.NoError(t, err)
	p := reg.Spawn(0, caps, domain.Native, false)

	d := &Dispatcher{kernel: sim, registry: reg, services: iradix.New()}
	require.NoError(t, d.RegisterService(domain.ServiceEcho, func(domain.ProcessIface, []byte) ([]byte, bool) {
		return nil, false
	}))

	portal := servicePortal(domain.EchoServicePT, domain.ServiceEcho)

	stateCh := make(chan domain.DispatchState, 1)
	go func() {
		state, _ := d.DispatchOnce([]domain.PortalIface{portal})
		stateCh <- state
	}()

	sim.SendDeferred(portal, p.Pid(), encode(t, &domain.EchoMessage{Data: []byte("x")}))

	require.Equal(t, domain.StateReplyDeferred, <-stateCh)
}

func TestDispatchExceptionPageFaultKillsProcess(t *testing.T) {
	sim := kernel.NewSimulator(1 << 40)
	reg := process.NewRegistry()
	caps, err := sim.CreateProtectionDomain()
	require.NoError(t, err)
	p := reg.Spawn(0, caps, domain.Foreign, false)

	d := New(sim, reg, nil, fs.New(reg), alloc.New(sim), &bytes.Buffer{}, &bytes.Buffer{})
	portal := exceptionPortal(domain.ExceptionBase+14, domain.ExceptionPageFault)

	go func() {
		_, _ = d.DispatchOnce([]domain.PortalIface{portal})
	}()

	sim.Trap(portal, p.Pid(), &domain.ExceptionFrame{})

	_, ok := reg.Lookup(p.Pid())
	require.False(t, ok)
}
