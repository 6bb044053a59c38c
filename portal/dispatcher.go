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

// Package portal implements component C, the portal dispatcher: it waits
// for kernel-delivered call and exception events, identifies the caller and
// the portal's tag, invokes the matching service or exception handler, and
// either replies or re-enters waiting per the handler's decision. Grounded
// on handler/handlerDB.go's handlerService -- there a radix tree indexed by
// filesystem path resolves a domain.HandlerIface; here the same
// hashicorp/go-immutable-radix tree indexes by service name to resolve a
// ServiceHandlerFunc, preserving the teacher's "ordered DB of named
// handlers behind one registration path" shape.
package portal

import (
	"errors"
	"fmt"
	"sync"

	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/sirupsen/logrus"

	"github.com/hedronos/roottask/codec"
	"github.com/hedronos/roottask/domain"
)

// ServiceHandlerFunc handles one decoded request on a service portal. It
// returns the reply payload and whether the dispatcher should reply at all
// (spec.md §4.C step 4 -- a handler may elect not to reply).
type ServiceHandlerFunc func(process domain.ProcessIface, payload []byte) (reply []byte, doReply bool)

// Dispatcher is the root task's portal dispatcher (component C). One
// Dispatcher instance serves every worker execution context; state.md §5's
// per-worker suspension happens inside DispatchOnce's call to kernel.Wait.
type Dispatcher struct {
	mu sync.RWMutex

	kernel   domain.KernelIface
	registry domain.ProcessRegistryIface
	syscalls domain.ForeignSyscallIface

	services *iradix.Tree
}

// New constructs a Dispatcher with the default service handlers registered
// (allocator, filesystem, stdout, stderr, echo, raw-echo -- spec.md §6's
// portal tag assignment table).
func New(
	kernel domain.KernelIface,
	registry domain.ProcessRegistryIface,
	syscalls domain.ForeignSyscallIface,
	fs domain.FilesystemIface,
	allocator domain.AllocatorIface,
	stdout, stderr Sink,
) *Dispatcher {
	d := &Dispatcher{
		kernel:   kernel,
		registry: registry,
		syscalls: syscalls,
		services: iradix.New(),
	}

	d.mustRegister(domain.ServiceAllocator, allocatorHandler(allocator))
	d.mustRegister(domain.ServiceFilesystem, filesystemHandler(fs))
	d.mustRegister(domain.ServiceStdout, sinkHandler(stdout))
	d.mustRegister(domain.ServiceStderr, sinkHandler(stderr))
	d.mustRegister(domain.ServiceEcho, echoHandler)
	d.mustRegister(domain.ServiceRawEcho, rawEchoHandler)

	return d
}

func (d *Dispatcher) mustRegister(id domain.ServiceID, h ServiceHandlerFunc) {
	if err := d.RegisterService(id, h); err != nil {
		logrus.Fatalf("portal: %v", err)
	}
}

// RegisterService installs the handler for a service id, failing if one is
// already registered (mirrors handlerService.RegisterHandler's duplicate
// check).
func (d *Dispatcher) RegisterService(id domain.ServiceID, h ServiceHandlerFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := []byte(id.String())
	if _, ok := d.services.Get(key); ok {
		return errors.New("portal: service " + id.String() + " already registered")
	}
	tree, _, _ := d.services.Insert(key, h)
	d.services = tree
	return nil
}

func (d *Dispatcher) lookupService(id domain.ServiceID) (ServiceHandlerFunc, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.services.Get([]byte(id.String()))
	if !ok {
		return nil, false
	}
	return v.(ServiceHandlerFunc), true
}

// DispatchOnce waits for exactly one kernel event and carries it through the
// Waiting -> Dispatching -> (Handling | ReplyDeferred) -> Waiting state
// machine (spec.md §4.C), returning the terminal state reached.
func (d *Dispatcher) DispatchOnce(portals []domain.PortalIface) (domain.DispatchState, error) {
	ev, err := d.kernel.Wait(portals)
	if err != nil {
		return domain.StateWaiting, err
	}

	process, ok := d.registry.Lookup(ev.Caller)
	if !ok {
		logrus.Errorf("portal: event from unknown pid %d, dropping", ev.Caller)
		_ = d.kernel.Reply(nil)
		return domain.StateWaiting, fmt.Errorf("portal: unknown caller pid %d", ev.Caller)
	}

	switch ev.Portal.Kind() {
	case domain.KindService:
		return d.dispatchService(process, ev)
	case domain.KindException:
		return d.dispatchException(process, ev)
	default:
		_ = d.kernel.Reply(nil)
		return domain.StateWaiting, fmt.Errorf("portal: unrecognized portal kind for tag %d", ev.Portal.Tag())
	}
}

func (d *Dispatcher) dispatchService(process domain.ProcessIface, ev domain.KernelEvent) (domain.DispatchState, error) {
	svcID, ok := ev.Portal.ServiceID()
	if !ok {
		_ = d.kernel.Reply(nil)
		return domain.StateWaiting, fmt.Errorf("portal: service portal with no service id (tag %d)", ev.Portal.Tag())
	}

	handler, ok := d.lookupService(svcID)
	if !ok {
		logrus.Errorf("portal: no handler registered for service %s", svcID)
		_ = d.kernel.Reply(nil)
		return domain.StateWaiting, fmt.Errorf("portal: no handler for service %s", svcID)
	}

	reply, doReply := d.invokeService(handler, process, ev.Payload, svcID)

	if !doReply {
		return domain.StateReplyDeferred, nil
	}
	if err := d.kernel.Reply(reply); err != nil {
		return domain.StateHandling, err
	}
	return domain.StateWaiting, nil
}

// invokeService converts a handler panic into a forced reply with an empty
// payload rather than letting it escape the dispatcher (spec.md §4.C
// "Failure"); a caller decoding that reply gets ErrDecodeTruncated.
func (d *Dispatcher) invokeService(h ServiceHandlerFunc, process domain.ProcessIface, payload []byte, svcID domain.ServiceID) (reply []byte, doReply bool) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("portal: handler for service %s (pid %d) panicked: %v", svcID, process.Pid(), r)
			reply, doReply = nil, true
		}
	}()
	return h(process, payload)
}

func (d *Dispatcher) dispatchException(process domain.ProcessIface, ev domain.KernelEvent) (domain.DispatchState, error) {
	vector, ok := ev.Portal.ExceptionVector()
	if !ok {
		_ = d.kernel.Reply(nil)
		return domain.StateWaiting, fmt.Errorf("portal: exception portal with no vector (tag %d)", ev.Portal.Tag())
	}

	switch vector {
	case domain.ExceptionSyscall:
		if d.syscalls == nil {
			logrus.Errorf("portal: foreign-syscall trap for pid %d but no personality wired", process.Pid())
		} else {
			d.syscalls.HandleTrap(process, ev.Frame)
		}
	case domain.ExceptionPageFault:
		logrus.Warnf("portal: unhandled page fault for pid %d, killing process", process.Pid())
		_ = d.registry.Destroy(process.Pid())
	default:
		logrus.Debugf("portal: ignoring exception vector %d for pid %d", vector, process.Pid())
	}

	if err := d.kernel.Reply(nil); err != nil {
		return domain.StateHandling, err
	}
	return domain.StateWaiting, nil
}

// Sink is the narrow interface the stdout/stderr services write raw guest
// bytes through; satisfied directly by *os.File / any io.Writer.
type Sink interface {
	Write(p []byte) (int, error)
}

func sinkHandler(w Sink) ServiceHandlerFunc {
	return func(process domain.ProcessIface, payload []byte) ([]byte, bool) {
		var msg domain.EchoMessage
		if err := codec.LoadFrom(payload, &msg); err != nil {
			logrus.Warnf("portal: malformed console write from pid %d: %v", process.Pid(), err)
			return encodeEcho(nil), true
		}
		if _, err := w.Write(msg.Data); err != nil {
			logrus.Warnf("portal: console write failed for pid %d: %v", process.Pid(), err)
		}
		return encodeEcho(nil), true
	}
}

func echoHandler(process domain.ProcessIface, payload []byte) ([]byte, bool) {
	var msg domain.EchoMessage
	if err := codec.LoadFrom(payload, &msg); err != nil {
		return encodeEcho(nil), true
	}
	return encodeEcho(msg.Data), true
}

// rawEchoHandler skips the typed codec entirely and reflects the payload
// bytes verbatim, exercising the message buffer's untyped pass-through path
// (spec.md §6's "reserved field" header aside, the rest of the buffer is
// just bytes).
func rawEchoHandler(process domain.ProcessIface, payload []byte) ([]byte, bool) {
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, true
}

func encodeEcho(data []byte) []byte {
	buf := codec.NewBuffer()
	_ = buf.Store(&domain.EchoMessage{Data: data})
	return buf.Bytes()
}

func allocatorHandler(a domain.AllocatorIface) ServiceHandlerFunc {
	return func(process domain.ProcessIface, payload []byte) ([]byte, bool) {
		var req domain.AllocRequest
		if err := codec.LoadFrom(payload, &req); err != nil {
			return encodeAllocResponse(domain.EINVAL, 0), true
		}

		switch req.Kind {
		case domain.AllocAlloc:
			addr, err := a.Alloc(process, req.Size, req.Align)
			if err != nil {
				return encodeAllocResponse(domain.ErrnoOf(err), 0), true
			}
			return encodeAllocResponse(0, addr), true
		case domain.AllocDealloc:
			if err := a.Dealloc(process, req.Ptr, req.Size, req.Align); err != nil {
				return encodeAllocResponse(domain.ErrnoOf(err), 0), true
			}
			return encodeAllocResponse(0, 0), true
		default:
			return encodeAllocResponse(domain.EINVAL, 0), true
		}
	}
}

func encodeAllocResponse(errno domain.Errno, addr uint64) []byte {
	buf := codec.NewBuffer()
	_ = buf.Store(&domain.AllocResponse{Err: errno, Addr: addr})
	return buf.Bytes()
}

func filesystemHandler(fs domain.FilesystemIface) ServiceHandlerFunc {
	return func(process domain.ProcessIface, payload []byte) ([]byte, bool) {
		var req domain.FsRequest
		if err := codec.LoadFrom(payload, &req); err != nil {
			return encodeFsResponse(domain.FsResponse{Err: domain.EINVAL}), true
		}

		pid := process.Pid()
		resp := domain.FsResponse{Op: req.Op}

		switch req.Op {
		case domain.FsOpOpen:
			fd, err := fs.Open(pid, req.Path, req.Flags, req.Umode)
			resp.FD = fd
			resp.Err = domain.ErrnoOf(err)
		case domain.FsOpRead:
			data, err := fs.Read(pid, req.FD, int(req.Length))
			resp.Data = data
			resp.N = int32(len(data))
			resp.Err = domain.ErrnoOf(err)
		case domain.FsOpWrite:
			n, err := fs.Write(pid, req.FD, req.Data)
			resp.N = int32(n)
			resp.Err = domain.ErrnoOf(err)
		case domain.FsOpLSeek:
			off, err := fs.LSeek(pid, req.FD, req.Offset, req.Whence)
			resp.Offset = off
			resp.Err = domain.ErrnoOf(err)
		case domain.FsOpClose:
			resp.Err = domain.ErrnoOf(fs.Close(pid, req.FD))
		case domain.FsOpUnlink:
			resp.Err = domain.ErrnoOf(fs.Unlink(req.Path))
		case domain.FsOpStat:
			st, err := fs.Stat(pid, req.FD)
			resp.Stat = st
			resp.Err = domain.ErrnoOf(err)
		default:
			resp.Err = domain.EINVAL
		}

		return encodeFsResponse(resp), true
	}
}

func encodeFsResponse(resp domain.FsResponse) []byte {
	buf := codec.NewBuffer()
	_ = buf.Store(&resp)
	return buf.Bytes()
}
