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

package ipc

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	grpcCodes "google.golang.org/grpc/codes"
	grpcStatus "google.golang.org/grpc/status"

	"github.com/hedronos/roottask/domain"
)

type ipcService struct {
	socketPath string
	grpcServer *grpc.Server
	registry   domain.ProcessRegistryIface
	prs        domain.ProcessStateServiceIface
}

// NewIpcService constructs the control plane bound to a unix-domain socket
// path (the teacher's grpc transport is an abstract listener selected by
// its caller; here it's always a unix socket, chosen by the daemon
// entrypoint).
func NewIpcService(socketPath string) domain.IpcServiceIface {
	return &ipcService{socketPath: socketPath}
}

func (s *ipcService) Setup(registry domain.ProcessRegistryIface, prs domain.ProcessStateServiceIface) {
	s.registry = registry
	s.prs = prs

	// Instantiate a grpcServer for inter-process communication.
	s.grpcServer = grpc.NewServer()
	s.grpcServer.RegisterService(&processControlServiceDesc, s)
}

// Init starts the grpc listener in the background; the accept loop belongs
// to the grpc library, not to the caller.
func (s *ipcService) Init() error {
	if s.socketPath == "" {
		return fmt.Errorf("ipc: socket path not configured")
	}

	os.Remove(s.socketPath)

	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("ipc: listening on %s: %w", s.socketPath, err)
	}

	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			logrus.Warnf("ipc: grpc server exited: %v", err)
		}
	}()

	logrus.Infof("ipc: control plane listening on %s", s.socketPath)
	return nil
}

func (s *ipcService) Stop() {
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	os.Remove(s.socketPath)
}

func (s *ipcService) RegisterProcess(ctx context.Context, req *RegisterProcessRequest) (*RegisterProcessReply, error) {
	logrus.Debugf("ipc: process registration started: pid = %d", req.Pid)

	if err := s.prs.RegisterProcess(req.Pid, req.Label); err != nil {
		return nil, err
	}

	logrus.Infof("ipc: process registration completed: pid = %d, label = %s", req.Pid, req.Label)
	return &RegisterProcessReply{}, nil
}

func (s *ipcService) UnregisterProcess(ctx context.Context, req *UnregisterProcessRequest) (*UnregisterProcessReply, error) {
	logrus.Debugf("ipc: process unregistration started: pid = %d", req.Pid)

	if err := s.prs.UnregisterProcess(req.Pid); err != nil {
		return nil, err
	}

	logrus.Infof("ipc: process unregistration completed: pid = %d", req.Pid)
	return &UnregisterProcessReply{}, nil
}

func (s *ipcService) InspectProcess(ctx context.Context, req *InspectProcessRequest) (*InspectProcessReply, error) {
	rec, ok := s.prs.LookupProcess(req.Pid)
	if !ok {
		return nil, grpcStatus.Errorf(grpcCodes.NotFound, "process %d not registered", req.Pid)
	}
	return &InspectProcessReply{Record: rec}, nil
}

func (s *ipcService) ListProcesses(ctx context.Context, req *ListProcessesRequest) (*ListProcessesReply, error) {
	return &ListProcessesReply{Records: s.prs.ListProcesses()}, nil
}

var (
	_ domain.IpcServiceIface = (*ipcService)(nil)
	_ ProcessControlServer   = (*ipcService)(nil)
)
