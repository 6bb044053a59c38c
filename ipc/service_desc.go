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

	"google.golang.org/grpc"
)

// ProcessControlServer is what protoc-gen-go-grpc would normally emit from a
// .proto file; written by hand here since the control plane's messages are
// plain Go structs rather than protobuf.
type ProcessControlServer interface {
	RegisterProcess(context.Context, *RegisterProcessRequest) (*RegisterProcessReply, error)
	UnregisterProcess(context.Context, *UnregisterProcessRequest) (*UnregisterProcessReply, error)
	InspectProcess(context.Context, *InspectProcessRequest) (*InspectProcessReply, error)
	ListProcesses(context.Context, *ListProcessesRequest) (*ListProcessesReply, error)
}

func registerProcessHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RegisterProcessRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProcessControlServer).RegisterProcess(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/roottask.ipc.ProcessControl/RegisterProcess"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ProcessControlServer).RegisterProcess(ctx, req.(*RegisterProcessRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func unregisterProcessHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(UnregisterProcessRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProcessControlServer).UnregisterProcess(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/roottask.ipc.ProcessControl/UnregisterProcess"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ProcessControlServer).UnregisterProcess(ctx, req.(*UnregisterProcessRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func inspectProcessHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(InspectProcessRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProcessControlServer).InspectProcess(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/roottask.ipc.ProcessControl/InspectProcess"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ProcessControlServer).InspectProcess(ctx, req.(*InspectProcessRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listProcessesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListProcessesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProcessControlServer).ListProcesses(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/roottask.ipc.ProcessControl/ListProcesses"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ProcessControlServer).ListProcesses(ctx, req.(*ListProcessesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var processControlServiceDesc = grpc.ServiceDesc{
	ServiceName: "roottask.ipc.ProcessControl",
	HandlerType: (*ProcessControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RegisterProcess", Handler: registerProcessHandler},
		{MethodName: "UnregisterProcess", Handler: unregisterProcessHandler},
		{MethodName: "InspectProcess", Handler: inspectProcessHandler},
		{MethodName: "ListProcesses", Handler: listProcessesHandler},
	},
	Metadata: "ipc/service_desc.go",
}
