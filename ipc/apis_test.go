//
// Copyright 2019-2021 Nestybox, Inc.
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

package ipc_test

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/hedronos/roottask/domain"
	"github.com/hedronos/roottask/ipc"
	"github.com/hedronos/roottask/process"
	"github.com/hedronos/roottask/state"
)

func startService(t *testing.T) (domain.ProcessRegistryIface, *grpc.ClientConn) {
	t.Helper()

	sockPath := filepath.Join(t.TempDir(), "roottask-ipc.sock")

	reg := process.NewRegistry()
	prs := state.NewProcessStateService()
	prs.Setup(reg)

	svc := ipc.NewIpcService(sockPath)
	svc.Setup(reg, prs)
	require.NoError(t, svc.Init())
	t.Cleanup(svc.Stop)

	dialer := func(ctx context.Context, addr string) (net.Conn, error) {
		return net.Dial("unix", addr)
	}

	conn, err := grpc.Dial(
		sockPath,
		grpc.WithInsecure(),
		grpc.WithContextDialer(dialer),
		grpc.WithBlock(),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("gob")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return reg, conn
}

func spawnProcess(reg domain.ProcessRegistryIface) domain.Pid {
	return reg.Spawn(0, domain.CapSpaceHandle("cap"), domain.Native, false).Pid()
}

func TestRegisterInspectRoundTrip(t *testing.T) {
	reg, conn := startService(t)
	pid := spawnProcess(reg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var regReply ipc.RegisterProcessReply
	err := conn.Invoke(ctx, "/roottask.ipc.ProcessControl/RegisterProcess",
		&ipc.RegisterProcessRequest{Pid: pid, Label: "init"}, &regReply)
	require.NoError(t, err)

	var inspectReply ipc.InspectProcessReply
	err = conn.Invoke(ctx, "/roottask.ipc.ProcessControl/InspectProcess",
		&ipc.InspectProcessRequest{Pid: pid}, &inspectReply)
	require.NoError(t, err)
	require.Equal(t, "init", inspectReply.Record.Label)
}

func TestInspectUnknownPidIsError(t *testing.T) {
	_, conn := startService(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var reply ipc.InspectProcessReply
	err := conn.Invoke(ctx, "/roottask.ipc.ProcessControl/InspectProcess",
		&ipc.InspectProcessRequest{Pid: domain.Pid(777)}, &reply)
	require.Error(t, err)
}

func TestUnregisterRemovesFromListing(t *testing.T) {
	reg, conn := startService(t)
	pid := spawnProcess(reg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var regReply ipc.RegisterProcessReply
	require.NoError(t, conn.Invoke(ctx, "/roottask.ipc.ProcessControl/RegisterProcess",
		&ipc.RegisterProcessRequest{Pid: pid, Label: "init"}, &regReply))

	var unregReply ipc.UnregisterProcessReply
	require.NoError(t, conn.Invoke(ctx, "/roottask.ipc.ProcessControl/UnregisterProcess",
		&ipc.UnregisterProcessRequest{Pid: pid}, &unregReply))

	var listReply ipc.ListProcessesReply
	require.NoError(t, conn.Invoke(ctx, "/roottask.ipc.ProcessControl/ListProcesses",
		&ipc.ListProcessesRequest{}, &listReply))
	require.Empty(t, listReply.Records)
}
