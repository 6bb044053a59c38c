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

package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	systemd "github.com/coreos/go-systemd/v22/daemon"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/hedronos/roottask/alloc"
	"github.com/hedronos/roottask/domain"
	"github.com/hedronos/roottask/fs"
	"github.com/hedronos/roottask/fsyscall"
	"github.com/hedronos/roottask/ipc"
	"github.com/hedronos/roottask/kernel"
	"github.com/hedronos/roottask/mapper"
	"github.com/hedronos/roottask/portal"
	"github.com/hedronos/roottask/process"
	"github.com/hedronos/roottask/state"
)

const (
	roottaskRunDir  string = "/run/roottaskd"
	roottaskPidFile string = roottaskRunDir + "/roottaskd.pid"
	usage           string = `roottaskd root-task runtime

roottaskd is a daemon that emulates the root task's cross-domain
service subsystem (portal dispatch, foreign-syscall personality,
cross-domain memory mapper, in-memory filesystem, page allocator) on
top of an in-process kernel simulator, for development and testing
without a real microkernel underneath it.
`
)

// Globals populated at build time via -ldflags "-X main.<name>=...".
var (
	version  string
	commitId string
	builtAt  string
	builtBy  string
)

// exitHandler waits for a termination signal, then tears down the ipc
// control plane and any running profiler before exiting (teacher:
// cmd/sysbox-fs/main.go's exitHandler).
func exitHandler(signalChan chan os.Signal, ipcService domain.IpcServiceIface, prof interface{ Stop() }) {
	var printStack bool

	s := <-signalChan

	logrus.Warnf("roottaskd caught signal: %s", s)
	logrus.Info("Stopping (gracefully) ...")

	systemd.SdNotify(false, systemd.SdNotifyStopping)

	switch s {
	case syscall.SIGABRT, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGSEGV:
		printStack = true
	}

	if printStack {
		stacktrace := make([]byte, 32768)
		length := runtime.Stack(stacktrace, true)
		logrus.Warnf("\n\n%s\n", string(stacktrace[:length]))
	}

	ipcService.Stop()

	if prof != nil {
		prof.Stop()
	}

	time.Sleep(time.Second)

	if err := destroyPidFile(roottaskPidFile); err != nil {
		logrus.Warnf("failed to destroy roottaskd pid file: %v", err)
	}

	logrus.Info("Exiting ...")
	os.Exit(0)
}

func runProfiler(ctx *cli.Context) (interface{ Stop() }, error) {
	var prof interface{ Stop() }

	cpuProfOn := ctx.Bool("cpu-profiling")
	memProfOn := ctx.Bool("memory-profiling")

	if cpuProfOn && memProfOn {
		return nil, fmt.Errorf("unsupported parameter combination: cpu and memory profiling")
	}
	if !(cpuProfOn || memProfOn) {
		return nil, nil
	}

	if cpuProfOn {
		prof = profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook)
	}
	if memProfOn {
		prof = profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.NoShutdownHook)
	}

	return prof, nil
}

func setupRunDir() error {
	if err := os.MkdirAll(roottaskRunDir, 0700); err != nil {
		return fmt.Errorf("failed to create %s: %w", roottaskRunDir, err)
	}
	return nil
}

// workerLoop is one dispatch worker context: it drives DispatchOnce over
// the fixed portal set forever (spec.md §4.C / §5's "one loop per worker
// context"). Every error DispatchOnce returns, including a failed kernel
// Wait, is logged at debug level and the loop continues; no error stops it.
func workerLoop(id int, d *portal.Dispatcher, portals []domain.PortalIface) {
	for {
		if _, err := d.DispatchOnce(portals); err != nil {
			logrus.Debugf("roottaskd: worker %d: %v", id, err)
		}
	}
}

func main() {
	app := cli.NewApp()
	app.Name = "roottaskd"
	app.Usage = usage
	app.Version = version

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "control-socket",
			Value: "/run/roottaskd/control.sock",
			Usage: "unix-domain socket for the administrative control plane",
		},
		cli.IntFlag{
			Name:  "workers",
			Value: 4,
			Usage: "number of dispatch worker contexts (one foreign-syscall portal per worker)",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "log file path or empty string for stderr output",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "log categories to include (debug, info, warning, error, fatal)",
		},
		cli.StringFlag{
			Name:  "log-format",
			Value: "text",
			Usage: "log format; must be json or text",
		},
		cli.BoolFlag{
			Name:   "cpu-profiling",
			Usage:  "enable cpu-profiling data collection",
			Hidden: true,
		},
		cli.BoolFlag{
			Name:   "memory-profiling",
			Usage:  "enable memory-profiling data collection",
			Hidden: true,
		},
	}

	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("roottaskd\n\tversion: \t%s\n\tcommit: \t%s\n\tbuilt at: \t%s\n\tbuilt by: \t%s\n",
			c.App.Version, commitId, builtAt, builtBy)
	}

	app.Before = func(ctx *cli.Context) error {
		if path := ctx.GlobalString("log"); path != "" {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0666)
			if err != nil {
				logrus.Fatalf("error opening log file %v: %v. Exiting ...", path, err)
				return err
			}
			logrus.SetOutput(f)
			log.SetOutput(f)
		} else {
			logrus.SetOutput(os.Stderr)
			log.SetOutput(os.Stderr)
		}

		if ctx.GlobalString("log-format") == "json" {
			logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})
		} else {
			logrus.SetFormatter(&logrus.TextFormatter{TimestampFormat: "2006-01-02 15:04:05", FullTimestamp: true})
		}

		switch ctx.GlobalString("log-level") {
		case "debug":
			logrus.SetLevel(logrus.DebugLevel)
		case "info", "":
			logrus.SetLevel(logrus.InfoLevel)
		case "warning":
			logrus.SetLevel(logrus.WarnLevel)
		case "error":
			logrus.SetLevel(logrus.ErrorLevel)
		case "fatal":
			logrus.SetLevel(logrus.FatalLevel)
		default:
			logrus.Fatalf("log-level option %q not recognized. Exiting ...", ctx.GlobalString("log-level"))
		}

		return nil
	}

	app.Action = func(ctx *cli.Context) error {
		logrus.Info("Initiating roottaskd ...")

		if err := checkPidFile("roottaskd", roottaskPidFile); err != nil {
			return err
		}
		if err := setupRunDir(); err != nil {
			return err
		}

		numWorkers := ctx.Int("workers")

		sim := kernel.NewSimulator(1 << 40)
		registry := process.NewRegistry()
		m := mapper.New(sim)
		filesystem := fs.New(registry)
		allocator := alloc.New(sim)
		personality := fsyscall.New(m, filesystem, allocator, registry)

		dispatcher := portal.New(sim, registry, personality, filesystem, allocator, os.Stdout, os.Stderr)
		portals := portal.FixedPortalSet(numWorkers)

		prs := state.NewProcessStateService()
		prs.Setup(registry)

		ipcService := ipc.NewIpcService(ctx.GlobalString("control-socket"))
		ipcService.Setup(registry, prs)

		for i := 0; i < numWorkers; i++ {
			go workerLoop(i, dispatcher, portals)
		}

		prof, err := runProfiler(ctx)
		if err != nil {
			logrus.Fatal(err)
		}

		exitChan := make(chan os.Signal, 1)
		signal.Notify(exitChan, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGSEGV, syscall.SIGQUIT)
		go exitHandler(exitChan, ipcService, prof)

		systemd.SdNotify(false, systemd.SdNotifyReady)

		if err := createPidFile(roottaskPidFile); err != nil {
			return fmt.Errorf("failed to create roottaskd.pid file: %w", err)
		}

		logrus.Info("Ready ...")

		if err := ipcService.Init(); err != nil {
			logrus.Errorf("failed to start roottaskd: %v", err)
		}

		select {}
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}
