// Command supervisor is forked once per sandbox by the registry (C4). It
// owns one microVM for its lifetime: bring-up, portal readiness, RPC
// forwarding over the private channel, metrics sampling, and teardown.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensandbox/opensandbox/internal/rootfs"
	"github.com/opensandbox/opensandbox/internal/supervisor"
	"github.com/opensandbox/opensandbox/internal/supervisorproto"
	"github.com/opensandbox/opensandbox/internal/vmm"
	"github.com/opensandbox/opensandbox/pkg/types"
	"google.golang.org/grpc"
)

func main() {
	namespace := flag.String("namespace", "", "sandbox namespace")
	name := flag.String("name", "", "sandbox name")
	socketPath := flag.String("socket", "", "unix socket for the private channel")
	rootfsMount := flag.String("rootfs-mount", "", "merged overlay rootfs mount point")
	upperDir := flag.String("upper-dir", "", "writable upper directory, for disk metrics")
	workDir := flag.String("work-dir", "", "overlay work directory, for teardown")
	portalPort := flag.Int("portal-port", 4444, "VM-local portal port")
	kernelPath := flag.String("kernel", "", "path to the guest kernel image")
	firecrackerBin := flag.String("firecracker-bin", "firecracker", "path to the firecracker binary")
	runDir := flag.String("run-dir", "/tmp/msb-run", "per-VM socket/log directory root")
	memoryMB := flag.Int("memory-mb", 512, "guest memory in MiB")
	cpus := flag.Int("cpus", 1, "guest vCPU count")
	startTimeoutSeconds := flag.Int("start-timeout-seconds", 180, "bound on portal readiness wait")
	flag.Parse()

	if *namespace == "" || *name == "" || *socketPath == "" || *rootfsMount == "" {
		log.Fatal("supervisor: -namespace, -name, -socket and -rootfs-mount are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	cap := vmm.NewFirecrackerCapability(*firecrackerBin, *runDir)
	var inst *rootfs.Instance
	if *workDir != "" {
		inst = &rootfs.Instance{UpperDir: *upperDir, WorkDir: *workDir, MountPoint: *rootfsMount}
	}
	sup := supervisor.New(supervisor.Options{
		Namespace:   *namespace,
		Name:        *name,
		Config:      types.SandboxConfig{MemoryMB: *memoryMB, CPUs: *cpus},
		RootfsMount: *rootfsMount,
		UpperDir:    *upperDir,
		Rootfs:      inst,
		PortalPort:  *portalPort,
		KernelPath:  *kernelPath,
		VMM:         cap,
	})

	if err := sup.BringUp(ctx); err != nil {
		log.Fatalf("supervisor: bring-up: %v", err)
	}

	startTimeout := time.Duration(*startTimeoutSeconds) * time.Second
	if err := sup.WaitReady(ctx, startTimeout); err != nil {
		log.Printf("supervisor: portal never became ready: %v", err)
		sup.Teardown(ctx)
		os.Exit(1)
	}
	log.Printf("supervisor: %s/%s ready, portal at %s", *namespace, *name, sup.PortalBaseURL())

	os.Remove(*socketPath)
	lis, err := net.Listen("unix", *socketPath)
	if err != nil {
		log.Fatalf("supervisor: listen on %s: %v", *socketPath, err)
	}

	grpcServer := grpc.NewServer()
	rpcSrv := supervisor.NewRPCServer(sup)
	shutdownRequested := make(chan int, 1)
	supervisorproto.RegisterSupervisorServer(grpcServer, &exitingRPCServer{RPCServer: rpcSrv, exit: shutdownRequested})

	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Printf("supervisor: grpc serve: %v", err)
		}
	}()

	go sup.RunMetricsLoop(ctx, 2*time.Second)

	select {
	case <-sigCh:
		log.Printf("supervisor: %s/%s signalled, tearing down", *namespace, *name)
		sup.Teardown(ctx)
		os.Exit(0)
	case code := <-shutdownRequested:
		grpcServer.GracefulStop()
		os.Exit(code)
	}
}

// exitingRPCServer wraps RPCServer to signal process exit once a Shutdown
// RPC completes, since the registry expects the private channel to close
// as confirmation the supervisor is gone.
type exitingRPCServer struct {
	*supervisor.RPCServer
	exit chan<- int
}

func (e *exitingRPCServer) Shutdown(ctx context.Context, req *supervisorproto.ShutdownRequest) (*supervisorproto.ShutdownResponse, error) {
	resp, err := e.RPCServer.Shutdown(ctx, req)
	e.exit <- 0
	return resp, err
}
