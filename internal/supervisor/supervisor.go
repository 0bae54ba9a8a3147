// Package supervisor implements the VM supervisor (component C3): one OS
// process per sandbox that owns a microVM, forwards RPCs to the in-VM
// portal, samples metrics, and tears everything down on exit.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/opensandbox/opensandbox/internal/rootfs"
	"github.com/opensandbox/opensandbox/internal/vmm"
	"github.com/opensandbox/opensandbox/pkg/types"
	"golang.org/x/sys/unix"
)

// Options are the parameters the registry hands a freshly forked supervisor.
type Options struct {
	Namespace  string
	Name       string
	Config     types.SandboxConfig
	RootfsMount string // already-mounted merged overlay root, built by C2
	UpperDir    string // the sandbox's writable upper, for disk-usage metrics
	// Rootfs, when set, is unmounted and destroyed on Teardown. The
	// registry materializes it before forking the supervisor; the
	// supervisor is the one that owns tearing it back down (spec §4.3
	// step 6), since a mid-flight registry crash must not leave a
	// dangling upper an orphaned supervisor still has mounted.
	Rootfs     *rootfs.Instance
	PortalPort int
	KernelPath string
	VMM        vmm.Capability
}

// Supervisor owns one microVM for the lifetime of the process.
type Supervisor struct {
	opts Options
	net  *NetworkConfig

	mu     sync.Mutex
	handle vmm.Handle
	sample types.SandboxMetrics
	torn   bool
}

func New(opts Options) *Supervisor {
	return &Supervisor{opts: opts}
}

// BringUp creates the microVM, attaches rootfs and networking, and boots it
// with the portal as entrypoint. It sets a kernel-level parent-death signal
// so an abrupt supervisor kill still reaps the VM where the platform
// supports it (Linux prctl(PR_SET_PDEATHSIG)).
func (s *Supervisor) BringUp(ctx context.Context) error {
	unix.Prctl(unix.PR_SET_PDEATHSIG, uintptr(unix.SIGKILL), 0, 0, 0)

	allocator := NewSubnetAllocator()
	key := s.opts.Namespace + "/" + s.opts.Name
	net, err := allocator.AllocateFor(key)
	if err != nil {
		return fmt.Errorf("allocate network: %w", err)
	}
	if err := CreateTAP(net); err != nil {
		return fmt.Errorf("create tap: %w", err)
	}
	s.net = net

	handle, err := s.opts.VMM.Create(ctx, vmm.Spec{
		MemoryMB:   s.opts.Config.MemoryMB,
		CPUs:       s.opts.Config.CPUs,
		KernelPath: s.opts.KernelPath,
		BootArgs:   fmt.Sprintf("ip=%s::%s:255.255.255.252::eth0:off", net.GuestIP, net.HostIP),
	})
	if err != nil {
		DeleteTAP(net.TAPName)
		return fmt.Errorf("create vm: %w", err)
	}
	s.handle = handle

	if err := handle.AttachRootfs(ctx, s.opts.RootfsMount); err != nil {
		s.Teardown(ctx)
		return fmt.Errorf("attach rootfs: %w", err)
	}
	if err := handle.AttachNet(ctx, vmm.NetAttachment{TAPName: net.TAPName, GuestMAC: deterministicMAC(key)}); err != nil {
		s.Teardown(ctx)
		return fmt.Errorf("attach net: %w", err)
	}
	if err := handle.Boot(ctx, "/sbin/msb-portal"); err != nil {
		s.Teardown(ctx)
		return fmt.Errorf("boot vm: %w", err)
	}
	return nil
}

// WaitReady probes the portal on its VM-local port with bounded retry.
func (s *Supervisor) WaitReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	url := fmt.Sprintf("http://%s:%d/healthz", s.net.GuestIP, s.opts.PortalPort)
	client := &http.Client{Timeout: 2 * time.Second}

	for time.Now().Before(deadline) {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return fmt.Errorf("portal on %s unreachable after %v", s.net.GuestIP, timeout)
}

// PortalBaseURL is where forwarded RPCs get sent.
func (s *Supervisor) PortalBaseURL() string {
	return fmt.Sprintf("http://%s:%d", s.net.GuestIP, s.opts.PortalPort)
}

// PID returns the microVM's host process id.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return 0
	}
	return s.handle.PID()
}

// RunMetricsLoop samples CPU/memory/disk on an interval until ctx is
// cancelled, caching the last sample for C7 to read via Sample().
func (s *Supervisor) RunMetricsLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collectSample()
		}
	}
}

func (s *Supervisor) collectSample() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.torn {
		return
	}

	pid := 0
	if s.handle != nil {
		pid = s.handle.PID()
	}

	sample := types.SandboxMetrics{
		Name:      s.opts.Name,
		Namespace: s.opts.Namespace,
		Running:   pid != 0 && processAlive(pid),
	}
	if sample.Running {
		if cpu, mem, err := readProcStats(pid); err == nil {
			sample.CPUUsage = &cpu
			sample.MemoryUsage = &mem
		} else {
			log.Printf("supervisor %s/%s: read proc stats: %v", s.opts.Namespace, s.opts.Name, err)
		}
	}
	if usage, err := dirSizeBytes(s.opts.UpperDir); err == nil {
		sample.DiskUsage = &usage
	}
	s.sample = sample
}

// Sample returns the last cached metrics sample.
func (s *Supervisor) Sample() types.SandboxMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sample
}

// Teardown kills the VM if still running, releases the tap device, and
// marks the supervisor as torn down. The VM handle must never be touched
// after this returns.
func (s *Supervisor) Teardown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.torn {
		return nil
	}
	s.torn = true

	var err error
	if s.handle != nil {
		err = s.handle.Kill(ctx)
	}
	if s.net != nil {
		DeleteTAP(s.net.TAPName)
	}
	if s.opts.Rootfs != nil {
		if destroyErr := s.opts.Rootfs.Destroy(); destroyErr != nil && err == nil {
			err = destroyErr
		}
	}
	return err
}

func deterministicMAC(key string) string {
	block := DeterministicTAPBlock(key)
	return fmt.Sprintf("02:00:00:%02x:%02x:%02x", byte(block>>16), byte(block>>8), byte(block))
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(unix.Signal(0)) == nil
}
