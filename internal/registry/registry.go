// Package registry implements the sandbox registry (component C4): the
// process-wide mapping of (namespace, name) to a running sandbox, with
// linearized per-key lifecycle coordination. Modeled on the teacher's
// SandboxRouter (per-key mutex-guarded state machine with a timeout-driven
// idle path), generalized here to a start/starting/running/stopping/
// stopped/failed machine instead of running/hibernated/waking, and with no
// idle timer: a sandbox stays running until explicitly stopped.
package registry

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/opensandbox/opensandbox/internal/rootfs"
	"github.com/opensandbox/opensandbox/internal/state"
	"github.com/opensandbox/opensandbox/internal/supervisorproto"
	"github.com/opensandbox/opensandbox/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Options configure how the registry materializes rootfs instances and
// forks supervisors.
type Options struct {
	DataDir                string
	SupervisorBin          string
	FirecrackerBin         string
	KernelPath             string
	PortalPort             int
	StartTimeoutSeconds    int
	StopGracePeriodSeconds int
	DefaultMemoryMB        int
	DefaultCPUs            int
}

// entry is the per-sandbox state the registry tracks, guarded by its own
// mutex so operations on distinct keys never contend with each other.
type entry struct {
	mu      sync.Mutex
	sandbox types.Sandbox
	cmd     *exec.Cmd
	conn    *grpc.ClientConn
	client  *supervisorproto.Client
	inst    *rootfs.Instance
}

// Registry is the central coordinator described in spec §4.4.
type Registry struct {
	opts    Options
	builder *rootfs.Builder
	images  *rootfs.ImageIndex
	store   *state.Store

	mu      sync.Mutex
	entries map[string]*entry
}

func New(opts Options, store *state.Store) *Registry {
	return &Registry{
		opts:    opts,
		builder: rootfs.NewBuilder(opts.DataDir),
		images:  rootfs.NewImageIndex(opts.DataDir),
		store:   store,
		entries: make(map[string]*entry),
	}
}

func key(namespace, name string) string { return namespace + "/" + name }

// Start materializes rootfs, forks a supervisor, and waits for it to report
// ready. Concurrent starts for the same key serialize: the second caller
// fails fast rather than blocking, per spec §4.4.
func (r *Registry) Start(ctx context.Context, namespace, name string, cfg types.SandboxConfig) (types.Sandbox, error) {
	k := key(namespace, name)

	r.mu.Lock()
	if existing, ok := r.entries[k]; ok {
		existing.mu.Lock()
		status := existing.sandbox.Status
		existing.mu.Unlock()
		if !status.Terminal() {
			r.mu.Unlock()
			if status == types.SandboxStatusStarting {
				return types.Sandbox{}, ErrAlreadyStarting
			}
			if status == types.SandboxStatusStopping {
				return types.Sandbox{}, ErrStoppingInProgress
			}
			return types.Sandbox{}, ErrAlreadyRunning
		}
	}

	now := time.Now().UTC()
	e := &entry{sandbox: types.Sandbox{
		Namespace:  namespace,
		Name:       name,
		Config:     cfg,
		Status:     types.SandboxStatusStarting,
		CreatedAt:  now,
		ModifiedAt: now,
	}}
	r.entries[k] = e
	r.mu.Unlock()

	if err := r.bringUp(ctx, e); err != nil {
		r.mu.Lock()
		delete(r.entries, k)
		r.mu.Unlock()
		// No durable trace of a start that never completed (spec §8 property 2):
		// bringUp already rolled back whatever it managed to create.
		r.store.Remove(namespace, name)
		return types.Sandbox{}, err
	}

	e.mu.Lock()
	e.sandbox.Status = types.SandboxStatusRunning
	e.sandbox.ModifiedAt = time.Now().UTC()
	sb := e.sandbox
	e.mu.Unlock()
	r.persist(sb)
	return sb, nil
}

// bringUp resolves the image, builds rootfs, forks the supervisor, and
// confirms it is reachable. Any failing step rolls back the ones before it.
func (r *Registry) bringUp(ctx context.Context, e *entry) error {
	cfg := e.sandbox.Config
	if cfg.MemoryMB == 0 {
		cfg.MemoryMB = r.opts.DefaultMemoryMB
	}
	if cfg.CPUs == 0 {
		cfg.CPUs = r.opts.DefaultCPUs
	}

	digests, err := r.images.Digests(cfg.Image)
	if err != nil {
		return fmt.Errorf("resolve image %q: %w", cfg.Image, err)
	}

	sandboxDir := filepath.Join(r.opts.DataDir, "sandboxes", e.sandbox.Namespace, e.sandbox.Name)
	os.RemoveAll(sandboxDir) // clear any leftovers from a prior terminal instance of this key

	inst, err := r.builder.Build(sandboxDir, digests)
	if err != nil {
		return fmt.Errorf("build rootfs: %w", err)
	}
	e.inst = inst

	socketPath := filepath.Join(sandboxDir, "supervisor.sock")
	runDir := filepath.Join(sandboxDir, "run")

	args := []string{
		"-namespace", e.sandbox.Namespace,
		"-name", e.sandbox.Name,
		"-socket", socketPath,
		"-rootfs-mount", inst.MountPoint,
		"-upper-dir", inst.UpperDir,
		"-work-dir", inst.WorkDir,
		"-portal-port", strconv.Itoa(r.opts.PortalPort),
		"-kernel", r.opts.KernelPath,
		"-firecracker-bin", r.opts.FirecrackerBin,
		"-run-dir", runDir,
		"-memory-mb", strconv.Itoa(cfg.MemoryMB),
		"-cpus", strconv.Itoa(cfg.CPUs),
		"-start-timeout-seconds", strconv.Itoa(r.opts.StartTimeoutSeconds),
	}

	cmd := exec.Command(r.opts.SupervisorBin, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		inst.Destroy()
		return fmt.Errorf("fork supervisor: %w", err)
	}
	e.cmd = cmd

	dialCtx, cancel := context.WithTimeout(ctx, time.Duration(r.opts.StartTimeoutSeconds)*time.Second)
	defer cancel()
	conn, err := dialSupervisor(dialCtx, socketPath)
	if err != nil {
		killSupervisor(cmd)
		inst.Destroy()
		return fmt.Errorf("dial supervisor: %w", err)
	}
	e.conn = conn
	client := supervisorproto.NewClient(conn)
	e.client = client

	info, err := client.GetInfo(ctx, &supervisorproto.InfoRequest{})
	if err != nil {
		conn.Close()
		killSupervisor(cmd)
		inst.Destroy()
		return fmt.Errorf("get supervisor info: %w", err)
	}

	e.sandbox.Config = cfg
	e.sandbox.SupervisorPID = cmd.Process.Pid
	e.sandbox.MicroVMPID = info.MicroVMPID
	e.sandbox.RootfsPaths = append(append([]string{}, inst.LowerPaths...), inst.UpperDir)
	return nil
}

func dialSupervisor(ctx context.Context, socketPath string) (*grpc.ClientConn, error) {
	var lastErr error
	for {
		conn, err := supervisorproto.Dial(ctx, socketPath,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithBlock())
		if err == nil {
			return conn, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial %s: %w (last attempt: %v)", socketPath, ctx.Err(), lastErr)
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func killSupervisor(cmd *exec.Cmd) {
	if cmd.Process != nil {
		cmd.Process.Kill()
	}
	cmd.Wait()
}

// Stop is idempotent: stopping an unknown or already-terminal sandbox
// succeeds without effect (spec §4.4).
func (r *Registry) Stop(ctx context.Context, namespace, name string) error {
	k := key(namespace, name)
	r.mu.Lock()
	e, ok := r.entries[k]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	if e.sandbox.Status.Terminal() {
		e.mu.Unlock()
		return nil
	}
	if e.sandbox.Status == types.SandboxStatusStopping {
		e.mu.Unlock()
		return nil
	}
	e.sandbox.Status = types.SandboxStatusStopping
	e.sandbox.ModifiedAt = time.Now().UTC()
	client := e.client
	cmd := e.cmd
	e.mu.Unlock()

	grace := r.opts.StopGracePeriodSeconds
	if grace <= 0 {
		grace = 10
	}

	if client != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(grace+5)*time.Second)
		_, err := client.Shutdown(shutdownCtx, &supervisorproto.ShutdownRequest{GracePeriodSeconds: grace})
		cancel()
		if err != nil {
			log.Printf("registry: %s: shutdown RPC failed, forcing kill: %v", k, err)
		}
	}
	if cmd != nil && cmd.Process != nil {
		waitCh := make(chan error, 1)
		go func() { waitCh <- cmd.Wait() }()
		select {
		case <-waitCh:
		case <-time.After(time.Duration(grace) * time.Second):
			cmd.Process.Kill()
			<-waitCh
		}
	}

	e.mu.Lock()
	e.sandbox.Status = types.SandboxStatusStopped
	e.sandbox.ModifiedAt = time.Now().UTC()
	e.mu.Unlock()

	r.store.Remove(namespace, name)
	return nil
}

// Forward routes one repl.run or command.run call to the owning
// supervisor. The sandbox must be running; a sandbox mid-stop fails fast
// with ErrNotRunning rather than racing the teardown.
func (r *Registry) Forward(ctx context.Context, namespace, name, method string, params []byte) ([]byte, error) {
	r.mu.Lock()
	e, ok := r.entries[key(namespace, name)]
	r.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}

	e.mu.Lock()
	if e.sandbox.Status != types.SandboxStatusRunning {
		e.mu.Unlock()
		return nil, ErrNotRunning
	}
	client := e.client
	e.mu.Unlock()

	resp, err := client.Forward(ctx, &supervisorproto.ForwardRequest{Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("forward %s: %w", method, err)
	}
	return resp.Result, nil
}

// Metrics returns the supervisor's last cached sample.
func (r *Registry) Metrics(ctx context.Context, namespace, name string) (types.SandboxMetrics, error) {
	r.mu.Lock()
	e, ok := r.entries[key(namespace, name)]
	r.mu.Unlock()
	if !ok {
		return types.SandboxMetrics{}, ErrNotFound
	}

	e.mu.Lock()
	status := e.sandbox.Status
	client := e.client
	e.mu.Unlock()

	if status != types.SandboxStatusRunning || client == nil {
		return types.SandboxMetrics{Name: name, Namespace: namespace, Running: false}, nil
	}

	sample, err := client.GetMetrics(ctx, &supervisorproto.MetricsRequest{})
	if err != nil {
		return types.SandboxMetrics{}, fmt.Errorf("get metrics: %w", err)
	}
	return types.SandboxMetrics{
		Name:        name,
		Namespace:   namespace,
		Running:     sample.Running,
		CPUUsage:    sample.CPUUsage,
		MemoryUsage: sample.MemoryUsage,
		DiskUsage:   sample.DiskUsage,
	}, nil
}

// List returns a snapshot of tracked sandboxes, optionally filtered by
// namespace.
func (r *Registry) List(namespace string) []types.Sandbox {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	out := make([]types.Sandbox, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		sb := e.sandbox
		e.mu.Unlock()
		if namespace != "" && sb.Namespace != namespace {
			continue
		}
		out = append(out, sb)
	}
	return out
}

// persist mirrors one sandbox's current state into the durable store,
// whatever its status (Reconcile uses it to record failed rows; Stop
// removes the row instead of persisting a stopped one).
func (r *Registry) persist(sb types.Sandbox) {
	if err := r.store.Upsert(sb); err != nil {
		log.Printf("registry: persist %s/%s: %v", sb.Namespace, sb.Name, err)
	}
}

// Reconcile scans the state store and, for every non-terminal row, probes
// whether the recorded supervisor and microVM PIDs are still alive. It runs
// both at process start (against an empty in-memory map) and periodically
// thereafter (against a map already populated by Start and earlier Reconcile
// passes), so a row already tracked in r.entries is never rebuilt from
// scratch — doing so would discard that entry's forked *exec.Cmd and rootfs
// instance handle and leak a freshly dialed connection. Tracked keys are
// instead refreshed in place via reconcileTracked; only untracked rows (the
// boot-time case, or a row orphaned some other way) are attached or marked
// failed here. Dead rows, tracked or not, are marked failed and their
// orphaned rootfs uppers removed, per spec §4.4.
func (r *Registry) Reconcile(ctx context.Context) error {
	rows, err := r.store.All()
	if err != nil {
		return fmt.Errorf("load state rows: %w", err)
	}

	for _, sb := range rows {
		k := key(sb.Namespace, sb.Name)
		if sb.Status.Terminal() {
			continue
		}

		r.mu.Lock()
		existing, tracked := r.entries[k]
		r.mu.Unlock()

		if tracked {
			r.reconcileTracked(ctx, k, existing)
			continue
		}

		if processAlive(sb.SupervisorPID) && processAlive(sb.MicroVMPID) {
			conn, err := tryAttach(ctx, filepath.Join(r.opts.DataDir, "sandboxes", sb.Namespace, sb.Name, "supervisor.sock"))
			if err == nil {
				sb.Status = types.SandboxStatusRunning
				r.mu.Lock()
				r.entries[k] = &entry{sandbox: sb, conn: conn, client: supervisorproto.NewClient(conn)}
				r.mu.Unlock()
				log.Printf("registry: reconciled %s as running", k)
				continue
			}
		}

		log.Printf("registry: reconciled %s as failed (supervisor_pid=%d microvm_pid=%d dead)", k, sb.SupervisorPID, sb.MicroVMPID)
		sb.Status = types.SandboxStatusFailed
		r.persist(sb)
		r.removeOrphanUpper(sb)
	}
	return nil
}

// reconcileTracked re-checks an entry Reconcile already has in memory,
// leaving it completely untouched while it's alive — it owns a live
// *exec.Cmd, rootfs instance, and connection that a rebuilt entry would
// orphan. If the underlying processes have died out-of-band, the entry is
// torn out of r.entries (not just its persisted row) so that a later
// sandbox.start for the same key isn't wrongly rejected as already-running
// (spec §8 property 7) and Forward starts returning ErrNotFound instead of
// a raw gRPC error once the entry is gone.
func (r *Registry) reconcileTracked(ctx context.Context, k string, e *entry) {
	e.mu.Lock()
	status := e.sandbox.Status
	sb := e.sandbox
	e.mu.Unlock()

	if status != types.SandboxStatusRunning {
		return // starting/stopping: mid-transition, leave it to its own caller
	}

	if processAlive(sb.SupervisorPID) && processAlive(sb.MicroVMPID) {
		return
	}

	log.Printf("registry: reconciled tracked %s as failed (supervisor_pid=%d microvm_pid=%d dead)", k, sb.SupervisorPID, sb.MicroVMPID)

	r.mu.Lock()
	delete(r.entries, k)
	r.mu.Unlock()

	sb.Status = types.SandboxStatusFailed
	sb.ModifiedAt = time.Now().UTC()
	r.persist(sb)
	r.removeOrphanUpper(sb)
}

func (r *Registry) removeOrphanUpper(sb types.Sandbox) {
	sandboxDir := filepath.Join(r.opts.DataDir, "sandboxes", sb.Namespace, sb.Name)
	if err := os.RemoveAll(sandboxDir); err != nil {
		log.Printf("registry: remove orphan rootfs for %s/%s: %v", sb.Namespace, sb.Name, err)
	}
}

func tryAttach(ctx context.Context, socketPath string) (*grpc.ClientConn, error) {
	attachCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return supervisorproto.Dial(attachCtx, socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock())
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
