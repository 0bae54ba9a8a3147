package vmm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"time"
)

// FirecrackerCapability is the Capability implementation backed by the
// Firecracker VMM. Each Handle it returns owns one firecracker process and
// its Unix-socket API.
type FirecrackerCapability struct {
	Bin      string // path to the firecracker binary
	RunDir   string // per-VM socket/log directory root
}

func NewFirecrackerCapability(bin, runDir string) *FirecrackerCapability {
	return &FirecrackerCapability{Bin: bin, RunDir: runDir}
}

func (c *FirecrackerCapability) Create(ctx context.Context, spec Spec) (Handle, error) {
	id := fmt.Sprintf("vm-%d", time.Now().UnixNano())
	dir := c.RunDir + "/" + id
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir vm run dir: %w", err)
	}
	socketPath := dir + "/api.sock"

	cmd := exec.CommandContext(ctx, c.Bin, "--api-sock", socketPath)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start firecracker: %w", err)
	}

	client := newAPIClient(socketPath)
	if err := client.waitForSocket(5 * time.Second); err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("firecracker socket never appeared: %w", err)
	}

	if err := client.putMachineConfig(spec.CPUs, spec.MemoryMB); err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("configure machine: %w", err)
	}
	if err := client.putBootSource(spec.KernelPath, spec.BootArgs); err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("configure boot source: %w", err)
	}

	return &firecrackerHandle{cmd: cmd, api: client}, nil
}

type firecrackerHandle struct {
	cmd *exec.Cmd
	api *apiClient
}

// AttachRootfs attaches mountPoint as the VM's root drive. In a production
// deployment the merged overlay mount is exported as a block device (e.g.
// via a loop-mounted squashfs snapshot); that packaging step lives in the
// VMM-specific backend and is not part of the capability contract above.
func (h *firecrackerHandle) AttachRootfs(ctx context.Context, mountPoint string) error {
	return h.api.putDrive("rootfs", mountPoint, true, false)
}

func (h *firecrackerHandle) AttachNet(ctx context.Context, net NetAttachment) error {
	return h.api.putNetworkInterface("eth0", net.GuestMAC, net.TAPName)
}

// Boot issues InstanceStart. The entrypoint argument is not passed to
// Firecracker: the guest runs whatever init the boot args set in Create and
// the rootfs select.
func (h *firecrackerHandle) Boot(ctx context.Context, entrypoint string) error {
	return h.api.startInstance()
}

func (h *firecrackerHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *firecrackerHandle) Kill(ctx context.Context) error {
	if h.cmd.Process == nil {
		return nil
	}
	if err := h.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill firecracker process: %w", err)
	}
	_ = h.cmd.Wait()
	return nil
}

// apiClient is a minimal HTTP client for the Firecracker API socket.
type apiClient struct {
	socketPath string
	httpClient *http.Client
}

func newAPIClient(socketPath string) *apiClient {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			d := net.Dialer{}
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	return &apiClient{
		socketPath: socketPath,
		httpClient: &http.Client{Transport: transport, Timeout: 30 * time.Second},
	}
}

func (c *apiClient) waitForSocket(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(c.socketPath); err == nil {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("firecracker API socket %s not ready after %v", c.socketPath, timeout)
}

func (c *apiClient) putBootSource(kernelPath, bootArgs string) error {
	body := map[string]string{
		"kernel_image_path": kernelPath,
		"boot_args":         bootArgs,
	}
	return c.put("/boot-source", body)
}

func (c *apiClient) putDrive(driveID, pathOnHost string, isRootDevice, isReadOnly bool) error {
	body := map[string]interface{}{
		"drive_id":       driveID,
		"path_on_host":   pathOnHost,
		"is_root_device": isRootDevice,
		"is_read_only":   isReadOnly,
	}
	return c.putWithID("/drives", driveID, body)
}

func (c *apiClient) putNetworkInterface(ifaceID, guestMAC, hostDevName string) error {
	body := map[string]interface{}{
		"iface_id":      ifaceID,
		"guest_mac":     guestMAC,
		"host_dev_name": hostDevName,
	}
	return c.putWithID("/network-interfaces", ifaceID, body)
}

func (c *apiClient) putMachineConfig(vcpuCount, memSizeMib int) error {
	body := map[string]interface{}{
		"vcpu_count":   vcpuCount,
		"mem_size_mib": memSizeMib,
	}
	return c.put("/machine-config", body)
}

func (c *apiClient) startInstance() error {
	body := map[string]string{"action_type": "InstanceStart"}
	return c.put("/actions", body)
}

func (c *apiClient) put(path string, body interface{}) error {
	return c.doRequest(http.MethodPut, path, body)
}

func (c *apiClient) putWithID(basePath, id string, body interface{}) error {
	return c.doRequest(http.MethodPut, basePath+"/"+id, body)
}

func (c *apiClient) doRequest(method, path string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequest(method, "http://localhost"+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("firecracker API %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("firecracker API %s %s returned %d: %s", method, path, resp.StatusCode, string(respBody))
	}
	return nil
}
