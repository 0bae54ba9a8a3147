package types

import "time"

// SandboxStatus represents the current state of a sandbox.
type SandboxStatus string

const (
	SandboxStatusPending  SandboxStatus = "pending"
	SandboxStatusStarting SandboxStatus = "starting"
	SandboxStatusRunning  SandboxStatus = "running"
	SandboxStatusStopping SandboxStatus = "stopping"
	SandboxStatusStopped  SandboxStatus = "stopped"
	SandboxStatusFailed   SandboxStatus = "failed"
)

// Terminal reports whether the status allows a fresh start for the same key.
func (s SandboxStatus) Terminal() bool {
	return s == SandboxStatusStopped || s == SandboxStatusFailed
}

// SandboxConfig is the resource spec carried in sandbox.start's "config" param.
type SandboxConfig struct {
	Image      string            `json:"image"`
	MemoryMB   int               `json:"memory"`
	CPUs       int               `json:"cpus"`
	Volumes    []string          `json:"volumes,omitempty"`    // "host:guest"
	Ports      []string          `json:"ports,omitempty"`      // "host:guest"
	Envs       []string          `json:"envs,omitempty"`       // "K=V"
	DependsOn  []string          `json:"depends_on,omitempty"`
	Workdir    string            `json:"workdir,omitempty"`
	Shell      string            `json:"shell,omitempty"`
	Scripts    map[string]string `json:"scripts,omitempty"`
	Exec       string            `json:"exec,omitempty"`
}

// Sandbox is the canonical in-memory and persisted record for one sandbox
// instance, identified by (Namespace, Name).
type Sandbox struct {
	Namespace string        `json:"namespace"`
	Name      string        `json:"name"`
	Config    SandboxConfig `json:"config"`
	Status    SandboxStatus `json:"status"`

	SupervisorPID int      `json:"supervisor_pid,omitempty"`
	MicroVMPID    int      `json:"microvm_pid,omitempty"`
	RootfsPaths   []string `json:"rootfs_paths,omitempty"` // lower layers + upper, upper last

	ConfigFile         string    `json:"config_file,omitempty"`
	ConfigLastModified time.Time `json:"config_last_modified,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Key returns the registry map key for this sandbox.
func (s Sandbox) Key() string {
	return s.Namespace + "/" + s.Name
}

// SandboxMetrics is one entry of sandbox.metrics.get's "sandboxes" array.
type SandboxMetrics struct {
	Name        string   `json:"name"`
	Namespace   string   `json:"namespace"`
	Running     bool     `json:"running"`
	CPUUsage    *float64 `json:"cpu_usage,omitempty"`
	MemoryUsage *int64   `json:"memory_usage,omitempty"` // MiB
	DiskUsage   *int64   `json:"disk_usage,omitempty"`    // bytes
}
