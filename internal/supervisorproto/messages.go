// Package supervisorproto is the wire contract for the server<->supervisor
// private channel (spec §6.2): forward-repl, forward-command, get-metrics,
// shutdown. It is transported over gRPC for the same reason
// internal/firecracker/agent_client.go reached for gRPC in the teacher
// (typed request/response RPCs over a local socket), generalized from
// vsock to a Unix domain socket since there is no VM boundary at this
// layer — this channel runs host-process to host-process.
//
// The retrieval pack this module was built from does not carry the
// teacher's protoc-generated proto/agent package (filtered for size), so
// there are no .pb.go stubs to adapt. Rather than hand-fabricate
// protobuf-runtime-compatible generated code, this package defines plain
// Go message structs and registers a JSON codec under gRPC's "proto"
// content-subtype name (see codec.go), which still exercises real
// google.golang.org/grpc transport, service registration, and client stubs —
// only the wire encoding is JSON instead of protobuf binary.
package supervisorproto

// ForwardRequest carries one repl.run or command.run call through to the
// supervisor's portal-facing HTTP client.
type ForwardRequest struct {
	Method string `json:"method"` // "repl.run" | "command.run"
	Params []byte `json:"params"` // raw JSON params, passed through verbatim
}

// ForwardResponse carries back the portal's raw JSON response.
type ForwardResponse struct {
	Result []byte `json:"result"`
}

// MetricsRequest has no fields; kept as a named type for symmetry with the
// generated-client convention and to leave room for future fields.
type MetricsRequest struct{}

// MetricsResponse is the supervisor's last cached metrics sample.
type MetricsResponse struct {
	Running     bool     `json:"running"`
	CPUUsage    *float64 `json:"cpu_usage,omitempty"`
	MemoryUsage *int64   `json:"memory_usage,omitempty"`
	DiskUsage   *int64   `json:"disk_usage,omitempty"`
}

// InfoRequest has no fields; requests the supervisor's identity.
type InfoRequest struct{}

// InfoResponse reports the host-visible process ids the registry persists
// for crash recovery (spec §6.4).
type InfoResponse struct {
	MicroVMPID int `json:"microvm_pid"`
}

// ShutdownRequest asks the supervisor to tear its VM down.
type ShutdownRequest struct {
	GracePeriodSeconds int `json:"grace_period_seconds"`
}

// ShutdownResponse acknowledges a shutdown request.
type ShutdownResponse struct{}
