package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opensandbox/opensandbox/internal/supervisorproto"
)

// RPCServer implements supervisorproto.Server on top of a Supervisor,
// answering the registry's private-channel calls (spec §6.2) by forwarding
// to the portal's VM-local HTTP endpoint or reading the cached metrics
// sample.
type RPCServer struct {
	sup *Supervisor
}

func NewRPCServer(sup *Supervisor) *RPCServer {
	return &RPCServer{sup: sup}
}

var _ supervisorproto.Server = (*RPCServer)(nil)

var portalRoutes = map[string]string{
	"repl.run":    "/repl.run",
	"command.run": "/command.run",
}

func (r *RPCServer) Forward(ctx context.Context, req *supervisorproto.ForwardRequest) (*supervisorproto.ForwardResponse, error) {
	path, ok := portalRoutes[req.Method]
	if !ok {
		return nil, fmt.Errorf("unknown portal method %q", req.Method)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.sup.PortalBaseURL()+path, bytes.NewReader(req.Params))
	if err != nil {
		return nil, fmt.Errorf("build portal request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Minute} // the portal itself enforces the caller's timeout
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call portal %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read portal response: %w", err)
	}
	return &supervisorproto.ForwardResponse{Result: body}, nil
}

func (r *RPCServer) GetMetrics(ctx context.Context, req *supervisorproto.MetricsRequest) (*supervisorproto.MetricsResponse, error) {
	sample := r.sup.Sample()
	return &supervisorproto.MetricsResponse{
		Running:     sample.Running,
		CPUUsage:    sample.CPUUsage,
		MemoryUsage: sample.MemoryUsage,
		DiskUsage:   sample.DiskUsage,
	}, nil
}

func (r *RPCServer) GetInfo(ctx context.Context, req *supervisorproto.InfoRequest) (*supervisorproto.InfoResponse, error) {
	return &supervisorproto.InfoResponse{MicroVMPID: r.sup.PID()}, nil
}

func (r *RPCServer) Shutdown(ctx context.Context, req *supervisorproto.ShutdownRequest) (*supervisorproto.ShutdownResponse, error) {
	grace := time.Duration(req.GracePeriodSeconds) * time.Second
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := r.sup.Teardown(shutdownCtx); err != nil {
		return nil, fmt.Errorf("teardown: %w", err)
	}
	return &supervisorproto.ShutdownResponse{}, nil
}
