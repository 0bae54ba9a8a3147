// Package rpcserver implements the single JSON-RPC 2.0 endpoint (component
// C5): POST /api/v1/rpc, dispatching sandbox.start/stop/repl.run/
// command.run/metrics.get onto the registry (C4), with bearer-token
// validation against the auth key store (C6) and per-request metrics.
package rpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/opensandbox/opensandbox/internal/auth"
	"github.com/opensandbox/opensandbox/internal/metrics"
	"github.com/opensandbox/opensandbox/internal/registry"
	"github.com/opensandbox/opensandbox/internal/rootfs"
	"github.com/opensandbox/opensandbox/pkg/types"
)

// JSON-RPC 2.0 reserved/spec error codes (§7).
const (
	codeParseError     = -32700
	codeUnauthorized   = -32001
	codeUnknownMethod  = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32000
)

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// sandboxParams is the field set every method's params carry: which sandbox,
// in which namespace. An empty namespace is used as-is (the "" namespace);
// only an unscoped token validates against it.
type sandboxParams struct {
	Sandbox   string `json:"sandbox"`
	Namespace string `json:"namespace"`
}

// Server wires the registry, key store, and metrics collector behind the
// single RPC route.
type Server struct {
	echo     *echo.Echo
	registry *registry.Registry
	keys     *auth.KeyStore
	collector *metrics.Collector
	devMode  bool
}

// New builds the echo server and registers its one RPC route plus a health
// endpoint, grounded on the teacher's router construction (Recover, Logger,
// a no-auth health check, then an authenticated group) collapsed from many
// REST routes to one JSON-RPC route.
func New(reg *registry.Registry, keys *auth.KeyStore, collector *metrics.Collector, devMode bool) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, registry: reg, keys: keys, collector: collector, devMode: devMode}

	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(metrics.EchoMiddleware())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	api := e.Group("/api/v1")
	api.Use(auth.Middleware(devMode))
	api.POST("/rpc", s.handle)

	return s
}

// Echo exposes the underlying server for cmd/server to Start/Shutdown.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) handle(c echo.Context) error {
	var req request
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusOK, response{JSONRPC: "2.0", Error: &rpcError{
			Code: codeParseError, Message: fmt.Sprintf("parse error: %v", err),
		}})
	}

	var base sandboxParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &base); err != nil {
			return s.reply(c, req.ID, nil, codeInvalidParams, fmt.Sprintf("invalid params: %v", err))
		}
	}

	if err := s.authorize(c, base.Namespace); err != nil {
		return s.reply(c, req.ID, nil, codeUnauthorized, err.Error())
	}

	ctx := c.Request().Context()

	switch req.Method {
	case "sandbox.start":
		return s.handleStart(c, req, base, ctx)
	case "sandbox.stop":
		return s.handleStop(c, req, base, ctx)
	case "sandbox.repl.run":
		return s.handleReplRun(c, req, base, ctx)
	case "sandbox.command.run":
		return s.handleCommandRun(c, req, base, ctx)
	case "sandbox.metrics.get":
		return s.handleMetricsGet(c, req, base, ctx)
	default:
		return s.reply(c, req.ID, nil, codeUnknownMethod, fmt.Sprintf("unknown method %q", req.Method))
	}
}

// authorize validates the bearer token against namespace. In dev mode a
// missing token is allowed through untouched; a present token is always
// validated regardless of mode.
func (s *Server) authorize(c echo.Context, namespace string) error {
	token, ok := auth.Token(c)
	if !ok {
		if s.devMode {
			return nil
		}
		return errors.New("missing bearer token")
	}
	_, err := s.keys.Validate(token, namespace)
	return err
}

func (s *Server) handleStart(c echo.Context, req request, base sandboxParams, ctx context.Context) error {
	var p struct {
		sandboxParams
		Config types.SandboxConfig `json:"config"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return s.reply(c, req.ID, nil, codeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}
	if p.Sandbox == "" {
		return s.reply(c, req.ID, nil, codeInvalidParams, "sandbox name is required")
	}

	_, err := s.registry.Start(ctx, p.Namespace, p.Sandbox, p.Config)
	if err != nil {
		code, msg := classify(err)
		return s.reply(c, req.ID, nil, code, msg)
	}
	return s.reply(c, req.ID, "started", 0, "")
}

func (s *Server) handleStop(c echo.Context, req request, base sandboxParams, ctx context.Context) error {
	if base.Sandbox == "" {
		return s.reply(c, req.ID, nil, codeInvalidParams, "sandbox name is required")
	}
	if err := s.registry.Stop(ctx, base.Namespace, base.Sandbox); err != nil {
		code, msg := classify(err)
		return s.reply(c, req.ID, nil, code, msg)
	}
	return s.reply(c, req.ID, "stopped", 0, "")
}

// replRunRequest/commandRunRequest mirror the portal's (C1) exact wire
// shapes — the params forwarded through the private channel must match
// internal/portal's request structs field-for-field.
type replRunRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Timeout  int    `json:"timeout"`
}

type commandRunRequest struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Timeout int      `json:"timeout"`
}

func (s *Server) handleReplRun(c echo.Context, req request, base sandboxParams, ctx context.Context) error {
	var p struct {
		sandboxParams
		Language string `json:"language"`
		Code     string `json:"code"`
		Timeout  int    `json:"timeout"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return s.reply(c, req.ID, nil, codeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}
	if p.Sandbox == "" || p.Language == "" {
		return s.reply(c, req.ID, nil, codeInvalidParams, "sandbox and language are required")
	}

	forwardParams, err := json.Marshal(replRunRequest{Language: p.Language, Code: p.Code, Timeout: p.Timeout})
	if err != nil {
		return s.reply(c, req.ID, nil, codeInternal, err.Error())
	}

	raw, err := s.registry.Forward(ctx, p.Namespace, p.Sandbox, "repl.run", forwardParams)
	if err != nil {
		code, msg := classify(err)
		return s.reply(c, req.ID, nil, code, msg)
	}

	var record types.ExecutionRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return s.reply(c, req.ID, nil, codeInternal, fmt.Sprintf("decode execution record: %v", err))
	}
	return s.reply(c, req.ID, record, 0, "")
}

func (s *Server) handleCommandRun(c echo.Context, req request, base sandboxParams, ctx context.Context) error {
	var p struct {
		sandboxParams
		Command string   `json:"command"`
		Args    []string `json:"args"`
		Timeout int      `json:"timeout"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return s.reply(c, req.ID, nil, codeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}
	if p.Sandbox == "" || p.Command == "" {
		return s.reply(c, req.ID, nil, codeInvalidParams, "sandbox and command are required")
	}

	forwardParams, err := json.Marshal(commandRunRequest{Command: p.Command, Args: p.Args, Timeout: p.Timeout})
	if err != nil {
		return s.reply(c, req.ID, nil, codeInternal, err.Error())
	}

	raw, err := s.registry.Forward(ctx, p.Namespace, p.Sandbox, "command.run", forwardParams)
	if err != nil {
		code, msg := classify(err)
		return s.reply(c, req.ID, nil, code, msg)
	}

	var record types.ExecutionRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return s.reply(c, req.ID, nil, codeInternal, fmt.Sprintf("decode execution record: %v", err))
	}
	return s.reply(c, req.ID, record, 0, "")
}

func (s *Server) handleMetricsGet(c echo.Context, req request, base sandboxParams, ctx context.Context) error {
	out := []types.SandboxMetrics{}

	if base.Sandbox != "" {
		m, err := s.registry.Metrics(ctx, base.Namespace, base.Sandbox)
		if err != nil {
			code, msg := classify(err)
			return s.reply(c, req.ID, nil, code, msg)
		}
		s.collector.Observe(base.Namespace, base.Sandbox, metrics.Sample{
			Running: m.Running, CPUUsage: m.CPUUsage, MemoryUsage: m.MemoryUsage, DiskUsage: m.DiskUsage,
		})
		out = append(out, m)
	} else {
		for _, sb := range s.registry.List(base.Namespace) {
			m, err := s.registry.Metrics(ctx, sb.Namespace, sb.Name)
			if err != nil {
				continue
			}
			s.collector.Observe(sb.Namespace, sb.Name, metrics.Sample{
				Running: m.Running, CPUUsage: m.CPUUsage, MemoryUsage: m.MemoryUsage, DiskUsage: m.DiskUsage,
			})
			out = append(out, m)
		}
	}

	return s.reply(c, req.ID, map[string]interface{}{"sandboxes": out}, 0, "")
}

func (s *Server) reply(c echo.Context, id json.RawMessage, result interface{}, errCode int, errMsg string) error {
	resp := response{JSONRPC: "2.0", ID: id}
	if errMsg != "" {
		resp.Error = &rpcError{Code: errCode, Message: errMsg}
	} else {
		resp.Result = result
	}
	return c.JSON(http.StatusOK, resp)
}

// classify maps an internal error to a JSON-RPC error code per spec §7: any
// recognized sentinel gets -32000 with its descriptive message; unauthorized
// auth failures get -32001; everything else is also -32000 (internal).
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		return codeUnauthorized, err.Error()
	case errors.Is(err, registry.ErrAlreadyRunning),
		errors.Is(err, registry.ErrAlreadyStarting),
		errors.Is(err, registry.ErrStoppingInProgress),
		errors.Is(err, registry.ErrNotRunning),
		errors.Is(err, registry.ErrNotFound),
		errors.Is(err, rootfs.ErrImageUnavailable()),
		errors.Is(err, rootfs.ErrMountFailed()):
		return codeInternal, err.Error()
	default:
		return codeInternal, err.Error()
	}
}
