package rpcserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opensandbox/opensandbox/internal/auth"
	"github.com/opensandbox/opensandbox/internal/metrics"
	"github.com/opensandbox/opensandbox/internal/registry"
	"github.com/opensandbox/opensandbox/internal/state"
)

func newTestServer(t *testing.T, devMode bool) *Server {
	t.Helper()
	store, err := state.Open(t.TempDir())
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	reg := registry.New(registry.Options{DataDir: t.TempDir()}, store)
	keys := auth.NewKeyStore([]byte("test-secret"))
	return New(reg, keys, metrics.NewCollector(), devMode)
}

func doRPC(t *testing.T, s *Server, body string, bearer string) response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rpc", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	var resp response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (body=%s)", err, rec.Body.String())
	}
	return resp
}

func TestUnknownMethodReturnsUnknownMethodCode(t *testing.T) {
	s := newTestServer(t, true)
	resp := doRPC(t, s, `{"jsonrpc":"2.0","id":1,"method":"sandbox.bogus","params":{}}`, "")
	if resp.Error == nil || resp.Error.Code != codeUnknownMethod {
		t.Fatalf("expected unknown-method error, got %+v", resp.Error)
	}
}

func TestMissingAuthInNonDevModeIsRejected(t *testing.T) {
	s := newTestServer(t, false)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rpc",
		bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"sandbox.stop","params":{"sandbox":"web"}}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected HTTP 401 from the auth middleware on a missing header, got %d", rec.Code)
	}
}

func TestInvalidTokenInNonDevModeReturnsUnauthorizedCode(t *testing.T) {
	s := newTestServer(t, false)
	resp := doRPC(t, s, `{"jsonrpc":"2.0","id":1,"method":"sandbox.stop","params":{"sandbox":"web"}}`, "not-a-real-token")
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized error, got %+v", resp.Error)
	}
}

func TestMalformedStartParamsReturnsInvalidParamsCode(t *testing.T) {
	s := newTestServer(t, true)
	resp := doRPC(t, s, `{"jsonrpc":"2.0","id":1,"method":"sandbox.start","params":{"config":"not-an-object"}}`, "")
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid-params error, got %+v", resp.Error)
	}
}

func TestMissingSandboxNameReturnsInvalidParamsCode(t *testing.T) {
	s := newTestServer(t, true)
	resp := doRPC(t, s, `{"jsonrpc":"2.0","id":1,"method":"sandbox.start","params":{"config":{"image":"python:3.11"}}}`, "")
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid-params error, got %+v", resp.Error)
	}
}

func TestStopUnknownSandboxIsIdempotent(t *testing.T) {
	s := newTestServer(t, true)
	resp := doRPC(t, s, `{"jsonrpc":"2.0","id":1,"method":"sandbox.stop","params":{"sandbox":"ghost"}}`, "")
	if resp.Error != nil {
		t.Fatalf("expected idempotent success, got error %+v", resp.Error)
	}
	if resp.Result != "stopped" {
		t.Fatalf("expected result \"stopped\", got %v", resp.Result)
	}
}

func TestMetricsGetUnknownSandboxReturnsNotFound(t *testing.T) {
	s := newTestServer(t, true)
	resp := doRPC(t, s, `{"jsonrpc":"2.0","id":1,"method":"sandbox.metrics.get","params":{"sandbox":"ghost"}}`, "")
	if resp.Error == nil || resp.Error.Code != codeInternal {
		t.Fatalf("expected not-found (-32000) error, got %+v", resp.Error)
	}
}

func TestMetricsGetEmptyNamespaceReturnsEmptyList(t *testing.T) {
	s := newTestServer(t, true)
	resp := doRPC(t, s, `{"jsonrpc":"2.0","id":1,"method":"sandbox.metrics.get","params":{"namespace":"default"}}`, "")
	if resp.Error != nil {
		t.Fatalf("expected success, got %+v", resp.Error)
	}
	m, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected object result, got %T", resp.Result)
	}
	sandboxes, ok := m["sandboxes"].([]interface{})
	if !ok || len(sandboxes) != 0 {
		t.Fatalf("expected an empty sandboxes list, got %v", m["sandboxes"])
	}
}
