// Package portal implements the in-VM HTTP dispatcher (component C1): a
// long-lived language REPL per interpreter plus ad-hoc command execution,
// both reachable over a single VM-local HTTP port. It is the process every
// sandbox image's entrypoint must launch.
package portal

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/opensandbox/opensandbox/pkg/types"
)

const defaultCommandConcurrency = 8

// Server is the portal's HTTP front end.
type Server struct {
	repls    *replPool
	commands *commandLimiter
}

// NewServer builds a portal server. commandConcurrency <= 0 uses the default.
func NewServer(commandConcurrency int) *Server {
	if commandConcurrency <= 0 {
		commandConcurrency = defaultCommandConcurrency
	}
	return &Server{
		repls:    newReplPool(),
		commands: newCommandLimiter(commandConcurrency),
	}
}

// Handler returns the http.Handler to serve on the portal's well-known port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/repl.run", s.handleReplRun)
	mux.HandleFunc("/command.run", s.handleCommandRun)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

type replRunRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
	Timeout  int    `json:"timeout"`
}

func (s *Server) handleReplRun(w http.ResponseWriter, r *http.Request) {
	var req replRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, err)
		return
	}

	timeout := time.Duration(req.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	session, err := s.repls.get(req.Language)
	if err != nil {
		writeJSON(w, &types.ExecutionRecord{
			Status:   types.ExecutionError,
			Error:    err.Error(),
			Language: req.Language,
		})
		return
	}

	rec, completed := session.run(req.Code, timeout)
	if !completed {
		// Either the interpreter is wedged or stdin write failed outright;
		// either way the next call must get a fresh process.
		s.repls.restart(req.Language)
		log.Printf("portal: repl %s timed out or errored, restarting", req.Language)
	}
	writeJSON(w, rec)
}

type commandRunRequest struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Timeout int      `json:"timeout"`
}

func (s *Server) handleCommandRun(w http.ResponseWriter, r *http.Request) {
	var req commandRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, err)
		return
	}

	timeout := time.Duration(req.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	rec := s.commands.runCommand(req.Command, req.Args, timeout)
	writeJSON(w, rec)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("portal: encode response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
