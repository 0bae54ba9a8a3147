package portal

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensandbox/opensandbox/pkg/types"
)

// replSession owns one persistent interpreter subprocess for one language.
// Calls against the same session are serialized: the portal holds one
// interpreter per language, so two repl.run calls for "python" never race.
type replSession struct {
	mu       sync.Mutex
	language string
	spec     languageSpec

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan taggedLine
	done   chan struct{}
}

type taggedLine struct {
	stream string // "stdout" | "stderr"
	text   string
}

// replPool lazily starts one replSession per language on first use.
type replPool struct {
	mu       sync.Mutex
	sessions map[string]*replSession
}

func newReplPool() *replPool {
	return &replPool{sessions: make(map[string]*replSession)}
}

func (p *replPool) get(language string) (*replSession, error) {
	spec, ok := languages[language]
	if !ok {
		return nil, fmt.Errorf("unknown language %q", language)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[language]
	if ok {
		return s, nil
	}
	s = &replSession{language: language, spec: spec}
	if err := s.start(); err != nil {
		return nil, err
	}
	p.sessions[language] = s
	return s, nil
}

// restart is called after a timeout: the wedged interpreter is killed and a
// fresh one takes its place, losing REPL state for that language only.
func (p *replPool) restart(language string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[language]; ok {
		s.kill()
		delete(p.sessions, language)
	}
}

func (s *replSession) start() error {
	cmd := exec.Command(s.spec.bin, s.spec.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("repl stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("repl stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("repl stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s interpreter: %w", s.language, err)
	}

	s.cmd = cmd
	s.stdin = stdin
	// Buffered generously: a wedged consumer (timeout path) must never block
	// the scanning goroutines from draining the pipes.
	s.lines = make(chan taggedLine, 4096)
	s.done = make(chan struct{})

	go pump(stdout, "stdout", s.lines, s.done)
	go pump(stderr, "stderr", s.lines, s.done)
	return nil
}

func pump(r io.Reader, stream string, out chan<- taggedLine, done <-chan struct{}) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		select {
		case out <- taggedLine{stream: stream, text: sc.Text()}:
		case <-done:
			return
		}
	}
}

func (s *replSession) kill() {
	close(s.done)
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
}

// run submits code, framed with a private per-call sentinel, and collects
// every stdout/stderr line observed until the sentinel surfaces on stdout,
// preserving cross-stream emission order.
func (s *replSession) run(code string, timeout time.Duration) (*types.ExecutionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	okToken := "\x00MSB-OK-" + uuid.NewString() + "\x00"
	errToken := "\x00MSB-ERR-" + uuid.NewString() + "\x00"

	framed := s.spec.frame(code, okToken, errToken)
	if _, err := io.WriteString(s.stdin, framed); err != nil {
		return &types.ExecutionRecord{
			Status: types.ExecutionError,
			Error:  fmt.Sprintf("write to %s interpreter: %v", s.language, err),
		}, false
	}

	var out []types.OutputLine
	errored := false
	deadline := time.After(timeout)

	for {
		select {
		case line := <-s.lines:
			if line.stream == "stdout" && strings.Contains(line.text, okToken) {
				rec := &types.ExecutionRecord{
					Output:   out,
					Language: s.language,
					Success:  !errored,
				}
				if errored {
					rec.Status = types.ExecutionError
					rec.ExitCode = 1
				} else {
					rec.Status = types.ExecutionCompleted
					rec.ExitCode = 0
				}
				return rec, true
			}
			if line.stream == "stderr" && strings.Contains(line.text, errToken) {
				errored = true
				out = append(out, types.OutputLine{Stream: "stderr", Text: strings.TrimSpace(strings.Replace(line.text, errToken, "", 1))})
				continue
			}
			out = append(out, types.OutputLine{Stream: line.stream, Text: line.text})
		case <-deadline:
			return &types.ExecutionRecord{
				Output:   out,
				Status:   types.ExecutionTimeout,
				Language: s.language,
				Success:  false,
			}, false
		}
	}
}
