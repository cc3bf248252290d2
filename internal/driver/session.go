package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/bnema/aider-chat-cli/internal/domain"
)

// Session is one agent process from spawn to exit. The Supervisor owns it;
// everything else only reads its state.
type Session struct {
	model string

	mu        sync.Mutex
	candidate string
	state     domain.SessionState
	err   error
	cmd   *exec.Cmd
	stdin io.WriteCloser

	writeMu sync.Mutex
	killed  atomic.Bool

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
}

func newSession(model string) *Session {
	return &Session{
		model: model,
		state: domain.SessionStarting,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (s *Session) Model() string {
	return s.model
}

func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err is the reason the session ended abnormally, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the session can no longer produce output.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Ready is closed the first time the agent shows its idle prompt.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// Candidate is the resolved agent command, or "" while it is being resolved.
func (s *Session) Candidate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.candidate
}

func (s *Session) setCandidate(candidate string) {
	s.mu.Lock()
	s.candidate = candidate
	s.mu.Unlock()
}

func (s *Session) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// WaitReady blocks until the idle prompt shows up, the session ends or ctx
// is done.
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-s.done:
		if err := s.Err(); err != nil {
			return err
		}
		return domain.ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// attach records the started process. It returns false when the session was
// killed while starting; the caller then owns the cleanup.
func (s *Session) attach(cmd *exec.Cmd, stdin io.WriteCloser) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.killed.Load() {
		return false
	}
	s.cmd = cmd
	s.stdin = stdin
	s.state = domain.SessionRunning
	return true
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	if !s.killed.Load() && !s.state.Terminal() {
		s.state = domain.SessionErrored
		s.err = err
	}
	s.mu.Unlock()
	s.finish()
}

// exited records how the process ended. A non-zero status before kill() is a
// failure; anything after kill() is intentional.
func (s *Session) exited(waitErr error) {
	s.mu.Lock()
	switch {
	case s.killed.Load():
		s.state = domain.SessionKilled
	case waitErr == nil, errors.Is(waitErr, exec.ErrWaitDelay):
		s.state = domain.SessionExited
	default:
		s.state = domain.SessionErrored
		s.err = &domain.UnexpectedExitError{Code: exitCode(waitErr), Err: waitErr}
	}
	s.cmd = nil
	s.stdin = nil
	s.mu.Unlock()
	s.finish()
}

func (s *Session) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Session) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// kill moves the session to Killed and signals the process tree. It returns
// false when the session had already been killed or had ended.
func (s *Session) kill(logger *slog.Logger) bool {
	if !s.killed.CompareAndSwap(false, true) {
		return false
	}

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return false
	}
	s.state = domain.SessionKilled
	cmd, stdin := s.cmd, s.stdin
	s.cmd, s.stdin = nil, nil
	s.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		killProcessTree(cmd.Process, logger)
	}
	return true
}

func (s *Session) write(p []byte) error {
	s.mu.Lock()
	state, stdin := s.state, s.stdin
	s.mu.Unlock()
	if state != domain.SessionRunning || stdin == nil {
		return domain.ErrNotRunning
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := stdin.Write(p); err != nil {
		return fmt.Errorf("write agent stdin: %w", err)
	}
	return nil
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
