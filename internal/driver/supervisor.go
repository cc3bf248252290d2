package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bnema/aider-chat-cli/internal/adapters/environment"
	"github.com/bnema/aider-chat-cli/internal/domain"
)

const (
	// interruptByte is what a terminal sends for Ctrl+C.
	interruptByte = '\x03'

	// waitDelay bounds how long Wait keeps copying output after the agent
	// exits while a grandchild still holds the pipes.
	waitDelay = 2 * time.Second

	maxStderrLine = 4096
)

var lineBreaks = regexp.MustCompile(`[\r\n]+`)

type Resolver interface {
	Resolve(ctx context.Context) (domain.Invocation, error)
}

type CredentialChecker interface {
	CheckAndUpdateCredentials(ctx context.Context) error
	AccessToken() string
}

type EnvironmentBuilder interface {
	Platform() environment.Platform
	BuildEnv(ctx context.Context, family domain.ModelFamily, secret string) environment.Env
	Prepare(ctx context.Context, env environment.Env) error
	Command(argv []string, env environment.Env) (string, []string)
	Environ(base []string, env environment.Env) []string
}

// PromptMarker is the idle prompt aider prints when it waits for input.
func PromptMarker(platform environment.Platform) string {
	if platform == environment.PlatformWindows {
		return "\r\n> "
	}
	return "\n> "
}

// Supervisor owns the agent process: it spawns it, routes stdin, feeds
// stdout into the transcript and tears it down.
type Supervisor struct {
	resolver  Resolver
	env       EnvironmentBuilder
	creds     CredentialChecker
	serverURL string
	workdir   string
	logger    *slog.Logger

	transcript *Transcript
	marker     string

	startMu sync.Mutex
	mu      sync.Mutex
	session *Session
}

type Option func(*Supervisor)

func WithCredentials(creds CredentialChecker) Option {
	return func(s *Supervisor) {
		s.creds = creds
	}
}

// WithServerURL sets the managed-model server; the agent talks to
// <url>/integrations/aider.
func WithServerURL(url string) Option {
	return func(s *Supervisor) {
		s.serverURL = strings.TrimRight(url, "/")
	}
}

func WithWorkdir(dir string) Option {
	return func(s *Supervisor) {
		s.workdir = dir
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewSupervisor(resolver Resolver, env EnvironmentBuilder, opts ...Option) *Supervisor {
	s := &Supervisor{
		resolver:   resolver,
		env:        env,
		logger:     slog.New(slog.DiscardHandler),
		transcript: &Transcript{},
		marker:     PromptMarker(env.Platform()),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Supervisor) Transcript() *Transcript {
	return s.transcript
}

func (s *Supervisor) PromptMarker() string {
	return s.marker
}

// Session returns the current session, or nil before the first Start.
func (s *Supervisor) Session() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *Supervisor) State() domain.SessionState {
	if sess := s.Session(); sess != nil {
		return sess.State()
	}
	return domain.SessionIdle
}

// Start spawns the agent for model. It does nothing when a session is
// already running. apiKey is only used by api-key model families.
func (s *Supervisor) Start(ctx context.Context, model string, apiKey string) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if cur := s.Session(); cur != nil && cur.State() == domain.SessionRunning {
		return nil
	}

	sess := newSession(model)
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()

	if err := s.spawn(ctx, sess, apiKey); err != nil {
		sess.fail(err)
		s.logger.Error("start agent failed", "model", model, "error", err)
		return err
	}
	return nil
}

func (s *Supervisor) spawn(ctx context.Context, sess *Session, apiKey string) error {
	inv, err := s.resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	sess.setCandidate(inv.Candidate.String())

	family := domain.FamilyFor(sess.model)
	secret, extra, err := s.secretFor(ctx, family, sess.model, apiKey)
	if err != nil {
		return err
	}

	env := s.env.BuildEnv(ctx, family, secret)
	if err := s.env.Prepare(ctx, env); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSpawn, err)
	}

	argv := append([]string{inv.Candidate.Program}, inv.Argv(extra...)...)
	program, args := s.env.Command(argv, env)

	cmd := exec.Command(program, args...)
	cmd.Dir = s.workdir
	cmd.Env = s.env.Environ(os.Environ(), env)
	cmd.WaitDelay = waitDelay
	cmd.Stdout = &transcriptWriter{session: sess, transcript: s.transcript, marker: s.marker}
	cmd.Stderr = &stderrWriter{logger: s.logger}
	configureProcess(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe: %w", domain.ErrSpawn, err)
	}

	s.transcript.Reset()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrSpawn, inv.Candidate, err)
	}

	if !sess.attach(cmd, stdin) {
		killProcessTree(cmd.Process, s.logger)
		go s.monitor(sess, cmd)
		return fmt.Errorf("agent killed while starting: %w", domain.ErrNotRunning)
	}
	go s.monitor(sess, cmd)

	s.logger.Info("agent started",
		"model", sess.model,
		"family", family.Name,
		"candidate", inv.Candidate.String(),
		"pid", cmd.Process.Pid,
	)
	return nil
}

func (s *Supervisor) secretFor(ctx context.Context, family domain.ModelFamily, model, apiKey string) (string, []string, error) {
	if family.Credential != domain.CredentialManaged {
		if apiKey == "" {
			s.logger.Warn("no api key for model, the agent will fall back to its own configuration", "model", model, "env", family.EnvVar)
		}
		var extra []string
		if family.PassModel {
			extra = []string{"--model", model}
		}
		return apiKey, extra, nil
	}

	if s.creds == nil {
		return "", nil, fmt.Errorf("%w: no credential provider configured", domain.ErrAuth)
	}
	if err := s.creds.CheckAndUpdateCredentials(ctx); err != nil {
		if !errors.Is(err, domain.ErrAuth) {
			err = fmt.Errorf("%w: %w", domain.ErrAuth, err)
		}
		return "", nil, err
	}
	token := s.creds.AccessToken()
	if token == "" {
		return "", nil, fmt.Errorf("%w: access token is empty", domain.ErrAuth)
	}
	return token, []string{"--openai-api-base", s.serverURL + "/integrations/aider"}, nil
}

// monitor is the only caller of cmd.Wait.
func (s *Supervisor) monitor(sess *Session, cmd *exec.Cmd) {
	err := cmd.Wait()
	sess.exited(err)

	switch state := sess.State(); state {
	case domain.SessionErrored:
		s.logger.Error("agent exited unexpectedly", "model", sess.model, "error", sess.Err())
	default:
		s.logger.Info("agent stopped", "model", sess.model, "state", string(state))
	}
}

// Kill terminates the current session. It is safe to call at any time and
// never waits for the process to exit.
func (s *Supervisor) Kill() {
	sess := s.Session()
	if sess == nil {
		return
	}
	if sess.kill(s.logger) {
		s.logger.Info("agent killed", "model", sess.model)
	}
}

// Interrupt sends Ctrl+C to the agent without stopping it.
func (s *Supervisor) Interrupt() {
	sess := s.Session()
	if sess == nil || sess.State() != domain.SessionRunning {
		s.logger.Warn("interrupt ignored, agent is not running")
		return
	}
	if err := sess.write([]byte{interruptByte}); err != nil {
		s.logger.Warn("interrupt agent failed", "error", err)
	}
}

// Write submits text as one line: embedded line breaks become spaces because
// the agent treats a newline as submit.
func (s *Supervisor) Write(text string) error {
	sess := s.Session()
	if sess == nil {
		s.logger.Warn("write ignored, agent is not running")
		return domain.ErrNotRunning
	}
	if err := sess.write([]byte(FlattenInput(text))); err != nil {
		s.logger.Warn("write ignored", "error", err)
		return err
	}
	return nil
}

// Reset kills the current session, clears the transcript and starts a new
// session, possibly for another model.
func (s *Supervisor) Reset(ctx context.Context, model string, apiKey string) error {
	s.Kill()
	s.transcript.Reset()
	return s.Start(ctx, model, apiKey)
}

// Shutdown kills the session and waits for the process to be reaped.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	sess := s.Session()
	if sess == nil {
		return nil
	}
	s.Kill()
	select {
	case <-sess.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FlattenInput turns text into the single line the agent expects.
func FlattenInput(text string) string {
	return lineBreaks.ReplaceAllString(text, " ") + "\n"
}

// transcriptWriter receives the agent's stdout. os/exec copies into it from
// a single goroutine, which makes it the transcript's only writer.
type transcriptWriter struct {
	session    *Session
	transcript *Transcript
	marker     string
	norm       normalizer
}

func (w *transcriptWriter) Write(p []byte) (int, error) {
	// Output from a killed session must not leak into its successor.
	if w.session.killed.Load() {
		return len(p), nil
	}
	if text := w.norm.feed(p); text != "" {
		w.transcript.Append(text)
		if w.transcript.EndsWith(w.marker) {
			w.session.markReady()
		}
	}
	return len(p), nil
}

type stderrWriter struct {
	logger *slog.Logger
	buf    bytes.Buffer
}

func (w *stderrWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Incomplete line: keep it unless it grows unreasonably.
			if len(line) >= maxStderrLine {
				w.log(line)
			} else {
				w.buf.Reset()
				w.buf.WriteString(line)
			}
			return len(p), nil
		}
		w.log(line)
	}
}

func (w *stderrWriter) log(line string) {
	if line = strings.TrimSpace(Normalize(line)); line != "" {
		w.logger.Warn("agent stderr", "line", line)
	}
}
