package environment

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/bnema/aider-chat-cli/internal/domain"
)

type Platform string

const (
	PlatformPOSIX   Platform = "posix"
	PlatformWindows Platform = "windows"
)

const (
	EncodingVar     = "PYTHONIOENCODING"
	EncodingValue   = "utf-8"
	SimpleOutputVar = "AIDER_SIMPLE_OUTPUT"
	PathVar         = "PATH"

	userPathTimeout = 5 * time.Second
)

func CurrentPlatform() Platform {
	if runtime.GOOS == "windows" {
		return PlatformWindows
	}
	return PlatformPOSIX
}

type runFunc func(ctx context.Context, name string, args ...string) (string, error)

// Env is the overlay applied on top of the inherited environment of the
// child. Secret is kept apart from Vars because the two platforms deliver it
// differently.
type Env struct {
	Vars      map[string]string
	SecretVar string
	Secret    string
}

// strategy captures everything that differs between platforms.
type strategy interface {
	shellEnvKey() string
	defaultShell() string
	userPathCommand(shell string) (string, []string)
	prepare(ctx context.Context, run runFunc, env Env) error
	command(shell string, argv []string, env Env) (string, []string)
	secretInEnviron() bool
}

type Builder struct {
	platform Platform
	strategy strategy
	getenv   func(string) string
	run      runFunc
	logger   *slog.Logger
}

type Option func(*Builder)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithGetenv replaces os.Getenv for shell and PATH lookups.
func WithGetenv(getenv func(string) string) Option {
	return func(b *Builder) {
		if getenv != nil {
			b.getenv = getenv
		}
	}
}

func New(platform Platform, opts ...Option) *Builder {
	b := &Builder{
		platform: platform,
		getenv:   os.Getenv,
		run:      runCommand,
		logger:   slog.New(slog.DiscardHandler),
	}
	if platform == PlatformWindows {
		b.strategy = windowsStrategy{}
	} else {
		b.platform = PlatformPOSIX
		b.strategy = posixStrategy{}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *Builder) Platform() Platform {
	return b.platform
}

// ResolveShell returns the user's interpreter, falling back to the platform
// default.
func (b *Builder) ResolveShell() string {
	if shell := b.getenv(b.strategy.shellEnvKey()); shell != "" {
		return shell
	}
	return b.strategy.defaultShell()
}

// ResolveUserPath asks the user's login shell for its PATH. Any failure falls
// back to the inherited PATH; this never returns an error.
func (b *Builder) ResolveUserPath(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, userPathTimeout)
	defer cancel()

	name, args := b.strategy.userPathCommand(b.ResolveShell())
	out, err := b.run(ctx, name, args...)
	if err != nil {
		b.logger.Warn("resolve user PATH failed, using inherited PATH", "error", err)
		return b.getenv(PathVar)
	}

	path := lastLine(out)
	if path == "" {
		b.logger.Warn("user shell reported an empty PATH, using inherited PATH")
		return b.getenv(PathVar)
	}
	return path
}

// BuildEnv computes the overlay for family. The secret variable comes from
// the family table, so at most one secret is set. An empty secret leaves the
// variable alone and the child keeps whatever value it inherits.
func (b *Builder) BuildEnv(ctx context.Context, family domain.ModelFamily, secret string) Env {
	env := Env{
		Vars: map[string]string{
			PathVar:         b.ResolveUserPath(ctx),
			EncodingVar:     EncodingValue,
			SimpleOutputVar: "1",
		},
	}
	if secret != "" {
		env.SecretVar = family.EnvVar
		env.Secret = secret
	}
	return env
}

// Prepare runs the platform's synchronous pre-spawn step.
func (b *Builder) Prepare(ctx context.Context, env Env) error {
	if err := b.strategy.prepare(ctx, b.run, env); err != nil {
		return fmt.Errorf("prepare %s environment: %w", b.platform, err)
	}
	return nil
}

// Command wraps argv (program first) in the platform shell.
func (b *Builder) Command(argv []string, env Env) (string, []string) {
	return b.strategy.command(b.ResolveShell(), argv, env)
}

// Environ merges the overlay into base, later keys winning. The result is
// sorted for stable output.
func (b *Builder) Environ(base []string, env Env) []string {
	merged := make(map[string]string, len(base)+len(env.Vars)+1)
	for _, kv := range base {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		merged[key] = value
	}
	for key, value := range env.Vars {
		merged[key] = value
	}
	if b.strategy.secretInEnviron() && env.SecretVar != "" {
		merged[env.SecretVar] = env.Secret
	}

	out := make([]string, 0, len(merged))
	for key, value := range merged {
		out = append(out, key+"="+value)
	}
	sort.Strings(out)
	return out
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = time.Second

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return stdout.String(), nil
}

// lastLine skips banner noise an interactive login shell may print.
func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
