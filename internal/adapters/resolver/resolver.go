package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/bnema/aider-chat-cli/internal/domain"
)

const defaultProbeTimeout = 10 * time.Second

type probeFunc func(ctx context.Context, program string, args ...string) error

// Resolver picks the first invocation candidate that answers a version probe.
type Resolver struct {
	candidates []domain.InvocationCandidate
	chatFlags  []string
	timeout    time.Duration
	probe      probeFunc
	logger     *slog.Logger
}

type Option func(*Resolver)

// WithCandidates replaces the default candidate list. Order is priority.
func WithCandidates(candidates []domain.InvocationCandidate) Option {
	return func(r *Resolver) {
		if len(candidates) > 0 {
			r.candidates = append([]domain.InvocationCandidate(nil), candidates...)
		}
	}
}

func WithChatFlags(flags []string) Option {
	return func(r *Resolver) {
		r.chatFlags = append([]string(nil), flags...)
	}
}

// WithProbeTimeout bounds each version probe. Values <= 0 are ignored.
func WithProbeTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func New(opts ...Option) *Resolver {
	r := &Resolver{
		candidates: domain.DefaultCandidates(),
		chatFlags:  append([]string(nil), domain.DefaultChatFlags...),
		timeout:    defaultProbeTimeout,
		probe:      runProbe,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Resolver) Candidates() []domain.InvocationCandidate {
	return append([]domain.InvocationCandidate(nil), r.candidates...)
}

// Resolve probes candidates in order. Resolution is deterministic, so a
// failure is final until the environment changes.
func (r *Resolver) Resolve(ctx context.Context) (domain.Invocation, error) {
	tried := make([]string, 0, len(r.candidates))
	for _, candidate := range r.candidates {
		if err := ctx.Err(); err != nil {
			return domain.Invocation{}, err
		}

		tried = append(tried, candidate.String())
		if err := r.probeCandidate(ctx, candidate); err != nil {
			r.logger.Debug("invocation candidate failed, trying next", "candidate", candidate.String(), "error", err)
			continue
		}

		r.logger.Debug("resolved invocation", "candidate", candidate.String())
		return domain.Invocation{
			Candidate: candidate,
			ChatFlags: append([]string(nil), r.chatFlags...),
		}, nil
	}

	return domain.Invocation{}, fmt.Errorf("%w (tried: %s)", domain.ErrResolution, strings.Join(tried, ", "))
}

func (r *Resolver) probeCandidate(ctx context.Context, candidate domain.InvocationCandidate) error {
	if candidate.Program == "" {
		return errors.New("candidate has no program")
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := make([]string, 0, len(candidate.Args)+len(candidate.VersionArgs))
	args = append(args, candidate.Args...)
	args = append(args, candidate.VersionArgs...)

	if err := r.probe(probeCtx, candidate.Program, args...); err != nil {
		if probeCtx.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("probe timed out after %s: %w", r.timeout, err)
		}
		return err
	}
	return nil
}

// runProbe discards all probe output; it is only a liveness check.
func runProbe(ctx context.Context, program string, args ...string) error {
	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.WaitDelay = time.Second
	return cmd.Run()
}
