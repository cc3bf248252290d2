package driver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bnema/aider-chat-cli/internal/domain"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultReadyTimeout = 2 * time.Minute

	// EndOfResponse replaces a chunk that would otherwise be empty.
	EndOfResponse = "Aider response over"
)

var chunkEscaper = strings.NewReplacer(`\`, `\\`, `$`, `\$`)

// EscapeChunk prefixes backslash and dollar with a backslash so downstream
// template rendering shows them literally.
func EscapeChunk(s string) string {
	if s == "" {
		return EndOfResponse
	}
	return chunkEscaper.Replace(s)
}

// Host is the part of the Supervisor a StreamingAdapter drives.
type Host interface {
	Session() *Session
	Write(text string) error
	Transcript() *Transcript
	PromptMarker() string
}

// Chunk is one piece of a turn. Err is set, and Content is empty, when a
// single poll tick failed; the turn carries on.
type Chunk struct {
	Content string
	Err     error
}

// Turn is one request and the chunks streamed back for it.
type Turn struct {
	Request string

	chunks chan Chunk
	done   chan struct{}

	mu       sync.Mutex
	complete bool
	err      error
}

func newTurn(request string) *Turn {
	return &Turn{
		Request: request,
		chunks:  make(chan Chunk, 16),
		done:    make(chan struct{}),
	}
}

// Chunks is closed when the turn ends. Callers must drain it or cancel the
// context passed to Send.
func (t *Turn) Chunks() <-chan Chunk {
	return t.chunks
}

func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Complete reports whether the idle prompt was seen.
func (t *Turn) Complete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.complete
}

// Err is why an ended turn is incomplete: the session ended or the context
// was cancelled.
func (t *Turn) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Turn) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *Turn) emit(ctx context.Context, c Chunk) bool {
	select {
	case t.chunks <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

func (t *Turn) finish(complete bool, err error) {
	t.mu.Lock()
	t.complete = complete
	t.err = err
	t.mu.Unlock()
	close(t.chunks)
	close(t.done)
}

// StreamingAdapter turns the agent's terminal output into per-turn chunk
// streams by polling the transcript for new text and the idle prompt.
type StreamingAdapter struct {
	host         Host
	interval     time.Duration
	readyTimeout time.Duration
	logger       *slog.Logger
	transform    func(string) string
	ticker       func(time.Duration) (<-chan time.Time, func())

	mu   sync.Mutex
	open *Turn
}

type StreamOption func(*StreamingAdapter)

// WithPollInterval sets the delay between transcript polls. Values <= 0 are
// ignored.
func WithPollInterval(d time.Duration) StreamOption {
	return func(a *StreamingAdapter) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithReadyTimeout bounds how long Send waits for the first idle prompt of a
// fresh session before writing anyway.
func WithReadyTimeout(d time.Duration) StreamOption {
	return func(a *StreamingAdapter) {
		if d > 0 {
			a.readyTimeout = d
		}
	}
}

func WithStreamLogger(logger *slog.Logger) StreamOption {
	return func(a *StreamingAdapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func NewStreamingAdapter(host Host, opts ...StreamOption) *StreamingAdapter {
	a := &StreamingAdapter{
		host:         host,
		interval:     DefaultPollInterval,
		readyTimeout: DefaultReadyTimeout,
		logger:       slog.New(slog.DiscardHandler),
		transform:    EscapeChunk,
		ticker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Send submits message and returns the turn streaming the reply. Only one
// turn may be open at a time; a turn counts as open from the moment Send
// reserves it, including while it waits for the first prompt.
func (a *StreamingAdapter) Send(ctx context.Context, message string) (*Turn, error) {
	sess, turn, err := a.reserve(message)
	if err != nil {
		return nil, err
	}

	if err := a.waitReady(ctx, sess); err != nil {
		turn.finish(false, err)
		return nil, err
	}

	// Clear before writing so no reply byte lands in a buffer about to be
	// wiped.
	a.host.Transcript().Reset()
	if err := a.host.Write(message); err != nil {
		turn.finish(false, err)
		return nil, err
	}

	go a.poll(ctx, sess, turn)
	return turn, nil
}

func (a *StreamingAdapter) reserve(message string) (*Session, *Turn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.open != nil && !a.open.finished() {
		return nil, nil, domain.ErrTurnOpen
	}

	sess := a.host.Session()
	if sess == nil {
		return nil, nil, domain.ErrNotRunning
	}

	turn := newTurn(message)
	a.open = turn
	return sess, turn, nil
}

func (a *StreamingAdapter) waitReady(ctx context.Context, sess *Session) error {
	readyCtx, cancel := context.WithTimeout(ctx, a.readyTimeout)
	defer cancel()

	err := sess.WaitReady(readyCtx)
	if err != nil && ctx.Err() == nil && readyCtx.Err() != nil {
		a.logger.Warn("agent prompt not seen, sending anyway", "timeout", a.readyTimeout)
		return nil
	}
	return err
}

func (a *StreamingAdapter) poll(ctx context.Context, sess *Session, turn *Turn) {
	tick, stop := a.ticker(a.interval)
	defer stop()

	transcript := a.host.Transcript()
	marker := a.host.PromptMarker()

	for {
		select {
		case <-ctx.Done():
			turn.finish(false, ctx.Err())
			return
		case <-tick:
		}

		if a.tick(ctx, turn, transcript, marker) {
			transcript.Reset()
			turn.finish(true, nil)
			return
		}

		if state := sess.State(); state.Terminal() {
			// Output may have landed between the tick and the kill.
			if a.tick(ctx, turn, transcript, marker) {
				transcript.Reset()
				turn.finish(true, nil)
				return
			}
			err := sess.Err()
			if err == nil {
				err = fmt.Errorf("agent session %s: %w", state, domain.ErrNotRunning)
			}
			turn.finish(false, err)
			return
		}
	}
}

// tick emits whatever the transcript gained since the last tick. A failure
// is reported as an error chunk and never stops the loop; the prompt still
// ends the turn even when its chunk could not be rendered.
func (a *StreamingAdapter) tick(ctx context.Context, turn *Turn, transcript *Transcript, marker string) (ended bool) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("stream chunk failed", "panic", r)
			turn.emit(ctx, Chunk{Err: &domain.StreamChunkError{Err: fmt.Errorf("panic: %v", r)}})
		}
	}()

	raw, ended, err := transcript.Next(marker)
	if err != nil {
		a.logger.Warn("stream chunk failed", "error", err)
		turn.emit(ctx, Chunk{Err: &domain.StreamChunkError{Err: err}})
		return false
	}
	if raw == "" {
		return false
	}
	turn.emit(ctx, Chunk{Content: a.transform(raw)})
	return ended
}
