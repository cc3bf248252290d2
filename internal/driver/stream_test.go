package driver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bnema/aider-chat-cli/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	session    *Session
	transcript *Transcript

	mu       sync.Mutex
	writes   []string
	writeErr error
}

func newFakeHost() *fakeHost {
	sess := newSession(domain.ModelManaged)
	sess.state = domain.SessionRunning
	sess.markReady()
	return &fakeHost{session: sess, transcript: &Transcript{}}
}

func (h *fakeHost) Session() *Session       { return h.session }
func (h *fakeHost) Transcript() *Transcript { return h.transcript }
func (h *fakeHost) PromptMarker() string    { return "\n> " }

func (h *fakeHost) Write(text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.writeErr != nil {
		return h.writeErr
	}
	h.writes = append(h.writes, FlattenInput(text))
	return nil
}

// manualAdapter polls only when the test sends on the returned channel.
func manualAdapter(host Host, opts ...StreamOption) (*StreamingAdapter, chan<- time.Time) {
	ticks := make(chan time.Time)
	a := NewStreamingAdapter(host, opts...)
	a.ticker = func(time.Duration) (<-chan time.Time, func()) {
		return ticks, func() {}
	}
	return a, ticks
}

func nextChunk(t *testing.T, turn *Turn) Chunk {
	t.Helper()
	select {
	case c, ok := <-turn.Chunks():
		require.True(t, ok, "chunk channel closed early")
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for chunk")
		return Chunk{}
	}
}

func waitTurn(t *testing.T, turn *Turn) {
	t.Helper()
	select {
	case <-turn.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for turn to end")
	}
}

func TestStreamEmitsEachChunkAndCompletesOnPrompt(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	adapter, ticks := manualAdapter(host)

	turn, err := adapter.Send(context.Background(), "fix this bug")
	require.NoError(t, err)
	assert.Equal(t, []string{"fix this bug\n"}, host.writes)

	for _, part := range []string{"Hello", " world", "\n> "} {
		host.transcript.Append(part)
		ticks <- time.Now()
		assert.Equal(t, Chunk{Content: part}, nextChunk(t, turn))
	}

	waitTurn(t, turn)
	_, open := <-turn.Chunks()
	assert.False(t, open, "exactly three chunks")
	assert.True(t, turn.Complete())
	assert.NoError(t, turn.Err())
	assert.Equal(t, 0, host.transcript.Len())
	assert.Equal(t, 0, host.transcript.Cursor())
}

func TestStreamSkipsEmptyTicks(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	adapter, ticks := manualAdapter(host)
	turn, err := adapter.Send(context.Background(), "hi")
	require.NoError(t, err)

	ticks <- time.Now()
	ticks <- time.Now()
	host.transcript.Append("hey\n> ")
	ticks <- time.Now()

	assert.Equal(t, "hey\n> ", nextChunk(t, turn).Content)
	waitTurn(t, turn)
	assert.True(t, turn.Complete())
}

func TestStreamEscapesTemplateCharacters(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	adapter, ticks := manualAdapter(host)
	turn, err := adapter.Send(context.Background(), "price?")
	require.NoError(t, err)

	host.transcript.Append(`costs $5 in C:\tmp`)
	ticks <- time.Now()
	assert.Equal(t, `costs \$5 in C:\\tmp`, nextChunk(t, turn).Content)
}

func TestEscapeChunk(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: EndOfResponse},
		{in: "plain", want: "plain"},
		{in: "$HOME", want: `\$HOME`},
		{in: `a\b`, want: `a\\b`},
		{in: `\$`, want: `\\\$`},
		{in: "line\n> ", want: "line\n> "},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, EscapeChunk(tc.in), tc.in)
	}
}

func TestStreamRejectsSecondOpenTurn(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	adapter, ticks := manualAdapter(host)

	turn, err := adapter.Send(context.Background(), "first")
	require.NoError(t, err)

	_, err = adapter.Send(context.Background(), "second")
	require.ErrorIs(t, err, domain.ErrTurnOpen)
	assert.Len(t, host.writes, 1)

	host.transcript.Append("ok\n> ")
	ticks <- time.Now()
	nextChunk(t, turn)
	waitTurn(t, turn)

	_, err = adapter.Send(context.Background(), "third")
	require.NoError(t, err)
}

func TestStreamEndsIncompleteWhenKilled(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	adapter, ticks := manualAdapter(host)
	turn, err := adapter.Send(context.Background(), "long task")
	require.NoError(t, err)

	host.transcript.Append("partial")
	require.True(t, host.session.kill(discardLogger()))
	ticks <- time.Now()

	assert.Equal(t, "partial", nextChunk(t, turn).Content)
	waitTurn(t, turn)
	assert.False(t, turn.Complete())
	assert.ErrorIs(t, turn.Err(), domain.ErrNotRunning)
}

func TestStreamEndsWithExitError(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	adapter, ticks := manualAdapter(host)
	turn, err := adapter.Send(context.Background(), "crash")
	require.NoError(t, err)

	host.session.fail(&domain.UnexpectedExitError{Code: 3})
	ticks <- time.Now()
	waitTurn(t, turn)

	var exitErr *domain.UnexpectedExitError
	require.ErrorAs(t, turn.Err(), &exitErr)
	assert.Equal(t, 3, exitErr.Code)
}

func TestStreamReportsTickFailuresInline(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	adapter, ticks := manualAdapter(host)
	adapter.transform = func(s string) string {
		if s == "boom" {
			panic("bad chunk")
		}
		return EscapeChunk(s)
	}

	turn, err := adapter.Send(context.Background(), "go")
	require.NoError(t, err)

	host.transcript.Append("boom")
	ticks <- time.Now()
	failed := nextChunk(t, turn)
	var chunkErr *domain.StreamChunkError
	require.ErrorAs(t, failed.Err, &chunkErr)
	assert.ErrorContains(t, failed.Err, "bad chunk")

	host.transcript.mu.Lock()
	host.transcript.cursor = 100
	host.transcript.mu.Unlock()
	ticks <- time.Now()
	assert.ErrorContains(t, nextChunk(t, turn).Err, "past buffer end")

	host.transcript.Append("\n> ")
	ticks <- time.Now()
	assert.Equal(t, "\n> ", nextChunk(t, turn).Content)
	waitTurn(t, turn)
	assert.True(t, turn.Complete())
}

func TestStreamStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	adapter, _ := manualAdapter(host)
	ctx, cancel := context.WithCancel(context.Background())

	turn, err := adapter.Send(ctx, "slow")
	require.NoError(t, err)
	cancel()

	waitTurn(t, turn)
	assert.False(t, turn.Complete())
	assert.ErrorIs(t, turn.Err(), context.Canceled)
}

func TestStreamSendFailures(t *testing.T) {
	t.Parallel()

	t.Run("no session", func(t *testing.T) {
		t.Parallel()
		host := newFakeHost()
		host.session = nil
		_, err := NewStreamingAdapter(host).Send(context.Background(), "hi")
		assert.ErrorIs(t, err, domain.ErrNotRunning)
	})

	t.Run("write fails", func(t *testing.T) {
		t.Parallel()
		host := newFakeHost()
		host.writeErr = domain.ErrNotRunning
		_, err := NewStreamingAdapter(host).Send(context.Background(), "hi")
		assert.ErrorIs(t, err, domain.ErrNotRunning)
	})

	t.Run("session ends before prompt", func(t *testing.T) {
		t.Parallel()
		host := newFakeHost()
		host.session = newSession(domain.ModelManaged)
		host.session.fail(errors.New("spawn failed"))
		_, err := NewStreamingAdapter(host).Send(context.Background(), "hi")
		assert.ErrorContains(t, err, "spawn failed")
	})
}

func TestStreamSendsAfterReadyTimeout(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	host.session = newSession(domain.ModelManaged)
	host.session.state = domain.SessionRunning

	adapter, _ := manualAdapter(host, WithReadyTimeout(10*time.Millisecond))
	_, err := adapter.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, []string{"hi\n"}, host.writes)
}

func TestStreamWaitsForPrompt(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	host.session = newSession(domain.ModelManaged)
	host.session.state = domain.SessionRunning
	host.transcript.Append("banner")

	go func() {
		time.Sleep(20 * time.Millisecond)
		host.session.markReady()
	}()

	adapter, _ := manualAdapter(host)
	_, err := adapter.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, 0, host.transcript.Len(), "startup banner is cleared before the first turn")
}

func TestStreamRejectsSendWhileWaitingForPrompt(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	host.session = newSession(domain.ModelManaged)
	host.session.state = domain.SessionRunning

	adapter, _ := manualAdapter(host)
	first := make(chan error, 1)
	go func() {
		_, err := adapter.Send(context.Background(), "first")
		first <- err
	}()

	require.Eventually(t, func() bool {
		adapter.mu.Lock()
		defer adapter.mu.Unlock()
		return adapter.open != nil
	}, 5*time.Second, 5*time.Millisecond)

	_, err := adapter.Send(context.Background(), "second")
	require.ErrorIs(t, err, domain.ErrTurnOpen)

	host.session.markReady()
	select {
	case err := <-first:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("first send never returned")
	}

	host.mu.Lock()
	defer host.mu.Unlock()
	assert.Equal(t, []string{"first\n"}, host.writes)
}

func TestStreamReleasesTurnWhenSendFails(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	host.writeErr = domain.ErrNotRunning
	adapter, _ := manualAdapter(host)

	_, err := adapter.Send(context.Background(), "hi")
	require.ErrorIs(t, err, domain.ErrNotRunning)

	host.mu.Lock()
	host.writeErr = nil
	host.mu.Unlock()
	_, err = adapter.Send(context.Background(), "again")
	require.NoError(t, err)
}
