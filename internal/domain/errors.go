package domain

import (
	"errors"
	"fmt"
)

var (
	ErrResolution     = errors.New("aider command not found")
	ErrAuth           = errors.New("not authenticated")
	ErrSpawn          = errors.New("spawn agent process")
	ErrNotRunning     = errors.New("agent process is not running")
	ErrTurnOpen       = errors.New("a chat turn is already open")
	ErrSecretNotFound = errors.New("secret not found")
)

const (
	SignInURL   = "https://trypear.ai/signin?callback=pearai://pearai.pearai/auth"
	InstallHint = "install aider with `python -m pip install aider-chat` and make sure it is on your PATH"
	SupportHint = "the agent failed to start; check the logs and run `ac resolve`"
)

// UnexpectedExitError reports a child that exited with a non-zero status
// before anyone asked it to stop. Code is -1 when the child was killed by a
// signal.
type UnexpectedExitError struct {
	Code int
	Err  error
}

func (e *UnexpectedExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent process exited with code %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("agent process exited with code %d", e.Code)
}

func (e *UnexpectedExitError) Unwrap() error { return e.Err }

// StreamChunkError is a failure confined to a single poll tick. It is
// reported inline in the stream and never ends the turn.
type StreamChunkError struct {
	Err error
}

func (e *StreamChunkError) Error() string {
	return "stream chunk: " + e.Err.Error()
}

func (e *StreamChunkError) Unwrap() error { return e.Err }

// Hint returns the actionable message shown to the user for a fatal driver
// error, or "" when the error carries no guidance.
func Hint(err error) string {
	var exitErr *UnexpectedExitError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrResolution):
		return InstallHint
	case errors.Is(err, ErrAuth):
		return "sign in again: " + SignInURL
	case errors.Is(err, ErrSpawn), errors.As(err, &exitErr):
		return SupportHint
	default:
		return ""
	}
}
