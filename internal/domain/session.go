package domain

type SessionState string

const (
	SessionIdle     SessionState = "idle"
	SessionStarting SessionState = "starting"
	SessionRunning  SessionState = "running"
	SessionKilled   SessionState = "killed"
	SessionExited   SessionState = "exited"
	SessionErrored  SessionState = "errored"
)

// Terminal reports whether no process is attached in this state.
func (s SessionState) Terminal() bool {
	switch s {
	case SessionKilled, SessionExited, SessionErrored:
		return true
	default:
		return false
	}
}
