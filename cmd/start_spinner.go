package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/bnema/aider-chat-cli/internal/adapters/render/chat"
	"github.com/bnema/aider-chat-cli/internal/domain"
	"github.com/bnema/aider-chat-cli/internal/driver"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// startingSession is the read-only view of an agent session the spinner
// follows while it starts.
type startingSession interface {
	Model() string
	Candidate() string
	State() domain.SessionState
	Pid() int
	Ready() <-chan struct{}
}

type agentStartDoneMsg struct {
	err error
	// unready is set when start returned before the agent showed its prompt.
	unready bool
}

type agentStartSpinnerModel struct {
	spinner spinner.Model
	model   string
	watch   func() startingSession
	label   string
	start   tea.Cmd
	err     error
	unready bool
	done    bool
}

func newAgentStartSpinnerModel(model string, watch func() startingSession, start tea.Cmd) agentStartSpinnerModel {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("69"))),
	)

	return agentStartSpinnerModel{
		spinner: s,
		model:   model,
		watch:   watch,
		label:   startPhase(model, watch()),
		start:   start,
	}
}

func (m agentStartSpinnerModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.start)
}

func (m agentStartSpinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.label = startPhase(m.model, m.watch())
		return m, cmd
	case agentStartDoneMsg:
		m.done = true
		m.err = msg.err
		m.unready = msg.unready
		return m, tea.Quit
	default:
		return m, nil
	}
}

func (m agentStartSpinnerModel) View() string {
	if m.done {
		return ""
	}

	return fmt.Sprintf("%s %s", m.spinner.View(), m.label)
}

// startPhase names what the agent is doing for model. A session for another
// model is the one being replaced and is ignored.
func startPhase(model string, sess startingSession) string {
	if sess == nil || sess.Model() != model || sess.Candidate() == "" {
		return fmt.Sprintf("Resolving aider for %s...", model)
	}

	switch state := sess.State(); state {
	case domain.SessionStarting, domain.SessionIdle:
		return fmt.Sprintf("Launching %s (%s)...", sess.Candidate(), model)
	case domain.SessionRunning:
		if isReady(sess) {
			return fmt.Sprintf("aider ready (%s)", model)
		}
		return fmt.Sprintf("Waiting for the aider prompt (pid %d)...", sess.Pid())
	default:
		return fmt.Sprintf("aider %s (%s)", state, model)
	}
}

func isReady(sess startingSession) bool {
	select {
	case <-sess.Ready():
		return true
	default:
		return false
	}
}

func watchProvider(p *driver.Provider) func() startingSession {
	return func() startingSession {
		if sess := p.Session(); sess != nil {
			return sess
		}
		return nil
	}
}

// runStartSpinner follows the agent's startup on output until start returns.
// A start that gave up waiting for the prompt is reported as a warning, not
// an error.
func runStartSpinner(ctx context.Context, output io.Writer, model string, watch func() startingSession, start func(context.Context) error) error {
	startCmd := func() tea.Msg {
		if err := start(ctx); err != nil {
			return agentStartDoneMsg{err: err}
		}
		sess := watch()
		return agentStartDoneMsg{unready: sess != nil && !isReady(sess)}
	}

	p := tea.NewProgram(
		newAgentStartSpinnerModel(model, watch, startCmd),
		tea.WithInput(nil),
		tea.WithOutput(output),
		tea.WithContext(ctx),
	)

	finalModel, err := p.Run()
	if err != nil {
		return err
	}

	result, ok := finalModel.(agentStartSpinnerModel)
	if !ok {
		return fmt.Errorf("unexpected final spinner model type %T", finalModel)
	}
	if result.err != nil {
		return result.err
	}
	if result.unready {
		return chat.New(output).Warning("aider did not show its prompt in time, sending anyway")
	}
	return nil
}
