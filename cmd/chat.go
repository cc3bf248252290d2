package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"

	"github.com/bnema/aider-chat-cli/internal/adapters/render/chat"
	"github.com/bnema/aider-chat-cli/internal/domain"
	"github.com/bnema/aider-chat-cli/internal/driver"
	"github.com/spf13/cobra"
)

var errTurnFailed = errors.New("reply ended before the agent finished")

func newAskCmd(app *app) *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "ask <message...>",
		Short: "Send one message to aider and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			session, err := startChatSession(ctx, cmd, app, app.modelOrDefault(model))
			if err != nil {
				return withHint(cmd, err)
			}
			defer closeProvider(session.provider, app.logger)

			complete, err := session.send(ctx, nil, strings.Join(args, " "))
			if err != nil {
				return withHint(cmd, err)
			}
			if !complete {
				return errTurnFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "Model to use (default from config)")

	return cmd
}

func newChatCmd(app *app) *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with aider interactively",
		Long: "Chat with aider interactively. Ctrl+C interrupts the current reply, or quits at the prompt.\n" +
			"Commands: /reset restarts the agent, /model <name> switches model, /models lists models, /exit quits.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			session, err := startChatSession(ctx, cmd, app, app.modelOrDefault(model))
			if err != nil {
				return withHint(cmd, err)
			}
			defer closeProvider(session.provider, app.logger)

			return session.repl(ctx, cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "Model to start with (default from config)")

	return cmd
}

type chatSession struct {
	app      *app
	provider *driver.Provider
	render   *chat.Renderer
	status   io.Writer
	history  []domain.ChatMessage
}

func startChatSession(ctx context.Context, cmd *cobra.Command, app *app, model string) (*chatSession, error) {
	provider, err := app.newProvider(ctx, model)
	if err != nil {
		return nil, err
	}

	session := &chatSession{
		app:      app,
		provider: provider,
		render:   chat.New(cmd.OutOrStdout()),
		status:   cmd.ErrOrStderr(),
	}
	if err := runStartSpinner(ctx, session.status, model, watchProvider(provider), provider.Start); err != nil {
		closeProvider(provider, app.logger)
		return nil, err
	}
	return session, nil
}

// send streams one reply to the terminal. A signal on interrupts asks the
// agent to stop the reply instead of ending the session.
func (s *chatSession) send(ctx context.Context, interrupts <-chan os.Signal, content string) (bool, error) {
	s.history = append(s.history, domain.ChatMessage{Role: domain.RoleUser, Content: content})

	messages, turn, err := s.provider.StreamChat(ctx, s.history)
	if err != nil {
		return false, err
	}

	var reply strings.Builder
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				<-turn.Done()
				s.history = append(s.history, domain.ChatMessage{Role: domain.RoleAssistant, Content: chat.DisplayText(reply.String())})
				if err := s.render.EndTurn(turn.Complete(), turn.Err()); err != nil {
					return false, err
				}
				return turn.Complete(), nil
			}
			reply.WriteString(msg.Content)
			if err := s.render.Chunk(msg.Content); err != nil {
				return false, err
			}
		case <-interrupts:
			s.provider.Interrupt()
		}
	}
}

func (s *chatSession) repl(ctx context.Context, in io.Reader) error {
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		if _, err := fmt.Fprint(s.status, s.render.Prompt(s.provider.Model())); err != nil {
			return err
		}

		var line string
		select {
		case <-ctx.Done():
			return nil
		case <-interrupts:
			return nil
		case next, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(next)
		}

		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := s.command(ctx, line)
			if err != nil {
				_ = s.render.Error(err)
			}
			if quit {
				return nil
			}
			continue
		}

		if _, err := s.send(ctx, interrupts, line); err != nil {
			_ = s.render.Error(err)
		}
	}
}

func (s *chatSession) command(ctx context.Context, line string) (bool, error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/exit", "/quit":
		return true, nil
	case "/reset":
		s.history = nil
		if err := s.restart(ctx, s.provider.Model(), s.provider.Reset); err != nil {
			return false, err
		}
		return false, s.render.Info("session reset")
	case "/model":
		if arg == "" {
			return false, s.render.Info("current model: %s", s.provider.Model())
		}
		if !slices.Contains(s.provider.ListModels(), arg) {
			_ = s.render.Warning("%s is not a known model, it is served by the %s family", arg, domain.FamilyFor(arg).Name)
		}
		apiKey, err := s.app.apiKeyFor(ctx, arg)
		if err != nil {
			return false, err
		}
		s.history = nil
		if err := s.restart(ctx, arg, func(ctx context.Context) error { return s.provider.SwitchModel(ctx, arg, apiKey) }); err != nil {
			return false, err
		}
		return false, s.render.Info("switched to %s", arg)
	case "/models":
		return false, s.render.Info("%s", strings.Join(s.provider.ListModels(), ", "))
	default:
		return false, fmt.Errorf("unknown command %s", name)
	}
}

// restart runs a session restart behind the start spinner and waits for the
// new agent's prompt.
func (s *chatSession) restart(ctx context.Context, model string, restart func(context.Context) error) error {
	return runStartSpinner(ctx, s.status, model, watchProvider(s.provider), func(ctx context.Context) error {
		if err := restart(ctx); err != nil {
			return err
		}
		return s.provider.Start(ctx)
	})
}
