package driver

import (
	"context"
	"errors"
	"sync"

	"github.com/bnema/aider-chat-cli/internal/domain"
)

var errNoMessages = errors.New("no message to send")

// Provider is the chat-streaming face of the driver: it starts the agent on
// demand and forwards the last message of a conversation to it.
type Provider struct {
	supervisor *Supervisor
	stream     *StreamingAdapter

	mu     sync.Mutex
	model  string
	apiKey string
}

func NewProvider(supervisor *Supervisor, stream *StreamingAdapter, model string, apiKey string) *Provider {
	if model == "" {
		model = domain.ModelManaged
	}
	return &Provider{supervisor: supervisor, stream: stream, model: model, apiKey: apiKey}
}

func (p *Provider) Model() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.model
}

// Session is the current agent session, nil before the first start.
func (p *Provider) Session() *Session {
	return p.supervisor.Session()
}

// Start launches the agent for the current model and waits for its first
// prompt. StreamChat starts it on demand as well.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	model, apiKey := p.model, p.apiKey
	p.mu.Unlock()

	if err := p.supervisor.Start(ctx, model, apiKey); err != nil {
		return err
	}
	sess := p.supervisor.Session()
	if sess == nil {
		return domain.ErrNotRunning
	}
	return p.stream.waitReady(ctx, sess)
}

// StreamChat sends the last message and streams the reply as assistant
// messages. The channel closes when the agent shows its prompt again, the
// session ends or ctx is cancelled; the returned Turn tells which.
func (p *Provider) StreamChat(ctx context.Context, messages []domain.ChatMessage) (<-chan domain.ChatMessage, *Turn, error) {
	content, ok := domain.LastUserContent(messages)
	if !ok {
		return nil, nil, errNoMessages
	}

	p.mu.Lock()
	model, apiKey := p.model, p.apiKey
	p.mu.Unlock()

	if err := p.supervisor.Start(ctx, model, apiKey); err != nil {
		return nil, nil, err
	}
	turn, err := p.stream.Send(ctx, content)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan domain.ChatMessage)
	go func() {
		defer close(out)
		for chunk := range turn.Chunks() {
			msg := domain.ChatMessage{Role: domain.RoleAssistant, Content: chunk.Content}
			if chunk.Err != nil {
				msg.Content = "Error: " + chunk.Err.Error()
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, turn, nil
}

// ListModels is the fixed set of models the agent is driven with.
func (p *Provider) ListModels() []string {
	return domain.Models()
}

// SupportsFim is false: the agent only chats.
func (p *Provider) SupportsFim() bool {
	return false
}

// SwitchModel restarts the agent for model.
func (p *Provider) SwitchModel(ctx context.Context, model string, apiKey string) error {
	p.mu.Lock()
	p.model, p.apiKey = model, apiKey
	p.mu.Unlock()
	return p.supervisor.Reset(ctx, model, apiKey)
}

// Interrupt asks the agent to stop the current reply.
func (p *Provider) Interrupt() {
	p.supervisor.Interrupt()
}

// Reset restarts the agent with the current model and clears its history.
func (p *Provider) Reset(ctx context.Context) error {
	p.mu.Lock()
	model, apiKey := p.model, p.apiKey
	p.mu.Unlock()
	return p.supervisor.Reset(ctx, model, apiKey)
}

func (p *Provider) Close(ctx context.Context) error {
	return p.supervisor.Shutdown(ctx)
}
