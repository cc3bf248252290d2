package domain

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ChatMessage struct {
	Role    Role
	Content string
}

// LastUserContent returns the content of the final message, which is the only
// one forwarded to the agent; the agent keeps its own history.
func LastUserContent(messages []ChatMessage) (string, bool) {
	if len(messages) == 0 {
		return "", false
	}
	return messages[len(messages)-1].Content, true
}
