package chat

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bnema/aider-chat-cli/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

var unescaper = strings.NewReplacer(`\\`, `\`, `\$`, `$`)

// Renderer writes a chat session to a terminal.
type Renderer struct {
	out    io.Writer
	styles styles
}

func New(out io.Writer) *Renderer {
	return &Renderer{out: out, styles: newStyles()}
}

// Prompt is the input prompt shown before each user message.
func (r *Renderer) Prompt(model string) string {
	return r.styles.model.Render(model) + " " + r.styles.prompt.Render(">") + " "
}

// Chunk prints a piece of the assistant reply as the agent wrote it: the
// transport escaping is undone and the agent's own prompt is dropped.
func (r *Renderer) Chunk(content string) error {
	_, err := io.WriteString(r.out, DisplayText(content))
	return err
}

// EndTurn closes a reply. Incomplete replies get a faint note.
func (r *Renderer) EndTurn(complete bool, err error) error {
	if complete {
		_, werr := fmt.Fprintln(r.out)
		return werr
	}
	if err != nil {
		return r.Error(err)
	}
	_, werr := fmt.Fprintln(r.out, "\n"+r.styles.faint.Render("(reply interrupted)"))
	return werr
}

func (r *Renderer) Info(format string, args ...any) error {
	_, err := fmt.Fprintln(r.out, r.styles.info.Render(fmt.Sprintf(format, args...)))
	return err
}

func (r *Renderer) Warning(format string, args ...any) error {
	_, err := fmt.Fprintln(r.out, r.styles.warning.Render(fmt.Sprintf(format, args...)))
	return err
}

// Error prints err followed by the hint the user can act on, if any.
func (r *Renderer) Error(err error) error {
	lines := []string{r.styles.err.Render("error: " + err.Error())}
	if hint := domain.Hint(err); hint != "" {
		lines = append(lines, r.styles.hint.Render(hint))
	}
	_, werr := fmt.Fprintln(r.out, lipgloss.JoinVertical(lipgloss.Left, lines...))
	return werr
}

// Field is one key/value row of a status listing.
type Field struct {
	Key   string
	Value string
}

// Fields prints aligned key/value rows under a bold title.
func (r *Renderer) Fields(title string, fields []Field) error {
	width := 0
	for _, f := range fields {
		width = max(width, len(f.Key))
	}

	lines := []string{lipgloss.NewStyle().Bold(true).Render(title)}
	for _, f := range fields {
		key := r.styles.key.Render(fmt.Sprintf("%-*s", width+1, f.Key+":"))
		lines = append(lines, "  "+key+" "+r.styles.value.Render(f.Value))
	}
	_, err := fmt.Fprintln(r.out, strings.Join(lines, "\n"))
	return err
}

// DisplayText undoes chunk escaping and strips a trailing agent prompt.
func DisplayText(content string) string {
	content = unescaper.Replace(content)
	for _, marker := range []string{"\r\n> ", "\n> "} {
		if strings.HasSuffix(content, marker) {
			return strings.TrimSuffix(content, marker)
		}
	}
	return content
}

// Expiry describes when a token expires relative to now.
func Expiry(expiresAt, now time.Time) string {
	if expiresAt.IsZero() {
		return "unknown"
	}
	if !expiresAt.After(now) {
		return fmt.Sprintf("expired %s ago (%s)", humanDuration(now.Sub(expiresAt)), expiresAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("in %s (%s)", humanDuration(expiresAt.Sub(now)), expiresAt.Format(time.RFC3339))
}

func humanDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "less than a minute"
	case d < time.Hour:
		return plural(int(d/time.Minute), "minute")
	case d < 48*time.Hour:
		return plural(int(d/time.Hour), "hour")
	default:
		return plural(int(d/(24*time.Hour)), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
