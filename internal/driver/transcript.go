package driver

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/charmbracelet/x/ansi"
)

// partialSequence matches a chunk tail that may still grow into an escape
// sequence: a lone ESC, ESC plus intermediates (charset selection), an
// unterminated CSI, or an unterminated string sequence (OSC, DCS, APC, PM,
// SOS).
var partialSequence = regexp.MustCompile(`^\x1b(?:\[[0-?]*[ -/]*|[\]P_^X][^\x07\x1b]*\x1b?|[ -/]+)?$`)

// maxHeldSequence bounds how many trailing bytes are held back while waiting
// for the rest of a split escape sequence.
const maxHeldSequence = 256

// Normalize strips terminal escape sequences from s. C0 controls such as \r
// and \n are kept, so the prompt marker survives.
func Normalize(s string) string {
	return ansi.Strip(s)
}

// normalizer strips escape sequences from a byte stream whose chunk
// boundaries may fall inside a sequence.
type normalizer struct {
	held string
}

func (n *normalizer) feed(p []byte) string {
	data := n.held + string(p)
	n.held = ""

	if i := strings.LastIndexByte(data, '\x1b'); i >= 0 && len(data)-i <= maxHeldSequence {
		if tail := data[i:]; partialSequence.MatchString(tail) {
			n.held = tail
			data = data[:i]
		}
	}
	return Normalize(data)
}

// Transcript is the cleaned output of the current session plus a cursor
// marking how much of it has been handed to the open turn. The stdout copier
// is its only writer and the poll loop its only reader.
type Transcript struct {
	mu     sync.Mutex
	buf    strings.Builder
	cursor int
}

func (t *Transcript) Append(s string) {
	if s == "" {
		return
	}
	t.mu.Lock()
	t.buf.WriteString(s)
	t.mu.Unlock()
}

// Next returns the text appended since the previous call and advances the
// cursor to the end of the buffer. ended reports whether the buffer, up to
// the new cursor, finishes with marker.
func (t *Transcript) Next(marker string) (chunk string, ended bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	text := t.buf.String()
	if t.cursor > len(text) {
		cursor := t.cursor
		t.cursor = len(text)
		return "", false, fmt.Errorf("transcript cursor %d past buffer end %d", cursor, len(text))
	}

	chunk = text[t.cursor:]
	t.cursor = len(text)
	return chunk, marker != "" && strings.HasSuffix(text, marker), nil
}

// EndsWith reports whether the whole buffer finishes with marker.
func (t *Transcript) EndsWith(marker string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return marker != "" && strings.HasSuffix(t.buf.String(), marker)
}

// Reset empties the buffer and rewinds the cursor.
func (t *Transcript) Reset() {
	t.mu.Lock()
	t.buf.Reset()
	t.cursor = 0
	t.mu.Unlock()
}

func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.Len()
}

func (t *Transcript) Cursor() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursor
}

func (t *Transcript) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
