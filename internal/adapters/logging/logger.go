package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
)

var (
	isService         = runningAsService
	newJournalHandler = func(opts *slogjournal.Options) (slog.Handler, error) {
		return slogjournal.NewHandler(opts)
	}
)

type Options struct {
	// Writer receives text output. Defaults to os.Stderr.
	Writer io.Writer
	Level  string
	// Journal adds a systemd journal sink when the journal socket is
	// reachable.
	Journal bool
}

// New builds the process logger. The returned LevelVar lets commands raise
// verbosity after construction.
func New(opts Options) (*slog.Logger, *slog.LevelVar, error) {
	level := new(slog.LevelVar)
	parsed, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	level.Set(parsed)

	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}

	var handlers []slog.Handler
	newText := func() slog.Handler {
		return slog.NewTextHandler(writer, &slog.HandlerOptions{Level: level})
	}

	// Under a systemd unit stderr already ends up in the journal.
	var textHandler slog.Handler
	if !opts.Journal || !isService() {
		textHandler = newText()
		handlers = append(handlers, textHandler)
	}

	if opts.Journal {
		journalHandler, err := newJournalHandler(&slogjournal.Options{
			ReplaceGroup: func(key string) string {
				return journalKey(key)
			},
			ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
				a.Key = journalKey(a.Key)
				return a
			},
		})
		if err == nil {
			handlers = append(handlers, journalHandler)
		} else {
			if textHandler == nil {
				textHandler = newText()
				handlers = append(handlers, textHandler)
			}
			record := slog.NewRecord(time.Now(), slog.LevelWarn, "systemd journal unavailable", 0)
			record.Add("error", err)
			_ = textHandler.Handle(context.Background(), record)
		}
	}

	return slog.New(&leveled{Handler: slogmulti.Fanout(handlers...), level: level}), level, nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// leveled applies one level to every sink behind the fanout.
type leveled struct {
	slog.Handler
	level slog.Leveler
}

func (h *leveled) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= h.level.Level() && h.Handler.Enabled(ctx, l)
}

func (h *leveled) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &leveled{Handler: h.Handler.WithAttrs(attrs), level: h.level}
}

func (h *leveled) WithGroup(name string) slog.Handler {
	return &leveled{Handler: h.Handler.WithGroup(name), level: h.level}
}

func journalKey(key string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, strings.ToUpper(key))
}

func runningAsService() bool {
	content, err := os.ReadFile("/proc/self/cgroup")
	if err != nil {
		return false
	}
	parts := strings.SplitN(strings.TrimSpace(string(content)), ":", 3)
	return len(parts) == 3 && strings.HasSuffix(path.Dir(parts[2]), ".service")
}
