// Package logger is the structured logger shared by the engines, connectors
// and the administrative API. Entries are JSON unless a console is attached.
package logger

import (
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const maxTokenLen = 64

var unsafeToken = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Options describes logger configuration supplied at creation time.
type Options struct {
	Level         string
	HumanReadable bool
	Writer        io.Writer
}

// Logger wraps zerolog. A nil *Logger discards everything.
type Logger struct {
	base zerolog.Logger
}

// New creates a Logger writing to opts.Writer, or stderr when unset.
func New(opts Options) (*Logger, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var out io.Writer = os.Stderr
	if opts.Writer != nil {
		out = opts.Writer
	}
	if opts.HumanReadable {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return &Logger{base: zerolog.New(out).Level(level).With().Timestamp().Logger()}, nil
}

func parseLevel(raw string) (zerolog.Level, error) {
	switch name := strings.ToLower(strings.TrimSpace(raw)); name {
	case "":
		return zerolog.InfoLevel, nil
	case "warning":
		return zerolog.WarnLevel, nil
	default:
		return zerolog.ParseLevel(name)
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{base: zerolog.Nop()}
}

func (l *Logger) derive(ctx zerolog.Context) *Logger {
	return &Logger{base: ctx.Logger()}
}

// WithFields returns a derived logger that always writes the supplied fields.
// Callers must never pass credential material.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	if l == nil {
		return nil
	}
	return l.derive(l.base.With().Fields(fields))
}

// WithConnector tags entries with a connector name reduced to [A-Za-z0-9_-].
func (l *Logger) WithConnector(name string) *Logger {
	if l == nil {
		return nil
	}
	return l.derive(l.base.With().Str("connector", SafeToken(name)))
}

func (l *Logger) Info(msg string) {
	if l != nil {
		l.base.Info().Msg(msg)
	}
}

func (l *Logger) Debug(msg string) {
	if l != nil {
		l.base.Debug().Msg(msg)
	}
}

func (l *Logger) Warn(msg string) {
	if l != nil {
		l.base.Warn().Msg(msg)
	}
}

// Error logs msg at error level; err may be nil.
func (l *Logger) Error(err error, msg string) {
	if l == nil {
		return
	}
	event := l.base.Error()
	if err != nil {
		event = event.Err(err)
	}
	event.Msg(msg)
}

// SafeToken reduces s to at most 64 characters of [A-Za-z0-9_-] so that
// untrusted names can be logged and used as metric labels. An empty result
// becomes "unknown".
func SafeToken(s string) string {
	cleaned := unsafeToken.ReplaceAllString(s, "")
	if len(cleaned) > maxTokenLen {
		cleaned = cleaned[:maxTokenLen]
	}
	if cleaned == "" {
		return "unknown"
	}
	return cleaned
}
