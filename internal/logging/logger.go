// Package logging adapts the hierarchical, "Fork"-able Logger shape used
// throughout the teacher codebase (see the wstunnel project's
// share/logger.go) onto github.com/rs/zerolog instead of a raw
// log.Logger, so every component gets structured, leveled output with a
// component prefix baked into a child logger's fields.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Logger is the logging contract used by every component in this module.
// Fork derives a child logger that tags its output with an additional
// prefix, mirroring a call chain (Engine -> Multiplexer -> Channel).
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{}) error
	Fork(prefix string, args ...interface{}) Logger
	Prefix() string
}

type zeroLogger struct {
	z      zerolog.Logger
	prefix string
}

// New returns the root Logger. If debug is true, debug-level output is
// enabled; otherwise info and above are emitted.
func New(debug bool) Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	var w io.Writer = os.Stderr
	if isatty.IsTerminal(os.Stderr.Fd()) {
		w = zerolog.ConsoleWriter{Out: colorable.NewColorableStderr(), TimeFormat: time.Kitchen}
	}
	z := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &zeroLogger{z: z}
}

func (l *zeroLogger) Debugf(format string, args ...interface{}) {
	l.z.Debug().Msg(l.format(format, args...))
}

func (l *zeroLogger) Infof(format string, args ...interface{}) {
	l.z.Info().Msg(l.format(format, args...))
}

func (l *zeroLogger) Warnf(format string, args ...interface{}) {
	l.z.Warn().Msg(l.format(format, args...))
}

func (l *zeroLogger) Errorf(format string, args ...interface{}) error {
	msg := l.format(format, args...)
	l.z.Error().Msg(msg)
	return fmt.Errorf("%s", msg)
}

func (l *zeroLogger) Fork(prefix string, args ...interface{}) Logger {
	p := fmt.Sprintf(prefix, args...)
	full := p
	if l.prefix != "" {
		full = l.prefix + "/" + p
	}
	return &zeroLogger{z: l.z.With().Str("component", full).Logger(), prefix: full}
}

func (l *zeroLogger) Prefix() string { return l.prefix }

func (l *zeroLogger) format(format string, args ...interface{}) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

// Nop returns a Logger that discards all output, useful in tests.
func Nop() Logger {
	return &zeroLogger{z: zerolog.Nop()}
}
