// Package logging wraps the standard logger in the engine's
// "[LEVEL]\tmessage" convention, adding terminal color when the output
// is attached to one.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/mitchellh/colorstring"
	"golang.org/x/term"
)

// Level is a logging severity.
type Level int

const (
	Info Level = iota
	Warn
	Error
)

func (l Level) tag() string {
	switch l {
	case Warn:
		return "[WARN]"
	case Error:
		return "[ERROR]"
	default:
		return "[INFO]"
	}
}

func (l Level) color() string {
	switch l {
	case Warn:
		return "yellow"
	case Error:
		return "red"
	default:
		return "green"
	}
}

// Logger is a small leveled logger over a single io.Writer.
type Logger struct {
	out      io.Writer
	colorize bool
	std      *log.Logger
}

// New builds a Logger writing to out. Color is enabled only when out is
// an *os.File attached to a terminal, matching how the teacher's CLI
// avoids escape codes when output is redirected to a file.
func New(out io.Writer) *Logger {
	colorize := false
	if f, ok := out.(*os.File); ok {
		colorize = term.IsTerminal(int(f.Fd()))
	}
	return &Logger{out: out, colorize: colorize, std: log.New(out, "", log.LstdFlags)}
}

// Default is a Logger writing to stderr.
func Default() *Logger { return New(os.Stderr) }

func (l *Logger) log(level Level, conn string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if conn != "" {
		msg = fmt.Sprintf("[conn=%s] %s", conn, msg)
	}
	line := fmt.Sprintf("%s\t%s", level.tag(), msg)
	if l.colorize {
		line = colorstring.Color(fmt.Sprintf("[%s]%s", level.color(), line))
	}
	l.std.Print(line)
}

// Info, Warn, and Error log at their respective level with no
// connection tag.
func (l *Logger) Info(format string, args ...any)  { l.log(Info, "", format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.log(Warn, "", format, args...) }
func (l *Logger) Error(format string, args ...any) { l.log(Error, "", format, args...) }

// WithConn returns a logger whose lines are tagged with the given
// connection id (e.g. a per-connection UUID from the server dispatcher).
func (l *Logger) WithConn(id string) *ConnLogger {
	return &ConnLogger{logger: l, conn: id}
}

// ConnLogger tags every line with a fixed connection id.
type ConnLogger struct {
	logger *Logger
	conn   string
}

func (c *ConnLogger) Info(format string, args ...any)  { c.logger.log(Info, c.conn, format, args...) }
func (c *ConnLogger) Warn(format string, args ...any)  { c.logger.log(Warn, c.conn, format, args...) }
func (c *ConnLogger) Error(format string, args ...any) { c.logger.log(Error, c.conn, format, args...) }
