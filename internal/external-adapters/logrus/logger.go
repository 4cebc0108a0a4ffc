// Package logrus adapts sirupsen/logrus to the domain Logger interface.
package logrus

import (
	"fmt"
	"io"

	"github.com/ochairo/sorepair/internal/domain/interfaces"
	"github.com/sirupsen/logrus"
)

// Logger implements interfaces.Logger on top of a logrus logger
type Logger struct {
	entry *logrus.Entry
}

var _ interfaces.Logger = (*Logger)(nil)

// NewLogger creates a text logger writing to out at the named level
// ("debug", "info", "warn", "error").
func NewLogger(out io.Writer, level string) (*Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp:       true,
		DisableLevelTruncation: true,
	})
	return &Logger{entry: logrus.NewEntry(l)}, nil
}

// With returns a logger that adds fields to every entry
func (l *Logger) With(fields ...interfaces.Field) *Logger {
	return &Logger{entry: l.entry.WithFields(toFields(fields))}
}

// Debug logs debug-level messages
func (l *Logger) Debug(msg string, fields ...interfaces.Field) {
	l.entry.WithFields(toFields(fields)).Debug(msg)
}

// Info logs informational messages
func (l *Logger) Info(msg string, fields ...interfaces.Field) {
	l.entry.WithFields(toFields(fields)).Info(msg)
}

// Warn logs warning messages
func (l *Logger) Warn(msg string, fields ...interfaces.Field) {
	l.entry.WithFields(toFields(fields)).Warn(msg)
}

// Error logs error messages
func (l *Logger) Error(msg string, fields ...interfaces.Field) {
	l.entry.WithFields(toFields(fields)).Error(msg)
}

func toFields(fields []interfaces.Field) logrus.Fields {
	out := make(logrus.Fields, len(fields))
	for _, f := range fields {
		out[f.Key] = f.Value
	}
	return out
}
