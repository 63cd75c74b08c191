// Package logging adapts logrus to the auth.Logger interface.
package logging

import (
	"io"
	"strings"

	auth "github.com/goliatone/go-authcore"
	"github.com/sirupsen/logrus"
)

const (
	FormatJSON = "json"
	FormatText = "text"
)

// Logrus satisfies auth.Logger on top of a logrus entry
type Logrus struct {
	entry *logrus.Entry
}

var _ auth.Logger = (*Logrus)(nil)

// New builds a logger writing to out. Unknown levels fall back to info
// and unknown formats to text.
func New(out io.Writer, level, format string) *Logrus {
	logger := logrus.New()
	if out != nil {
		logger.SetOutput(out)
	}

	if strings.EqualFold(format, FormatJSON) {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	return &Logrus{entry: logrus.NewEntry(logger)}
}

// FromLogrus wraps an existing logger
func FromLogrus(logger *logrus.Logger) *Logrus {
	return &Logrus{entry: logrus.NewEntry(logger)}
}

// With returns a child logger carrying the extra field
func (l *Logrus) With(key string, value any) *Logrus {
	return &Logrus{entry: l.entry.WithField(key, value)}
}

// Component tags every line with the component name
func (l *Logrus) Component(name string) *Logrus {
	return l.With("component", name)
}

func (l *Logrus) Entry() *logrus.Entry {
	return l.entry
}

func (l *Logrus) Debug(format string, args ...any) {
	l.entry.Debugf(format, args...)
}

func (l *Logrus) Info(format string, args ...any) {
	l.entry.Infof(format, args...)
}

func (l *Logrus) Warn(format string, args ...any) {
	l.entry.Warnf(format, args...)
}

func (l *Logrus) Error(format string, args ...any) {
	l.entry.Errorf(format, args...)
}
