// Package logging configures the process-wide logger and hands out
// component-scoped entries.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var root = newRoot()

func newRoot() *logrus.Logger {
	l := logrus.New()
	// Logs go to stderr; stdout is reserved for command output (dump,
	// diff) and the MCP stdio transport.
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// NewLogger returns an entry scoped to a component name. Components log
// through the shared root, so level and output configuration apply
// process-wide.
func NewLogger(component string) *logrus.Entry {
	return root.WithField("component", component)
}

// SetLevel adjusts the root logger level. Unknown level names keep the
// current level.
func SetLevel(level string) {
	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		root.WithField("level", level).Warn("Unknown log level, keeping current")
		return
	}
	root.SetLevel(parsed)
}

// SetOutput redirects all log output. Tests use this to silence or
// capture logs.
func SetOutput(w io.Writer) {
	root.SetOutput(w)
}
