// Package logging wires up structured logging for the runtime, grounded
// on the teacher's log.GetLogger (log/log.go): each New call builds a
// logrus logger whose level is controlled by an environment variable
// read once at package init.
package logging

import (
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
)

var debug bool

func init() {
	v, err := strconv.ParseBool(os.Getenv("STREAMGRAPH_DEBUG"))
	if err == nil {
		debug = v
	}
}

// New returns a logger instance. Level is debug when STREAMGRAPH_DEBUG
// is truthy, info otherwise.
func New() *logrus.Logger {
	l := logrus.New()
	if debug {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

// ForComponent returns a field-tagged entry identifying the component
// emitting the log, so parent/element logs can be correlated by name. A
// nil log defaults to New(), so callers (and tests) may pass nil rather
// than construct a logger they never otherwise need.
func ForComponent(log logrus.FieldLogger, kind, name string) *logrus.Entry {
	if log == nil {
		log = New()
	}
	return log.WithFields(logrus.Fields{
		"component": kind,
		"name":      name,
	})
}
