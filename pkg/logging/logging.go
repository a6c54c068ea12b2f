package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the logging interface used throughout llava-runner. It is
// satisfied by *logrus.Logger and *logrus.Entry, so components can be handed
// either a root logger or one scoped with fields.
type Logger interface {
	logrus.FieldLogger
	Writer() *io.PipeWriter
}

// NullLogger is a logger that discards all output. It is primarily useful in
// tests.
func NullLogger() Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
