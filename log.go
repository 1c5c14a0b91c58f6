package dpnetpeer

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Environment variables controlling the optional log sink and tracing
// toggle (spec.md §6.4), mirroring original_source/src/Log.cpp's
// environment-driven sink selection.
const (
	envLogFile = "DPNETPEER_LOG_FILE"
	envTrace   = "DPNETPEER_TRACE"
)

// newLogger builds a *logrus.Logger configured from the environment. It
// is called once per Instance so that tests can exercise several
// instances with independent loggers.
func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)

	if path := os.Getenv(envLogFile); path != "" {
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			l.SetOutput(f)
		} else {
			l.WithError(err).Warn("dpnetpeer: could not open log sink, falling back to stderr")
		}
	}

	if os.Getenv(envTrace) != "" {
		l.SetLevel(logrus.TraceLevel)
	}

	return l
}
