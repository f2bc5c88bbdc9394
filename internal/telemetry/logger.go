package telemetry

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is a thread-safe wrapper around a logrus.Logger, generalized
// from lxd-export's SafeLogger: a run touches it from the main
// sequencer goroutine plus the quiescence poller, the dirty-tracker
// supervisor, and any pacing sleeps that log on timeout, so every
// call goes through one mutex. Unlike the teacher's file-only logger,
// this one also writes to stdout, since §4.7 calls for both a JSON
// artifact and a live human-readable summary.
type Logger struct {
	mu     sync.Mutex
	logger *logrus.Logger
}

// NewLogger creates a Logger that writes structured text lines to
// both stdout and, if logFile is non-empty, to that file.
func NewLogger(logFile string) (*Logger, error) {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetOutput(os.Stdout)

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}

		l.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	return &Logger{logger: l}, nil
}

func (l *Logger) log(level logrus.Level, msg string, fields logrus.Fields) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := l.logger.WithFields(fields)
	switch level {
	case logrus.DebugLevel:
		entry.Debug(msg)
	case logrus.InfoLevel:
		entry.Info(msg)
	case logrus.WarnLevel:
		entry.Warn(msg)
	case logrus.ErrorLevel:
		entry.Error(msg)
	}
}

func (l *Logger) Debug(msg string, fields logrus.Fields) { l.log(logrus.DebugLevel, msg, fields) }
func (l *Logger) Info(msg string, fields logrus.Fields)  { l.log(logrus.InfoLevel, msg, fields) }
func (l *Logger) Warn(msg string, fields logrus.Fields)  { l.log(logrus.WarnLevel, msg, fields) }
func (l *Logger) Error(msg string, fields logrus.Fields) { l.log(logrus.ErrorLevel, msg, fields) }

// Entry returns a logrus.Entry sharing this Logger's underlying
// logger, for handing to collaborators (e.g. internal/remote.Plane)
// that only need read-style structured logging, not the mutex.
func (l *Logger) Entry() *logrus.Entry {
	return logrus.NewEntry(l.logger)
}
