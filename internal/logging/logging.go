package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var Log = newLogger(os.Stderr)

func newLogger(out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(logrus.WarnLevel)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})
	return l
}

// SetLevel changes the level of the shared logger. Trace and panic levels
// are not used.
func SetLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug":
		Log.SetLevel(logrus.DebugLevel)
	case "info":
		Log.SetLevel(logrus.InfoLevel)
	case "warning", "warn":
		Log.SetLevel(logrus.WarnLevel)
	case "error":
		Log.SetLevel(logrus.ErrorLevel)
	case "fatal":
		Log.SetLevel(logrus.FatalLevel)
	default:
		return fmt.Errorf("bad log level %q: use debug, info, warn, error or fatal", level)
	}
	return nil
}

// SetOutput redirects the shared logger.
func SetOutput(out io.Writer) {
	Log.SetOutput(out)
}

// Component returns an entry tagged with the emitting component.
func Component(name string) *logrus.Entry {
	return Log.WithField("component", name)
}

// LeveledLogger adapts an entry to the key/value logger interface used by
// retrying HTTP clients.
type LeveledLogger struct {
	Entry *logrus.Entry
}

func (l LeveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Error(msg)
}

func (l LeveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Info(msg)
}

func (l LeveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Debug(msg)
}

func (l LeveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Warn(msg)
}

func (l LeveledLogger) with(keysAndValues []interface{}) *logrus.Entry {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		fields[key] = keysAndValues[i+1]
	}
	return l.Entry.WithFields(fields)
}
