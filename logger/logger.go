// Package logger provides the structured logging facade used across
// every control-plane component.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the shared logrus instance. Components that need extra
// context should call WithFields rather than formatting it into the
// message string.
var Logger = logrus.New()

func init() {
	Logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	Logger.SetOutput(os.Stdout)
	Logger.SetLevel(logrus.InfoLevel)
}

// SetLevel parses a level name (case-insensitive) and applies it,
// falling back to Info on an unrecognized value.
func SetLevel(name string) {
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Logger.SetLevel(lvl)
}

// Fields is an alias so callers don't need to import logrus directly.
type Fields = logrus.Fields

// WithFields returns a log entry carrying structured context, e.g.
// logger.WithFields(logger.Fields{"server_id": id, "pool": pool}).Info("scored")
func WithFields(fields Fields) *logrus.Entry {
	return Logger.WithFields(fields)
}

func Info(args ...interface{})                  { Logger.Info(args...) }
func Infof(format string, args ...interface{})  { Logger.Infof(format, args...) }
func Warn(args ...interface{})                   { Logger.Warn(args...) }
func Warnf(format string, args ...interface{})  { Logger.Warnf(format, args...) }
func Error(args ...interface{})                  { Logger.Error(args...) }
func Errorf(format string, args ...interface{}) { Logger.Errorf(format, args...) }
func Debug(args ...interface{})                  { Logger.Debug(args...) }
func Debugf(format string, args ...interface{}) { Logger.Debugf(format, args...) }
