// Package logging provides the shared structured logger.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus with service-wide defaults.
type Logger struct {
	*logrus.Logger
}

// NewLogger creates a JSON logger tagged with the service name. The level is
// taken from LOG_LEVEL (default info).
func NewLogger(serviceName string) *Logger {
	log := logrus.New()

	log.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	log.SetOutput(os.Stdout)

	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	log.AddHook(&serviceHook{service: serviceName})
	return &Logger{Logger: log}
}

// WithUserID scopes an entry to one user.
func (l *Logger) WithUserID(userID string) *logrus.Entry {
	return l.WithField("user_id", userID)
}

// WithJob scopes an entry to one batch job run.
func (l *Logger) WithJob(job string) *logrus.Entry {
	return l.WithField("job", job)
}

type serviceHook struct {
	service string
}

func (h *serviceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *serviceHook) Fire(entry *logrus.Entry) error {
	entry.Data["service"] = h.service
	return nil
}
