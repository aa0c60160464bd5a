package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Init configures the global logrus logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text formatter.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	logrus.SetOutput(os.Stdout)
	if env == "production" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		logrus.SetLevel(logrus.InfoLevel)
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		logrus.SetLevel(logrus.DebugLevel)
	}

	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		if parsed, err := logrus.ParseLevel(lvl); err == nil {
			logrus.SetLevel(parsed)
		}
	}
}

// WithProject returns a logger with project context fields attached.
// Use this for all logging inside a preview build or ledger commit.
func WithProject(projectID string) *logrus.Entry {
	return logrus.WithField("project_id", projectID)
}

// WithSession returns a logger scoped to a specific session of a project.
func WithSession(logger *logrus.Entry, sessionID string) *logrus.Entry {
	return logger.WithField("session_id", sessionID)
}
