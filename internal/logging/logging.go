// Package logging configures the process-wide logger. Setup is an explicit
// call made once at startup rather than an import side effect, so tests can
// reconfigure it freely.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

const levelEnv = "LOG_LEVEL"

// Setup initializes logrus from the LOG_LEVEL environment variable.
// Unset or unparseable values fall back to info.
func Setup() {
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logrus.SetLevel(resolveLevel(os.Getenv(levelEnv)))
}

func resolveLevel(raw string) logrus.Level {
	if raw == "" {
		return logrus.InfoLevel
	}
	level, err := logrus.ParseLevel(raw)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
