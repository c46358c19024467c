// Package logging configures the structured logger for the application.
package logging

import (
	"io"

	logrus "github.com/sirupsen/logrus"
)

// Setup configures formatting and severity for the global logger. An
// unrecognized level falls back to info rather than failing startup.
func Setup(level string, out io.Writer) {
	logrus.SetOutput(out)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)
}
