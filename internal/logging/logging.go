package logging

import (
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var setupOnce sync.Once

// Setup configures the process-wide logrus logger once.
//
// On Cloud Run (K_SERVICE is set by the platform) it emits one JSON
// object per line so Cloud Logging picks up severity and message fields
// automatically. Locally it stays human-readable text.
func Setup() {
	setupOnce.Do(func() {
		if os.Getenv("K_SERVICE") != "" {
			logrus.SetFormatter(&logrus.JSONFormatter{
				FieldMap: logrus.FieldMap{
					logrus.FieldKeyLevel: "severity",
					logrus.FieldKeyMsg:   "message",
				},
			})
		} else {
			logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		}

		level, err := logrus.ParseLevel(strings.ToLower(getenv("LOG_LEVEL", "info")))
		if err != nil {
			level = logrus.InfoLevel
		}
		logrus.SetLevel(level)
		logrus.SetOutput(os.Stdout)
	})
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
