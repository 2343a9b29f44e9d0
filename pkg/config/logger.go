package config

import (
	log "github.com/sirupsen/logrus"
)

// SetupLogger applies the configured level and format to the standard logrus
// logger. An unknown level falls back to info.
func SetupLogger(s LogSettings) {
	level, err := log.ParseLevel(s.Level)
	if err != nil {
		log.WithField("level", s.Level).Warn("> unknown log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if s.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
		return
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}
