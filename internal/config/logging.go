package config

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// SetupLogging configures the global logrus logger based on args
// Returns the log file handle (caller must close it) or nil if no file
func SetupLogging(args Args) (*os.File, error) {
	var writers []io.Writer
	var logFile *os.File

	if args.Log != "" {
		f, err := os.OpenFile(args.Log, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		logFile = f
		writers = append(writers, f)
	}
	// Stdout carries the report, so diagnostics always go to stderr.
	writers = append(writers, os.Stderr)

	var output io.Writer
	if len(writers) == 1 {
		output = writers[0]
	} else {
		output = io.MultiWriter(writers...)
	}
	log.SetOutput(output)

	level := parseLogLevel(args.LogLevel)
	if args.Verbose {
		level = log.DebugLevel
	}
	log.SetLevel(level)
	log.SetReportCaller(level >= log.DebugLevel)

	if args.Json {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	return logFile, nil
}

// parseLogLevel converts string to a logrus level
func parseLogLevel(level string) log.Level {
	switch level {
	case "debug":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
