// Package logging builds the process logger from configuration.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kidcode-ai/kidcode/pkg/config"
)

// New creates a logger configured for level, format and output.
// Closing the returned io.Closer flushes a file output; it is a no-op for
// stdout and stderr.
func New(cfg config.LoggingConfig) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
		})
	}

	var closer io.Closer = nopCloser{}
	switch cfg.Output {
	case "stdout":
		logger.SetOutput(os.Stdout)
	case "file":
		if err := os.MkdirAll(filepath.Dir(cfg.File.Path), 0755); err != nil {
			return nil, nil, err
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSize,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAge,
			Compress:   true,
		}
		logger.SetOutput(lj)
		closer = lj
	default:
		// stderr keeps CLI output on stdout clean
		logger.SetOutput(os.Stderr)
	}

	return logger, closer, nil
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
