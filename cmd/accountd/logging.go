package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/accountd/api"
	"github.com/opd-ai/accountd/config"
)

// debugLog is the --log-to-file sink. It lives inside the account
// directory, so it is reopened whenever that directory is recreated.
type debugLog struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func openDebugLog(path string) (*debugLog, error) {
	l := &debugLog{path: path}
	if err := l.Reopen(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *debugLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return len(p), nil
	}
	return l.f.Write(p)
}

// Reopen closes the current file and opens path again, creating its
// directory if needed. A nil or disabled log ignores the call.
func (l *debugLog) Reopen() error {
	if l == nil || l.path == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f != nil {
		_ = l.f.Close()
		l.f = nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("open debug log: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open debug log: %w", err)
	}
	l.f = f
	return nil
}

func (l *debugLog) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// setupLogging configures the standard logrus logger. With --log-to-file the
// output is also appended to the debug log. The returned log is disabled
// otherwise, and is never nil on success.
func setupLogging(cfg config.Config, paths config.Paths) (*debugLog, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logrus.SetLevel(level)

	switch cfg.LogFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if !cfg.LogToFile {
		logrus.SetOutput(os.Stderr)
		return &debugLog{}, nil
	}

	l, err := openDebugLog(paths.DebugLog)
	if err != nil {
		return nil, err
	}
	logrus.SetOutput(io.MultiWriter(os.Stderr, l))

	logrus.WithFields(logrus.Fields{
		"function": "setupLogging",
		"path":     paths.DebugLog,
	}).Debug("Logging to file")
	return l, nil
}

// resetObserver forwards manager events to the metrics and reopens the debug
// log after the account directory is recreated.
type resetObserver struct {
	*api.Metrics
	log *debugLog
}

func (o resetObserver) AccountReset() {
	if err := o.log.Reopen(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "AccountReset",
			"error":    err.Error(),
		}).Warn("Failed to reopen debug log")
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": "AccountReset",
		"path":     o.log.path,
	}).Debug("Debug log reopened")
}
