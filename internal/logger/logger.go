// Package logger provides the dual console/file sink used for the
// human-facing "raw backend and envelope logging" the CLI's --verbose flag
// turns on, plus a log/slog-based structured logger (slog.go) for
// machine-parseable diagnostics such as tool-call timing.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	instance *Logger
	once     sync.Once
)

// Logger handles dual logging to console and an optional file.
type Logger struct {
	infoLogger  *log.Logger
	errorLogger *log.Logger
	logFile     *os.File
	mu          sync.Mutex
}

// Init initializes the global logger instance, writing to both stdout/
// stderr and a dated file under logDir.
func Init(logDir string) error {
	var initErr error
	once.Do(func() {
		instance, initErr = newLogger(logDir)
	})
	return initErr
}

// InitConsole initializes a console-only logger (no file), the path used by
// cmd/happy for --verbose: raw backend traffic and emitted envelopes are
// logged to stdout, nothing is persisted. When verbose is false, Info is a
// no-op but Error still surfaces so startup failures are never silent.
func InitConsole(verbose bool) {
	once.Do(func() {
		instance = &Logger{
			infoLogger:  log.New(consoleWriter{enabled: verbose, w: os.Stdout}, "", log.LstdFlags),
			errorLogger: log.New(os.Stderr, "ERROR: ", log.LstdFlags),
		}
	})
}

type consoleWriter struct {
	enabled bool
	w       io.Writer
}

func (c consoleWriter) Write(p []byte) (int, error) {
	if !c.enabled {
		return len(p), nil
	}
	return c.w.Write(p)
}

// newLogger creates a new logger that writes to both console and file.
func newLogger(logDir string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFileName := fmt.Sprintf("happy-acp-%s.log", time.Now().Format("2006-01-02"))
	logFilePath := filepath.Join(logDir, logFileName)

	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	infoWriter := io.MultiWriter(os.Stdout, logFile)
	errorWriter := io.MultiWriter(os.Stderr, logFile)

	return &Logger{
		infoLogger:  log.New(infoWriter, "", log.LstdFlags),
		errorLogger: log.New(errorWriter, "ERROR: ", log.LstdFlags),
		logFile:     logFile,
	}, nil
}

// Close closes the log file, if any.
func Close() error {
	if instance != nil && instance.logFile != nil {
		return instance.logFile.Close()
	}
	return nil
}

// Info logs an informational message.
func Info(format string, v ...interface{}) {
	if instance != nil {
		instance.mu.Lock()
		defer instance.mu.Unlock()
		instance.infoLogger.Printf(format, v...)
	}
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	if instance != nil {
		instance.mu.Lock()
		defer instance.mu.Unlock()
		instance.errorLogger.Printf(format, v...)
		return
	}
	log.Printf("ERROR: "+format, v...)
}

// Println logs a simple message.
func Println(v ...interface{}) {
	if instance != nil {
		instance.mu.Lock()
		defer instance.mu.Unlock()
		instance.infoLogger.Println(v...)
	}
}

// Printf logs a formatted message.
func Printf(format string, v ...interface{}) {
	if instance != nil {
		instance.mu.Lock()
		defer instance.mu.Unlock()
		instance.infoLogger.Printf(format, v...)
	}
}
