// Package logging provides simple leveled logging for msgbus, wrapping the
// standard library's log.Logger rather than pulling in a structured-logging
// dependency nothing else in this module needs.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Logger wraps a stdlib *log.Logger with level filtering. It implements
// bus.Logger.
type Logger struct {
	logger *log.Logger
	level  Level
	mu     sync.Mutex
}

// Level is a logging verbosity threshold.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config configures a Logger.
type Config struct {
	Level  Level
	Output io.Writer
}

// DefaultConfig returns {LevelInfo, os.Stderr}.
func DefaultConfig() *Config {
	return &Config{Level: LevelInfo, Output: os.Stderr}
}

// New returns a Logger built from config, or DefaultConfig() if nil.
func New(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	return &Logger{
		logger: log.New(output, "", log.LstdFlags),
		level:  config.Level,
	}
}

var (
	defaultLogger *Logger
	defaultMu     sync.RWMutex
)

// Default returns the package default logger, creating it on first use.
func Default() *Logger {
	defaultMu.RLock()
	if defaultLogger != nil {
		defer defaultMu.RUnlock()
		return defaultLogger
	}
	defaultMu.RUnlock()

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(nil)
	}
	return defaultLogger
}

// SetDefault replaces the package default logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

func (l *Logger) log(level Level, prefix, format string, args ...any) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger.Printf("%s %s", prefix, fmt.Sprintf(format, args...))
}

// Debugf logs at debug level.
func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, "[DEBUG]", format, args...) }

// Infof logs at info level.
func (l *Logger) Infof(format string, args ...any) { l.log(LevelInfo, "[INFO]", format, args...) }

// Warnf logs at warn level.
func (l *Logger) Warnf(format string, args ...any) { l.log(LevelWarn, "[WARN]", format, args...) }

// Errorf logs at error level.
func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, "[ERROR]", format, args...) }
