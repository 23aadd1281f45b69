// Package logging provides structured, leveled logging for kubeaudit.
//
// Components obtain a named logger once and log with printf-style messages
// or structured fields:
//
//	logger := logging.GetLogger("rules")
//	logger.Info("evaluating %d rules", len(rules))
//	logger.WarnWithFields("rule failed",
//	    logging.Field("rule", id),
//	    logging.Field("error", err),
//	)
//
// Levels can be overridden per package, with "pkg.*" wildcards:
//
//	logging.Initialize("info", map[string]string{"rules.*": "debug"})
//
// Output goes through a zap core. By default DEBUG/INFO/WARN are written to
// stdout and ERROR/FATAL to stderr using a console encoder; Configure adds a
// rotated JSON log file or replaces the core entirely (tests use
// zaptest/observer).
//
// Logger values are immutable. WithField, WithFields and WithContext return
// new loggers and are safe to use across goroutines.
package logging

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

var (
	globalLevel = INFO
	levelMu     sync.RWMutex
	// exitFunc is called by Fatal. Tests override it.
	exitFunc = os.Exit
)

// LogField is a structured logging field
type LogField struct {
	Key   string
	Value interface{}
}

// Field creates a structured logging field
func Field(key string, value interface{}) LogField {
	return LogField{Key: key, Value: value}
}

// Logger provides structured logging throughout the application
type Logger struct {
	level  LogLevel
	name   string
	fields map[string]interface{}
	ctx    context.Context
}

// Initialize sets the default level and optional per-package overrides.
// An unknown default level falls back to INFO.
func Initialize(levelStr string, packageLevels ...map[string]string) error {
	level, err := parseLevel(levelStr)
	if err != nil {
		level = INFO
	}

	levelMu.Lock()
	globalLevel = level
	levelMu.Unlock()

	if len(packageLevels) > 0 && packageLevels[0] != nil {
		if err := SetPackageLogLevels(packageLevels[0]); err != nil {
			return err
		}
	}
	return nil
}

// GetLogger returns a logger with the specified name
func GetLogger(name string) *Logger {
	levelMu.RLock()
	defer levelMu.RUnlock()
	return &Logger{
		level:  globalLevel,
		name:   name,
		fields: make(map[string]interface{}),
	}
}

// Name returns the logger name
func (l *Logger) Name() string {
	return l.name
}

func (l *Logger) shouldLog(level LogLevel) bool {
	if pkgLevel := GetPackageLogLevel(l.name); pkgLevel >= 0 {
		return level >= pkgLevel
	}
	return level >= l.level
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...interface{}) {
	if l.shouldLog(DEBUG) {
		l.logf(DEBUG, msg, args...)
	}
}

// Info logs an info message
func (l *Logger) Info(msg string, args ...interface{}) {
	if l.shouldLog(INFO) {
		l.logf(INFO, msg, args...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...interface{}) {
	if l.shouldLog(WARN) {
		l.logf(WARN, msg, args...)
	}
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...interface{}) {
	if l.shouldLog(ERROR) {
		l.logf(ERROR, msg, args...)
	}
}

// ErrorWithErr logs an error message followed by err
func (l *Logger) ErrorWithErr(msg string, err error, args ...interface{}) {
	if l.shouldLog(ERROR) {
		args = append(args, err)
		l.logf(ERROR, msg+" - %v", args...)
	}
}

// Fatal logs a fatal message and exits the program with code 1
func (l *Logger) Fatal(msg string, args ...interface{}) {
	if l.shouldLog(FATAL) {
		l.logf(FATAL, msg, args...)
		exitFunc(1)
	}
}

// DebugWithFields logs a debug message with structured fields
func (l *Logger) DebugWithFields(msg string, fields ...LogField) {
	if l.shouldLog(DEBUG) {
		l.write(DEBUG, msg, fields)
	}
}

// InfoWithFields logs an info message with structured fields
func (l *Logger) InfoWithFields(msg string, fields ...LogField) {
	if l.shouldLog(INFO) {
		l.write(INFO, msg, fields)
	}
}

// WarnWithFields logs a warning message with structured fields
func (l *Logger) WarnWithFields(msg string, fields ...LogField) {
	if l.shouldLog(WARN) {
		l.write(WARN, msg, fields)
	}
}

// ErrorWithFields logs an error message with structured fields
func (l *Logger) ErrorWithFields(msg string, fields ...LogField) {
	if l.shouldLog(ERROR) {
		l.write(ERROR, msg, fields)
	}
}

// WithName returns a new logger with a different name and no fields
func (l *Logger) WithName(name string) *Logger {
	return &Logger{
		level:  l.level,
		name:   name,
		fields: make(map[string]interface{}),
		ctx:    l.ctx,
	}
}

// WithField returns a new logger carrying an additional persistent field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(Field(key, value))
}

// WithFields returns a new logger carrying additional persistent fields
func (l *Logger) WithFields(fields ...LogField) *Logger {
	next := &Logger{
		level:  l.level,
		name:   l.name,
		fields: make(map[string]interface{}, len(l.fields)+len(fields)),
		ctx:    l.ctx,
	}
	for k, v := range l.fields {
		next.fields[k] = v
	}
	for _, f := range fields {
		next.fields[f.Key] = f.Value
	}
	return next
}

// WithContext returns a new logger that adds trace_id and span_id from ctx
// to every message
func (l *Logger) WithContext(ctx context.Context) *Logger {
	next := l.WithFields()
	next.ctx = ctx
	return next
}

func (l *Logger) logf(level LogLevel, msg string, args ...interface{}) {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	l.write(level, msg, nil)
}

// write merges context, persistent and call fields (last wins) and hands the
// entry to the sink
func (l *Logger) write(level LogLevel, msg string, fields []LogField) {
	merged := make(map[string]interface{}, len(l.fields)+len(fields)+2)
	for k, v := range extractContextFields(l.ctx) {
		merged[k] = v
	}
	for k, v := range l.fields {
		merged[k] = v
	}
	for _, f := range fields {
		merged[f.Key] = f.Value
	}
	emit(level, l.name, strings.TrimRight(msg, "\n"), merged)
}
