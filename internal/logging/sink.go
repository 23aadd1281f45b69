package logging

import (
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions configures the rotated JSON log file
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type sinkConfig struct {
	json bool
	file *FileOptions
	core zapcore.Core
}

// Option customizes the output sink
type Option func(*sinkConfig)

// WithJSON switches the console output to JSON lines
func WithJSON() Option {
	return func(c *sinkConfig) { c.json = true }
}

// WithFile tees every entry into a rotated JSON file
func WithFile(opts FileOptions) Option {
	return func(c *sinkConfig) { c.file = &opts }
}

// WithCore replaces the console output with core
func WithCore(core zapcore.Core) Option {
	return func(c *sinkConfig) { c.core = core }
}

var (
	sinkMu sync.RWMutex
	sink   = buildCore(sinkConfig{})
)

// Configure rebuilds the output sink. Level filtering stays with Logger;
// the sink accepts every level it receives.
func Configure(opts ...Option) {
	cfg := sinkConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	core := buildCore(cfg)

	sinkMu.Lock()
	prev := sink
	sink = core
	sinkMu.Unlock()
	_ = prev.Sync()
}

// Sync flushes buffered entries
func Sync() error {
	sinkMu.RLock()
	defer sinkMu.RUnlock()
	return sink.Sync()
}

func buildCore(cfg sinkConfig) zapcore.Core {
	var cores []zapcore.Core

	if cfg.core != nil {
		cores = append(cores, cfg.core)
	} else {
		var enc zapcore.Encoder
		if cfg.json {
			enc = zapcore.NewJSONEncoder(encoderConfig())
		} else {
			enc = zapcore.NewConsoleEncoder(encoderConfig())
		}
		belowError := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l < zapcore.ErrorLevel })
		errorAndUp := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= zapcore.ErrorLevel })
		cores = append(cores,
			zapcore.NewCore(enc, zapcore.Lock(os.Stdout), belowError),
			zapcore.NewCore(enc.Clone(), zapcore.Lock(os.Stderr), errorAndUp),
		)
	}

	if cfg.file != nil && cfg.file.Path != "" {
		writer := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.file.Path,
			MaxSize:    cfg.file.MaxSizeMB,
			MaxBackups: cfg.file.MaxBackups,
			MaxAge:     cfg.file.MaxAgeDays,
			Compress:   true,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), writer, zapcore.DebugLevel))
	}

	return zapcore.NewTee(cores...)
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.MessageKey = "msg"
	cfg.NameKey = "logger"
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(formatTimestamp(t))
	}
	return cfg
}

// formatTimestamp renders t, or the LOG_TIMESTAMP override when set
func formatTimestamp(t time.Time) string {
	if override := os.Getenv("LOG_TIMESTAMP"); override != "" {
		return override
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func zapLevel(level LogLevel) zapcore.Level {
	switch level {
	case DEBUG:
		return zapcore.DebugLevel
	case INFO:
		return zapcore.InfoLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.FatalLevel
	}
}

// emit writes one entry straight to the core so zap never triggers its own
// exit or panic hooks
func emit(level LogLevel, name, msg string, fields map[string]interface{}) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	zfields := make([]zapcore.Field, 0, len(keys))
	for _, k := range keys {
		v := fields[k]
		if err, ok := v.(error); ok {
			zfields = append(zfields, zap.String(k, err.Error()))
			continue
		}
		zfields = append(zfields, zap.Any(k, v))
	}

	entry := zapcore.Entry{
		Level:      zapLevel(level),
		Time:       time.Now(),
		LoggerName: name,
		Message:    msg,
	}

	sinkMu.RLock()
	core := sink
	sinkMu.RUnlock()

	if ce := core.Check(entry, nil); ce != nil {
		ce.Write(zfields...)
	}
}
