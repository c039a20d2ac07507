package logging

import (
	"context"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	sugar  *zap.SugaredLogger
	direct *zap.SugaredLogger
	once   sync.Once
	mu    sync.RWMutex
)

// Logger is the canonical structured logging interface used by the project.
// Keep it small and focused on key/value structured events.
type Logger interface {
	Infow(msg string, keysAndValues ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Fatalw(msg string, keysAndValues ...interface{})
	Sync() error
}

// noopLogger does nothing. It is the default so logging calls are safe
// before Init is invoked (tests, library use).
type noopLogger struct{}

func (n noopLogger) Infow(msg string, keysAndValues ...interface{})  {}
func (n noopLogger) Debugw(msg string, keysAndValues ...interface{}) {}
func (n noopLogger) Warnw(msg string, keysAndValues ...interface{})  {}
func (n noopLogger) Errorw(msg string, keysAndValues ...interface{}) {}
func (n noopLogger) Fatalw(msg string, keysAndValues ...interface{}) {}
func (n noopLogger) Sync() error                                     { return nil }

var current Logger = noopLogger{}

// Init initializes the global sugared logger based on LOG_LEVEL and
// redirects the standard library logger into zap. Callers must invoke this
// in main() to enable structured logging. It's safe to call multiple times.
// The returned logger is for direct use; the package-level helpers log
// through a copy that skips their own frame.
func Init() *zap.SugaredLogger {
	once.Do(func() {
		level := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
		cfg := zap.Config{
			Encoding:         "json",
			EncoderConfig:    zap.NewProductionEncoderConfig(),
			OutputPaths:      []string{"stdout"},
			ErrorOutputPaths: []string{"stderr"},
		}
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.CallerKey = "caller"
		lvl := zap.InfoLevel
		switch level {
		case "debug":
			lvl = zap.DebugLevel
		case "warn":
			lvl = zap.WarnLevel
		case "error":
			lvl = zap.ErrorLevel
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)

		logger, err := cfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
		if err != nil {
			logger = zap.NewNop()
		}
		_ = zap.RedirectStdLog(logger)
		direct, sugar = split(logger)
		SetLogger(sugar)
	})
	return direct
}

// split returns a logger for direct calls and one for the package helpers.
func split(logger *zap.Logger) (*zap.SugaredLogger, *zap.SugaredLogger) {
	return logger.Sugar(), logger.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

// Sugar returns the logger for direct use (nil if Init not called).
func Sugar() *zap.SugaredLogger { return direct }

// SetLogger replaces the package-level logger. Pass nil to reset to the
// sugared logger initialized by Init() (if any). Useful for tests.
func SetLogger(l Logger) {
	mu.Lock()
	defer mu.Unlock()
	switch {
	case l != nil:
		current = l
	case sugar != nil:
		current = sugar
	default:
		current = noopLogger{}
	}
}

// GetLogger returns the current Logger.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

func Infow(msg string, keysAndValues ...interface{})  { GetLogger().Infow(msg, keysAndValues...) }
func Debugw(msg string, keysAndValues ...interface{}) { GetLogger().Debugw(msg, keysAndValues...) }
func Warnw(msg string, keysAndValues ...interface{})  { GetLogger().Warnw(msg, keysAndValues...) }
func Errorw(msg string, keysAndValues ...interface{}) { GetLogger().Errorw(msg, keysAndValues...) }

// FatalExitf logs a fatal message and exits the process with code 1. Tests
// can replace the logger via SetLogger to avoid process exit during test runs.
func FatalExitf(msg string, keysAndValues ...interface{}) {
	GetLogger().Fatalw(msg, keysAndValues...)
	os.Exit(1)
}

// Sync flushes any buffered logs.
func Sync() error { return GetLogger().Sync() }

type ctxKeyType struct{}

// WithFields returns a context containing the provided key/value pairs. If
// the context already contains fields they are appended (preserving order).
func WithFields(ctx context.Context, kv ...interface{}) context.Context {
	if len(kv) == 0 {
		return ctx
	}
	prev, _ := ctx.Value(ctxKeyType{}).([]interface{})
	merged := make([]interface{}, 0, len(prev)+len(kv))
	merged = append(merged, prev...)
	merged = append(merged, kv...)
	return context.WithValue(ctx, ctxKeyType{}, merged)
}

// FromContext returns any fields previously attached with WithFields.
func FromContext(ctx context.Context) []interface{} {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxKeyType{}).([]interface{}); ok {
		return v
	}
	return nil
}

func merge(ctx context.Context, kv []interface{}) []interface{} {
	ctxFields := FromContext(ctx)
	if len(ctxFields) == 0 {
		return kv
	}
	merged := make([]interface{}, 0, len(ctxFields)+len(kv))
	merged = append(merged, ctxFields...)
	merged = append(merged, kv...)
	return merged
}

// InfowCtx merges fields from ctx and the provided kv and emits a structured
// log entry via the current logger.
func InfowCtx(ctx context.Context, msg string, kv ...interface{}) {
	GetLogger().Infow(msg, merge(ctx, kv)...)
}

func DebugwCtx(ctx context.Context, msg string, kv ...interface{}) {
	GetLogger().Debugw(msg, merge(ctx, kv)...)
}

func WarnwCtx(ctx context.Context, msg string, kv ...interface{}) {
	GetLogger().Warnw(msg, merge(ctx, kv)...)
}

func ErrorwCtx(ctx context.Context, msg string, kv ...interface{}) {
	GetLogger().Errorw(msg, merge(ctx, kv)...)
}

// ClientFields returns the canonical fields identifying a caller. Use
// dot-separated keys to make queries easier in downstream log tooling.
func ClientFields(key string) []interface{} {
	return []interface{}{"client.key", key}
}

// AudioFields describes a normalized clip: its declared format, the rate it
// was delivered at, and its length.
func AudioFields(format string, sampleRate int, samples int) []interface{} {
	durationMs := 0
	if sampleRate > 0 {
		durationMs = samples * 1000 / sampleRate
	}
	return []interface{}{"audio.format", format, "audio.sample_rate", sampleRate, "audio.samples", samples, "audio.duration_ms", durationMs}
}
