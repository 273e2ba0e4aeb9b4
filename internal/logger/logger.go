package logger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging surface used across the service.
type Logger interface {
	Debugf(ctx context.Context, format string, args ...interface{})
	Infof(ctx context.Context, format string, args ...interface{})
	Warnf(ctx context.Context, format string, args ...interface{})
	Errorf(ctx context.Context, format string, args ...interface{})
	Sync() error
}

type ctxKey int

const (
	keyDeliveryID ctxKey = iota
	keyJobType
	keyObjectKey
	keyAttempt
)

// WithDeliveryID tags ctx with the sender-assigned delivery id.
func WithDeliveryID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyDeliveryID, id)
}

// WithJob tags ctx with the job type and attempt number.
func WithJob(ctx context.Context, jobType string, attempt int) context.Context {
	ctx = context.WithValue(ctx, keyJobType, jobType)
	return context.WithValue(ctx, keyAttempt, attempt)
}

// WithObjectKey tags ctx with the idempotency object key being processed.
func WithObjectKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, keyObjectKey, key)
}

// ZapLogger is the zap-backed Logger.
type ZapLogger struct {
	logger *zap.Logger
}

// NewZapLogger builds a JSON logger writing to stdout at the given level.
func NewZapLogger(level string) (Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &ZapLogger{logger: l}, nil
}

// NewNop returns a Logger that discards everything.
func NewNop() Logger {
	return &ZapLogger{logger: zap.NewNop()}
}

// FromZap wraps an existing zap logger (tests use zaptest/observer).
func FromZap(l *zap.Logger) Logger {
	return &ZapLogger{logger: l}
}

func (l *ZapLogger) extractFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 4)
	if v, ok := ctx.Value(keyDeliveryID).(string); ok && v != "" {
		fields = append(fields, zap.String("delivery_id", v))
	}
	if v, ok := ctx.Value(keyJobType).(string); ok && v != "" {
		fields = append(fields, zap.String("job_type", v))
	}
	if v, ok := ctx.Value(keyAttempt).(int); ok {
		fields = append(fields, zap.Int("attempt", v))
	}
	if v, ok := ctx.Value(keyObjectKey).(string); ok && v != "" {
		fields = append(fields, zap.String("object_key", v))
	}
	return fields
}

func (l *ZapLogger) Debugf(ctx context.Context, format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), l.extractFields(ctx)...)
}

func (l *ZapLogger) Infof(ctx context.Context, format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...), l.extractFields(ctx)...)
}

func (l *ZapLogger) Warnf(ctx context.Context, format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...), l.extractFields(ctx)...)
}

func (l *ZapLogger) Errorf(ctx context.Context, format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), l.extractFields(ctx)...)
}

// Sync flushes buffered entries.
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}
