package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "delivery-tracker"

type ctxKey int

const (
	correlationIDKey ctxKey = iota
	workspaceIDKey
)

// contextFields maps each request-scoped context value to its log field.
var contextFields = []struct {
	key   ctxKey
	field string
}{
	{correlationIDKey, "correlationId"},
	{workspaceIDKey, "workspaceId"},
}

// NewLogger builds the JSON production logger. An empty level means info.
func NewLogger(level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if s := strings.ToLower(strings.TrimSpace(level)); s != "" {
		if err := lvl.UnmarshalText([]byte(s)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.InitialFields = map[string]any{"service": serviceName}

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return withValue(ctx, correlationIDKey, correlationID)
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	return valueFrom(ctx, correlationIDKey)
}

// WithWorkspaceID tags ctx with the tracking workspace a request operates on.
func WithWorkspaceID(ctx context.Context, workspaceID string) context.Context {
	return withValue(ctx, workspaceIDKey, workspaceID)
}

func WorkspaceIDFromContext(ctx context.Context) (string, bool) {
	return valueFrom(ctx, workspaceIDKey)
}

// WithContextLogger returns logger annotated with whatever request-scoped
// identifiers ctx carries.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	var fields []zap.Field
	for _, cf := range contextFields {
		if v, ok := valueFrom(ctx, cf.key); ok {
			fields = append(fields, zap.String(cf.field, v))
		}
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}

func withValue(ctx context.Context, key ctxKey, value string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, value)
}

func valueFrom(ctx context.Context, key ctxKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(key).(string)
	return v, ok && v != ""
}
