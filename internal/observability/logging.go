package observability

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/usecase/internal/config"
	"github.com/pitabwire/usecase/internal/usecase"
	"github.com/pitabwire/usecase/model"
)

// ServiceName identifies the process in logs and traces.
const ServiceName = "usecased"

type (
	loggerKey     struct{}
	invocationKey struct{}
)

// NewLogger builds the process logger: JSON on stdout, every entry stamped
// with the service name and build version. An unknown level falls back to
// info.
//
// Levels:
//   - error: store failures, panics, 5xx responses
//   - warn:  4xx responses, unavailable use cases
//   - info:  requests, invocations that completed with errors
//   - debug: successful invocations, redacted payloads
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.Sampling = nil
	zapCfg.OutputPaths = []string{"stdout"}
	zapCfg.EncoderConfig.TimeKey = "timestamp"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	zapCfg.InitialFields = map[string]any{
		"service": ServiceName,
		"version": Version,
	}
	return zapCfg.Build()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in the context, or fallback.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// Invocation names the use case and action a request is invoking.
type Invocation struct {
	UseCase string
	Action  string
}

// WithInvocation records the use case a request is invoking, both on the
// context for loggers and spans started later and on the active span.
func WithInvocation(ctx context.Context, name, action string) context.Context {
	if action == "" {
		action = model.DefaultAction
	}
	inv := Invocation{UseCase: name, Action: action}
	trace.SpanFromContext(ctx).SetAttributes(inv.attributes()...)
	return context.WithValue(ctx, invocationKey{}, inv)
}

// InvocationFrom returns the invocation recorded by WithInvocation.
func InvocationFrom(ctx context.Context) (Invocation, bool) {
	inv, ok := ctx.Value(invocationKey{}).(Invocation)
	return inv, ok
}

func (inv Invocation) fields() []zap.Field {
	return []zap.Field{
		zap.String("usecase", inv.UseCase),
		zap.String("action", inv.Action),
	}
}

// RequestLogger returns the context logger (or fallback) enriched with the
// caller's identity, the correlation and trace ids, and the invocation when
// one is recorded.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)

	var fields []zap.Field
	traceID := TraceIDFromContext(ctx)
	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		fields = append(fields,
			zap.String("tenant_id", rctx.TenantID),
			zap.String("subject_id", rctx.SubjectID),
			zap.String("correlation_id", rctx.CorrelationID),
		)
		if rctx.TraceID != "" {
			traceID = rctx.TraceID
		}
	}
	if traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}
	if spanID := SpanIDFromContext(ctx); spanID != "" {
		fields = append(fields, zap.String("span_id", spanID))
	}
	if inv, ok := InvocationFrom(ctx); ok {
		fields = append(fields, inv.fields()...)
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}

// InvocationLogger returns the context logger (or fallback) with the
// recorded invocation added. Request fields are expected to be on the
// stored logger already.
func InvocationLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)
	if inv, ok := InvocationFrom(ctx); ok {
		return logger.With(inv.fields()...)
	}
	return logger
}

// secretFields are replaced outright in logged payloads. "token" covers
// invitation tokens.
var secretFields = map[string]bool{
	"password":      true,
	"secret":        true,
	"token":         true,
	"access_token":  true,
	"refresh_token": true,
	"api_key":       true,
	"authorization": true,
}

const redacted = "[REDACTED]"

// RedactBody returns a copy of body fit for debug logs. Secret fields and
// any names in extra become "[REDACTED]"; email fields keep only their
// first letter and domain. Nested objects and arrays are walked.
func RedactBody(body map[string]any, extra []string) map[string]any {
	if body == nil {
		return nil
	}
	hidden := make(map[string]bool, len(extra))
	for _, f := range extra {
		hidden[f] = true
	}
	return redactMap(body, hidden)
}

func redactMap(body map[string]any, hidden map[string]bool) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		switch {
		case hidden[k] || secretFields[k]:
			out[k] = redacted
		case isEmailField(k):
			if s, ok := v.(string); ok {
				out[k] = MaskEmail(s)
			} else {
				out[k] = redacted
			}
		default:
			out[k] = redactValue(v, hidden)
		}
	}
	return out
}

func redactValue(v any, hidden map[string]bool) any {
	switch t := v.(type) {
	case map[string]any:
		return redactMap(t, hidden)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = redactValue(item, hidden)
		}
		return out
	default:
		return v
	}
}

func isEmailField(name string) bool {
	return name == "email" || strings.HasSuffix(name, "_email")
}

// MaskEmail keeps the first character of the local part and the domain:
// "ada@example.com" becomes "a***@example.com". Anything that is not an
// address is fully redacted.
func MaskEmail(s string) string {
	at := strings.LastIndexByte(s, '@')
	if at < 1 || at == len(s)-1 {
		return redacted
	}
	return s[:1] + "***" + s[at:]
}

func (inv Invocation) attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		usecase.AttrUseCase.String(inv.UseCase),
		usecase.AttrAction.String(inv.Action),
	}
}
