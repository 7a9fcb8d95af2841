package log

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey int

const scanIDKey contextKey = iota

// WithScanID stores the scan id so every operation logged under ctx carries it.
func WithScanID(ctx context.Context, scanID string) context.Context {
	return context.WithValue(ctx, scanIDKey, scanID)
}

func ScanIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(scanIDKey).(string); ok {
		return v
	}
	return ""
}

// StructuredLogger logs operations as a start/step/outcome sequence with
// consistent fields. Each component owns one, named after the component.
type StructuredLogger struct {
	name   string
	logger *zap.SugaredLogger
}

// NewDebugLogger logs steps at debug level and outcomes at info/error level.
func NewDebugLogger(name string) *StructuredLogger {
	return &StructuredLogger{name: name}
}

func (l *StructuredLogger) sugar() *zap.SugaredLogger {
	if l.logger != nil {
		return l.logger
	}
	// resolved lazily so loggers created before zap.ReplaceGlobals still
	// write to the configured sink
	return zap.S().Named(l.name)
}

func (l *StructuredLogger) WithContext(ctx context.Context) *StructuredLogger {
	s := l.sugar()
	if scanID := ScanIDFromContext(ctx); scanID != "" {
		s = s.With("scan_id", scanID)
	}
	return &StructuredLogger{name: l.name, logger: s}
}

func (l *StructuredLogger) Operation(name string) *OperationBuilder {
	return &OperationBuilder{logger: l.sugar(), operation: name}
}

type OperationBuilder struct {
	logger    *zap.SugaredLogger
	operation string
	fields    []any
}

func (b *OperationBuilder) WithString(key, value string) *OperationBuilder {
	b.fields = append(b.fields, key, value)
	return b
}

func (b *OperationBuilder) WithInt(key string, value int) *OperationBuilder {
	b.fields = append(b.fields, key, value)
	return b
}

func (b *OperationBuilder) WithUUID(key string, value uuid.UUID) *OperationBuilder {
	b.fields = append(b.fields, key, value.String())
	return b
}

func (b *OperationBuilder) WithParam(key string, value any) *OperationBuilder {
	b.fields = append(b.fields, key, value)
	return b
}

func (b *OperationBuilder) Build() *OperationTracer {
	fields := append([]any{"operation", b.operation}, b.fields...)
	t := &OperationTracer{logger: b.logger.With(fields...), start: time.Now()}
	t.logger.Debug("operation started")
	return t
}

// OperationTracer carries the operation fields across its steps.
type OperationTracer struct {
	logger *zap.SugaredLogger
	start  time.Time
}

func (t *OperationTracer) Step(name string) *Event {
	return &Event{tracer: t, level: zapcore.DebugLevel, msg: "operation step", fields: []any{"step", name}}
}

func (t *OperationTracer) Success() *Event {
	return &Event{tracer: t, level: zapcore.InfoLevel, msg: "operation succeeded"}
}

func (t *OperationTracer) Error(err error) *Event {
	return &Event{tracer: t, level: zapcore.ErrorLevel, msg: "operation failed", fields: []any{"error", err}}
}

func (t *OperationTracer) Warn(msg string) *Event {
	return &Event{tracer: t, level: zapcore.WarnLevel, msg: msg}
}

// Event is a single log line of an operation. Nothing is written until Log.
type Event struct {
	tracer *OperationTracer
	level  zapcore.Level
	msg    string
	fields []any
}

func (e *Event) WithString(key, value string) *Event {
	e.fields = append(e.fields, key, value)
	return e
}

func (e *Event) WithInt(key string, value int) *Event {
	e.fields = append(e.fields, key, value)
	return e
}

func (e *Event) WithBool(key string, value bool) *Event {
	e.fields = append(e.fields, key, value)
	return e
}

func (e *Event) WithParam(key string, value any) *Event {
	e.fields = append(e.fields, key, value)
	return e
}

func (e *Event) Log() {
	fields := append(e.fields, "duration", time.Since(e.tracer.start))
	switch e.level {
	case zapcore.DebugLevel:
		e.tracer.logger.Debugw(e.msg, fields...)
	case zapcore.WarnLevel:
		e.tracer.logger.Warnw(e.msg, fields...)
	case zapcore.ErrorLevel:
		e.tracer.logger.Errorw(e.msg, fields...)
	default:
		e.tracer.logger.Infow(e.msg, fields...)
	}
}
