package log

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gradebook/records-api/pkg/requestid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// StructuredLogger emits operation scoped debug logs. Every line carries the
// operation name, the request id found in the context and the parameters
// given when the operation was built.
type StructuredLogger struct {
	name string
	ctx  context.Context
}

func NewDebugLogger(name string) *StructuredLogger {
	return &StructuredLogger{name: name, ctx: context.Background()}
}

func (l *StructuredLogger) WithContext(ctx context.Context) *StructuredLogger {
	return &StructuredLogger{name: l.name, ctx: ctx}
}

func (l *StructuredLogger) Operation(op string) *OperationBuilder {
	fields := []zap.Field{zap.String("operation", op)}
	if id := requestid.FromContext(l.ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	return &OperationBuilder{
		fieldSet: fieldSet{fields: fields},
		logger:   zap.L().Named(l.name),
		op:       op,
	}
}

// fieldSet is shared by every builder below.
type fieldSet struct {
	fields []zap.Field
}

func (f *fieldSet) add(field zap.Field) {
	f.fields = append(f.fields, field)
}

type OperationBuilder struct {
	fieldSet
	logger *zap.Logger
	op     string
}

func (b *OperationBuilder) WithString(key, value string) *OperationBuilder {
	b.add(zap.String(key, value))
	return b
}

func (b *OperationBuilder) WithStringPtr(key string, value *string) *OperationBuilder {
	if value != nil {
		b.add(zap.String(key, *value))
	}
	return b
}

func (b *OperationBuilder) WithInt(key string, value int) *OperationBuilder {
	b.add(zap.Int(key, value))
	return b
}

func (b *OperationBuilder) WithBool(key string, value bool) *OperationBuilder {
	b.add(zap.Bool(key, value))
	return b
}

func (b *OperationBuilder) WithUUID(key string, value uuid.UUID) *OperationBuilder {
	b.add(zap.String(key, value.String()))
	return b
}

func (b *OperationBuilder) WithParam(key string, value any) *OperationBuilder {
	b.add(zap.Any(key, value))
	return b
}

// Build logs the start of the operation and returns its tracer.
func (b *OperationBuilder) Build() *OperationTracer {
	t := &OperationTracer{logger: b.logger, op: b.op, base: b.fields, start: time.Now()}
	t.logger.Debug(fmt.Sprintf("%s started", b.op), b.fields...)
	return t
}

type OperationTracer struct {
	logger *zap.Logger
	op     string
	base   []zap.Field
	start  time.Time
}

func (t *OperationTracer) Step(name string) *Entry {
	return t.entry(zapcore.DebugLevel, fmt.Sprintf("%s: %s", t.op, name), zap.String("step", name))
}

func (t *OperationTracer) Success() *Entry {
	return t.entry(zapcore.DebugLevel, fmt.Sprintf("%s succeeded", t.op), zap.Duration("duration", time.Since(t.start)))
}

func (t *OperationTracer) Error(err error) *Entry {
	return t.entry(zapcore.ErrorLevel, fmt.Sprintf("%s failed", t.op), zap.Error(err), zap.Duration("duration", time.Since(t.start)))
}

func (t *OperationTracer) entry(lvl zapcore.Level, msg string, extra ...zap.Field) *Entry {
	e := &Entry{logger: t.logger, level: lvl, msg: msg}
	e.fields = append(append(e.fields, t.base...), extra...)
	return e
}

// Entry is a single log line under construction.
type Entry struct {
	fieldSet
	logger *zap.Logger
	level  zapcore.Level
	msg    string
}

func (e *Entry) WithString(key, value string) *Entry {
	e.add(zap.String(key, value))
	return e
}

func (e *Entry) WithInt(key string, value int) *Entry {
	e.add(zap.Int(key, value))
	return e
}

func (e *Entry) WithBool(key string, value bool) *Entry {
	e.add(zap.Bool(key, value))
	return e
}

func (e *Entry) WithUUID(key string, value uuid.UUID) *Entry {
	e.add(zap.String(key, value.String()))
	return e
}

func (e *Entry) WithParam(key string, value any) *Entry {
	e.add(zap.Any(key, value))
	return e
}

func (e *Entry) Log() {
	if ce := e.logger.Check(e.level, e.msg); ce != nil {
		ce.Write(e.fields...)
	}
}
