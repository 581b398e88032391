package tracing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/shared/id"
)

const spanBuffer = 1000

// TraceID represents a unique trace identifier
type TraceID string

// SpanID represents a unique span identifier
type SpanID string

// Span represents a single operation in a trace
type Span struct {
	TraceID    TraceID
	SpanID     SpanID
	ParentID   SpanID
	Name       string
	Service    string
	StartTime  time.Time
	Duration   time.Duration
	Tags       map[string]string
	Error      error
	StatusCode int
}

// Tracer collects spans and reports them through the logger. A nil Tracer
// still hands out spans but discards them.
type Tracer struct {
	service string
	logger  *zap.Logger
	spans   chan *Span

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// New creates a new tracer instance
func New(service string, logger *zap.Logger) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracer{
		service: service,
		logger:  logger.Named("trace"),
		spans:   make(chan *Span, spanBuffer),
		done:    make(chan struct{}),
	}
	go t.collectSpans()
	return t
}

// StartSpan creates a span that continues the trace carried by ctx, or
// starts a new trace.
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = TraceID(id.New("trace"))
	}

	span := &Span{
		TraceID:   traceID,
		SpanID:    SpanID(id.New("span")),
		ParentID:  GetSpanID(ctx),
		Name:      name,
		StartTime: time.Now(),
		Tags:      make(map[string]string),
	}
	if t != nil {
		span.Service = t.service
	}

	ctx = context.WithValue(ctx, traceIDKey, traceID)
	ctx = context.WithValue(ctx, spanIDKey, span.SpanID)
	return span, ctx
}

// Finish marks the span as complete
func (s *Span) Finish() {
	s.Duration = time.Since(s.StartTime)
}

// SetTag adds a tag to the span
func (s *Span) SetTag(key, value string) {
	s.Tags[key] = value
}

// SetError records an error in the span
func (s *Span) SetError(err error) {
	s.Error = err
}

// SetStatus sets the status code
func (s *Span) SetStatus(code int) {
	s.StatusCode = code
}

// Submit finishes the span if needed and hands it to the collector. Spans
// are dropped when the buffer is full or the tracer is closed.
func (t *Tracer) Submit(span *Span) {
	if t == nil {
		return
	}
	if span.Duration == 0 {
		span.Finish()
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}

	select {
	case t.spans <- span:
	default:
		t.logger.Warn("Span buffer full, dropping span",
			zap.String("trace_id", string(span.TraceID)),
			zap.String("span_id", string(span.SpanID)),
		)
	}
}

// Close reports the buffered spans and stops the collector.
func (t *Tracer) Close() {
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.spans)
	t.mu.Unlock()
	<-t.done
}

func (t *Tracer) collectSpans() {
	defer close(t.done)
	for span := range t.spans {
		t.processSpan(span)
	}
}

func (t *Tracer) processSpan(span *Span) {
	fields := []zap.Field{
		zap.String("trace_id", string(span.TraceID)),
		zap.String("span_id", string(span.SpanID)),
		zap.String("operation", span.Name),
		zap.Duration("duration", span.Duration),
	}
	if span.ParentID != "" {
		fields = append(fields, zap.String("parent_id", string(span.ParentID)))
	}
	if span.StatusCode != 0 {
		fields = append(fields, zap.Int("status", span.StatusCode))
	}
	for k, v := range span.Tags {
		fields = append(fields, zap.String(k, v))
	}

	if span.Error != nil {
		t.logger.Warn("Span completed with error", append(fields, zap.Error(span.Error))...)
		return
	}
	t.logger.Debug("Span completed", fields...)
}

// Context keys for trace propagation
type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	spanIDKey  contextKey = "span_id"
)

// GetTraceID retrieves the trace ID from context
func GetTraceID(ctx context.Context) TraceID {
	traceID, _ := ctx.Value(traceIDKey).(TraceID)
	return traceID
}

// GetSpanID retrieves the span ID from context
func GetSpanID(ctx context.Context) SpanID {
	spanID, _ := ctx.Value(spanIDKey).(SpanID)
	return spanID
}

// Fields returns the trace context of ctx as log fields
func Fields(ctx context.Context) []zap.Field {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		return nil
	}
	return []zap.Field{
		zap.String("trace_id", string(traceID)),
		zap.String("span_id", string(GetSpanID(ctx))),
	}
}
