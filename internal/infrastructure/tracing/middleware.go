package tracing

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Trace propagation headers
const (
	TraceHeader = "X-Trace-ID"
	SpanHeader  = "X-Span-ID"
)

// HTTPMiddleware creates Gin middleware for HTTP tracing. An incoming
// X-Trace-ID continues the caller's trace; the response carries the trace
// and span ids.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if traceID := c.GetHeader(TraceHeader); traceID != "" {
			ctx = context.WithValue(ctx, traceIDKey, TraceID(traceID))
		}
		if parentID := c.GetHeader(SpanHeader); parentID != "" {
			ctx = context.WithValue(ctx, spanIDKey, SpanID(parentID))
		}

		name := c.FullPath()
		if name == "" {
			name = "unmatched"
		}
		span, ctx := tracer.StartSpan(ctx, c.Request.Method+" "+name)
		span.SetTag("http.method", c.Request.Method)
		span.SetTag("http.path", c.Request.URL.Path)

		c.Request = c.Request.WithContext(ctx)
		c.Header(TraceHeader, string(span.TraceID))
		c.Header(SpanHeader, string(span.SpanID))

		c.Next()

		status := c.Writer.Status()
		span.SetStatus(status)
		span.SetTag("http.status", strconv.Itoa(status))
		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		} else if status >= 500 {
			span.SetError(errors.New("http status " + strconv.Itoa(status)))
		}

		span.Finish()
		tracer.Submit(span)
	}
}
