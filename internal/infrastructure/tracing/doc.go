/*
Package tracing provides lightweight request tracing.

A trace follows one API request through the bridge: the HTTP middleware
opens a span per request and the host opens child spans for the evals and
upstream fetches it performs. Completed spans are reported through zap.

# Usage

	tracer := tracing.New("bridge", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "eval")
	defer tracer.Submit(span)
	span.SetTag("key", "value")

# Trace Format

Traces propagate through standard HTTP headers:
  - X-Trace-ID: identifier for the entire request flow
  - X-Span-ID: identifier for the current operation

Spans are buffered (1000) and processed asynchronously; a full buffer drops
spans rather than blocking the caller.
*/
package tracing
