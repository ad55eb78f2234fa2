/*
Package tracing provides request tracing for the gateway.

# Overview

Every HTTP request and WebSocket connection gets a span. Trace and span ids
are prefixed ULIDs from the shared id package and travel in the X-Trace-ID
and X-Span-ID headers, so a client can correlate its calls with gateway
logs. Finished spans are logged through zap by a single collector goroutine.

# Usage

	tracer := tracing.New("gateway", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "ws.session")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

	tracing.Logger(ctx, logger).Info("joined stream")

# Performance

Spans are buffered (1000) and dropped with a warning when the collector
falls behind; request handling never waits on logging.
*/
package tracing
