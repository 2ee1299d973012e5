package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const traceIDHeader = "X-Trace-ID"
const requestIDHeader = "X-Request-ID"

const maxTraceIDLength = 128

// TraceMiddleware stamps every control request with a trace id and a request
// id. The trace id comes from X-Trace-ID when the caller sends a usable one,
// otherwise from the active OpenTelemetry span so problem responses point at
// the same trace as the exchange and speech spans, otherwise a fresh uuid.
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())

		traceID := c.GetHeader(traceIDHeader)
		if !usableTraceID(traceID) {
			if sc := span.SpanContext(); sc.HasTraceID() {
				traceID = sc.TraceID().String()
			} else {
				traceID = uuid.NewString()
			}
		}

		requestID := uuid.NewString()
		span.SetAttributes(
			attribute.String("bridge.trace_id", traceID),
			attribute.String("bridge.request_id", requestID),
		)

		c.Set("trace_id", traceID)
		c.Set("request_id", requestID)

		c.Header(traceIDHeader, traceID)
		c.Header(requestIDHeader, requestID)

		c.Next()
	}
}

// Trace ids are echoed into headers, logs and problem bodies, so only short
// printable ASCII without spaces is accepted.
func usableTraceID(id string) bool {
	if id == "" || len(id) > maxTraceIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}
	return true
}
