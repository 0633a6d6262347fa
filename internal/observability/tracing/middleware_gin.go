package tracing

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/fieldbill/internal/principal"
	"github.com/smallbiznis/fieldbill/pkg/apperr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// GinMiddleware opens a server span per billing API request. The span
// carries the request and principal ids and, when a handler failed, the
// error kind it failed with.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer(instrumentation + "/http")
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx = withCorrelationBaggage(ctx)

		ctx, span := tracer.Start(ctx, "HTTP "+c.Request.Method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("http.method", c.Request.Method)),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		span.SetName("HTTP " + c.Request.Method + " " + route)
		span.SetAttributes(
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
			attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
		)

		var handlerErr error
		if last := c.Errors.Last(); last != nil {
			handlerErr = last.Err
		}
		if handlerErr != nil {
			span.SetAttributes(attribute.String("error.kind", string(errorKind(handlerErr))))
		}
		if status < http.StatusInternalServerError {
			return
		}
		if safe := SafeError(handlerErr); safe != nil {
			span.RecordError(safe)
		}
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}

// withCorrelationBaggage forwards the request and principal ids to
// downstream calls made while serving the request.
func withCorrelationBaggage(ctx context.Context) context.Context {
	var members []baggage.Member
	if id := principal.RequestIDFromContext(ctx); id != "" {
		if m, err := baggage.NewMember("request_id", id); err == nil {
			members = append(members, m)
		}
	}
	if id, ok := principal.IDFromContext(ctx); ok {
		if m, err := baggage.NewMember("principal_id", id); err == nil {
			members = append(members, m)
		}
	}
	if len(members) == 0 {
		return ctx
	}
	bag, err := baggage.New(members...)
	if err != nil {
		return ctx
	}
	return baggage.ContextWithBaggage(ctx, bag)
}

func errorKind(err error) apperr.Kind {
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Kind != "" {
		return appErr.Kind
	}
	return apperr.KindUnexpected
}
