package tracing

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/tontine/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// GinMiddleware opens one server span per request and, once the handler has
// run, tags it with the calling agent and the ledger entity the route names.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("tontine/http")
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, "HTTP "+c.Request.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			if member, err := baggage.NewMember("request_id", requestID); err == nil {
				if bag, err := baggage.New(member); err == nil {
					ctx = baggage.ContextWithBaggage(ctx, bag)
				}
			}
			span.SetAttributes(attribute.String("request_id", requestID))
		}

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		span.SetName("HTTP " + c.Request.Method + " " + route)

		attrs := []attribute.KeyValue{
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
			attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
		}
		// AgentRequired runs inside this middleware and stores the agent on
		// the request context.
		if agentID := obscontext.AgentIDFromContext(c.Request.Context()); agentID != "" {
			attrs = append(attrs, attribute.String("tontine.agent_id", agentID))
		}
		attrs = append(attrs, routeAttributes(c, route)...)
		span.SetAttributes(SafeAttributes(attrs...)...)

		if status >= http.StatusInternalServerError {
			if lastErr := c.Errors.Last(); lastErr != nil {
				if safeErr := SafeError(lastErr.Err); safeErr != nil {
					span.RecordError(safeErr)
				}
			}
			span.SetStatus(codes.Error, "request error")
		}
	}
}

// routeAttributes maps path parameters to the entity they identify.
func routeAttributes(c *gin.Context, route string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if id := strings.TrimSpace(c.Param("id")); id != "" {
		switch {
		case strings.Contains(route, "/subscriptions/:id"):
			attrs = append(attrs, attribute.String("tontine.subscription_id", id))
		case strings.Contains(route, "/obligations/:id"):
			attrs = append(attrs, attribute.String("tontine.obligation_id", id))
		case strings.Contains(route, "/clients/:id"):
			attrs = append(attrs, attribute.String("tontine.client_id", id))
		}
	}
	if provider := strings.TrimSpace(c.Param("provider")); provider != "" {
		attrs = append(attrs, attribute.String("payment.provider", strings.ToLower(provider)))
	}
	if txnID := strings.TrimSpace(c.Param("transaction_id")); txnID != "" {
		attrs = append(attrs, attribute.String("payment.transaction_id", txnID))
	}
	return attrs
}
