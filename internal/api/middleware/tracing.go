package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// untraced paths are scraped or polled too often to be worth a span.
var untraced = map[string]bool{
	"/health":  true,
	"/ready":   true,
	"/metrics": true,
}

// Tracing starts an otelhttp server span per request, continuing any trace
// context found in the request headers. The span is renamed after the chi
// route pattern once routing has run.
func Tracing(service string, opts ...otelhttp.Option) func(http.Handler) http.Handler {
	opts = append([]otelhttp.Option{
		otelhttp.WithFilter(func(r *http.Request) bool {
			return !untraced[r.URL.Path]
		}),
	}, opts...)
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(routeName(next), service, opts...)
	}
}

func routeName(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)

		span := trace.SpanFromContext(r.Context())
		if id := GetRequestID(r.Context()); id != "" {
			span.SetAttributes(attribute.String("request.id", id))
		}
		rctx := chi.RouteContext(r.Context())
		if rctx == nil || rctx.RoutePattern() == "" {
			return
		}
		span.SetName(r.Method + " " + rctx.RoutePattern())
		span.SetAttributes(attribute.String("http.route", rctx.RoutePattern()))
	})
}
