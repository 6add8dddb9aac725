// Package middleware provides net/http observability middleware for the
// pixeltree HTTP surface.
//
// This package includes:
//   - OpenTelemetry tracing middleware
//   - Prometheus request metrics middleware
//
// Both are plain func(http.Handler) http.Handler values and are installed
// on the chi router through ServerConfig.Middleware.
//
// # OpenTelemetry Middleware
//
// One server span per request, named after the matched chi route pattern.
// Incoming trace context is extracted with the global propagator.
//
//	cfg.Middleware = append(cfg.Middleware,
//	    middleware.OpenTelemetry(
//	        middleware.WithTracerName("pixeltree"),
//	        middleware.WithRequestFilter(func(r *http.Request) bool {
//	            return r.URL.Path != "/health"
//	        }),
//	    ),
//	)
//
// # Prometheus Metrics
//
//	cfg.Middleware = append(cfg.Middleware,
//	    middleware.Prometheus(middleware.WithRegistry(reg)),
//	)
//
// Route labels use the chi route pattern, never the raw path, so label
// cardinality stays bounded.
package middleware
