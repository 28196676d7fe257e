package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/psantana5/sdd-inspector/pkg/auth"
	"github.com/psantana5/sdd-inspector/pkg/metrics"
	"github.com/psantana5/sdd-inspector/pkg/ratelimit"
	"github.com/psantana5/sdd-inspector/pkg/tracing"
)

// RouterOptions are the optional middlewares of the API
type RouterOptions struct {
	Metrics *metrics.Collector
	Tracer  *tracing.Provider
	Auth    *auth.APIKeyAuth   // nil disables authentication
	Limiter *ratelimit.Limiter // nil disables rate limiting
	KeyFunc func(*http.Request) string
}

// NewRouter registers the handler's routes plus /metrics and wraps them in
// tracing, metrics, auth and rate limiting, outermost first
func NewRouter(h *Handler, opts RouterOptions) *mux.Router {
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler()).Methods("GET")
	}

	if opts.Tracer != nil {
		r.Use(tracing.HTTPMiddleware(opts.Tracer))
	}
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	if opts.Auth != nil {
		r.Use(opts.Auth.Middleware)
	}
	if opts.Limiter != nil {
		keyFunc := opts.KeyFunc
		if keyFunc == nil {
			keyFunc = ratelimit.IPKeyFunc
		}
		r.Use(opts.Limiter.Middleware(keyFunc))
	}
	return r
}

// NewServer creates the HTTP server with the same timeouts for every deployment
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
