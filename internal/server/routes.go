package server

import (
	"net/http"

	"github.com/dgellow/mcp-workers/internal/instrumentation"
	"github.com/dgellow/mcp-workers/internal/oauth"
	"github.com/dgellow/mcp-workers/internal/ratelimit"
)

// RouterConfig configures NewRouter
type RouterConfig struct {
	// AllowedOrigins applies to registration. Discovery and token are always open.
	AllowedOrigins []string
	// RateLimiter guards /register and /token; nil disables it.
	RateLimiter *ratelimit.Limiter
	Metrics     *instrumentation.Metrics
}

// NewRouter mounts the authorization server endpoints and health check.
func NewRouter(h *AuthHandlers, cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	openCORS := func(methods string) MiddlewareFunc {
		return NewCORSMiddleware(CORSOptions{
			AllowMethods: methods,
			AllowHeaders: "Content-Type, Authorization",
		})
	}
	route := func(path string, handler http.HandlerFunc, middlewares ...MiddlewareFunc) {
		mws := append(middlewares, NewMetricsMiddleware(path, cfg.Metrics))
		mux.Handle(path, ChainMiddleware(handler, mws...))
	}

	route("/"+oauth.WellKnownPath, h.WellKnownHandler,
		openCORS("GET, OPTIONS"),
	)
	route("/"+oauth.RegisterPath, h.RegisterHandler,
		NewRateLimitMiddleware("register", cfg.RateLimiter, cfg.Metrics),
		NewCORSMiddleware(CORSOptions{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowMethods:   "POST, OPTIONS",
			AllowHeaders:   "Content-Type, Authorization",
		}),
	)
	route("/"+oauth.AuthorizePath, h.AuthorizeHandler)
	route("/"+oauth.ApprovePath, h.ApproveHandler, noStore)
	route("/"+oauth.TokenPath, h.TokenHandler,
		NewRateLimitMiddleware("token", cfg.RateLimiter, cfg.Metrics),
		openCORS("POST, OPTIONS"),
	)
	mux.Handle("/health", NewHealthHandler())

	return ChainMiddleware(mux,
		NewRecoverMiddleware("http"),
		NewLoggerMiddleware("http"),
		NewRequestIDMiddleware(),
	)
}
