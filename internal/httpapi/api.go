package httpapi

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	hybridAuth "github.com/MrEthical07/hybridAuth"
	"github.com/MrEthical07/hybridAuth/account"
	"github.com/MrEthical07/hybridAuth/middleware"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Options configures the HTTP layer.
type Options struct {
	Logger *zap.Logger
	// Registry receives the HTTP request metrics and is served on /metrics.
	// A private registry is created when nil.
	Registry *prometheus.Registry
	// TrustProxyHeaders takes the client IP from X-Forwarded-For.
	TrustProxyHeaders bool
	// Ready is consulted by /healthz when set.
	Ready func(ctx context.Context) error
	// Limits overrides the per-IP route limits.
	Limits *Limits
}

// API routes requests to the engine.
type API struct {
	engine  *hybridAuth.Engine
	log     *zap.Logger
	mux     *http.ServeMux
	metrics *httpMetrics
	opts    Options
}

// New builds the router.
func New(engine *hybridAuth.Engine, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	limits := DefaultLimits()
	if opts.Limits != nil {
		limits = *opts.Limits
	}

	a := &API{
		engine:  engine,
		log:     opts.Logger.Named("http"),
		mux:     http.NewServeMux(),
		metrics: newHTTPMetrics(opts.Registry),
		opts:    opts,
	}

	throttle := func(l Limit, h http.HandlerFunc) http.Handler {
		return newIPLimiter(l, opts.TrustProxyHeaders).middleware(h)
	}

	a.mux.Handle("POST /auth/login", throttle(limits.Login, a.login))
	a.mux.Handle("POST /auth/federated-login", throttle(limits.Login, a.federatedLogin))
	a.mux.HandleFunc("POST /auth/refresh", a.refresh)
	a.mux.HandleFunc("POST /auth/logout", a.logout)
	a.mux.HandleFunc("GET /auth/whoami", a.whoami)
	a.mux.Handle("POST /auth/forgot-password", throttle(limits.Forgot, a.forgotPassword))
	a.mux.Handle("POST /auth/reset-password", throttle(limits.Reset, a.resetPassword))
	a.mux.Handle("POST /auth/change-password",
		middleware.Guard(engine, account.RoleUser)(http.HandlerFunc(a.changePassword)))
	a.mux.Handle("POST /auth/verify-email", throttle(limits.Verify, a.verifyEmail))
	a.mux.Handle("POST /auth/resend-verification", throttle(limits.Resend, a.resendVerification))

	a.mux.HandleFunc("GET /healthz", a.healthz)
	a.mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))

	return a
}

// Handler returns the router wrapped in request context, logging and
// metrics middleware.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	// instrument reads r.Pattern, which the mux sets on the request it was
	// handed, so nothing between them may replace the request.
	h = a.metrics.instrument(h)
	h = a.logging(h)
	h = a.requestContext(h)
	return h
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	if a.opts.Ready != nil {
		if err := a.opts.Ready(r.Context()); err != nil {
			a.log.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"mode":   a.engine.Mode(),
	})
}
