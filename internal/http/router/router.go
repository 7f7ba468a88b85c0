package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/medico24/medico24-auth/internal/config"
	"github.com/medico24/medico24-auth/internal/health"
	"github.com/medico24/medico24-auth/internal/http/handler"
	"github.com/medico24/medico24-auth/internal/http/middleware"
	"github.com/medico24/medico24-auth/internal/http/response"
	"github.com/medico24/medico24-auth/internal/security"
)

type Deps struct {
	Config         *config.Config
	Logger         *slog.Logger
	JWTManager     *security.JWTManager
	AuthHandler    *handler.AuthHandler
	SessionHandler *handler.SessionHandler
	Probe          *health.ProbeRunner
	AuthLimiter    middleware.Limiter
	APILimiter     middleware.Limiter
}

// New assembles the full middleware stack and route tree. The auth routes sit
// behind the stricter per-IP limiter; authenticated routes are keyed per
// subject so shared NATs do not starve each other.
func New(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLogger(d.Logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(d.Config.CORSOrigins))
	r.Use(middleware.BodyLimit(d.Config.BodyLimitByte))

	r.Get("/health/live", func(w http.ResponseWriter, req *http.Request) {
		response.OK(w, req, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		ok, results := d.Probe.Ready(req.Context())
		if !ok {
			response.Error(w, req, http.StatusServiceUnavailable,
				response.CodeDependencyUnready, "a dependency is not ready")
			return
		}
		response.OK(w, req, map[string]any{"status": "ready", "checks": results})
	})

	r.Route("/api/v1", func(api chi.Router) {
		api.Route("/auth", func(auth chi.Router) {
			auth.Use(middleware.RateLimit(d.AuthLimiter, "auth", d.Config.RateLimiterMode, middleware.IPKeyFunc))
			auth.Use(middleware.CSRF)
			auth.Post("/login", d.AuthHandler.Login)
			auth.Post("/refresh", d.AuthHandler.Refresh)
			auth.Post("/logout", d.AuthHandler.Logout)
			auth.Get("/google/login", d.AuthHandler.GoogleLogin)
			auth.Get("/google/callback", d.AuthHandler.GoogleCallback)
		})

		api.Group(func(me chi.Router) {
			me.Use(middleware.RequireAuth(d.JWTManager))
			me.Use(middleware.RateLimit(d.APILimiter, "api", d.Config.RateLimiterMode, middleware.SubjectOrIPKeyFunc))
			me.Use(middleware.CSRF)
			me.Get("/me", d.AuthHandler.Me)
			me.Get("/me/sessions", d.SessionHandler.List)
			me.Delete("/me/sessions/{session_id}", d.SessionHandler.Revoke)
			me.Post("/me/sessions/revoke-others", d.SessionHandler.RevokeOthers)
		})
	})

	if d.Config.OTELTracesEnabled || d.Config.OTELMetricsEnabled {
		return otelhttp.NewHandler(r, "http.server")
	}
	return r
}
