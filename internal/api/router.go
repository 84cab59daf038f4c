package api

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"accessportal/internal/auth"
	"accessportal/internal/config"
	"accessportal/internal/metrics"
	"accessportal/internal/middleware"
	"accessportal/internal/rate"
	"accessportal/internal/service"
	"accessportal/internal/sso"
	"accessportal/internal/util"
	"accessportal/internal/version"
)

// Probe is an extra readiness component next to the database.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

type Options struct {
	SSO     *sso.Google
	Limiter middleware.Limiter
	Metrics *metrics.Metrics
	Log     logrus.FieldLogger
	Probes  []Probe
	// WebDir holds the static front end; empty disables it.
	WebDir string
}

type Handlers struct {
	cfg    config.Config
	svc    *service.Service
	sso    *sso.Google
	log    logrus.FieldLogger
	probes []Probe
}

func NewRouter(cfg config.Config, svc *service.Service, opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = rate.NewSlidingWindow(cfg.LoginRateWindow(), cfg.LoginRateMaxKeys)
	}
	loginLimit := cfg.LoginRateLimit
	if loginLimit <= 0 {
		loginLimit = 5
	}
	h := &Handlers{cfg: cfg, svc: svc, sso: opts.SSO, log: log, probes: opts.Probes}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(opts.Metrics.Instrument)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization"},
			AllowCredentials: true,
		}))
	}
	r.Use(middleware.Gate(middleware.GateConfig{
		Tokens:     svc.Tokens(),
		CookieName: cfg.SessionCookieName,
		Secure:     cfg.ResolveCookieSecure,
	}))

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		util.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": version.Current()})
	})
	r.Get("/health/ready", h.Ready)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(middleware.RateLimit(limiter, loginLimit, cfg.TrustProxy, opts.Metrics)).Post("/login", h.Login)
			r.Post("/logout", h.Logout)
			r.Get("/me", h.Me)
			r.Put("/me/password", h.ChangePassword)
			r.Get("/google", h.GoogleStart)
			r.Get("/google/callback", h.GoogleCallback)
		})

		r.With(middleware.AdminOnly).Post("/invites", h.IssueInvite)
		r.Get("/invites/complete/{token}", h.LookupInvite)
		r.Post("/invites/complete", h.CompleteInvite)

		r.Get("/user/profile", h.Profile)
		r.Post("/user/accept-terms", h.AcceptTerms)

		r.Get("/links", h.Links)
		r.Get("/links/{id}", h.Link)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/system/prune-logs", h.PruneLogs)

			r.Group(func(r chi.Router) {
				r.Use(middleware.AdminOnly)
				r.Get("/groups", h.AdminListGroups)
				r.Post("/groups", h.AdminCreateGroup)
				r.Put("/groups/{id}", h.AdminRenameGroup)
				r.Delete("/groups/{id}", h.AdminDeleteGroup)

				r.Get("/links", h.AdminListLinks)
				r.Post("/links", h.AdminCreateLink)
				r.Put("/links/{id}", h.AdminUpdateLink)
				r.Delete("/links/{id}", h.AdminDeleteLink)

				r.Get("/group-links", h.AdminGroupLinks)
				r.Post("/group-links", h.AdminSetGroupLinks)

				r.Get("/users", h.AdminListUsers)
				r.Delete("/users/{id}", h.AdminDeleteUser)
				r.Get("/logs", h.AdminLogs)

				r.Get("/settings/smtp", h.AdminGetSMTP)
				r.Put("/settings/smtp", h.AdminPutSMTP)

				r.Post("/logo", h.AdminUploadLogo(opts.WebDir))
			})
		})
	})

	if opts.WebDir != "" {
		fs := http.FileServer(http.Dir(opts.WebDir))
		r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
			p := r.URL.Path
			if strings.HasPrefix(p, "/api/") || strings.HasPrefix(p, "/health/") {
				http.NotFound(w, r)
				return
			}
			if p == "/" {
				http.ServeFile(w, r, filepath.Join(opts.WebDir, "index.html"))
				return
			}
			fs.ServeHTTP(w, r)
		})
	}

	return r
}

func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	comps := map[string]any{}
	ready := map[string]any{
		"checked_at": time.Now().UTC().Format(time.RFC3339),
		"components": comps,
	}

	ok := true
	check := func(name string, err error) {
		if err != nil {
			ok = false
			comps[name] = map[string]any{"ok": false, "error": err.Error()}
			return
		}
		comps[name] = map[string]any{"ok": true}
	}
	check("database", h.svc.Ping(ctx))
	for _, p := range h.probes {
		check(p.Name, p.Check(ctx))
	}

	if ok {
		ready["status"] = "ready"
		util.WriteJSON(w, http.StatusOK, ready)
		return
	}
	ready["status"] = "degraded"
	util.WriteJSON(w, http.StatusServiceUnavailable, ready)
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	util.WriteAppError(w, h.log, middleware.RequestID(r.Context()), err)
}

// session returns the gate's claims; the gate guarantees them on protected
// routes.
func (h *Handlers) session(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	c, ok := middleware.Claims(r.Context())
	if !ok {
		util.WriteError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", middleware.RequestID(r.Context()))
		return nil, false
	}
	return c, true
}

func (h *Handlers) clientIP(r *http.Request) string {
	return middleware.ClientKey(r, h.cfg.TrustProxy)
}

func (h *Handlers) setSession(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, middleware.SessionCookie(h.cfg.SessionCookieName, token, h.svc.Tokens().TTL(), h.cfg.ResolveCookieSecure(r)))
}

func message(msg string) map[string]string {
	return map[string]string{"message": msg}
}
