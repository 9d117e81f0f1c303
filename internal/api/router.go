package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nikhilbhutani/docissue/internal/api/handlers"
	"github.com/nikhilbhutani/docissue/internal/api/middleware"
	"github.com/nikhilbhutani/docissue/internal/auth"
	"github.com/nikhilbhutani/docissue/internal/config"
)

// Deps carries the services the routes are served by. main wires them.
type Deps struct {
	Generator handlers.Generator
	Documents handlers.DocumentStore
	Objects   handlers.ObjectReader
	Templates handlers.TemplateReader
	Batches   handlers.BatchQueue
	Verifier  handlers.Verifier
	Webhooks  handlers.WebhookStore
	Audit     interface {
		handlers.Auditor
		handlers.AuditReader
	}
	Checks map[string]handlers.Pinger

	JWT    *auth.JWTMiddleware
	APIKey *auth.APIKeyMiddleware
	RBAC   *auth.RBAC
}

type Router struct {
	mux      *chi.Mux
	cfg      *config.Config
	deps     Deps
	limiters []*middleware.RateLimiter
}

func NewRouter(cfg *config.Config, deps Deps) *Router {
	return &Router{mux: chi.NewRouter(), cfg: cfg, deps: deps}
}

// Close stops the rate limiters' background cleanup.
func (rt *Router) Close() {
	for _, l := range rt.limiters {
		l.Stop()
	}
}

func (rt *Router) limiter(rps float64, burst int) *middleware.RateLimiter {
	l := middleware.NewRateLimiter(rps, burst)
	rt.limiters = append(rt.limiters, l)
	return l
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux
	d := rt.deps

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.cfg.Server.AllowedOrigins, rt.cfg.Auth.APIKeyHeader))

	// Health endpoints (no auth)
	health := handlers.NewHealthHandler(d.Checks)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	// Public verification, tighter limit since it is unauthenticated
	verifyH := handlers.NewVerifyHandler(d.Verifier)
	r.With(rt.limiter(5, 20).Limit).Get("/verify/{token}", verifyH.Verify)

	docH := handlers.NewDocumentHandler(d.Generator, d.Documents, d.Objects, d.Audit)
	tplH := handlers.NewTemplateHandler(d.Templates, d.Generator, d.Batches, d.Audit)
	batchH := handlers.NewBatchHandler(d.Batches, d.Audit)
	webhookH := handlers.NewWebhookHandler(d.Webhooks)
	adminH := handlers.NewAdminHandler(d.Audit)
	can := d.RBAC.RequirePermission

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rt.limiter(100, 200).Limit)
		// Auth: try API key first, then JWT
		r.Use(d.APIKey.Authenticate)
		r.Use(d.JWT.Authenticate)

		r.Route("/documents", func(r chi.Router) {
			r.With(can(auth.PermDocumentsGenerate)).Post("/", docH.Generate)
			r.With(can(auth.PermDocumentsRead)).Get("/", docH.List)
			r.With(can(auth.PermDocumentsRead)).Get("/{id}", docH.Get)
			r.With(can(auth.PermDocumentsRead)).Get("/{id}/download", docH.Download)
			r.With(can(auth.PermDocumentsRead)).Get("/{id}/qr", docH.QR)
			r.With(can(auth.PermDocumentsGenerate)).Post("/{id}/render", docH.Render)
			r.With(can(auth.PermDocumentsPublish)).Post("/{id}/publish", docH.Publish)
		})

		r.Route("/templates/{id}", func(r chi.Router) {
			r.With(can(auth.PermTemplatesRead)).Get("/variables", tplH.Variables)
			r.With(can(auth.PermDocumentsGenerate)).Post("/generate", tplH.Generate)
		})

		r.Route("/batches/{id}", func(r chi.Router) {
			r.Use(can(auth.PermBatchesManage))
			r.Get("/", batchH.Get)
			r.Get("/report.xlsx", batchH.Report)
			r.Post("/cancel", batchH.Cancel)
		})

		r.Route("/webhooks", func(r chi.Router) {
			r.Use(can(auth.PermWebhooksManage))
			r.Post("/", webhookH.Create)
			r.Get("/", webhookH.List)
			r.Delete("/{id}", webhookH.Delete)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(can(auth.PermAdminRead))
			r.Get("/audit", adminH.AuditLogs)
		})
	})

	return r
}
