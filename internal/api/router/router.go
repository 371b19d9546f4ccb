package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/endovel/clinic-platform/internal/clinic"
	"github.com/endovel/clinic-platform/internal/conversation"
	httpmiddleware "github.com/endovel/clinic-platform/internal/http/middleware"
	"github.com/endovel/clinic-platform/internal/operator"
	"github.com/endovel/clinic-platform/internal/tenancy"
	"github.com/endovel/clinic-platform/internal/whatsapp"
	"github.com/endovel/clinic-platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	WhatsAppWebhook     *whatsapp.WebhookHandler
	ConversationHandler *conversation.Handler
	StatsHandler        *clinic.StatsHandler
	OperatorHandler     *operator.Handler
	TenantResolver      tenancy.Resolver
	TenantCache         CacheStatser
	MasterDB            Pinger
	MetricsHandler      http.Handler
	CORS                httpmiddleware.CORSPolicy

	// Staff API; disabled when StaffAuthSecret is empty.
	StaffAuthSecret string
	RateLimiter     *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.CORS.Enabled() {
		r.Use(httpmiddleware.CORS(cfg.CORS))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", healthHandler(cfg.MasterDB, cfg.Logger))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/api/v1", func(api chi.Router) {
		// Meta webhook; authenticated by verify token and payload signature.
		if cfg.WhatsAppWebhook != nil {
			api.Get("/whatsapp/webhook", cfg.WhatsAppWebhook.Verify)
			api.Post("/whatsapp/webhook", cfg.WhatsAppWebhook.Receive)
		}

		if cfg.StaffAuthSecret == "" {
			return
		}
		api.Group(func(staff chi.Router) {
			staff.Use(httpmiddleware.StaffJWT(cfg.StaffAuthSecret))
			if cfg.RateLimiter != nil {
				staff.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
			}

			if cfg.TenantResolver != nil {
				staff.Group(func(tenant chi.Router) {
					tenant.Use(tenancy.Middleware(cfg.TenantResolver, cfg.Logger))
					if cfg.ConversationHandler != nil {
						tenant.Get("/conversations/{phone}", cfg.ConversationHandler.Get)
						tenant.Delete("/conversations/{phone}", cfg.ConversationHandler.Reset)
					}
					if cfg.StatsHandler != nil {
						tenant.Get("/stats", cfg.StatsHandler.GetStats)
					}
					if cfg.OperatorHandler != nil {
						tenant.Get("/operator/interactions", cfg.OperatorHandler.ListInteractions)
						tenant.Post("/operator/replies", cfg.OperatorHandler.Reply)
						tenant.Get("/operator/feed", cfg.OperatorHandler.Feed)
					}
				})
			}

			if cfg.TenantCache != nil {
				staff.With(httpmiddleware.RequireRole(httpmiddleware.RoleAdmin)).
					Get("/admin/tenant-cache", tenantCacheHandler(cfg.TenantCache, cfg.Logger))
			}
		})
	})

	return r
}
