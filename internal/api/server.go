package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thephotocrm/thephotocrm-sub005/internal/automation"
	"github.com/thephotocrm/thephotocrm-sub005/internal/campaign"
	"github.com/thephotocrm/thephotocrm-sub005/internal/config"
	"github.com/thephotocrm/thephotocrm-sub005/internal/ipfilter"
	"github.com/thephotocrm/thephotocrm-sub005/internal/metrics"
	"github.com/thephotocrm/thephotocrm-sub005/internal/repository"
	"github.com/thephotocrm/thephotocrm-sub005/internal/transport"
)

// Version is reported by /health
var Version = "dev"

// Deps are the services the API exposes
type Deps struct {
	Campaigns     *campaign.Service
	Subscriptions *repository.SubscriptionRepository
	Subjects      *repository.SubjectRepository
	Deliveries    *repository.DeliveryRepository
	APIKeys       *repository.APIKeyRepository
	Engine        *automation.Engine
	Sandbox       *transport.SandboxStore // nil unless the sandbox provider is used
	Metrics       *metrics.Metrics        // nil disables /metrics

	MetricsPath         string
	StripeWebhookSecret string
	SendGridPublicKey   string
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	deps       Deps
	config     *config.APIConfig
	sendgrid   *sendgridVerifier
	apiIPs     *ipfilter.Filter
	webhookIPs *ipfilter.Filter
	logger     *slog.Logger
	startTime  time.Time
	now        func() time.Time
}

// NewServer creates a new API server
func NewServer(deps Deps, cfg *config.APIConfig, logger *slog.Logger) (*Server, error) {
	verifier, err := newSendgridVerifier(deps.SendGridPublicKey)
	if err != nil {
		return nil, err
	}
	apiIPs, err := ipfilter.New(cfg.AllowedIPs, logger)
	if err != nil {
		return nil, fmt.Errorf("api.allowed_ips: %w", err)
	}
	webhookIPs, err := ipfilter.New(cfg.WebhookAllowedIPs, logger)
	if err != nil {
		return nil, fmt.Errorf("api.webhook_allowed_ips: %w", err)
	}

	s := &Server{
		router:     chi.NewRouter(),
		deps:       deps,
		config:     cfg,
		sendgrid:   verifier,
		apiIPs:     apiIPs,
		webhookIPs: webhookIPs,
		logger:     logger.With("component", "api"),
		startTime:  time.Now(),
		now:        time.Now,
	}

	s.setupRoutes()
	return s, nil
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	if s.deps.Metrics != nil {
		s.router.Use(metrics.HTTPMiddleware)
	}
	s.router.Use(s.bodyLimitMiddleware)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	if s.deps.Metrics != nil {
		path := s.deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.router.Handle(path, promhttp.HandlerFor(s.deps.Metrics.Registry(), promhttp.HandlerOpts{}))
	}

	// Provider webhooks authenticate with their own signatures
	s.router.Route("/webhooks", func(r chi.Router) {
		r.Use(s.webhookIPs.Middleware)
		r.Post("/sendgrid", s.handleSendGridEvents)
		r.Post("/stripe", s.handleStripe)
	})

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.apiIPs.Middleware)
		r.Use(s.authMiddleware)

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", s.handleCampaignList)
			r.Post("/", s.handleCampaignCreate)
			r.Post("/generate", s.handleCampaignGenerate)
			r.Get("/{id}", s.handleCampaignGet)
			r.Patch("/{id}", s.handleCampaignEdit)
			r.Get("/{id}/stats", s.handleCampaignStats)
			r.Post("/{id}/approve", s.handleCampaignTransition(s.deps.Campaigns.Approve))
			r.Post("/{id}/activate", s.handleCampaignTransition(s.deps.Campaigns.Activate))
			r.Post("/{id}/pause", s.handleCampaignTransition(s.deps.Campaigns.Pause))
			r.Post("/{id}/resume", s.handleCampaignTransition(s.deps.Campaigns.Resume))
			r.Post("/{id}/enroll", s.handleEnroll)
		})

		r.Patch("/emails/{id}", s.handleEmailEdit)
		r.Post("/emails/{id}/approve", s.handleEmailApproval(true))
		r.Post("/emails/{id}/reject", s.handleEmailApproval(false))

		r.Get("/subscriptions/{id}", s.handleSubscriptionGet)
		r.Post("/subscriptions/{id}/unsubscribe", s.handleSubscriptionUnsubscribe)

		r.Put("/subjects/{id}", s.handleSubjectUpsert)
		r.Get("/subjects/{id}", s.handleSubjectGet)
		r.Post("/subjects/{id}/unsubscribe", s.handleSubjectUnsubscribe)

		r.Post("/events/stage", s.handleStageEvent)
		r.Post("/events/trigger", s.handleTriggerEvent)

		r.Get("/deliveries/{id}", s.handleDeliveryGet)
		r.Post("/deliveries/{id}/status", s.handleDeliveryStatus)

		if s.deps.Sandbox != nil {
			NewSandboxServer(s.deps.Sandbox).RegisterRoutes(r)
		}
	})
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
