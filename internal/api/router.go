package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/CaioWing/Armada/internal/api/middleware"
	"github.com/CaioWing/Armada/internal/api/operator"
	"github.com/CaioWing/Armada/internal/api/response"
	"github.com/CaioWing/Armada/internal/auth"
	"github.com/CaioWing/Armada/internal/orchestrator"
	"github.com/CaioWing/Armada/internal/service"
)

type RouterDeps struct {
	FirmwareSvc  *service.FirmwareService
	CampaignSvc  *service.CampaignService
	UpdateSvc    *service.UpdateService
	RollbackSvc  *service.RollbackService
	AuditSvc     *service.AuditService
	Orchestrator *orchestrator.Orchestrator
	JWTManager   *auth.JWTManager
	CORSOrigins  string
	Logger       *slog.Logger
}

func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Metrics
	metrics := middleware.NewMetrics()
	if deps.Orchestrator != nil {
		metrics.SetRolloutSource(func() middleware.RolloutStats {
			snap := deps.Orchestrator.Snapshot()
			return middleware.RolloutStats{
				ActiveCampaigns: snap.ActiveCampaigns,
				BusyWorkers:     snap.BusyWorkers,
				WorkerCapacity:  snap.WorkerCapacity,
			}
		})
	}

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logger(deps.Logger))
	r.Use(metrics.Middleware())

	// CORS
	origins := strings.Split(deps.CORSOrigins, ",")
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Checksum-SHA256", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Prometheus metrics
	r.Get("/metrics", metrics.Handler())

	authHandler := operator.NewAuthHandler(deps.JWTManager)
	firmwareHandler := operator.NewFirmwareHandler(deps.FirmwareSvc)
	campaignHandler := operator.NewCampaignHandler(deps.CampaignSvc, deps.UpdateSvc, deps.Orchestrator)
	updateHandler := operator.NewUpdateHandler(deps.UpdateSvc, deps.Orchestrator)
	rollbackHandler := operator.NewRollbackHandler(deps.RollbackSvc, deps.Orchestrator)
	auditHandler := operator.NewAuditHandler(deps.AuditSvc)

	r.Route("/api/v1", func(r chi.Router) {
		// Rate limit operator API: 30 req/s with burst of 60
		r.Use(middleware.RateLimit(30, 60))

		// Login (no auth required)
		r.Post("/auth/login", authHandler.Login)

		// Refresh token (requires valid JWT)
		r.Group(func(r chi.Router) {
			r.Use(middleware.OperatorAuth(deps.JWTManager))
			r.Post("/auth/refresh", authHandler.Refresh)
		})

		// Authenticated operator endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.OperatorAuth(deps.JWTManager))
			r.Use(middleware.AuditLog(deps.AuditSvc))

			// Firmware catalog
			r.Get("/firmware", firmwareHandler.List)
			r.Post("/firmware", firmwareHandler.Upload)
			r.Get("/firmware/{id}", firmwareHandler.Get)
			r.Get("/firmware/{id}/download", firmwareHandler.Download)
			r.Patch("/firmware/{id}/deprecate", firmwareHandler.SetDeprecated)
			r.Delete("/firmware/{id}", firmwareHandler.Delete)

			// Campaigns
			r.Get("/campaigns", campaignHandler.List)
			r.Post("/campaigns", campaignHandler.Create)
			r.Get("/campaigns/statistics", campaignHandler.Stats)
			r.Get("/campaigns/{id}", campaignHandler.Get)
			r.Post("/campaigns/{id}/approve", campaignHandler.Approve)
			r.Post("/campaigns/{id}/start", campaignHandler.Start)
			r.Post("/campaigns/{id}/pause", campaignHandler.Pause)
			r.Post("/campaigns/{id}/resume", campaignHandler.Resume)
			r.Post("/campaigns/{id}/cancel", campaignHandler.Cancel)
			r.Post("/campaigns/{id}/rollback", campaignHandler.Rollback)
			r.Get("/campaigns/{id}/devices", campaignHandler.GetDevices)

			// Device updates
			r.Get("/updates", updateHandler.List)
			r.Post("/updates", updateHandler.Schedule)
			r.Get("/updates/{id}", updateHandler.Get)
			r.Post("/updates/{id}/cancel", updateHandler.Cancel)
			r.Post("/updates/{id}/retry", updateHandler.Retry)

			// Rollback operations
			r.Get("/rollbacks", rollbackHandler.List)
			r.Post("/rollbacks", rollbackHandler.RollbackDevice)
			r.Get("/rollbacks/{id}", rollbackHandler.Get)

			// Audit Log
			r.Get("/audit", auditHandler.List)
		})
	})

	return r
}
