package api

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"fleet-gateway/internal/auth"
)

// SetupDataRouter serves machine-to-machine ingestion, guarded by API keys.
func SetupDataRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(h.auth.APIKeyMiddleware)
		r.Post("/data", h.HandleDataIngest)
		r.Post("/api/gauge/snapshot", h.HandleSnapshot)
	})
	r.Get("/healthz", h.HandleHealth)

	return r
}

// SetupUIRouter serves the dashboard, the JSON API and the websocket feed.
func SetupUIRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)

	r.Get("/", h.ServeWebUI)
	r.Get("/ws", h.HandleWebSocket)
	r.Get("/healthz", h.HandleHealth)

	staticPath := filepath.Join(h.webDir, "static")
	fs := http.FileServer(http.Dir(staticPath))
	r.Handle("/static/*", http.StripPrefix("/static/", fs))

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", h.HandleLogin)

		r.Group(func(r chi.Router) {
			r.Use(h.auth.JWTMiddleware)

			r.Get("/asset-data", h.HandleAssetData)
			r.Get("/assets/{id}", h.HandleAsset)
			r.Get("/dispatch/equipment-status", h.HandleEquipmentStatus)
			r.Get("/dispatch/recommendations", h.HandleRecommendations)
			r.Get("/dispatch/alerts", h.HandleAlerts)
			r.Get("/maintenance-predictions", h.HandleMaintenancePredictions)
			r.Get("/maintenance-predictions/{id}", h.HandleMaintenancePrediction)
			r.Get("/lifecycle/{id}", h.HandleLifecycle)

			r.Get("/ideas", h.HandleListIdeas)
			r.Get("/workflows", h.HandleListWorkflows)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleDispatcher))
				r.Post("/ideas", h.HandleCreateIdea)
				r.Post("/workflows", h.HandleCreateWorkflow)
				r.Patch("/workflows/{id}/status", h.HandleWorkflowStatus)
			})

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(auth.RoleAdmin))
				r.Post("/billing/import", h.HandleBillingImport)
				r.Get("/audit", h.HandleAudit)
			})
		})
	})

	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
