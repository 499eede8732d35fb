package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/payload-core/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// No auth required
		r.Get("/health", s.handleHealth)
		r.Post("/auth/token", s.handleToken)
		r.Get("/metrics", s.handleMetrics)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermCameraRead))

				r.Post("/auth/ws-ticket", s.handleWSTicket)
				r.Get("/status", s.handleStatus)
				r.Get("/properties/{name}", s.handleGetProperty)

				r.Get("/captures", s.handleListCaptures)
				r.Get("/captures/{id}", s.handleGetCapture)
				r.Get("/downloads", s.handleListDownloads)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermCameraOperate))

				r.Post("/capture", s.handleCapture)
				r.Post("/continuous-capture/{action}", s.handleContinuousCapture)
				r.Post("/zoom", s.handleZoom)

				// Listing switches the camera into contents transfer mode.
				r.Get("/storage", s.handleListStorage)
				r.Get("/files", s.handleListFiles)
				r.Post("/files/download", s.handleDownloadFile)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermCameraConfigure))

				r.Put("/properties/{name}", s.handleSetProperty)
				r.Get("/audit", s.handleListAudit)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermSystemDangerous))

				r.Post("/reset", s.handleReset)
				r.Post("/initialize", s.handleInitialize)
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := s.engine.Health()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"camera": map[string]bool{
			"running":   h.Running,
			"connected": h.Connected,
		},
	})
}
