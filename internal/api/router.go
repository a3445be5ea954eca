package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/filaman/spoolscale/internal/webui"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Setup endpoints used by the device's own web UI.
	r.Route("/api", func(r chi.Router) {
		r.Get("/config", s.handleGetConfig)
		r.Get("/version", s.handleVersion)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimitMiddleware)
			r.Post("/register", s.handleRegister)
			r.Post("/reboot", s.handleReboot)
		})

		r.Route("/v1", func(r chi.Router) {
			r.Get("/health", s.handleHealth)
			r.Get("/metrics", s.handleMetrics)

			r.With(s.rateLimitMiddleware).Post("/rfid/write", s.handleRfidWrite)
		})
	})

	r.Get(s.wsPath(), s.handleWebSocket)

	r.Handle("/*", webui.Handler(s.cfg.WebDir))

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}
