package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter mounts the API surface on a chi router. reg may be nil when no
// metrics endpoint is wanted (tests, demo).
func NewRouter(h *Handler, reg *prometheus.Registry, requestTimeout time.Duration) http.Handler {
	if requestTimeout <= 0 {
		requestTimeout = 300 * time.Second
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(corsMiddleware([]string{"*"}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"corpus-engine"}`))
	})
	r.Get("/ready", h.ready)

	if reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		// The job stream stays open until the job is terminal, so it is
		// mounted outside the request timeout.
		r.Get("/jobs/{jobID}/stream", h.streamJob)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(requestTimeout))

			r.Route("/documents", func(r chi.Router) {
				r.Post("/", h.upload)
				r.Get("/", h.listDocuments)

				r.Route("/{documentID}", func(r chi.Router) {
					r.Delete("/", h.deleteDocument)
					r.Get("/segments", h.segments)
					r.Get("/images", h.documentImages)
				})
			})

			r.Get("/jobs/{jobID}", h.getJob)

			r.Route("/search", func(r chi.Router) {
				r.Post("/", h.searchChunks)
				r.Post("/headers", h.searchHeaders)
				r.Post("/hybrid", h.searchHybrid)
				r.Post("/images", h.searchImages)
			})

			r.Route("/images/{imageID}", func(r chi.Router) {
				r.Get("/", h.getImage)
				r.Get("/metadata", h.imageMetadata)
			})
		})
	})

	return r
}
