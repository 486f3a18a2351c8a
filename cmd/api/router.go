package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/imagevault/service/internal/image"
	"github.com/imagevault/service/internal/logging"
	appMiddleware "github.com/imagevault/service/internal/middleware"
)

// routerDeps are the pieces newRouter mounts.
type routerDeps struct {
	allowedOrigins []string
	images         *image.Handler
	metrics        http.Handler
	// media serves locally stored files; nil unless the local backend is active.
	media http.Handler
	log   *logging.Logger
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(appMiddleware.Logger(d.log))
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: d.allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Swagger UI at /swagger/
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	if d.metrics != nil {
		r.Handle("/metrics", d.metrics)
	}
	if d.media != nil {
		r.Handle("/media/*", http.StripPrefix("/media", d.media))
	}

	r.Post("/upload", d.images.Upload)
	r.Get("/images", d.images.List)

	return r
}
