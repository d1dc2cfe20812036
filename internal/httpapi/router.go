package httpapi

import (
	"net/http"

	"deepresearch/backend/internal/config"
	"deepresearch/backend/internal/store"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

func NewRouter(cfg config.Config, st store.Store, launcher RunLauncher, log *zap.Logger) http.Handler {
	h := NewHandler(cfg, st, launcher, log)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/research", h.CreateResearch)
		v1.Get("/research/{id}", h.GetResearch)
		v1.Get("/research/{id}/events", h.ListResearchEvents)
		v1.Delete("/research/{id}", h.DeleteResearch)
	})

	return r
}
