package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func (c controller) GetMux() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(c.requestIDMw)
	r.Use(c.requestLoggingMw)
	r.Use(cors.AllowAll().Handler)

	r.Handle("/metrics", c.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
		r.Get("/ws", c.serveWS)
		r.Get("/sync-policy", c.getSyncPolicy)
		r.Get("/rooms/{room-id}", c.getRoom)
		r.Route("/tracks", func(r chi.Router) {
			r.Post("/", c.registerTrack)
			r.Get("/{ref}", c.getTrack)
			r.Delete("/{ref}", c.removeTrack)
		})
	})

	return r
}
