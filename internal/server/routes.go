package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Handler returns the server's routing tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))
	r.Use(cors)

	r.Route("/api", func(r chi.Router) {
		r.Get("/events", s.handleSSE)
		r.Get("/ws", s.handleWS)
	})

	r.Get("/db", s.handleSnapshot)
	r.Delete("/bulk/{resource}", s.handleBulkDelete)

	r.Route("/{resource}", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/", s.handleCreate)
		r.Delete("/", s.handleBulkDelete)

		r.Get("/{id}", s.handleGet)
		r.Put("/{id}", s.handleWrite)
		r.Patch("/{id}", s.handleWrite)
		r.Delete("/{id}", s.handleDelete)
	})

	return r
}
