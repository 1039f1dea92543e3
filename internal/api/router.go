package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/vidnotes/internal/noteservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *noteservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(TokenAuth(authEnabled, token))

	// Projection.
	r.Get("/videos", h.ListVideos)

	// Notes of one video.
	r.Route("/videos/{videoID}", func(r chi.Router) {
		r.Get("/notes", h.ListNotes)
		r.Post("/notes", h.CreateNote)
		r.Put("/notes/{noteID}", h.EditNote)
		r.Delete("/notes/{noteID}", h.DeleteNote)
		r.Put("/metadata", h.RefreshVideo)
	})

	// Backup.
	r.Get("/backup", h.ExportBackup)
	r.Post("/backup", h.ImportBackup)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
