package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/vidnotes/internal/merge"
	"github.com/starford/vidnotes/internal/noteservice"
)

const maxBodyBytes = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *noteservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *noteservice.Service) *Handler {
	return &Handler{svc: svc}
}

func videoID(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "videoID"))
}

// decode reads a JSON body into req and validates it.
func decode(w http.ResponseWriter, r *http.Request, req interface{ Validate() error }) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	if err := req.Validate(); err != nil {
		writeError(w, "validate request", err)
		return false
	}
	return true
}

// ListVideos handles GET /api/videos.
//
//	@Summary		List videos with notes, newest first
//	@Tags			videos
//	@Produce		json
//	@Param			q	query		string	false	"Search term matched against titles and note text"
//	@Success		200	{array}		VideoMatch
//	@Security		BearerAuth
//	@Router			/videos [get]
func (h *Handler) ListVideos(w http.ResponseWriter, r *http.Request) {
	matches := h.svc.ListVideos(r.Context(), r.URL.Query().Get("q"))
	writeJSON(w, http.StatusOK, toVideoMatches(matches))
}

// ListNotes handles GET /api/videos/{videoID}/notes.
//
//	@Summary		Get the notes of a video sorted by timestamp
//	@Tags			notes
//	@Produce		json
//	@Param			videoID	path		string	true	"Video id"
//	@Success		200		{object}	NotesResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/videos/{videoID}/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	id := videoID(r)
	notes, err := h.svc.NotesFor(r.Context(), id)
	if err != nil {
		writeError(w, "list notes", err)
		return
	}
	writeJSON(w, http.StatusOK, NotesResponse{VideoID: id, Notes: notes})
}

// CreateNote handles POST /api/videos/{videoID}/notes.
//
//	@Summary		Add a note at a timestamp
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			videoID	path		string				true	"Video id"
//	@Param			body	body		CreateNoteRequest	true	"Note to create"
//	@Success		201		{object}	Note
//	@Failure		400		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/videos/{videoID}/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req CreateNoteRequest
	if !decode(w, r, &req) {
		return
	}
	note, err := h.svc.CreateNote(r.Context(), videoID(r), *req.Timestamp, req.Text, req.Title)
	if err != nil {
		writeError(w, "create note", err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

// EditNote handles PUT /api/videos/{videoID}/notes/{noteID}.
//
//	@Summary		Replace the text of a note
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			videoID	path		string			true	"Video id"
//	@Param			noteID	path		string			true	"Note id"
//	@Param			body	body		EditNoteRequest	true	"New text"
//	@Success		200		{object}	Note
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/videos/{videoID}/notes/{noteID} [put]
func (h *Handler) EditNote(w http.ResponseWriter, r *http.Request) {
	var req EditNoteRequest
	if !decode(w, r, &req) {
		return
	}
	note, err := h.svc.EditNote(r.Context(), videoID(r), chi.URLParam(r, "noteID"), req.Text, req.Title)
	if err != nil {
		writeError(w, "edit note", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// DeleteNote handles DELETE /api/videos/{videoID}/notes/{noteID}.
//
//	@Summary		Delete a note
//	@Tags			notes
//	@Param			videoID	path	string	true	"Video id"
//	@Param			noteID	path	string	true	"Note id"
//	@Success		204		"Note deleted (also when it did not exist)"
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/videos/{videoID}/notes/{noteID} [delete]
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteNote(r.Context(), videoID(r), chi.URLParam(r, "noteID")); err != nil {
		writeError(w, "delete note", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RefreshVideo handles PUT /api/videos/{videoID}/metadata.
//
//	@Summary		Refresh a video's title and note count
//	@Tags			videos
//	@Accept			json
//	@Param			videoID	path	string			true	"Video id"
//	@Param			body	body	MetadataRequest	true	"Current title"
//	@Success		204		"Metadata refreshed"
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/videos/{videoID}/metadata [put]
func (h *Handler) RefreshVideo(w http.ResponseWriter, r *http.Request) {
	var req MetadataRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.RefreshVideo(r.Context(), videoID(r), req.Title); err != nil {
		writeError(w, "refresh video", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportBackup handles GET /api/backup.
//
//	@Summary		Download a backup of all notes and metadata
//	@Tags			backup
//	@Produce		json
//	@Success		200	{object}	BackupDocument
//	@Security		BearerAuth
//	@Router			/backup [get]
func (h *Handler) ExportBackup(w http.ResponseWriter, r *http.Request) {
	payload := h.svc.Export(r.Context())
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		writeError(w, "export backup", err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+merge.BackupFileName(h.svc.Now())+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ImportBackup handles POST /api/backup.
//
//	@Summary		Merge a backup into the store
//	@Tags			backup
//	@Accept			json
//	@Produce		json
//	@Param			body	body		BackupDocument	true	"Backup document"
//	@Success		200		{object}	ImportResponse
//	@Failure		400		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/backup [post]
func (h *Handler) ImportBackup(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}
	res, err := h.svc.Import(r.Context(), data)
	if err != nil {
		writeError(w, "import backup", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
