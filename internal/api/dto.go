package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/vidnotes/internal/models"
	"github.com/starford/vidnotes/internal/noteservice"
	"github.com/starford/vidnotes/internal/view"
)

const maxTitleLen = 500

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest struct {
	Timestamp *float64 `json:"timestamp" example:"83.5" validate:"required"`
	Text      string   `json:"text" example:"Key point about channels" validate:"required"`
	Title     string   `json:"title,omitempty" example:"Go Concurrency Patterns"`
}

// Validate checks the request shape. Blank text is left to the service.
func (r *CreateNoteRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Timestamp, validation.NotNil, validation.Min(0.0)),
		validation.Field(&r.Title, validation.Length(0, maxTitleLen)),
	)
}

// EditNoteRequest is the request body for editing a note.
type EditNoteRequest struct {
	Text  string `json:"text" example:"Updated text" validate:"required"`
	Title string `json:"title,omitempty" example:"Go Concurrency Patterns"`
}

// Validate checks the request shape.
func (r *EditNoteRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Title, validation.Length(0, maxTitleLen)),
	)
}

// MetadataRequest is the request body for refreshing a video's metadata.
type MetadataRequest struct {
	Title string `json:"title" example:"Go Concurrency Patterns" validate:"required"`
}

// Validate checks the request shape.
func (r *MetadataRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Title, validation.Required, validation.Length(1, maxTitleLen)),
	)
}

// Note is a stored note (aliased from the domain layer).
type Note = models.Note

// ImportResponse is returned after a successful import (aliased from the domain layer).
type ImportResponse = noteservice.ImportResult

// BackupDocument is the export payload (aliased from the domain layer).
type BackupDocument = models.BackupPayload

// VideoMatch is one video of the projection with its display caption.
type VideoMatch struct {
	view.Match
	Caption     string `json:"caption" example:"2 of 5 notes"`
	Abbreviated bool   `json:"abbreviated"`
}

// NotesResponse wraps the notes of one video.
type NotesResponse struct {
	VideoID string `json:"videoId" example:"dQw4w9WgXcQ" validate:"required"`
	Notes   []Note `json:"notes" validate:"required"`
}

func toVideoMatches(matches []view.Match) []VideoMatch {
	out := make([]VideoMatch, len(matches))
	for i, m := range matches {
		out[i] = VideoMatch{Match: m, Caption: m.Caption(), Abbreviated: m.ForceExpanded && m.Abbreviated()}
	}
	return out
}
