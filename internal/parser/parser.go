// Package parser decodes loosely-shaped stored records and backup documents
// into typed raw records. Nothing here fails on a malformed item: entries that
// are not JSON objects are skipped and fields of the wrong type read as absent.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cast"

	"github.com/starford/vidnotes/internal/apperr"
	"github.com/starford/vidnotes/internal/models"
)

// RawNote is a stored note before validation. Pointer fields are nil when the
// source value was missing or not a finite number.
type RawNote struct {
	ID        *string
	Timestamp *float64
	Text      string
	CreatedAt *float64
	UpdatedAt *float64
}

// RawMetadata is a stored metadata record before validation.
type RawMetadata struct {
	Title     *string
	NoteCount *float64
	UpdatedAt *float64
}

// Metadata converts the raw record into its typed form.
func (m RawMetadata) Metadata() models.Metadata {
	var out models.Metadata
	if m.Title != nil {
		out.Title = *m.Title
	}
	if m.NoteCount != nil {
		out.NoteCount = int(*m.NoteCount)
	}
	if m.UpdatedAt != nil {
		out.UpdatedAt = models.Millis(int64(*m.UpdatedAt))
	}
	return out
}

// FromMetadata is the inverse of RawMetadata.Metadata.
func FromMetadata(m models.Metadata) RawMetadata {
	title := m.Title
	count := float64(m.NoteCount)
	out := RawMetadata{Title: &title, NoteCount: &count}
	if ts, ok := m.Freshness(); ok {
		v := float64(ts)
		out.UpdatedAt = &v
	}
	return out
}

// Document is the decoded content of a storage snapshot or a backup file.
type Document struct {
	Notes      map[string][]RawNote
	Metadata   map[string]RawMetadata
	ExportedAt string
}

// ParseRecord decodes the two top-level storage records. Missing or
// non-object records decode as empty maps.
func ParseRecord(rec map[string]json.RawMessage) *Document {
	return &Document{
		Notes:    parseNotes(objectOrEmpty(rec[models.NotesKey])),
		Metadata: parseMetadata(objectOrEmpty(rec[models.MetadataKey])),
	}
}

// ParseBackup decodes a backup document. The root must be a JSON object;
// non-object notes or metadata fields are treated as empty maps.
func ParseBackup(data []byte) (*Document, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(data), &root); err != nil || root == nil {
		if err == nil {
			err = fmt.Errorf("root is not an object")
		}
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidBackupFormat, err)
	}
	var exportedAt string
	_ = json.Unmarshal(root["exportedAt"], &exportedAt)
	return &Document{
		Notes:      parseNotes(objectOrEmpty(root["notes"])),
		Metadata:   parseMetadata(objectOrEmpty(root["metadata"])),
		ExportedAt: exportedAt,
	}, nil
}

// objectOrEmpty returns the members of raw if it is a JSON object.
func objectOrEmpty(raw json.RawMessage) map[string]json.RawMessage {
	var obj map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &obj) != nil || obj == nil {
		return map[string]json.RawMessage{}
	}
	return obj
}

func parseNotes(obj map[string]json.RawMessage) map[string][]RawNote {
	out := make(map[string][]RawNote, len(obj))
	for videoID, raw := range obj {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil || items == nil {
			continue
		}
		notes := make([]RawNote, 0, len(items))
		for _, item := range items {
			var fields map[string]any
			if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
				continue
			}
			notes = append(notes, RawNote{
				ID:        stringField(fields, "id"),
				Timestamp: numberField(fields, "timestamp"),
				Text:      textField(fields, "text"),
				CreatedAt: numberField(fields, "createdAt"),
				UpdatedAt: numberField(fields, "updatedAt"),
			})
		}
		out[videoID] = notes
	}
	return out
}

func parseMetadata(obj map[string]json.RawMessage) map[string]RawMetadata {
	out := make(map[string]RawMetadata, len(obj))
	for videoID, raw := range obj {
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
			continue
		}
		out[videoID] = RawMetadata{
			Title:     stringField(fields, "title"),
			NoteCount: numberField(fields, "noteCount"),
			UpdatedAt: numberField(fields, "updatedAt"),
		}
	}
	return out
}

func stringField(fields map[string]any, name string) *string {
	s, ok := fields[name].(string)
	if !ok {
		return nil
	}
	return &s
}

func textField(fields map[string]any, name string) string {
	s, _ := fields[name].(string)
	return s
}

// numberField coerces numbers and numeric strings; null, missing, blank, and
// non-finite values read as absent. A null timestamp is therefore never
// taken as 0.
func numberField(fields map[string]any, name string) *float64 {
	v, ok := fields[name]
	if !ok || v == nil {
		return nil
	}
	if s, isString := v.(string); isString {
		v = strings.TrimSpace(s)
		if v == "" {
			return nil
		}
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// Note converts the raw note into a typed note. It reports false when the
// timestamp is missing or not finite. UpdatedAt falls back to CreatedAt,
// then to zero; the id is copied as given and may be empty.
func (n RawNote) Note() (models.Note, bool) {
	if n.Timestamp == nil {
		return models.Note{}, false
	}
	note := models.Note{
		Timestamp: *n.Timestamp,
		Text:      n.Text,
	}
	if n.ID != nil {
		note.ID = *n.ID
	}
	if n.CreatedAt != nil {
		note.CreatedAt = int64(*n.CreatedAt)
	}
	switch {
	case n.UpdatedAt != nil:
		note.UpdatedAt = int64(*n.UpdatedAt)
	case n.CreatedAt != nil:
		note.UpdatedAt = int64(*n.CreatedAt)
	}
	return note, true
}

// FromNote is the inverse of RawNote.Note.
func FromNote(n models.Note) RawNote {
	id := n.ID
	ts := n.Timestamp
	created := float64(n.CreatedAt)
	updated := float64(n.UpdatedAt)
	return RawNote{ID: &id, Timestamp: &ts, Text: n.Text, CreatedAt: &created, UpdatedAt: &updated}
}
