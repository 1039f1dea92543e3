// Package merge reconciles the stored snapshot with an imported backup.
//
// Notes are merged as an identity-based union in which local notes win: an
// imported note is appended only when its dedup key is not already present.
// Metadata is merged last-writer-wins on UpdatedAt. Notes are never merged
// field by field.
package merge

import (
	"strconv"
	"strings"
	"time"

	"github.com/starford/vidnotes/internal/models"
	"github.com/starford/vidnotes/internal/notestore"
	"github.com/starford/vidnotes/internal/parser"
)

// ExportedAtLayout is the ISO-8601 layout of BackupPayload.ExportedAt.
const ExportedAtLayout = "2006-01-02T15:04:05.000Z"

// DedupKey derives the identity of a note for merging. It reports false
// for notes that have neither an id, a finite timestamp, nor text.
func DedupKey(n parser.RawNote) (string, bool) {
	if n.ID != nil {
		if id := strings.TrimSpace(*n.ID); id != "" {
			return "id:" + id, true
		}
	}
	text := strings.ToLower(strings.TrimSpace(n.Text))
	if n.Timestamp == nil && text == "" {
		return "", false
	}
	ts := "na"
	if n.Timestamp != nil {
		ts = notestore.FormatNumber(*n.Timestamp)
	}
	return "fallback:" + ts + ":" + text, true
}

// Notes merges imported notes into the existing collections. Existing notes
// are kept as stored; imported notes without a key, with a key already seen,
// or without a finite timestamp are discarded. Videos left without any
// valid note are omitted.
//
// Each merged collection is stable-sorted by timestamp after the imported
// notes are appended, so existing notes keep their relative order but
// imported notes may land between them.
func Notes(existing, imported map[string][]parser.RawNote) models.NoteCollection {
	merged := make(models.NoteCollection, len(existing)+len(imported))
	seen := make(map[string]map[string]struct{}, len(existing))

	for videoID, raw := range existing {
		keys := make(map[string]struct{}, len(raw))
		notes := make([]models.Note, 0, len(raw))
		for _, r := range raw {
			if key, ok := DedupKey(r); ok {
				keys[key] = struct{}{}
			}
			if n, ok := r.Note(); ok {
				notes = append(notes, n)
			}
		}
		seen[videoID] = keys
		if len(notes) > 0 {
			merged[videoID] = notes
		}
	}

	for videoID, raw := range imported {
		if len(raw) == 0 {
			continue
		}
		keys := seen[videoID]
		if keys == nil {
			keys = make(map[string]struct{}, len(raw))
			seen[videoID] = keys
		}
		combined := append([]models.Note(nil), merged[videoID]...)
		for _, r := range raw {
			key, ok := DedupKey(r)
			if !ok {
				continue
			}
			if _, dup := keys[key]; dup {
				continue
			}
			keys[key] = struct{}{}
			if n, valid := r.Note(); valid {
				combined = append(combined, n)
			}
		}
		if len(combined) == 0 {
			continue
		}
		notestore.SortByTimestamp(combined)
		merged[videoID] = combined
	}

	return merged
}

// Metadata merges imported records over the existing ones. A record with no
// baseline is adopted as is; otherwise the imported fields replace the
// baseline's only when the imported UpdatedAt is finite and either newer than
// the baseline's or the baseline has none. Every video with merged notes then
// has NoteCount forced to its note count.
//
// Records of videos without notes are kept, unlike the live delete path which
// removes them.
func Metadata(existing, imported map[string]parser.RawMetadata, notes models.NoteCollection) models.MetadataMap {
	baseline := make(map[string]parser.RawMetadata, len(existing)+len(imported))
	for videoID, md := range existing {
		baseline[videoID] = md
	}

	for videoID, md := range imported {
		current, ok := baseline[videoID]
		if !ok {
			baseline[videoID] = md
			continue
		}
		if md.UpdatedAt == nil {
			continue
		}
		if current.UpdatedAt != nil && *md.UpdatedAt <= *current.UpdatedAt {
			continue
		}
		baseline[videoID] = overlay(current, md)
	}

	out := make(models.MetadataMap, len(baseline))
	for videoID, md := range baseline {
		out[videoID] = md.Metadata()
	}
	for videoID, ns := range notes {
		if len(ns) == 0 {
			continue
		}
		md := out[videoID]
		md.NoteCount = len(ns)
		out[videoID] = md
	}
	return out
}

// overlay copies every field present in top over base.
func overlay(base, top parser.RawMetadata) parser.RawMetadata {
	if top.Title != nil {
		base.Title = top.Title
	}
	if top.NoteCount != nil {
		base.NoteCount = top.NoteCount
	}
	if top.UpdatedAt != nil {
		base.UpdatedAt = top.UpdatedAt
	}
	return base
}

// Merge reconciles the current snapshot with an imported document.
func Merge(current, imported *parser.Document) models.Snapshot {
	notes := Notes(current.Notes, imported.Notes)
	return models.Snapshot{
		Notes:    notes,
		Metadata: Metadata(current.Metadata, imported.Metadata, notes),
	}
}

// Export builds a backup payload from a snapshot.
func Export(s models.Snapshot, now time.Time) models.BackupPayload {
	c := s.Clone()
	return models.BackupPayload{
		Notes:      c.Notes,
		Metadata:   c.Metadata,
		ExportedAt: now.UTC().Format(ExportedAtLayout),
	}
}

// BackupFileName is the suggested file name for an export made at now.
func BackupFileName(now time.Time) string {
	return "video-notes-backup-" + strconv.FormatInt(now.UnixMilli(), 10) + ".json"
}
