// Package models defines the domain types for vidnotes.
package models

// Storage keys of the two top-level persisted records.
const (
	NotesKey    = "videoNotes:notes"
	MetadataKey = "videoNotes:metadata"
)

// Note is one timestamped annotation on a video.
// Timestamp is seconds into the video; CreatedAt and UpdatedAt are epoch milliseconds.
type Note struct {
	ID        string  `json:"id"`
	Timestamp float64 `json:"timestamp"`
	Text      string  `json:"text"`
	CreatedAt int64   `json:"createdAt"`
	UpdatedAt int64   `json:"updatedAt"`
}

// NoteCollection maps a video id to its notes ordered by timestamp.
type NoteCollection map[string][]Note

// Metadata is the per-video aggregate record.
// UpdatedAt is nil when the stored value was absent or not a finite number.
type Metadata struct {
	Title     string `json:"title"`
	NoteCount int    `json:"noteCount"`
	UpdatedAt *int64 `json:"updatedAt,omitempty"`
}

// Freshness returns the record's watermark and whether it is set.
func (m Metadata) Freshness() (int64, bool) {
	if m.UpdatedAt == nil {
		return 0, false
	}
	return *m.UpdatedAt, true
}

// MetadataMap maps a video id to its metadata record.
type MetadataMap map[string]Metadata

// MetadataPatch is a shallow update of a Metadata record; nil fields are left untouched.
type MetadataPatch struct {
	Title     *string
	NoteCount *int
}

// Snapshot is the full persisted state at one point in time.
type Snapshot struct {
	Notes    NoteCollection
	Metadata MetadataMap
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Notes:    make(NoteCollection, len(s.Notes)),
		Metadata: make(MetadataMap, len(s.Metadata)),
	}
	for id, notes := range s.Notes {
		out.Notes[id] = append([]Note(nil), notes...)
	}
	for id, md := range s.Metadata {
		if md.UpdatedAt != nil {
			v := *md.UpdatedAt
			md.UpdatedAt = &v
		}
		out.Metadata[id] = md
	}
	return out
}

// Millis is a convenience for building a *int64 watermark.
func Millis(v int64) *int64 {
	return &v
}

// BackupPayload is the portable export document.
type BackupPayload struct {
	Notes      NoteCollection `json:"notes"`
	Metadata   MetadataMap    `json:"metadata"`
	ExportedAt string         `json:"exportedAt"`
}
