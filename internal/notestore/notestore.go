// Package notestore validates and edits the note collection of one video.
// Every operation returns a new slice; inputs are never modified.
package notestore

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/vidnotes/internal/apperr"
	"github.com/starford/vidnotes/internal/models"
	"github.com/starford/vidnotes/internal/parser"
)

// Placeholder is shown in place of blank note text. It is never stored.
const Placeholder = "(No text)"

// Store edits note collections. Clock and NewID are injectable for tests.
type Store struct {
	Clock func() time.Time
	NewID func() string
}

// New returns a Store using the wall clock and random UUIDs.
func New() *Store {
	return &Store{Clock: time.Now, NewID: uuid.NewString}
}

func (s *Store) now() int64 {
	return s.Clock().UnixMilli()
}

// Normalize keeps only raw notes with a finite timestamp, fills missing ids
// with FallbackID and sorts the result by timestamp.
//
// The fallback id is derived from position and timestamp, so two raw notes
// that end up at the same position with the same timestamp after independent
// edits get the same id.
func Normalize(videoID string, raw []parser.RawNote) []models.Note {
	out := make([]models.Note, 0, len(raw))
	for i, r := range raw {
		n, ok := r.Note()
		if !ok {
			continue
		}
		if strings.TrimSpace(n.ID) == "" {
			n.ID = FallbackID(videoID, i, n.Timestamp)
		}
		out = append(out, n)
	}
	SortByTimestamp(out)
	return out
}

// FallbackID builds the id used for a stored note that has none.
func FallbackID(videoID string, index int, timestamp float64) string {
	return fmt.Sprintf("%s-%d-%s", videoID, index, FormatNumber(timestamp))
}

// FormatNumber renders a number the shortest way that round-trips.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// DisplayText returns the text to show for a note.
func DisplayText(n models.Note) string {
	if strings.TrimSpace(n.Text) == "" {
		return Placeholder
	}
	return n.Text
}

// SortByTimestamp sorts notes ascending by timestamp, keeping the original
// order of equal timestamps.
func SortByTimestamp(notes []models.Note) {
	sort.SliceStable(notes, func(i, j int) bool {
		return notes[i].Timestamp < notes[j].Timestamp
	})
}

// Create appends a new note and returns the re-sorted collection along with
// the created note. Blank text fails with apperr.ErrEmptyText.
func (s *Store) Create(notes []models.Note, timestamp float64, text string) ([]models.Note, models.Note, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return notes, models.Note{}, apperr.ErrEmptyText
	}
	if math.IsNaN(timestamp) || math.IsInf(timestamp, 0) || timestamp < 0 {
		timestamp = 0
	}
	now := s.now()
	note := models.Note{
		ID:        s.NewID(),
		Timestamp: timestamp,
		Text:      text,
		CreatedAt: now,
		UpdatedAt: now,
	}
	out := make([]models.Note, 0, len(notes)+1)
	out = append(out, notes...)
	out = append(out, note)
	SortByTimestamp(out)
	return out, note, nil
}

// Edit replaces the text of the note with noteID. Only Text and UpdatedAt
// change. A missing id fails with apperr.ErrNotFound.
func (s *Store) Edit(notes []models.Note, noteID, text string) ([]models.Note, models.Note, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return notes, models.Note{}, apperr.ErrEmptyText
	}
	idx := indexOf(notes, noteID)
	if idx < 0 {
		return notes, models.Note{}, fmt.Errorf("note %s: %w", noteID, apperr.ErrNotFound)
	}
	out := append([]models.Note(nil), notes...)
	out[idx].Text = text
	out[idx].UpdatedAt = s.now()
	return out, out[idx], nil
}

// Delete returns the collection without noteID. Deleting a missing id is not an error.
func Delete(notes []models.Note, noteID string) []models.Note {
	out := make([]models.Note, 0, len(notes))
	for _, n := range notes {
		if n.ID != noteID {
			out = append(out, n)
		}
	}
	return out
}

func indexOf(notes []models.Note, id string) int {
	for i, n := range notes {
		if n.ID == id {
			return i
		}
	}
	return -1
}
