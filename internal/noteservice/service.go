// Package noteservice runs every note and metadata operation as one
// read, compute, write cycle through the sync bridge.
package noteservice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/starford/vidnotes/internal/apperr"
	"github.com/starford/vidnotes/internal/merge"
	"github.com/starford/vidnotes/internal/models"
	"github.com/starford/vidnotes/internal/notestore"
	"github.com/starford/vidnotes/internal/parser"
	"github.com/starford/vidnotes/internal/storage"
	"github.com/starford/vidnotes/internal/syncbridge"
	"github.com/starford/vidnotes/internal/view"
	"github.com/starford/vidnotes/internal/watermark"
)

// DefaultTitle is stored when the first note of a video is created without a title.
const DefaultTitle = "Untitled video"

// ImportResult summarizes a completed import.
type ImportResult struct {
	Videos int `json:"videos"`
	Notes  int `json:"notes"`
	Added  int `json:"added"`
}

// Service coordinates the note store, the watermark and the merge engine.
//
// Both records are replaced whole on every write, so mu serializes all
// read-modify-write cycles in the process, not just those of one video.
type Service struct {
	bridge *syncbridge.Bridge
	notes  *notestore.Store
	logger *slog.Logger
	mu     sync.Mutex
}

// NewService creates a new note service. A nil store uses notestore.New.
func NewService(bridge *syncbridge.Bridge, store *notestore.Store, logger *slog.Logger) *Service {
	if store == nil {
		store = notestore.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{bridge: bridge, notes: store, logger: logger}
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time {
	return s.notes.Clock()
}

// NotesFor returns the sorted notes of one video.
func (s *Service) NotesFor(ctx context.Context, videoID string) ([]models.Note, error) {
	if err := checkVideoID(videoID); err != nil {
		return nil, err
	}
	st := s.load(ctx)
	return st.collection(videoID), nil
}

// CreateNote adds a note to videoID. title updates the video's metadata
// when non-blank.
func (s *Service) CreateNote(ctx context.Context, videoID string, timestamp float64, text, title string) (models.Note, error) {
	if err := checkVideoID(videoID); err != nil {
		return models.Note{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.load(ctx)
	notes, note, err := s.notes.Create(st.collection(videoID), timestamp, text)
	if err != nil {
		return models.Note{}, err
	}
	if err := s.commitVideo(ctx, st, videoID, notes, title, true); err != nil {
		return models.Note{}, err
	}
	return note, nil
}

// EditNote replaces the text of noteID.
func (s *Service) EditNote(ctx context.Context, videoID, noteID, text, title string) (models.Note, error) {
	if err := checkVideoID(videoID); err != nil {
		return models.Note{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.load(ctx)
	notes, note, err := s.notes.Edit(st.collection(videoID), noteID, text)
	if err != nil {
		return models.Note{}, err
	}
	if err := s.commitVideo(ctx, st, videoID, notes, title, true); err != nil {
		return models.Note{}, err
	}
	return note, nil
}

// DeleteNote removes noteID. Deleting the last note also removes the
// video's metadata record. Missing ids are not an error.
func (s *Service) DeleteNote(ctx context.Context, videoID, noteID string) error {
	if err := checkVideoID(videoID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.load(ctx)
	before := st.collection(videoID)
	after := notestore.Delete(before, noteID)
	return s.commitVideo(ctx, st, videoID, after, "", len(after) != len(before))
}

// RefreshVideo re-derives the metadata record of videoID from its notes,
// as done whenever the video is opened.
func (s *Service) RefreshVideo(ctx context.Context, videoID, title string) error {
	if err := checkVideoID(videoID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.load(ctx)
	return s.commitVideo(ctx, st, videoID, st.collection(videoID), title, false)
}

// ListVideos returns the projection of every video with notes, filtered by query.
func (s *Service) ListVideos(ctx context.Context, query string) []view.Match {
	st := s.load(ctx)
	return view.Filter(view.BuildSummaries(st.doc.Notes, st.metadata()), query)
}

// Snapshot returns the stored notes and metadata. Notes without a finite
// timestamp are left out; ids are kept as stored.
func (s *Service) Snapshot(ctx context.Context) models.Snapshot {
	st := s.load(ctx)
	notes := merge.Notes(st.doc.Notes, nil)
	for _, c := range notes {
		notestore.SortByTimestamp(c)
	}
	return models.Snapshot{Notes: notes, Metadata: st.metadata()}
}

// Export returns the backup document of the current snapshot.
func (s *Service) Export(ctx context.Context) models.BackupPayload {
	return merge.Export(s.Snapshot(ctx), s.notes.Clock())
}

// Import merges a backup document into the store in one write. A document
// that does not parse changes nothing.
func (s *Service) Import(ctx context.Context, data []byte) (ImportResult, error) {
	imported, err := parser.ParseBackup(data)
	if err != nil {
		return ImportResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.load(ctx)
	before := countNotes(merge.Notes(st.doc.Notes, nil))
	merged := merge.Merge(st.doc, imported)

	rec, err := encode(map[string]any{
		models.NotesKey:    merged.Notes,
		models.MetadataKey: merged.Metadata,
	})
	if err != nil {
		return ImportResult{}, err
	}
	if err := s.bridge.Write(ctx, rec); err != nil {
		return ImportResult{}, err
	}

	total := countNotes(merged.Notes)
	res := ImportResult{Videos: len(merged.Notes), Notes: total, Added: total - before}
	s.logger.Info("backup imported",
		slog.Int("videos", res.Videos), slog.Int("notes", res.Notes), slog.Int("added", res.Added))
	return res, nil
}

// commitVideo writes the new collection of videoID and its metadata record.
// Nothing is written when neither changed.
func (s *Service) commitVideo(ctx context.Context, st *state, videoID string, notes []models.Note, title string, notesChanged bool) error {
	current := models.MetadataMap{}
	if raw, ok := st.doc.Metadata[videoID]; ok {
		current[videoID] = raw.Metadata()
	}

	var patch *models.MetadataPatch
	if len(notes) > 0 {
		count := len(notes)
		patch = &models.MetadataPatch{NoteCount: &count}
		if t := strings.TrimSpace(title); t != "" {
			patch.Title = &t
		} else if _, ok := current[videoID]; !ok {
			t := DefaultTitle
			patch.Title = &t
		}
	}
	next, mdChanged := watermark.Upsert(current, videoID, patch, s.notes.Clock().UnixMilli())
	if !notesChanged && !mdChanged {
		return nil
	}

	rec := storage.Record{}
	if notesChanged {
		all := cloneRaw(st.rawNotes)
		if len(notes) == 0 {
			delete(all, videoID)
		} else {
			b, err := json.Marshal(notes)
			if err != nil {
				return fmt.Errorf("encode notes: %w", err)
			}
			all[videoID] = b
		}
		b, err := json.Marshal(all)
		if err != nil {
			return fmt.Errorf("encode notes: %w", err)
		}
		rec[models.NotesKey] = b
	}
	if mdChanged {
		all := cloneRaw(st.rawMetadata)
		if md, ok := next[videoID]; ok {
			b, err := json.Marshal(md)
			if err != nil {
				return fmt.Errorf("encode metadata: %w", err)
			}
			all[videoID] = b
		} else {
			delete(all, videoID)
		}
		b, err := json.Marshal(all)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		rec[models.MetadataKey] = b
	}
	return s.bridge.Write(ctx, rec)
}

// state is one read of both records.
type state struct {
	doc         *parser.Document
	rawNotes    map[string]json.RawMessage
	rawMetadata map[string]json.RawMessage
}

func (s *Service) load(ctx context.Context) *state {
	rec := s.bridge.Read(ctx, models.NotesKey, models.MetadataKey)
	return &state{
		doc:         parser.ParseRecord(rec),
		rawNotes:    rawObject(rec[models.NotesKey]),
		rawMetadata: rawObject(rec[models.MetadataKey]),
	}
}

func (st *state) collection(videoID string) []models.Note {
	return notestore.Normalize(videoID, st.doc.Notes[videoID])
}

func (st *state) metadata() models.MetadataMap {
	out := make(models.MetadataMap, len(st.doc.Metadata))
	for videoID, raw := range st.doc.Metadata {
		out[videoID] = raw.Metadata()
	}
	return out
}

func rawObject(raw json.RawMessage) map[string]json.RawMessage {
	out := map[string]json.RawMessage{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]json.RawMessage{}
	}
	return out
}

func cloneRaw(m map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func encode(values map[string]any) (storage.Record, error) {
	rec := make(storage.Record, len(values))
	for k, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
		rec[k] = b
	}
	return rec, nil
}

func countNotes(c models.NoteCollection) int {
	n := 0
	for _, notes := range c {
		n += len(notes)
	}
	return n
}

func checkVideoID(videoID string) error {
	if strings.TrimSpace(videoID) == "" {
		return apperr.ErrInvalidVideoID
	}
	return nil
}
