// Package watermark maintains per-video metadata records and their freshness.
package watermark

import (
	"github.com/starford/vidnotes/internal/models"
)

// Upsert applies patch to the record for videoID and returns the resulting
// map and whether anything changed. A nil patch removes the record.
//
// UpdatedAt is set to now only when a patched field differs from the current
// record, so re-saving identical values leaves the watermark alone. The input
// map is never modified.
func Upsert(all models.MetadataMap, videoID string, patch *models.MetadataPatch, now int64) (models.MetadataMap, bool) {
	current, exists := all[videoID]

	if patch == nil {
		if !exists {
			return all, false
		}
		out := clone(all)
		delete(out, videoID)
		return out, true
	}

	changed := !exists
	next := current
	if patch.Title != nil {
		changed = changed || *patch.Title != current.Title
		next.Title = *patch.Title
	}
	if patch.NoteCount != nil {
		changed = changed || *patch.NoteCount != current.NoteCount
		next.NoteCount = *patch.NoteCount
	}
	if !changed {
		return all, false
	}

	next.UpdatedAt = models.Millis(now)
	out := clone(all)
	out[videoID] = next
	return out, true
}

// DerivedFreshness is the watermark used for ordering a video: the largest of
// the record's UpdatedAt and every positive note UpdatedAt, or zero.
func DerivedFreshness(md *models.Metadata, notes []models.Note) int64 {
	var (
		best  int64
		found bool
	)
	if md != nil {
		if ts, ok := md.Freshness(); ok {
			best, found = ts, true
		}
	}
	for _, n := range notes {
		if n.UpdatedAt > 0 && (!found || n.UpdatedAt > best) {
			best, found = n.UpdatedAt, true
		}
	}
	if !found {
		return 0
	}
	return best
}

func clone(all models.MetadataMap) models.MetadataMap {
	out := make(models.MetadataMap, len(all)+1)
	for k, v := range all {
		out[k] = v
	}
	return out
}
