// Package view derives the sorted, searchable list of videos with notes.
// Nothing computed here is persisted.
package view

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/starford/vidnotes/internal/models"
	"github.com/starford/vidnotes/internal/notestore"
	"github.com/starford/vidnotes/internal/parser"
	"github.com/starford/vidnotes/internal/watermark"
)

// Note is a note prepared for display.
type Note struct {
	ID                 string  `json:"id"`
	Timestamp          float64 `json:"timestamp"`
	FormattedTimestamp string  `json:"formattedTimestamp"`
	Text               string  `json:"text"`
	UpdatedAt          int64   `json:"updatedAt"`

	textLower string
}

// VideoSummary is one video in the list.
type VideoSummary struct {
	VideoID   string `json:"videoId"`
	Title     string `json:"title"`
	NoteCount int    `json:"noteCount"`
	UpdatedAt int64  `json:"updatedAt"`
	Notes     []Note `json:"notes"`
}

// Match is a summary selected by Filter together with the notes to show.
type Match struct {
	Video         VideoSummary `json:"video"`
	Notes         []Note       `json:"displayNotes"`
	ForceExpanded bool         `json:"forceExpanded"`
}

// Abbreviated reports whether only part of the video's notes are shown.
func (m Match) Abbreviated() bool {
	return len(m.Notes) != m.Video.NoteCount
}

// Caption describes how many notes are shown, e.g. "2 of 5 notes" or "1 note".
func (m Match) Caption() string {
	if m.ForceExpanded && m.Abbreviated() {
		return fmt.Sprintf("%d of %d notes", len(m.Notes), m.Video.NoteCount)
	}
	if m.Video.NoteCount == 1 {
		return "1 note"
	}
	return fmt.Sprintf("%d notes", m.Video.NoteCount)
}

// BuildSummaries normalizes every collection and returns one summary per
// video that has at least one valid note, newest first. Equal watermarks
// are ordered by title.
func BuildSummaries(notes map[string][]parser.RawNote, metadata models.MetadataMap) []VideoSummary {
	out := make([]VideoSummary, 0, len(notes))
	for videoID, raw := range notes {
		normalized := notestore.Normalize(videoID, raw)
		if len(normalized) == 0 {
			continue
		}

		var md *models.Metadata
		title := videoID
		if m, ok := metadata[videoID]; ok {
			md = &m
			if t := strings.TrimSpace(m.Title); t != "" {
				title = t
			}
		}

		display := make([]Note, len(normalized))
		for i, n := range normalized {
			display[i] = Note{
				ID:                 n.ID,
				Timestamp:          n.Timestamp,
				FormattedTimestamp: FormatTimestamp(n.Timestamp),
				Text:               notestore.DisplayText(n),
				UpdatedAt:          n.UpdatedAt,
				textLower:          strings.ToLower(strings.TrimSpace(n.Text)),
			}
		}

		out = append(out, VideoSummary{
			VideoID:   videoID,
			Title:     title,
			NoteCount: len(normalized),
			UpdatedAt: watermark.DerivedFreshness(md, normalized),
			Notes:     display,
		})
	}
	Sort(out)
	return out
}

// Sort orders summaries by descending UpdatedAt, then by title using
// locale-aware comparison, then by VideoID.
func Sort(summaries []VideoSummary) {
	col := collate.New(language.Und)
	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i], summaries[j]
		if a.UpdatedAt != b.UpdatedAt {
			return a.UpdatedAt > b.UpdatedAt
		}
		if c := col.CompareString(a.Title, b.Title); c != 0 {
			return c < 0
		}
		return a.VideoID < b.VideoID
	})
}

// Filter applies a search term. A blank term returns every summary with all
// of its notes. Otherwise a title match shows all notes of the video, a note
// match shows only the matching notes, and videos matching neither are
// dropped; every returned video is force-expanded.
func Filter(summaries []VideoSummary, term string) []Match {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		out := make([]Match, len(summaries))
		for i, v := range summaries {
			out[i] = Match{Video: v, Notes: v.Notes}
		}
		return out
	}

	out := make([]Match, 0, len(summaries))
	for _, v := range summaries {
		if strings.Contains(strings.ToLower(v.Title), term) {
			out = append(out, Match{Video: v, Notes: v.Notes, ForceExpanded: true})
			continue
		}
		var matching []Note
		for _, n := range v.Notes {
			if strings.Contains(n.textLower, term) {
				matching = append(matching, n)
			}
		}
		if len(matching) > 0 {
			out = append(out, Match{Video: v, Notes: matching, ForceExpanded: true})
		}
	}
	return out
}

// FormatTimestamp renders seconds as MM:SS, or HH:MM:SS from one hour up.
// Negative and non-finite values render as 00:00.
func FormatTimestamp(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return "00:00"
	}
	total := int64(math.Floor(seconds))
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
