// Package videoid extracts a video id from a watch or shorts URL.
package videoid

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/starford/vidnotes/internal/apperr"
)

var shortsPath = regexp.MustCompile(`^/shorts/([A-Za-z0-9_-]+)`)

// Parse returns the v query parameter of rawURL, else the id in a
// /shorts/<id> path. A bare id is accepted as-is.
func Parse(rawURL string) (string, error) {
	s := strings.TrimSpace(rawURL)
	if s == "" {
		return "", apperr.ErrInvalidVideoID
	}
	if !strings.Contains(s, "/") && !strings.Contains(s, "?") {
		if validID(s) {
			return s, nil
		}
		return "", fmt.Errorf("%q: %w", rawURL, apperr.ErrInvalidVideoID)
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%q: %w", rawURL, apperr.ErrInvalidVideoID)
	}
	if v := strings.TrimSpace(u.Query().Get("v")); v != "" {
		return v, nil
	}
	if m := shortsPath.FindStringSubmatch(u.Path); m != nil {
		return m[1], nil
	}
	return "", fmt.Errorf("%q: %w", rawURL, apperr.ErrInvalidVideoID)
}

func validID(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
