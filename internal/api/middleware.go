package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenAuth guards the note API with a shared token. When enabled is false
// every request passes. Otherwise the token must arrive as
// "Authorization: Bearer <token>" (scheme matched case-insensitively) or, for
// the event stream, as the access_token query parameter since browser
// EventSource clients cannot set headers.
func TokenAuth(enabled bool, token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}
			got, ok := requestToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="vidnotes"`)
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestToken(r *http.Request) (string, bool) {
	if scheme, cred, found := strings.Cut(r.Header.Get("Authorization"), " "); found {
		if strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(cred) != "" {
			return strings.TrimSpace(cred), true
		}
		return "", false
	}
	if strings.HasSuffix(r.URL.Path, "/events") {
		if tok := r.URL.Query().Get("access_token"); tok != "" {
			return tok, true
		}
	}
	return "", false
}
