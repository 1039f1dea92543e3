package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/vidnotes/internal/models"
	"github.com/starford/vidnotes/internal/testutil"
)

// testEnv sets up an in-memory service and router for testing.
// An empty authToken means disabled mode; otherwise token mode.
func testEnv(t *testing.T, authToken string) (*testutil.Env, http.Handler) {
	t.Helper()
	env := testutil.NewEnv(t)
	router := NewRouter(env.Service, authToken != "", authToken, nil)
	return env, router
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createNote(t *testing.T, router http.Handler, video string, ts float64, text, title string) Note {
	t.Helper()
	w := do(t, router, http.MethodPost, "/videos/"+video+"/notes",
		map[string]any{"timestamp": ts, "text": text, "title": title})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var n Note
	if err := json.Unmarshal(w.Body.Bytes(), &n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestCreateAndListNotes(t *testing.T) {
	_, router := testEnv(t, "")

	createNote(t, router, "vid1", 90, "later", "Talk")
	first := createNote(t, router, "vid1", 10, "earlier", "")
	if first.ID == "" || first.CreatedAt == 0 {
		t.Fatalf("note not populated: %+v", first)
	}

	w := do(t, router, http.MethodGet, "/videos/vid1/notes", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var resp NotesResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Notes) != 2 {
		t.Fatalf("notes = %d, want 2", len(resp.Notes))
	}
	if resp.Notes[0].Text != "earlier" {
		t.Errorf("notes not sorted by timestamp: %+v", resp.Notes)
	}
}

func TestCreateNote_Validation(t *testing.T) {
	_, router := testEnv(t, "")

	cases := map[string]any{
		"missing timestamp":  map[string]any{"text": "x"},
		"negative timestamp": map[string]any{"timestamp": -1, "text": "x"},
		"blank text":         map[string]any{"timestamp": 1, "text": "   "},
		"bad json":           "{",
	}
	for name, body := range cases {
		w := do(t, router, http.MethodPost, "/videos/vid/notes", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400 (body %s)", name, w.Code, w.Body.String())
		}
	}

	w := do(t, router, http.MethodGet, "/videos/vid/notes", nil)
	var resp NotesResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Notes) != 0 {
		t.Errorf("rejected requests must not write, got %d notes", len(resp.Notes))
	}
}

func TestEditNote(t *testing.T) {
	_, router := testEnv(t, "")
	n := createNote(t, router, "vid", 5, "draft", "T")

	w := do(t, router, http.MethodPut, "/videos/vid/notes/"+n.ID, map[string]string{"text": "final"})
	if w.Code != http.StatusOK {
		t.Fatalf("edit status = %d, body = %s", w.Code, w.Body.String())
	}
	var edited Note
	_ = json.Unmarshal(w.Body.Bytes(), &edited)
	if edited.Text != "final" || edited.ID != n.ID || edited.Timestamp != n.Timestamp {
		t.Errorf("edited = %+v", edited)
	}
}

func TestEditNote_NotFound(t *testing.T) {
	_, router := testEnv(t, "")
	createNote(t, router, "vid", 5, "draft", "T")

	w := do(t, router, http.MethodPut, "/videos/vid/notes/ghost", map[string]string{"text": "x"})
	if w.Code != http.StatusNotFound {
		t.Errorf("edit missing = %d, want 404", w.Code)
	}
}

func TestDeleteNote(t *testing.T) {
	_, router := testEnv(t, "")
	n := createNote(t, router, "vid", 5, "bye", "T")

	w := do(t, router, http.MethodDelete, "/videos/vid/notes/"+n.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}

	// Idempotent.
	w = do(t, router, http.MethodDelete, "/videos/vid/notes/"+n.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("second delete = %d, want 204", w.Code)
	}

	w = do(t, router, http.MethodGet, "/videos", nil)
	var videos []VideoMatch
	_ = json.Unmarshal(w.Body.Bytes(), &videos)
	if len(videos) != 0 {
		t.Errorf("videos = %d, want 0 after deleting the last note", len(videos))
	}
}

func TestListVideos_Search(t *testing.T) {
	_, router := testEnv(t, "")
	createNote(t, router, "a", 1, "mutex basics", "Locks")
	createNote(t, router, "b", 1, "channel axioms", "Channels")
	createNote(t, router, "b", 2, "nil channels block", "")

	w := do(t, router, http.MethodGet, "/videos", nil)
	var all []VideoMatch
	_ = json.Unmarshal(w.Body.Bytes(), &all)
	if len(all) != 2 {
		t.Fatalf("videos = %d, want 2", len(all))
	}
	if all[0].Video.VideoID != "b" {
		t.Errorf("first video = %q, want most recent b", all[0].Video.VideoID)
	}

	w = do(t, router, http.MethodGet, "/videos?q=NIL", nil)
	var hits []VideoMatch
	_ = json.Unmarshal(w.Body.Bytes(), &hits)
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(hits))
	}
	if len(hits[0].Notes) != 1 || !hits[0].ForceExpanded || !hits[0].Abbreviated {
		t.Errorf("hit = %+v", hits[0])
	}
	if hits[0].Caption != "1 of 2 notes" {
		t.Errorf("caption = %q", hits[0].Caption)
	}

	w = do(t, router, http.MethodGet, "/videos?q=locks", nil)
	hits = nil
	_ = json.Unmarshal(w.Body.Bytes(), &hits)
	if len(hits) != 1 || hits[0].Video.VideoID != "a" || len(hits[0].Notes) != 1 {
		t.Errorf("title match = %+v", hits)
	}
}

func TestRefreshVideo(t *testing.T) {
	env, router := testEnv(t, "")
	createNote(t, router, "vid", 1, "x", "Old title")

	w := do(t, router, http.MethodPut, "/videos/vid/metadata", map[string]string{"title": "New title"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("refresh status = %d, body = %s", w.Code, w.Body.String())
	}
	matches := env.Service.ListVideos(context.Background(), "")
	if len(matches) != 1 || matches[0].Video.Title != "New title" {
		t.Errorf("matches = %+v", matches)
	}

	w = do(t, router, http.MethodPut, "/videos/vid/metadata", map[string]string{"title": ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank title = %d, want 400", w.Code)
	}
}

func TestBackupRoundTrip(t *testing.T) {
	_, router := testEnv(t, "")
	createNote(t, router, "vid", 3, "keep me", "T")

	w := do(t, router, http.MethodGet, "/backup", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export status = %d", w.Code)
	}
	cd := w.Header().Get("Content-Disposition")
	if !strings.Contains(cd, "video-notes-backup-") || !strings.HasSuffix(cd, `.json"`) {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if !strings.Contains(w.Body.String(), "\n  \"notes\"") {
		t.Errorf("export should be indented: %s", w.Body.String())
	}
	var doc BackupDocument
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	if len(doc.Notes["vid"]) != 1 || doc.ExportedAt == "" {
		t.Fatalf("doc = %+v", doc)
	}

	w = do(t, router, http.MethodPost, "/backup", w.Body.String())
	if w.Code != http.StatusOK {
		t.Fatalf("import status = %d, body = %s", w.Code, w.Body.String())
	}
	var res ImportResponse
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if res.Added != 0 || res.Notes != 1 {
		t.Errorf("re-import of own export = %+v, want no additions", res)
	}
}

func TestImportBackup_InvalidFormat(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/backup", `[1,2,3]`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("array root = %d, want 400", w.Code)
	}
}

func TestImportBackup_NewNotes(t *testing.T) {
	_, router := testEnv(t, "")
	doc := map[string]any{
		"notes": map[string]any{
			"imp": []map[string]any{{"id": "x1", "timestamp": 4, "text": "from backup"}},
		},
		"metadata":   map[string]any{"imp": map[string]any{"title": "Imported", "noteCount": 7, "updatedAt": 5}},
		"exportedAt": "2024-01-01T00:00:00.000Z",
	}
	w := do(t, router, http.MethodPost, "/backup", doc)
	if w.Code != http.StatusOK {
		t.Fatalf("import status = %d, body = %s", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodGet, "/videos", nil)
	var videos []VideoMatch
	_ = json.Unmarshal(w.Body.Bytes(), &videos)
	if len(videos) != 1 || videos[0].Video.Title != "Imported" || videos[0].Video.NoteCount != 1 {
		t.Errorf("videos = %+v", videos)
	}
}

func TestStorageFailure_Returns503(t *testing.T) {
	env, router := testEnv(t, "")
	env.Store.FailWith(nil, errors.New("disk full"))

	w := do(t, router, http.MethodPost, "/videos/vid/notes", map[string]any{"timestamp": 1, "text": "x"})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("write failure = %d, want 503", w.Code)
	}
}

func TestStorageFailure_ReadDegrades(t *testing.T) {
	env, router := testEnv(t, "")
	createNote(t, router, "vid", 1, "x", "")
	env.Store.FailWith(errors.New("unavailable"), nil)

	w := do(t, router, http.MethodGet, "/videos", nil)
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("degraded list = %d %s", w.Code, w.Body.String())
	}
}

func TestTokenAuth_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	body, _ := json.Marshal(map[string]any{"timestamp": 1, "text": "test"})
	req := httptest.NewRequest(http.MethodPost, "/videos/vid/notes", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Errorf("authed create = %d, want 201", w.Code)
	}
}

func TestTokenAuth_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	w := do(t, router, http.MethodGet, "/videos", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestTokenAuth_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/videos", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestTokenAuth_Disabled(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/videos", nil)
	if w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// SSE endpoint tests.

func testEnvWithSSE(t *testing.T, authEnabled bool, token string) (*testutil.Env, http.Handler) {
	t.Helper()
	env := testutil.NewEnv(t)
	return env, NewRouter(env.Service, authEnabled, token, env.Broker)
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "secret")

	w := do(t, router, http.MethodGet, "/events", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "tok")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}

func TestSSEEvents_StreamsStorageChanges(t *testing.T) {
	env, router := testEnvWithSSE(t, false, "")

	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	// Wait for the subscription to register before writing.
	deadline := time.Now().Add(time.Second)
	for env.Broker.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := env.Service.CreateNote(context.Background(), "vid", 1, "x", ""); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 4096)
	var got strings.Builder
	for !strings.Contains(got.String(), models.MetadataKey) {
		n, err := resp.Body.Read(buf)
		got.Write(buf[:n])
		if err != nil {
			break
		}
	}
	if !strings.Contains(got.String(), "event: storage.changed") {
		t.Errorf("stream = %q", got.String())
	}
}

func TestTokenAuth_SchemeCaseInsensitive(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/videos", nil)
	req.Header.Set("Authorization", "bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("lowercase scheme = %d, want 200", w.Code)
	}
}

func TestTokenAuth_ChallengeHeader(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/videos", nil)
	req.Header.Set("Authorization", "Basic c2VjcmV0MTIz")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("basic scheme = %d, want 401", w.Code)
	}
	if !strings.HasPrefix(w.Header().Get("WWW-Authenticate"), "Bearer") {
		t.Errorf("WWW-Authenticate = %q", w.Header().Get("WWW-Authenticate"))
	}
}

func TestTokenAuth_QueryTokenOnlyForEvents(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "tok")

	w := do(t, router, http.MethodGet, "/videos?access_token=tok", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("query token on /videos = %d, want 401", w.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events?access_token=tok", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("query token on /events = %d, want 200", rec.Code)
	}
}
