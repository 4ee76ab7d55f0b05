package vod

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"streamwatch/internal/platform/config"
)

func newTestSettings(t *testing.T) *config.SettingsStore {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	doc := fmt.Sprintf(`{"base_recordings_path": %q, "default_m3u8_path": %q}`,
		filepath.Join(dir, "rec"),
		filepath.Join(dir, "downloads"))
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	store := config.NewSettingsStore(path)
	if err := store.Load(); err != nil {
		t.Fatalf("load settings: %v", err)
	}
	return store
}

func newTestHandler(t *testing.T, finder *Finder) (*Handler, *Registry, *config.SettingsStore) {
	t.Helper()
	settings := newTestSettings(t)
	registry := newTestRegistry(&captureConcat{})
	return NewHandler(registry, finder, settings, testLogger()), registry, settings
}

func newTestRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Route("/vod", func(r chi.Router) {
		r.Post("/downloads", h.CreateDownload)
		r.Get("/downloads", h.ListDownloads)
		r.Route("/downloads/{id}", func(r chi.Router) {
			r.Get("/", h.GetDownload)
			r.Post("/pause", h.PauseDownload)
			r.Post("/resume", h.ResumeDownload)
			r.Post("/stop", h.StopDownload)
			r.Post("/abort", h.AbortDownload)
		})
		r.Post("/find", h.FindPlaylist)
	})
	return r
}

func postJSON(t *testing.T, r http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

// oneSegmentServer serves a single-segment playlist so created jobs finish
// quickly on their own.
func oneSegmentServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/index.m3u8" {
			w.Write([]byte(mediaPlaylist("0.ts")))
			return
		}
		w.Write([]byte("data"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHandler_CreateDownload_requires_url(t *testing.T) {
	h, _, _ := newTestHandler(t, nil)
	r := newTestRouter(h)

	rec := postJSON(t, r, "/vod/downloads", `{"channel": "somechannel"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["error"] != "url is required" {
		t.Errorf("error = %q", resp["error"])
	}
}

func TestHandler_CreateDownload_rejects_malformed_body(t *testing.T) {
	h, _, _ := newTestHandler(t, nil)
	r := newTestRouter(h)

	if rec := postJSON(t, r, "/vod/downloads", `{"url": `); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}
	if rec := postJSON(t, r, "/vod/downloads", `{"url": "x", "start": -3}`); rec.Code != http.StatusBadRequest {
		t.Errorf("negative start status = %d, want 400", rec.Code)
	}
	if rec := postJSON(t, r, "/vod/downloads", `{"url": "x", "start": 0, "duration": -1}`); rec.Code != http.StatusBadRequest {
		t.Errorf("negative duration status = %d, want 400", rec.Code)
	}
}

func TestHandler_CreateDownload_places_output_in_channel_vod_dir(t *testing.T) {
	srv := oneSegmentServer(t)
	h, registry, settings := newTestHandler(t, nil)
	r := newTestRouter(h)

	body := fmt.Sprintf(`{"url": %q, "channel": "SomeChannel", "output_name": "rescued"}`, srv.URL+"/index.m3u8")
	rec := postJSON(t, r, "/vod/downloads", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var snap Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	want := filepath.Join(settings.VODDir("somechannel"), "rescued.mp4")
	if snap.Output != want {
		t.Errorf("output = %s, want %s", snap.Output, want)
	}

	job, ok := registry.Get(snap.ID)
	if !ok {
		t.Fatalf("job %s not registered", snap.ID)
	}
	if got := waitJob(t, job); got.State != StateFinished {
		t.Fatalf("state = %s (%s), want finished", got.State, got.Message)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("output file missing: %v", err)
	}
}

func TestHandler_CreateDownload_generates_name_in_download_dir(t *testing.T) {
	srv := oneSegmentServer(t)
	h, registry, settings := newTestHandler(t, nil)
	r := newTestRouter(h)

	rec := postJSON(t, r, "/vod/downloads", fmt.Sprintf(`{"url": %q}`, srv.URL+"/index.m3u8"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var snap Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if filepath.Dir(snap.Output) != settings.M3U8Dir() {
		t.Errorf("output dir = %s, want %s", filepath.Dir(snap.Output), settings.M3U8Dir())
	}
	name := filepath.Base(snap.Output)
	if !strings.HasPrefix(name, "[VOD] vod - ") || filepath.Ext(name) != ".mp4" {
		t.Errorf("generated name = %q", name)
	}

	if job, ok := registry.Get(snap.ID); ok {
		job.Abort()
		<-job.Done()
	}
}

func TestHandler_CreateDownload_passes_trim_window(t *testing.T) {
	srv := oneSegmentServer(t)
	h, registry, _ := newTestHandler(t, nil)
	r := newTestRouter(h)

	// A start beyond the single ten-second segment leaves nothing to
	// download, which only happens when the trim window is honored.
	body := fmt.Sprintf(`{"url": %q, "start": 500, "duration": 10}`, srv.URL+"/index.m3u8")
	rec := postJSON(t, r, "/vod/downloads", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var snap Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}

	job, _ := registry.Get(snap.ID)
	got := waitJob(t, job)
	if got.State != StateFailed || got.Message != "No segments in specified time range" {
		t.Errorf("state = %s (%q)", got.State, got.Message)
	}
}

func TestHandler_ListDownloads_returns_snapshots(t *testing.T) {
	srv := oneSegmentServer(t)
	h, registry, _ := newTestHandler(t, nil)
	r := newTestRouter(h)

	job := registry.Create(Options{Source: srv.URL + "/index.m3u8", OutputPath: filepath.Join(t.TempDir(), "a.mp4")})
	waitJob(t, job)

	req := httptest.NewRequest(http.MethodGet, "/vod/downloads", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snaps []Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snaps); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(snaps) != 1 || snaps[0].ID != job.ID {
		t.Errorf("list = %+v, want single job %s", snaps, job.ID)
	}
}

func TestHandler_GetDownload_unknown_id(t *testing.T) {
	h, _, _ := newTestHandler(t, nil)
	r := newTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/vod/downloads/nope", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandler_control_endpoints_drive_job(t *testing.T) {
	g := newGate()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/index.m3u8" {
			w.Write([]byte(mediaPlaylist("0.ts", "1.ts")))
			return
		}
		g.block()
		w.Write([]byte("data"))
	}))
	defer srv.Close()
	defer close(g.release)

	h, registry, _ := newTestHandler(t, nil)
	r := newTestRouter(h)

	rec := postJSON(t, r, "/vod/downloads", fmt.Sprintf(`{"url": %q}`, srv.URL+"/index.m3u8"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var snap Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	g.waitReached(t)

	rec = postJSON(t, r, "/vod/downloads/"+snap.ID+"/pause", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("pause status = %d", rec.Code)
	}
	var paused Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&paused); err != nil {
		t.Fatalf("decode pause snapshot: %v", err)
	}
	if !paused.Paused {
		t.Error("pause response not marked paused")
	}

	if rec = postJSON(t, r, "/vod/downloads/"+snap.ID+"/resume", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("resume status = %d", rec.Code)
	}
	if rec = postJSON(t, r, "/vod/downloads/"+snap.ID+"/abort", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("abort status = %d", rec.Code)
	}

	job, _ := registry.Get(snap.ID)
	if got := waitJob(t, job); got.State != StateAborted {
		t.Errorf("state = %s, want aborted", got.State)
	}

	if rec = postJSON(t, r, "/vod/downloads/nope/stop", ""); rec.Code != http.StatusNotFound {
		t.Errorf("control on unknown id = %d, want 404", rec.Code)
	}
}

func TestHandler_FindPlaylist_validates_request(t *testing.T) {
	h, _, _ := newTestHandler(t, nil)
	r := newTestRouter(h)

	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing_streamer", `{"video_id": "1234567890", "timestamp": "2024-12-06 00:01:00"}`, "streamer is required"},
		{"short_video_id", `{"streamer": "x", "video_id": "12345", "timestamp": "2024-12-06 00:01:00"}`, "video_id must be a number with at least 10 digits"},
		{"non_numeric_video_id", `{"streamer": "x", "video_id": "123456789a", "timestamp": "2024-12-06 00:01:00"}`, "video_id must be a number with at least 10 digits"},
		{"bad_timestamp", `{"streamer": "x", "video_id": "1234567890", "timestamp": "06.12.2024"}`, "timestamp must be in format: YYYY-MM-DD HH:MM:SS"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(t, r, "/vod/find", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			var resp map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp["error"] != tc.want {
				t.Errorf("error = %q, want %q", resp["error"], tc.want)
			}
		})
	}
}

func TestHandler_FindPlaylist_returns_discovered_url(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == goldenPath {
			w.Write([]byte("#EXTM3U\n"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	h, _, _ := newTestHandler(t, newTestFinder(srv))
	r := newTestRouter(h)

	rec := postJSON(t, r, "/vod/find", `{"streamer": "SomeChannel", "video_id": "1234567890", "timestamp": "2024-12-06 00:01:00"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if want := srv.URL + goldenPath; resp["url"] != want {
		t.Errorf("url = %s, want %s", resp["url"], want)
	}
}

func TestHandler_FindPlaylist_reports_miss(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	h, _, _ := newTestHandler(t, newTestFinder(srv))
	r := newTestRouter(h)

	rec := postJSON(t, r, "/vod/find", `{"streamer": "somechannel", "video_id": "1234567890", "timestamp": "2024-12-06 00:01:00"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["error"] != "no valid playlist url found" {
		t.Errorf("error = %q", resp["error"])
	}
}

// Snapshot timestamps must serialize so clients can sort by creation time.
func TestSnapshot_serializes_created_at(t *testing.T) {
	snap := Snapshot{ID: "j1", CreatedAt: time.Date(2025, 6, 5, 12, 0, 0, 0, time.UTC)}
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"created_at":"2025-06-05T12:00:00Z"`) {
		t.Errorf("snapshot json = %s", data)
	}
}
