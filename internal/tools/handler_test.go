package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newTestHandler(t *testing.T) (*Handler, *Manager, *fakeLauncher) {
	t.Helper()
	box, manager, launcher, _ := newTestToolbox(t)
	return NewHandler(box, manager, testLogger()), manager, launcher
}

func newTestRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Route("/tools", func(r chi.Router) {
		r.Post("/frames", h.ExtractFrames)
		r.Post("/trim", h.TrimVideo)
		r.Get("/runs", h.ListRuns)
		r.Delete("/runs/{id}", h.CancelRun)
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

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var m map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&m); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return m
}

func TestHandler_ExtractFrames_accepts_request(t *testing.T) {
	h, manager, launcher := newTestHandler(t)
	r := newTestRouter(h)
	video := testVideo(t, "cap.mp4")

	rec := postJSON(t, r, "/tools/frames", fmt.Sprintf(`{"video_path": %q, "fps": 2}`, video))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	resp := decodeMap(t, rec)
	if !strings.HasPrefix(resp["id"], "frames-") {
		t.Errorf("id = %q, want frames- prefix", resp["id"])
	}
	if !strings.Contains(resp["output_dir"], "[Frames] cap - frames - 2fps") {
		t.Errorf("output_dir = %q", resp["output_dir"])
	}

	waitLaunch(t, launcher, 1).exit(nil)
	run, ok := manager.Get(resp["id"])
	if !ok {
		t.Fatalf("run %s not registered", resp["id"])
	}
	waitRun(t, run)
}

func TestHandler_ExtractFrames_validates_request(t *testing.T) {
	h, _, _ := newTestHandler(t)
	r := newTestRouter(h)
	video := testVideo(t, "cap.mp4")

	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing_path", `{"fps": 2}`, "video_path is required"},
		{"unknown_video", `{"video_path": "/no/such/file.mp4"}`, "video file not found"},
		{"unknown_method", fmt.Sprintf(`{"video_path": %q, "method": "mosaic"}`, video), "unknown extraction method"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(t, r, "/tools/frames", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if resp := decodeMap(t, rec); resp["error"] != tc.want {
				t.Errorf("error = %q, want %q", resp["error"], tc.want)
			}
		})
	}

	if rec := postJSON(t, r, "/tools/frames", `{"video_path": `); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}
}

func TestHandler_TrimVideo_accepts_request(t *testing.T) {
	h, manager, launcher := newTestHandler(t)
	r := newTestRouter(h)
	video := testVideo(t, "cap.mkv")

	body := fmt.Sprintf(`{"video_path": %q, "start_seconds": 65, "end_seconds": 130}`, video)
	rec := postJSON(t, r, "/tools/trim", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	resp := decodeMap(t, rec)
	if !strings.HasPrefix(resp["id"], "trim-") {
		t.Errorf("id = %q, want trim- prefix", resp["id"])
	}
	if !strings.HasSuffix(resp["output_path"], "[Trim] cap - 00-01-05 - 00-02-10.mkv") {
		t.Errorf("output_path = %q", resp["output_path"])
	}

	waitLaunch(t, launcher, 1).exit(nil)
	run, _ := manager.Get(resp["id"])
	if snap := waitRun(t, run); snap.Message != "Video trimmed successfully" {
		t.Errorf("message = %q", snap.Message)
	}
}

func TestHandler_TrimVideo_rejects_bad_window(t *testing.T) {
	h, _, _ := newTestHandler(t)
	r := newTestRouter(h)
	video := testVideo(t, "cap.mp4")

	body := fmt.Sprintf(`{"video_path": %q, "start_seconds": 90, "end_seconds": 30}`, video)
	rec := postJSON(t, r, "/tools/trim", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp := decodeMap(t, rec); resp["error"] != "end time must be greater than start time" {
		t.Errorf("error = %q", resp["error"])
	}
}

func TestHandler_runs_lifecycle(t *testing.T) {
	h, manager, launcher := newTestHandler(t)
	r := newTestRouter(h)
	video := testVideo(t, "cap.mp4")

	rec := postJSON(t, r, "/tools/frames", fmt.Sprintf(`{"video_path": %q}`, video))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("create status = %d", rec.Code)
	}
	id := decodeMap(t, rec)["id"]
	waitLaunch(t, launcher, 1)

	req := httptest.NewRequest(http.MethodGet, "/tools/runs", nil)
	list := httptest.NewRecorder()
	r.ServeHTTP(list, req)
	if list.Code != http.StatusOK {
		t.Fatalf("list status = %d", list.Code)
	}
	var snaps []RunSnapshot
	if err := json.NewDecoder(list.Body).Decode(&snaps); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(snaps) != 1 || snaps[0].ID != id || snaps[0].State != RunRunning {
		t.Fatalf("list = %+v, want one running run %s", snaps, id)
	}

	req = httptest.NewRequest(http.MethodDelete, "/tools/runs/"+id, nil)
	del := httptest.NewRecorder()
	r.ServeHTTP(del, req)
	if del.Code != http.StatusAccepted {
		t.Fatalf("cancel status = %d", del.Code)
	}

	run, _ := manager.Get(id)
	if snap := waitRun(t, run); snap.State != RunStopped {
		t.Errorf("state after cancel = %s, want stopped", snap.State)
	}

	req = httptest.NewRequest(http.MethodDelete, "/tools/runs/unknown", nil)
	del = httptest.NewRecorder()
	r.ServeHTTP(del, req)
	if del.Code != http.StatusNotFound {
		t.Errorf("cancel unknown status = %d, want 404", del.Code)
	}
}
