package tools

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the video toolbox endpoints using go-chi.
type Handler struct {
	toolbox *Toolbox
	manager *Manager
	log     *slog.Logger
}

// NewHandler returns a Handler over the given toolbox and run manager.
func NewHandler(toolbox *Toolbox, manager *Manager, log *slog.Logger) *Handler {
	return &Handler{toolbox: toolbox, manager: manager, log: log}
}

// ExtractFrames handles POST /tools/frames.
// Body: { "video_path": "/videos/cap.mp4", "method": "frames",
// "fps": 2, "threshold": 0.3 }. Only video_path is required.
func (h *Handler) ExtractFrames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		VideoPath string  `json:"video_path"`
		Method    string  `json:"method"`
		FPS       float64 `json:"fps"`
		Threshold float64 `json:"threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid frames body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if req.VideoPath == "" {
		h.writeError(w, http.StatusBadRequest, "video_path is required")
		return
	}

	run, err := h.toolbox.ExtractFrames(r.Context(), FramesRequest{
		VideoPath: req.VideoPath,
		Method:    req.Method,
		FPS:       req.FPS,
		Threshold: req.Threshold,
	})
	if !h.started(w, run, err) {
		return
	}

	h.log.Info("frame extraction requested",
		slog.String("run", run.ID),
		slog.String("video", req.VideoPath),
		slog.String("output", run.Output))
	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"id":         run.ID,
		"output_dir": run.Output,
	})
}

// TrimVideo handles POST /tools/trim.
// Body: { "video_path": "/videos/cap.mp4", "start_seconds": 65,
// "end_seconds": 130 }.
func (h *Handler) TrimVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		VideoPath    string  `json:"video_path"`
		StartSeconds float64 `json:"start_seconds"`
		EndSeconds   float64 `json:"end_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid trim body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if req.VideoPath == "" {
		h.writeError(w, http.StatusBadRequest, "video_path is required")
		return
	}

	run, err := h.toolbox.TrimVideo(r.Context(), TrimRequest{
		VideoPath:    req.VideoPath,
		StartSeconds: req.StartSeconds,
		EndSeconds:   req.EndSeconds,
	})
	if !h.started(w, run, err) {
		return
	}

	h.log.Info("trim requested",
		slog.String("run", run.ID),
		slog.String("video", req.VideoPath),
		slog.String("output", run.Output))
	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"id":          run.ID,
		"output_path": run.Output,
	})
}

// started maps toolbox errors onto responses and reports whether a run
// was produced.
func (h *Handler) started(w http.ResponseWriter, run *Run, err error) bool {
	switch {
	case errors.Is(err, ErrVideoNotFound),
		errors.Is(err, ErrUnknownMethod),
		errors.Is(err, ErrBadWindow):
		h.writeError(w, http.StatusBadRequest, err.Error())
		return false
	case err != nil:
		// Request context died before the run could start.
		return false
	case run == nil:
		w.WriteHeader(http.StatusInternalServerError)
		return false
	}
	return true
}

// ListRuns handles GET /tools/runs.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	runs := h.manager.List()
	snaps := make([]RunSnapshot, 0, len(runs))
	for _, run := range runs {
		snaps = append(snaps, run.Snapshot())
	}
	h.writeJSON(w, http.StatusOK, snaps)
}

// CancelRun handles DELETE /tools/runs/{id}.
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	run, ok := h.manager.Cancel(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	h.log.Info("run cancel requested", slog.String("run", id))
	h.writeJSON(w, http.StatusAccepted, run.Snapshot())
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("write response failed", slog.String("error", err.Error()))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, code int, msg string) {
	h.writeJSON(w, code, map[string]string{"error": msg})
}
