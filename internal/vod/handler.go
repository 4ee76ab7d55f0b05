package vod

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"streamwatch/internal/naming"
	"streamwatch/internal/platform/config"
)

// Handler exposes the playlist download and finder endpoints using go-chi.
type Handler struct {
	registry *Registry
	finder   *Finder
	settings *config.SettingsStore
	log      *slog.Logger
}

// NewHandler returns a Handler over the given registry and finder.
func NewHandler(registry *Registry, finder *Finder, settings *config.SettingsStore, log *slog.Logger) *Handler {
	return &Handler{registry: registry, finder: finder, settings: settings, log: log}
}

// CreateDownload handles POST /vod/downloads.
// Body: { "url": "https://.../index-dvr.m3u8", "channel": "somechannel",
// "output_name": "name.mp4", "start": 25, "duration": 40, "workers": 8 }.
// Only url is required; start/duration select a trim window in seconds.
func (h *Handler) CreateDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		URL        string   `json:"url"`
		Channel    string   `json:"channel"`
		OutputName string   `json:"output_name"`
		Start      *float64 `json:"start"`
		Duration   *float64 `json:"duration"`
		Workers    int      `json:"workers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid download body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		h.writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if req.Start != nil && *req.Start < 0 {
		h.writeError(w, http.StatusBadRequest, "start must not be negative")
		return
	}
	if req.Duration != nil && *req.Duration < 0 {
		h.writeError(w, http.StatusBadRequest, "duration must not be negative")
		return
	}

	opts := Options{
		Source:     strings.TrimSpace(req.URL),
		OutputPath: h.outputPath(req.Channel, req.OutputName),
		Workers:    req.Workers,
	}
	if req.Start != nil {
		opts.Trim = true
		opts.TrimStart = *req.Start
		if req.Duration != nil {
			opts.TrimDuration = *req.Duration
		}
	}

	job := h.registry.Create(opts)
	h.log.Info("download job created",
		slog.String("job", job.ID),
		slog.String("source", opts.Source),
		slog.String("output", opts.OutputPath))
	h.writeJSON(w, http.StatusCreated, job.Snapshot())
}

// outputPath resolves where a job's final file lands: the channel's VOD
// directory when a channel is named, the shared download directory
// otherwise. A missing output name is generated.
func (h *Handler) outputPath(channel, outputName string) string {
	channel = strings.ToLower(strings.TrimSpace(channel))

	dir := h.settings.M3U8Dir()
	if channel != "" {
		dir = h.settings.VODDir(naming.Sanitize(channel))
	}

	name := naming.Sanitize(outputName)
	if name == "" {
		base := channel
		if base == "" {
			base = "vod"
		}
		name = naming.VOD(base, time.Now(), "mp4")
	} else if filepath.Ext(name) == "" {
		name += ".mp4"
	}
	return filepath.Join(dir, name)
}

// ListDownloads handles GET /vod/downloads.
func (h *Handler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	jobs := h.registry.List()
	snaps := make([]Snapshot, 0, len(jobs))
	for _, job := range jobs {
		snaps = append(snaps, job.Snapshot())
	}
	h.writeJSON(w, http.StatusOK, snaps)
}

// GetDownload handles GET /vod/downloads/{id}.
func (h *Handler) GetDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	job, ok := h.job(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, job.Snapshot())
}

// PauseDownload handles POST /vod/downloads/{id}/pause.
func (h *Handler) PauseDownload(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, func(job *Job) { job.Pause() })
}

// ResumeDownload handles POST /vod/downloads/{id}/resume.
func (h *Handler) ResumeDownload(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, func(job *Job) { job.Resume() })
}

// StopDownload handles POST /vod/downloads/{id}/stop. Completed segments
// are kept and concatenated into a partial file.
func (h *Handler) StopDownload(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, func(job *Job) { job.Stop() })
}

// AbortDownload handles POST /vod/downloads/{id}/abort. Nothing is kept.
func (h *Handler) AbortDownload(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, func(job *Job) { job.Abort() })
}

func (h *Handler) control(w http.ResponseWriter, r *http.Request, apply func(*Job)) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	job, ok := h.job(w, r)
	if !ok {
		return
	}
	apply(job)
	h.writeJSON(w, http.StatusAccepted, job.Snapshot())
}

// job resolves the {id} URL parameter, writing the error response on
// failure.
func (h *Handler) job(w http.ResponseWriter, r *http.Request) (*Job, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}
	job, ok := h.registry.Get(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return nil, false
	}
	return job, true
}

// FindPlaylist handles POST /vod/find.
// Body: { "streamer": "somechannel", "video_id": "1234567890",
// "timestamp": "2025-06-05 18:30:00" }.
func (h *Handler) FindPlaylist(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Streamer  string `json:"streamer"`
		VideoID   string `json:"video_id"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid find body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	streamer := strings.ToLower(strings.TrimSpace(req.Streamer))
	if streamer == "" {
		h.writeError(w, http.StatusBadRequest, "streamer is required")
		return
	}
	if !isVODID(req.VideoID) {
		h.writeError(w, http.StatusBadRequest, "video_id must be a number with at least 10 digits")
		return
	}
	if _, err := time.ParseInLocation(FindTimestampLayout, req.Timestamp, time.UTC); err != nil {
		h.writeError(w, http.StatusBadRequest, "timestamp must be in format: YYYY-MM-DD HH:MM:SS")
		return
	}

	url, err := h.finder.Find(r.Context(), streamer, req.VideoID, req.Timestamp)
	switch {
	case errors.Is(err, ErrNotFound):
		h.writeError(w, http.StatusNotFound, "no valid playlist url found")
	case errors.Is(err, context.Canceled):
		// Client went away mid-search; nothing left to answer.
	case err != nil:
		h.log.Error("playlist search failed",
			slog.String("streamer", streamer),
			slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
	default:
		h.writeJSON(w, http.StatusOK, map[string]string{"url": url})
	}
}

// isVODID reports whether s is a plausible numeric video id.
func isVODID(s string) bool {
	if len(s) < 10 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
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
