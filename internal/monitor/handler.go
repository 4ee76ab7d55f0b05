package monitor

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"streamwatch/internal/platform/config"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the channel watch endpoints using go-chi.
type Handler struct {
	svc      *Service
	settings *config.SettingsStore
	log      *slog.Logger
}

// NewHandler returns a Handler over the given Service and settings store.
func NewHandler(svc *Service, settings *config.SettingsStore, log *slog.Logger) *Handler {
	return &Handler{svc: svc, settings: settings, log: log}
}

// ListChannels handles GET /channels.
func (h *Handler) ListChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, h.svc.Channels())
}

// UpsertChannel handles PUT /channels/{channel}.
// Body: { "auto_download": true, "auto_clip": false, "quality": "best", "format": "mp4" }.
func (h *Handler) UpsertChannel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	channel := Canonical(chi.URLParam(r, "channel"))
	if channel == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var st config.StreamerSettings
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		h.log.Debug("invalid channel settings body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.settings.SetStreamer(string(channel), st); err != nil {
		h.log.Error("save channel settings failed",
			slog.String("channel", string(channel)),
			slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	h.log.Info("channel configured", slog.String("channel", string(channel)))
	h.writeJSON(w, http.StatusOK, h.svc.Channel(string(channel)))
}

// RemoveChannel handles DELETE /channels/{channel}. It stops any active
// sessions before dropping the channel from the settings document.
func (h *Handler) RemoveChannel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	channel := Canonical(chi.URLParam(r, "channel"))
	if channel == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.svc.Remove(channel)
	if err := h.settings.RemoveStreamer(string(channel)); err != nil {
		h.log.Error("remove channel failed",
			slog.String("channel", string(channel)),
			slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	h.log.Info("channel removed", slog.String("channel", string(channel)))
	w.WriteHeader(http.StatusNoContent)
}

// CheckChannel handles POST /channels/{channel}/check. It probes the
// channel immediately and returns the debounced status.
func (h *Handler) CheckChannel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	channel := Canonical(chi.URLParam(r, "channel"))
	if channel == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	status := h.svc.CheckOne(r.Context(), string(channel))
	h.writeJSON(w, http.StatusOK, status)
}

// StartDownload handles POST /channels/{channel}/download/start.
// Optional body: { "quality": "720p", "format": "mp4" }.
func (h *Handler) StartDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	channel := Canonical(chi.URLParam(r, "channel"))
	if channel == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var req struct {
		Quality string `json:"quality"`
		Format  string `json:"format"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.log.Debug("invalid download body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.svc.StartDownload(channel, req.Quality, req.Format); err != nil {
		h.log.Error("start download failed",
			slog.String("channel", string(channel)),
			slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusAccepted, h.svc.Channel(string(channel)))
}

// StopDownload handles POST /channels/{channel}/download/stop.
func (h *Handler) StopDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	channel := Canonical(chi.URLParam(r, "channel"))
	if channel == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.svc.StopDownload(channel)
	h.writeJSON(w, http.StatusOK, h.svc.Channel(string(channel)))
}

// StartClip handles POST /channels/{channel}/clip/start.
func (h *Handler) StartClip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	channel := Canonical(chi.URLParam(r, "channel"))
	if channel == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.svc.StartClip(channel); err != nil {
		h.log.Error("start clip buffer failed",
			slog.String("channel", string(channel)),
			slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusAccepted, h.svc.Channel(string(channel)))
}

// StopClip handles POST /channels/{channel}/clip/stop.
func (h *Handler) StopClip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	channel := Canonical(chi.URLParam(r, "channel"))
	if channel == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.svc.StopClip(channel)
	h.writeJSON(w, http.StatusOK, h.svc.Channel(string(channel)))
}

// SaveClip handles POST /channels/{channel}/clip/save. It concatenates the
// rolling buffer into a clip file and returns its path.
func (h *Handler) SaveClip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	channel := Canonical(chi.URLParam(r, "channel"))
	if channel == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	path, err := h.svc.SaveClip(r.Context(), channel)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoBuffer):
			h.writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, ErrBufferEmpty):
			h.writeError(w, http.StatusConflict, err.Error())
		default:
			h.log.Error("save clip failed",
				slog.String("channel", string(channel)),
				slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}

	h.log.Info("clip saved", slog.String("channel", string(channel)), slog.String("path", path))
	h.writeJSON(w, http.StatusCreated, map[string]string{"path": path})
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
