package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FlexBool decodes from a JSON boolean or from the strings "true"/"false",
// for settings files written by earlier versions of the app.
type FlexBool bool

// UnmarshalJSON implements json.Unmarshaler.
func (b *FlexBool) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*b = FlexBool(t)
	case string:
		*b = FlexBool(strings.EqualFold(t, "true"))
	default:
		return fmt.Errorf("expected bool or string, got %T", v)
	}
	return nil
}

// StreamerSettings is the per-channel entry in the settings document.
type StreamerSettings struct {
	AutoDownload FlexBool `json:"auto_download"`
	AutoClip     FlexBool `json:"auto_clip"`
	Quality      string   `json:"quality"`
	Format       string   `json:"format"`
}

// Settings is the persisted configuration document. The core never touches
// the file directly; everything goes through SettingsStore.
type Settings struct {
	Streamers          map[string]StreamerSettings `json:"streamers"`
	DefaultQuality     string                      `json:"default_quality"`
	DefaultFormat      string                      `json:"default_format"`
	BaseRecordingsPath string                      `json:"base_recordings_path"`
	M3U8DownloadPath   string                      `json:"default_m3u8_path"`
	FramesPath         string                      `json:"default_frames_path"`
	TrimsPath          string                      `json:"default_trims_path"`
}

// DefaultSettings returns the document used when no settings file exists.
func DefaultSettings() Settings {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	base := filepath.Join(cwd, "Output")
	return Settings{
		Streamers:          map[string]StreamerSettings{},
		DefaultQuality:     "best",
		DefaultFormat:      "mp4",
		BaseRecordingsPath: base,
		M3U8DownloadPath:   filepath.Join(base, "VOD Downloads"),
		FramesPath:         filepath.Join(base, "Frames"),
		TrimsPath:          filepath.Join(base, "Trims"),
	}
}

// DefaultSettingsPath is the settings file location used when SETTINGS_PATH
// is not set: ~/.streamwatch/config.json.
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".streamwatch", "config.json")
}

// SettingsStore owns the persisted settings document: thread-safe reads,
// atomic saves, and path resolution for channel output directories.
type SettingsStore struct {
	mu      sync.RWMutex
	path    string
	current Settings
}

// NewSettingsStore returns a store bound to path (DefaultSettingsPath when
// empty) and loads the current document. A missing or unreadable file is
// not an error; defaults apply.
func NewSettingsStore(path string) *SettingsStore {
	if path == "" {
		path = DefaultSettingsPath()
	}
	s := &SettingsStore{path: filepath.Clean(path), current: DefaultSettings()}
	_ = s.Load()
	return s
}

// Path returns the settings file location.
func (s *SettingsStore) Path() string { return s.path }

// Load re-reads the settings file and atomically swaps the current
// document. Missing file keeps defaults and returns nil; malformed JSON
// keeps the previous document and returns the parse error.
func (s *SettingsStore) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read settings: %w", err)
	}

	loaded := DefaultSettings()
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parse settings: %w", err)
	}
	if loaded.Streamers == nil {
		loaded.Streamers = map[string]StreamerSettings{}
	}

	s.mu.Lock()
	s.current = loaded
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the current document; the streamers map is cloned
// so callers never share state with a concurrent reload.
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cloneLocked()
}

// cloneLocked copies the current document. Caller must hold s.mu.
func (s *SettingsStore) cloneLocked() Settings {
	out := s.current
	out.Streamers = make(map[string]StreamerSettings, len(s.current.Streamers))
	for name, st := range s.current.Streamers {
		out.Streamers[name] = st
	}
	return out
}

// Streamers returns the configured channel names, sorted.
func (s *SettingsStore) Streamers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.current.Streamers))
	for name := range s.current.Streamers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Streamer returns the settings for a channel with empty quality/format
// resolved from the document defaults. ok is false for unknown channels.
func (s *SettingsStore) Streamer(name string) (StreamerSettings, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.current.Streamers[name]
	if !ok {
		return StreamerSettings{}, false
	}
	if st.Quality == "" {
		st.Quality = s.current.DefaultQuality
	}
	if st.Format == "" {
		st.Format = s.current.DefaultFormat
	}
	return st, true
}

// Defaults returns the document-level default quality and format.
func (s *SettingsStore) Defaults() (quality, format string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.DefaultQuality, s.current.DefaultFormat
}

// SetStreamer adds or replaces a channel entry and saves the document.
func (s *SettingsStore) SetStreamer(name string, st StreamerSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.Quality == "" {
		st.Quality = s.current.DefaultQuality
	}
	if st.Format == "" {
		st.Format = s.current.DefaultFormat
	}
	s.current.Streamers[name] = st
	return s.saveLocked()
}

// RemoveStreamer deletes a channel entry and saves. Removing an unknown
// channel is a no-op.
func (s *SettingsStore) RemoveStreamer(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.current.Streamers[name]; !ok {
		return nil
	}
	delete(s.current.Streamers, name)
	return s.saveLocked()
}

// saveLocked writes the document atomically: temp file in the same
// directory, then rename. Caller must hold s.mu.
func (s *SettingsStore) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	data, err := json.MarshalIndent(s.current, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*.json")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close settings: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

// VODDir returns the directory continuous captures for a channel land in.
func (s *SettingsStore) VODDir(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filepath.Join(s.current.BaseRecordingsPath, name, "VODs")
}

// ClipsDir returns the directory saved clips for a channel land in.
func (s *SettingsStore) ClipsDir(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filepath.Join(s.current.BaseRecordingsPath, name, "Clips")
}

// M3U8Dir returns the default output directory for playlist downloads.
func (s *SettingsStore) M3U8Dir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.M3U8DownloadPath
}

// FramesDir returns the base directory for frame-extraction output.
func (s *SettingsStore) FramesDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.FramesPath
}

// TrimsDir returns the base directory for trimmed videos.
func (s *SettingsStore) TrimsDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.TrimsPath
}
