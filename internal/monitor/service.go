package monitor

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"streamwatch/internal/platform/config"
)

// Downloader starts and stops capture sessions. Implemented by
// DownloadSupervisor; faked in tests.
type Downloader interface {
	Start(name ChannelName, quality, format string) error
	Stop(name ChannelName)
	StopAll()
	HasSession(name ChannelName) bool
	Telemetry(name ChannelName) (Telemetry, bool)
	Active() []ChannelName
}

// Clipper starts and stops rolling clip buffers. Implemented by
// ClipSupervisor; faked in tests.
type Clipper interface {
	StartClipping(name ChannelName) error
	StopClipping(name ChannelName)
	StopAll()
	HasSession(name ChannelName) bool
	SaveClip(ctx context.Context, name ChannelName) (string, error)
	Active() []ChannelName
}

// SettingsSource is the slice of the settings store the service reads.
type SettingsSource interface {
	Streamers() []string
	Streamer(name string) (config.StreamerSettings, bool)
	Defaults() (quality, format string)
}

// ChannelView is the API representation of one watched channel.
type ChannelView struct {
	Name          string     `json:"name"`
	Live          bool       `json:"live"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
	AutoDownload  bool       `json:"auto_download"`
	AutoClip      bool       `json:"auto_clip"`
	Quality       string     `json:"quality"`
	Format        string     `json:"format"`
	Downloading   bool       `json:"downloading"`
	Download      *Telemetry `json:"download,omitempty"`
	Clipping      bool       `json:"clipping"`
}

// Service drives the watch cycle: it probes the configured channels and
// applies their auto-download and auto-clip policies to the results. It is
// also the operation surface behind the channel API.
type Service struct {
	tracker   *Tracker
	downloads Downloader
	clips     Clipper
	settings  SettingsSource
	log       *slog.Logger

	// probeLimit bounds how many probes run concurrently in one cycle.
	probeLimit int
}

// NewService wires the tracker and supervisors into a polling service.
func NewService(tracker *Tracker, downloads Downloader, clips Clipper, settings SettingsSource, probeLimit int, log *slog.Logger) *Service {
	if probeLimit < 1 {
		probeLimit = 1
	}
	return &Service{
		tracker:    tracker,
		downloads:  downloads,
		clips:      clips,
		settings:   settings,
		log:        log.With("component", "service"),
		probeLimit: probeLimit,
	}
}

// CheckAll runs one watch cycle over every configured channel. Probes run
// concurrently, bounded by the probe limit, so one slow channel cannot
// stall the cycle.
func (s *Service) CheckAll(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.probeLimit)
	for _, name := range s.settings.Streamers() {
		g.Go(func() error {
			s.CheckOne(ctx, name)
			return nil
		})
	}
	_ = g.Wait()
}

// CheckOne probes a single channel and applies its configured actions:
// starting capture and clip buffering while live, stopping both when the
// channel transitions to offline. Start and stop are idempotent, so
// repeated live reports are harmless.
func (s *Service) CheckOne(ctx context.Context, name string) Status {
	channel := Canonical(name)
	status := s.tracker.Check(ctx, channel)

	st, configured := s.settings.Streamer(name)
	if !configured {
		return status
	}

	if status.Live {
		if bool(st.AutoDownload) {
			if err := s.downloads.Start(channel, st.Quality, st.Format); err != nil {
				s.log.Error("auto download failed", "channel", channel, "error", err)
			}
		}
		if bool(st.AutoClip) {
			if err := s.clips.StartClipping(channel); err != nil {
				s.log.Error("auto clip failed", "channel", channel, "error", err)
			}
		}
		return status
	}

	if status.Transitioned {
		s.downloads.Stop(channel)
		s.clips.StopClipping(channel)
	}
	return status
}

// Channels returns a view of every configured channel plus any channel
// with a session that is no longer configured.
func (s *Service) Channels() []ChannelView {
	seen := make(map[ChannelName]bool)
	views := make([]ChannelView, 0)
	for _, name := range s.settings.Streamers() {
		seen[Canonical(name)] = true
		views = append(views, s.channelView(name))
	}
	for _, name := range s.downloads.Active() {
		if !seen[name] {
			seen[name] = true
			views = append(views, s.channelView(string(name)))
		}
	}
	for _, name := range s.clips.Active() {
		if !seen[name] {
			seen[name] = true
			views = append(views, s.channelView(string(name)))
		}
	}
	return views
}

// Channel returns the view of a single channel by name.
func (s *Service) Channel(name string) ChannelView {
	return s.channelView(name)
}

func (s *Service) channelView(name string) ChannelView {
	channel := Canonical(name)
	view := ChannelView{Name: string(channel)}

	if st, ok := s.settings.Streamer(name); ok {
		view.AutoDownload = bool(st.AutoDownload)
		view.AutoClip = bool(st.AutoClip)
		view.Quality = st.Quality
		view.Format = st.Format
	}
	if state, ok := s.tracker.State(channel); ok {
		view.Live = state.Live
		if !state.LastCheckedAt.IsZero() {
			at := state.LastCheckedAt
			view.LastCheckedAt = &at
		}
	}
	if tel, ok := s.downloads.Telemetry(channel); ok {
		view.Downloading = true
		view.Download = &tel
	}
	view.Clipping = s.clips.HasSession(channel)
	return view
}

// StartDownload begins a manual capture for the channel. Empty quality or
// format fall back to the channel's settings, then the document defaults.
func (s *Service) StartDownload(name ChannelName, quality, format string) error {
	defQuality, defFormat := s.settings.Defaults()
	if st, ok := s.settings.Streamer(string(name)); ok {
		defQuality, defFormat = st.Quality, st.Format
	}
	if quality == "" {
		quality = defQuality
	}
	if format == "" {
		format = defFormat
	}
	return s.downloads.Start(name, quality, format)
}

// StopDownload stops the channel's capture session, keeping the file.
func (s *Service) StopDownload(name ChannelName) {
	s.downloads.Stop(name)
}

// StartClip begins rolling clip buffering for the channel.
func (s *Service) StartClip(name ChannelName) error {
	return s.clips.StartClipping(name)
}

// StopClip tears down the channel's clip buffer and discards it.
func (s *Service) StopClip(name ChannelName) {
	s.clips.StopClipping(name)
}

// SaveClip snapshots the channel's rolling buffer into a clip file.
func (s *Service) SaveClip(ctx context.Context, name ChannelName) (string, error) {
	return s.clips.SaveClip(ctx, name)
}

// Remove stops any sessions for the channel and forgets its tracked state.
func (s *Service) Remove(name ChannelName) {
	s.downloads.Stop(name)
	s.clips.StopClipping(name)
	s.tracker.Forget(name)
}

// Shutdown stops all capture sessions and clip buffers.
func (s *Service) Shutdown() {
	s.downloads.StopAll()
	s.clips.StopAll()
}
