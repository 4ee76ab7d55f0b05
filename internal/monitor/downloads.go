package monitor

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"streamwatch/internal/media"
	"streamwatch/internal/naming"
)

// PathResolver yields the output directories for a channel's artifacts.
// Implemented by the settings store.
type PathResolver interface {
	VODDir(name string) string
	ClipsDir(name string) string
}

// downloadSession is one live capture process and its monitoring state.
type downloadSession struct {
	proc       media.Process
	outputPath string
	filename   string
	startedAt  time.Time
	stop       chan struct{}

	// telemetry is guarded by the supervisor mutex.
	telemetry Telemetry
}

// DownloadSupervisor owns at most one capture session per channel. Starting
// is idempotent; stopping terminates the capture process gracefully and
// keeps the partial output file.
type DownloadSupervisor struct {
	mu       sync.Mutex
	sessions map[ChannelName]*downloadSession

	tools *media.Toolset
	paths PathResolver
	log   *slog.Logger

	// launch and sampleInterval are swapped in tests.
	launch         func(cmd *exec.Cmd) (media.Process, error)
	sampleInterval time.Duration
}

// NewDownloadSupervisor creates a supervisor that captures with the given
// toolset and writes files under the resolver's VOD directories.
func NewDownloadSupervisor(tools *media.Toolset, paths PathResolver, log *slog.Logger) *DownloadSupervisor {
	return &DownloadSupervisor{
		sessions:       make(map[ChannelName]*downloadSession),
		tools:          tools,
		paths:          paths,
		log:            log.With("component", "downloads"),
		launch:         media.Start,
		sampleInterval: time.Second,
	}
}

// Start begins capturing the channel into its VOD directory. It is a no-op
// when a session already exists, including one whose process has died but
// has not been stopped yet.
func (s *DownloadSupervisor) Start(name ChannelName, quality, format string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[name]; exists {
		return nil
	}

	dir := s.paths.VODDir(string(name))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create vod dir: %w", err)
	}

	filename := naming.LiveVOD(string(name), time.Now(), format)
	outputPath := filepath.Join(dir, filename)

	proc, err := s.launch(s.tools.CaptureCommand(string(name), quality, outputPath))
	if err != nil {
		return fmt.Errorf("start capture: %w", err)
	}

	sess := &downloadSession{
		proc:       proc,
		outputPath: outputPath,
		filename:   filename,
		startedAt:  time.Now(),
		stop:       make(chan struct{}),
		telemetry:  Telemetry{Filename: filename},
	}
	s.sessions[name] = sess
	go s.monitor(name, sess)

	s.log.Info("download started", "channel", name, "file", filename, "quality", quality)
	return nil
}

// Stop terminates the channel's capture session and removes it. The partial
// output file is kept. No-op when no session exists.
func (s *DownloadSupervisor) Stop(name ChannelName) {
	s.mu.Lock()
	sess, ok := s.sessions[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, name)
	close(sess.stop)
	s.mu.Unlock()

	if err := sess.proc.Terminate(media.TerminateGrace); err != nil {
		s.log.Warn("capture did not exit cleanly", "channel", name, "error", err)
	}
	s.log.Info("download stopped", "channel", name, "file", sess.filename)
}

// StopAll stops every active session. Used at shutdown.
func (s *DownloadSupervisor) StopAll() {
	for _, name := range s.Active() {
		s.Stop(name)
	}
}

// HasSession implements SessionChecker.
func (s *DownloadSupervisor) HasSession(name ChannelName) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[name]
	return ok
}

// Telemetry returns the latest progress sample for the channel's session.
func (s *DownloadSupervisor) Telemetry(name ChannelName) (Telemetry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[name]
	if !ok {
		return Telemetry{}, false
	}
	return sess.telemetry, true
}

// Active returns the channels with a session, sorted by name.
func (s *DownloadSupervisor) Active() []ChannelName {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]ChannelName, 0, len(s.sessions))
	for name := range s.sessions {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// monitor samples the output file size once per interval and derives the
// write speed from consecutive samples. Sampling errors skip the cycle. The
// loop exits when the session is stopped or its process dies; a dead
// process does not remove the session, so offline debouncing still applies
// until Stop is called.
func (s *DownloadSupervisor) monitor(name ChannelName, sess *downloadSession) {
	ticker := time.NewTicker(s.sampleInterval)
	defer ticker.Stop()

	var lastSize int64
	lastSample := time.Now()

	for {
		select {
		case <-sess.stop:
			return
		case <-sess.proc.Done():
			s.log.Info("capture process exited", "channel", name, "error", sess.proc.Err())
			return
		case <-ticker.C:
			fi, err := os.Stat(sess.outputPath)
			if err != nil {
				continue
			}
			size := fi.Size()
			now := time.Now()

			s.mu.Lock()
			if cur, ok := s.sessions[name]; !ok || cur != sess {
				s.mu.Unlock()
				return
			}
			sess.telemetry.SizeBytes = size
			sess.telemetry.Size = naming.FormatSize(size)
			if elapsed := now.Sub(lastSample).Seconds(); elapsed >= s.sampleInterval.Seconds() {
				sess.telemetry.Speed = naming.FormatSpeed(float64(size-lastSize) / elapsed)
				lastSize = size
				lastSample = now
			}
			s.mu.Unlock()
		}
	}
}
