package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"streamwatch/internal/media"
	"streamwatch/internal/naming"
	"streamwatch/internal/platform/metrics"
)

const (
	// rollingWindowSeconds is how much recent footage the buffer retains.
	rollingWindowSeconds = 180
	// segmentSeconds is the duration of each buffered segment file.
	segmentSeconds = 10
	// maxSegments caps the buffer at the rolling window.
	maxSegments = rollingWindowSeconds / segmentSeconds

	// joinTimeout bounds how long StopClipping waits for the recording
	// goroutine before abandoning it.
	joinTimeout = 10 * time.Second
)

var (
	// ErrNoBuffer is returned by SaveClip when the channel has no active
	// clip buffer.
	ErrNoBuffer = errors.New("no clip buffer for channel")
	// ErrBufferEmpty is returned by SaveClip when the buffer holds no
	// completed segments yet.
	ErrBufferEmpty = errors.New("clip buffer has no segments")
)

// clipBuffer is one channel's rolling segment buffer and its pipeline.
type clipBuffer struct {
	tempDir   string
	startedAt time.Time
	stop      chan struct{}
	done      chan struct{}

	// capture and segmenter are set by the recording goroutine once the
	// pipeline is up; guarded by the supervisor mutex.
	capture   media.Process
	segmenter media.Process
}

// ClipSupervisor owns at most one rolling clip buffer per channel. Each
// buffer pipes the live stream into 10s segment files in a temp directory
// and evicts the oldest files beyond the rolling window, so a clip of the
// recent past can be saved at any moment.
type ClipSupervisor struct {
	mu      sync.Mutex
	buffers map[ChannelName]*clipBuffer

	tools   *media.Toolset
	concat  media.Concatenator
	paths   PathResolver
	log     *slog.Logger
	metrics *metrics.Metrics

	// pipeline, scanInterval and evictPause are swapped in tests.
	pipeline     func(capture, segmenter *exec.Cmd) (media.Process, media.Process, error)
	scanInterval time.Duration
	evictPause   time.Duration
}

// NewClipSupervisor creates a supervisor recording with the given toolset.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewClipSupervisor(tools *media.Toolset, paths PathResolver, log *slog.Logger, m *metrics.Metrics) *ClipSupervisor {
	return &ClipSupervisor{
		buffers:      make(map[ChannelName]*clipBuffer),
		tools:        tools,
		concat:       tools,
		paths:        paths,
		log:          log.With("component", "clips"),
		metrics:      m,
		pipeline:     media.StartPipeline,
		scanInterval: time.Second,
		evictPause:   time.Second,
	}
}

// StartClipping begins buffering the channel into a fresh temp directory.
// No-op when a buffer already exists.
func (s *ClipSupervisor) StartClipping(name ChannelName) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.buffers[name]; exists {
		return nil
	}

	dir, err := os.MkdirTemp("", fmt.Sprintf("streamwatch_clip_%s_", naming.Sanitize(string(name))))
	if err != nil {
		return fmt.Errorf("create clip dir: %w", err)
	}
	clearStaleSegments(dir)

	buf := &clipBuffer{
		tempDir:   dir,
		startedAt: time.Now(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.buffers[name] = buf
	go s.record(name, buf)

	s.log.Info("clip buffer started", "channel", name, "dir", dir)
	return nil
}

// StopClipping tears the channel's buffer down: terminates the pipeline,
// waits for the recording goroutine and removes the temp directory with all
// buffered segments. No-op when no buffer exists.
func (s *ClipSupervisor) StopClipping(name ChannelName) {
	s.mu.Lock()
	buf, ok := s.buffers[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.buffers, name)
	close(buf.stop)
	capture, segmenter := buf.capture, buf.segmenter
	s.mu.Unlock()

	if capture != nil {
		_ = capture.Terminate(media.TerminateGrace)
	}
	if segmenter != nil {
		_ = segmenter.Terminate(media.TerminateGrace)
	}

	select {
	case <-buf.done:
	case <-time.After(joinTimeout):
		s.log.Warn("clip recorder did not exit in time", "channel", name)
	}

	if err := os.RemoveAll(buf.tempDir); err != nil {
		s.log.Warn("clip dir cleanup failed", "channel", name, "dir", buf.tempDir, "error", err)
	}
	s.log.Info("clip buffer stopped", "channel", name)
}

// StopAll stops every active buffer. Used at shutdown.
func (s *ClipSupervisor) StopAll() {
	for _, name := range s.Active() {
		s.StopClipping(name)
	}
}

// SaveClip concatenates the buffered segments into a clip file in the
// channel's clips directory and returns its path. The buffer keeps rolling;
// saving does not consume it.
func (s *ClipSupervisor) SaveClip(ctx context.Context, name ChannelName) (string, error) {
	s.mu.Lock()
	buf, ok := s.buffers[name]
	if !ok {
		s.mu.Unlock()
		return "", ErrNoBuffer
	}
	tempDir := buf.tempDir
	startedAt := buf.startedAt
	s.mu.Unlock()

	segments, err := listSegments(tempDir)
	if err != nil {
		return "", fmt.Errorf("list segments: %w", err)
	}
	if len(segments) == 0 {
		return "", ErrBufferEmpty
	}

	clipsDir := s.paths.ClipsDir(string(name))
	if err := os.MkdirAll(clipsDir, 0o755); err != nil {
		return "", fmt.Errorf("create clips dir: %w", err)
	}

	// The window label starts at the later of buffer start and the span
	// the surviving segments can actually cover.
	now := time.Now()
	start := startedAt
	if earliest := now.Add(-time.Duration(len(segments)*segmentSeconds) * time.Second); earliest.After(start) {
		start = earliest
	}
	outputPath := filepath.Join(clipsDir, naming.Clip(string(name), now, start.Format(naming.ClockLayout), now.Format(naming.ClockLayout)))

	manifest := filepath.Join(tempDir, "concat_list.txt")
	if err := media.WriteConcatManifest(manifest, segments); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	if err := s.concat.Concat(ctx, manifest, outputPath); err != nil {
		return "", fmt.Errorf("save clip: %w", err)
	}
	if _, err := os.Stat(outputPath); err != nil {
		return "", fmt.Errorf("save clip: output missing: %w", err)
	}

	if s.metrics != nil {
		s.metrics.IncClipsSaved()
	}
	s.log.Info("clip saved", "channel", name, "file", filepath.Base(outputPath), "segments", len(segments))
	return outputPath, nil
}

// HasSession implements SessionChecker.
func (s *ClipSupervisor) HasSession(name ChannelName) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.buffers[name]
	return ok
}

// Active returns the channels with a buffer, sorted by name.
func (s *ClipSupervisor) Active() []ChannelName {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]ChannelName, 0, len(s.buffers))
	for name := range s.buffers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// record runs the capture-to-segmenter pipeline and the eviction loop. It
// exits when the buffer is stopped or either process dies, then terminates
// whatever is still running.
func (s *ClipSupervisor) record(name ChannelName, buf *clipBuffer) {
	defer close(buf.done)

	capture := s.tools.PipeCommand(string(name), "best")
	segmenter := s.tools.SegmentCommand(buf.tempDir, segmentSeconds)
	capProc, segProc, err := s.pipeline(capture, segmenter)
	if err != nil {
		s.log.Error("clip pipeline failed to start", "channel", name, "error", err)
		return
	}

	s.mu.Lock()
	buf.capture, buf.segmenter = capProc, segProc
	s.mu.Unlock()

	ticker := time.NewTicker(s.scanInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-buf.stop:
			break loop
		case <-capProc.Done():
			s.log.Info("clip capture exited", "channel", name, "error", capProc.Err())
			break loop
		case <-segProc.Done():
			s.log.Info("clip segmenter exited", "channel", name, "error", segProc.Err())
			break loop
		case <-ticker.C:
			s.evictExcess(buf.tempDir)
		}
	}

	_ = capProc.Terminate(media.TerminateGrace)
	_ = segProc.Terminate(media.TerminateGrace)
}

// evictExcess removes the oldest segment files beyond the rolling window,
// pausing between deletions so the segmenter is never starved of disk
// bandwidth in one burst.
func (s *ClipSupervisor) evictExcess(dir string) {
	segments, err := listSegments(dir)
	if err != nil || len(segments) <= maxSegments {
		return
	}
	for _, old := range segments[:len(segments)-maxSegments] {
		if err := os.Remove(old); err != nil {
			s.log.Warn("segment eviction failed", "file", old, "error", err)
		}
		time.Sleep(s.evictPause)
	}
}

// listSegments returns the segment files in dir ordered by their embedded
// sequence number.
func listSegments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type numbered struct {
		seq  int
		path string
	}
	files := make([]numbered, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		seq, ok := segmentSeq(e.Name())
		if !ok {
			continue
		}
		files = append(files, numbered{seq: seq, path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].seq < files[j].seq })
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

// segmentSeq extracts the sequence number from a "segment_%05d.ts" name.
func segmentSeq(name string) (int, bool) {
	if !strings.HasPrefix(name, "segment_") || !strings.HasSuffix(name, ".ts") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "segment_"), ".ts"))
	if err != nil {
		return 0, false
	}
	return n, true
}

// clearStaleSegments removes leftover segment files so a fresh buffer never
// mixes footage from a previous run.
func clearStaleSegments(dir string) {
	segments, err := listSegments(dir)
	if err != nil {
		return
	}
	for _, f := range segments {
		_ = os.Remove(f)
	}
}
