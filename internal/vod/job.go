package vod

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"streamwatch/internal/media"
	"streamwatch/internal/naming"
	"streamwatch/internal/platform/metrics"
)

const (
	defaultWorkers  = 8
	segmentAttempts = 3
	maxRetryRounds  = 3
	segmentTimeout  = 30 * time.Second
	concatTimeout   = 5 * time.Minute
	chunkSize       = 1 << 20
)

// State is a download job's position in its lifecycle.
type State string

const (
	StateIdle          State = "idle"
	StateParsing       State = "parsing"
	StateDownloading   State = "downloading"
	StateRetrying      State = "retrying"
	StateConcatenating State = "concatenating"
	StateFinished      State = "finished"
	StatePartialSaved  State = "partial_saved"
	StateAborted       State = "aborted"
	StateFailed        State = "failed"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	switch s {
	case StateFinished, StatePartialSaved, StateAborted, StateFailed:
		return true
	}
	return false
}

// Options configures a download job.
type Options struct {
	// Source is the manifest location, an http(s) URL or a local path.
	Source string
	// OutputPath is where the concatenated file lands.
	OutputPath string
	// Trim restricts the download to [TrimStart, TrimStart+TrimDuration)
	// seconds; a zero TrimDuration means until the end of the playlist.
	Trim         bool
	TrimStart    float64
	TrimDuration float64
	// Workers bounds the segment fetch pool.
	Workers int
}

// Snapshot is a point-in-time view of a job, safe to serialize.
type Snapshot struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Output    string    `json:"output_path"`
	State     State     `json:"state"`
	Message   string    `json:"message,omitempty"`
	Progress  int       `json:"progress"`
	Completed int       `json:"completed_segments"`
	Total     int       `json:"total_segments"`
	Failed    int       `json:"failed_segments"`
	Speed     string    `json:"speed,omitempty"`
	Paused    bool      `json:"paused"`
	CreatedAt time.Time `json:"created_at"`
}

// Job downloads the segments of one playlist into a single output file.
// It runs on its own goroutine; Pause, Resume, Stop and Abort may be
// called from any goroutine at any point in the lifecycle.
type Job struct {
	ID        string
	CreatedAt time.Time

	opts    Options
	client  *http.Client
	concat  media.Concatenator
	log     *slog.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// tempDir is set once before any worker starts and never changes.
	tempDir string

	mu        sync.Mutex
	cond      *sync.Cond
	state     State
	message   string
	paused    bool
	stopped   bool
	aborted   bool
	total     int
	completed map[int]string
	failed    map[int]struct{}
	bytes     int64
	startedAt time.Time
	endedAt   time.Time
}

func newJob(id string, opts Options, client *http.Client, concat media.Concatenator, log *slog.Logger, m *metrics.Metrics) *Job {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if client == nil {
		client = &http.Client{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	j := &Job{
		ID:        id,
		CreatedAt: time.Now(),
		opts:      opts,
		client:    client,
		concat:    concat,
		log:       log.With("component", "vod", "job", id),
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateIdle,
		completed: map[int]string{},
		failed:    map[int]struct{}{},
	}
	j.cond = sync.NewCond(&j.mu)
	return j
}

// start launches the job goroutine.
func (j *Job) start() {
	go j.run()
}

// Done is closed once the job has reached a terminal state and cleanup
// has finished.
func (j *Job) Done() <-chan struct{} { return j.done }

// Pause suspends segment fetching. Workers block between chunk writes
// until Resume, Stop or Abort.
func (j *Job) Pause() {
	j.mu.Lock()
	j.paused = true
	j.mu.Unlock()
	j.log.Info("download paused")
}

// Resume wakes paused workers.
func (j *Job) Resume() {
	j.mu.Lock()
	j.paused = false
	j.cond.Broadcast()
	j.mu.Unlock()
	j.log.Info("download resumed")
}

// Stop ends the job but keeps what has been downloaded: completed
// segments are concatenated into a partial output file.
func (j *Job) Stop() {
	j.mu.Lock()
	j.stopped = true
	j.paused = false
	j.cond.Broadcast()
	j.mu.Unlock()
	j.cancel()
}

// Abort ends the job and discards everything; no output file is produced.
func (j *Job) Abort() {
	j.mu.Lock()
	j.aborted = true
	j.stopped = true
	j.paused = false
	j.cond.Broadcast()
	j.mu.Unlock()
	j.cancel()
}

// State returns the current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Snapshot returns the current job status.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	snap := Snapshot{
		ID:        j.ID,
		Source:    j.opts.Source,
		Output:    j.opts.OutputPath,
		State:     j.state,
		Message:   j.message,
		Completed: len(j.completed),
		Total:     j.total,
		Failed:    len(j.failed),
		Paused:    j.paused,
		CreatedAt: j.CreatedAt,
	}
	if j.total > 0 {
		snap.Progress = len(j.completed) * 100 / j.total
	}
	if j.bytes > 0 && !j.startedAt.IsZero() {
		elapsed := time.Since(j.startedAt)
		if !j.endedAt.IsZero() {
			elapsed = j.endedAt.Sub(j.startedAt)
		}
		if elapsed > 0 {
			snap.Speed = naming.FormatSpeed(float64(j.bytes) / elapsed.Seconds())
		}
	}
	return snap
}

func (j *Job) run() {
	defer close(j.done)
	defer j.cleanupTemp()

	j.mu.Lock()
	j.startedAt = time.Now()
	j.mu.Unlock()

	segments, ok := j.prepare()
	if !ok {
		return
	}

	j.transition(StateDownloading)
	indices := make([]int, len(segments))
	for i := range indices {
		indices[i] = i
	}
	j.runPass(segments, indices, false)

	for round := 1; round <= maxRetryRounds; round++ {
		if j.interrupted() {
			break
		}
		j.mu.Lock()
		remaining := len(j.failed)
		j.mu.Unlock()
		if remaining == 0 {
			break
		}
		j.transition(StateRetrying)
		j.log.Info("retrying failed segments", "round", round, "segments", remaining)
		j.runPass(segments, j.takeFailed(), true)
	}

	j.mu.Lock()
	aborted, stopped := j.aborted, j.stopped
	completed, total, failed := len(j.completed), j.total, len(j.failed)
	j.mu.Unlock()

	switch {
	case aborted:
		j.finish(StateAborted, "Download aborted by user")

	case stopped:
		j.transition(StateConcatenating)
		if err := j.concatSegments(); err != nil {
			j.log.Warn("partial concatenation failed", "error", err)
		}
		j.finish(StatePartialSaved, fmt.Sprintf(
			"Partial download saved. Downloaded %d/%d segments. File size: %s",
			completed, total, naming.FormatSize(j.outputSize())))

	default:
		j.transition(StateConcatenating)
		if err := j.concatSegments(); err != nil {
			j.log.Error("concatenation failed", "error", err)
			j.finish(StateFailed, "Failed to concatenate segments")
			return
		}
		size := naming.FormatSize(j.outputSize())
		if failed > 0 {
			j.finish(StateFinished, fmt.Sprintf("Download completed with %d failed segments. File size: %s", failed, size))
		} else {
			j.finish(StateFinished, fmt.Sprintf("Download completed successfully! File size: %s", size))
		}
	}
}

// prepare parses the manifest, applies the trim window and creates the
// temp directory. A false return means the job already finished.
func (j *Job) prepare() ([]Segment, bool) {
	j.transition(StateParsing)

	segments, err := FetchPlaylist(j.ctx, j.client, j.opts.Source)
	if err != nil || len(segments) == 0 {
		if err != nil {
			j.log.Error("manifest parse failed", "source", j.opts.Source, "error", err)
		}
		if j.interrupted() {
			j.finish(StateAborted, "Download aborted by user")
		} else {
			j.finish(StateFailed, "No segments found in M3U8 file")
		}
		return nil, false
	}

	if j.opts.Trim {
		end := j.opts.TrimStart + j.opts.TrimDuration
		if j.opts.TrimDuration <= 0 {
			end = j.opts.TrimStart + totalDuration(segments)
		}
		segments = TrimWindow(segments, j.opts.TrimStart, end)
		if len(segments) == 0 {
			j.finish(StateFailed, "No segments in specified time range")
			return nil, false
		}
		j.log.Info("trimmed playlist", "segments", len(segments), "start_seconds", j.opts.TrimStart)
	}

	u := uuid.New()
	j.tempDir = filepath.Join(filepath.Dir(j.opts.OutputPath), fmt.Sprintf("temp_%x", u[:4]))
	if err := os.MkdirAll(j.tempDir, 0o755); err != nil {
		j.finish(StateFailed, fmt.Sprintf("Download error: %s", err))
		return nil, false
	}

	j.mu.Lock()
	j.total = len(segments)
	j.mu.Unlock()
	j.log.Info("manifest parsed", "segments", len(segments), "workers", j.opts.Workers)
	return segments, true
}

// runPass fetches the given segment indices through a bounded worker pool.
// The feeder stops handing out work once the job context is cancelled.
func (j *Job) runPass(segments []Segment, indices []int, retry bool) {
	workers := j.opts.Workers
	if len(indices) < workers {
		workers = len(indices)
	}
	if workers < 1 {
		workers = 1
	}

	queue := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for idx := range queue {
				j.fetchSegment(segments[idx], idx, retry)
			}
		}()
	}

feed:
	for _, idx := range indices {
		select {
		case queue <- idx:
		case <-j.ctx.Done():
			break feed
		}
	}
	close(queue)
	wg.Wait()
}

// fetchSegment downloads one segment with the per-segment attempt budget.
// Cancelled fetches are not recorded as failures.
func (j *Job) fetchSegment(seg Segment, idx int, retry bool) {
	var lastErr error
	for attempt := 1; attempt <= segmentAttempts; attempt++ {
		if (attempt > 1 || retry) && j.metrics != nil {
			j.metrics.IncSegmentRetries()
		}
		if !j.waitIfPaused() {
			return
		}
		err := j.fetchSegmentOnce(seg, idx)
		if err == nil {
			return
		}
		if j.ctx.Err() != nil {
			return
		}
		lastErr = err
	}

	j.mu.Lock()
	j.failed[idx] = struct{}{}
	j.mu.Unlock()
	j.log.Warn("segment failed", "index", idx, "error", lastErr)
}

func (j *Job) fetchSegmentOnce(seg Segment, idx int) error {
	dst := filepath.Join(j.tempDir, fmt.Sprintf("segment_%06d.ts", idx))

	var src io.ReadCloser
	if isHTTP(seg.URL) {
		ctx, cancel := context.WithTimeout(j.ctx, segmentTimeout)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, seg.URL, nil)
		if err != nil {
			return fmt.Errorf("build segment request: %w", err)
		}
		resp, err := j.client.Do(req)
		if err != nil {
			return fmt.Errorf("fetch segment: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("fetch segment: unexpected status %s", resp.Status)
		}
		src = resp.Body
	} else {
		f, err := os.Open(seg.URL)
		if err != nil {
			return fmt.Errorf("open segment: %w", err)
		}
		src = f
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create segment file: %w", err)
	}

	buf := make([]byte, chunkSize)
	for {
		if !j.waitIfPaused() {
			out.Close()
			os.Remove(dst)
			return context.Canceled
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				os.Remove(dst)
				return fmt.Errorf("write segment: %w", werr)
			}
			j.addBytes(int64(n))
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			out.Close()
			os.Remove(dst)
			return fmt.Errorf("read segment: %w", rerr)
		}
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close segment file: %w", err)
	}

	j.mu.Lock()
	j.completed[idx] = dst
	delete(j.failed, idx)
	j.mu.Unlock()
	if j.metrics != nil {
		j.metrics.IncSegmentsDownloaded()
	}
	return nil
}

// waitIfPaused blocks while the job is paused. It returns false when the
// job has been stopped or aborted and the caller should bail out.
func (j *Job) waitIfPaused() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	for j.paused && !j.stopped && !j.aborted {
		j.cond.Wait()
	}
	return !j.stopped && !j.aborted
}

func (j *Job) addBytes(n int64) {
	j.mu.Lock()
	j.bytes += n
	j.mu.Unlock()
	if j.metrics != nil {
		j.metrics.AddBytesDownloaded(n)
	}
}

// takeFailed drains the failed set and returns its indices in order.
func (j *Job) takeFailed() []int {
	j.mu.Lock()
	defer j.mu.Unlock()
	indices := make([]int, 0, len(j.failed))
	for idx := range j.failed {
		indices = append(indices, idx)
	}
	j.failed = map[int]struct{}{}
	sort.Ints(indices)
	return indices
}

func (j *Job) interrupted() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stopped || j.aborted
}

// concatSegments joins completed segments in manifest order into the
// output file. It runs on its own deadline, detached from the job context,
// so a stopped job can still assemble its partial result.
func (j *Job) concatSegments() error {
	j.mu.Lock()
	indices := make([]int, 0, len(j.completed))
	for idx := range j.completed {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	files := make([]string, 0, len(indices))
	for _, idx := range indices {
		files = append(files, j.completed[idx])
	}
	j.mu.Unlock()

	if len(files) == 0 {
		return fmt.Errorf("no completed segments")
	}

	manifest := filepath.Join(j.tempDir, "concat_list.txt")
	if err := media.WriteConcatManifest(manifest, files); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), concatTimeout)
	defer cancel()
	return j.concat.Concat(ctx, manifest, j.opts.OutputPath)
}

func (j *Job) outputSize() int64 {
	info, err := os.Stat(j.opts.OutputPath)
	if err != nil {
		return 0
	}
	return info.Size()
}

func (j *Job) transition(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

// finish records the terminal state and outcome message.
func (j *Job) finish(s State, message string) {
	j.mu.Lock()
	j.state = s
	j.message = message
	j.endedAt = time.Now()
	j.mu.Unlock()

	if j.metrics != nil {
		switch s {
		case StateFinished, StatePartialSaved:
			j.metrics.IncVODJobsFinished()
		case StateFailed:
			j.metrics.IncVODJobsFailed()
		}
	}
	j.log.Info("job finished", "state", string(s), "message", message)
}

// cleanupTemp removes the temp directory. When removal fails the file
// modes are forced writable and removal is retried, for segment files
// that land read-only.
func (j *Job) cleanupTemp() {
	if j.tempDir == "" {
		return
	}
	if err := os.RemoveAll(j.tempDir); err == nil {
		return
	}
	_ = filepath.WalkDir(j.tempDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		_ = os.Chmod(path, 0o777)
		return nil
	})
	if err := os.RemoveAll(j.tempDir); err != nil {
		j.log.Warn("temp dir removal failed", "dir", j.tempDir, "error", err)
	}
}

func totalDuration(segments []Segment) float64 {
	var total float64
	for _, seg := range segments {
		total += seg.Duration
	}
	return total
}
