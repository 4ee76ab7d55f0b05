package tools

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"streamwatch/internal/media"
	"streamwatch/internal/naming"
	"streamwatch/internal/platform/config"
)

// Extraction methods accepted by ExtractFrames.
const (
	MethodFrames    = "frames"
	MethodScene     = "scene"
	MethodKeyframes = "keyframes"
)

const (
	defaultFPS       = 1
	defaultThreshold = 0.3
)

var (
	ErrVideoNotFound = errors.New("video file not found")
	ErrUnknownMethod = errors.New("unknown extraction method")
	ErrBadWindow     = errors.New("end time must be greater than start time")
)

// FramesRequest asks for stills to be extracted from a video. Method
// defaults to fixed-interval frames; FPS and Threshold apply to the
// frames and scene methods respectively.
type FramesRequest struct {
	VideoPath string
	Method    string
	FPS       float64
	Threshold float64
}

// TrimRequest asks for a [StartSeconds, EndSeconds) cut of a video.
type TrimRequest struct {
	VideoPath    string
	StartSeconds float64
	EndSeconds   float64
}

// Toolbox turns frame-extraction and trim requests into supervised
// ffmpeg runs owned by the manager.
type Toolbox struct {
	tools    *media.Toolset
	settings *config.SettingsStore
	manager  *Manager
	log      *slog.Logger

	// launch is swapped in tests.
	launch func(cmd *exec.Cmd) (media.Process, error)
}

// NewToolbox returns a toolbox writing under the settings store's frames
// and trims directories.
func NewToolbox(ts *media.Toolset, settings *config.SettingsStore, manager *Manager, log *slog.Logger) *Toolbox {
	return &Toolbox{
		tools:    ts,
		settings: settings,
		manager:  manager,
		log:      log.With("component", "tools"),
		launch:   media.Start,
	}
}

// ExtractFrames starts (or joins) a frame-extraction run for the request.
// The returned run's Output is the directory stills land in.
func (b *Toolbox) ExtractFrames(ctx context.Context, req FramesRequest) (*Run, error) {
	if _, err := os.Stat(req.VideoPath); err != nil {
		return nil, ErrVideoNotFound
	}

	method := strings.ToLower(strings.TrimSpace(req.Method))
	if method == "" {
		method = MethodFrames
	}
	fps := req.FPS
	if fps <= 0 {
		fps = defaultFPS
	}
	threshold := req.Threshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}

	var param string
	switch method {
	case MethodFrames:
		param = formatParam(fps) + "fps"
	case MethodScene:
		param = fmt.Sprintf("%.2f", threshold)
	case MethodKeyframes:
	default:
		return nil, ErrUnknownMethod
	}

	outDir := filepath.Join(b.settings.FramesDir(), naming.FramesDir(req.VideoPath, method, param))
	id := runID("frames", req.VideoPath, method, param)
	run, isNew := b.manager.Ensure(ctx, id, "frames", outDir, func(ctx context.Context) (string, error) {
		return b.extractFrames(ctx, req.VideoPath, method, fps, threshold, outDir)
	})
	if run == nil {
		return nil, ctx.Err()
	}
	if !isNew {
		b.log.Info("extraction already running", "run", id, "video", req.VideoPath)
	}
	return run, nil
}

func (b *Toolbox) extractFrames(ctx context.Context, video, method string, fps, threshold float64, outDir string) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return failMessage(method), fmt.Errorf("create frames dir: %w", err)
	}

	var cmd *exec.Cmd
	switch method {
	case MethodScene:
		cmd = b.tools.SceneFramesCommand(video, threshold, outDir)
	case MethodKeyframes:
		cmd = b.tools.KeyframesCommand(video, outDir)
	default:
		cmd = b.tools.FramesCommand(video, fps, outDir)
	}

	err := b.supervise(ctx, cmd)
	switch {
	case errors.Is(err, context.Canceled):
		return stopMessage(method), err
	case err != nil:
		return failMessage(method), err
	}
	return doneMessage(method, countByExt(outDir, ".png")), nil
}

// TrimVideo starts (or joins) a trim run for the request. The returned
// run's Output is the trimmed file's path.
func (b *Toolbox) TrimVideo(ctx context.Context, req TrimRequest) (*Run, error) {
	if _, err := os.Stat(req.VideoPath); err != nil {
		return nil, ErrVideoNotFound
	}
	if req.StartSeconds < 0 || req.EndSeconds <= req.StartSeconds {
		return nil, ErrBadWindow
	}

	ext := strings.TrimPrefix(filepath.Ext(req.VideoPath), ".")
	if ext == "" {
		ext = "mp4"
	}
	name := naming.TrimName(req.VideoPath,
		naming.Timestamp(req.StartSeconds), naming.Timestamp(req.EndSeconds), ext)
	outPath := filepath.Join(b.settings.TrimsDir(), name)

	id := runID("trim", req.VideoPath, formatParam(req.StartSeconds), formatParam(req.EndSeconds))
	run, _ := b.manager.Ensure(ctx, id, "trim", outPath, func(ctx context.Context) (string, error) {
		return b.trimVideo(ctx, req, outPath)
	})
	if run == nil {
		return nil, ctx.Err()
	}
	return run, nil
}

func (b *Toolbox) trimVideo(ctx context.Context, req TrimRequest, outPath string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "Video trimming failed", fmt.Errorf("create trims dir: %w", err)
	}

	duration := req.EndSeconds - req.StartSeconds
	err := b.supervise(ctx, b.tools.TrimCommand(req.VideoPath, req.StartSeconds, duration, outPath))
	switch {
	case errors.Is(err, context.Canceled):
		return "Video trimming stopped by user", err
	case err != nil:
		return "Video trimming failed", err
	}
	return "Video trimmed successfully", nil
}

// supervise runs cmd to completion, terminating it when ctx is cancelled.
func (b *Toolbox) supervise(ctx context.Context, cmd *exec.Cmd) error {
	proc, err := b.launch(cmd)
	if err != nil {
		return err
	}

	select {
	case <-proc.Done():
		return proc.Err()
	case <-ctx.Done():
		if err := proc.Terminate(media.TerminateGrace); err != nil {
			b.log.Warn("tool termination failed", "error", err)
		}
		return ctx.Err()
	}
}

func doneMessage(method string, count int) string {
	switch method {
	case MethodScene:
		return fmt.Sprintf("Extracted %d scene changes", count)
	case MethodKeyframes:
		return fmt.Sprintf("Extracted %d keyframes", count)
	default:
		return fmt.Sprintf("Extracted %d frames successfully", count)
	}
}

func stopMessage(method string) string {
	switch method {
	case MethodScene:
		return "Scene extraction stopped by user"
	case MethodKeyframes:
		return "Keyframe extraction stopped by user"
	default:
		return "Frame extraction stopped by user"
	}
}

func failMessage(method string) string {
	switch method {
	case MethodScene:
		return "Scene extraction failed"
	case MethodKeyframes:
		return "Keyframe extraction failed"
	default:
		return "Frame extraction failed"
	}
}

func countByExt(dir, ext string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	var n int
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ext) {
			n++
		}
	}
	return n
}

// runID derives a stable id from the request parameters so duplicate
// requests join the same run.
func runID(kind string, parts ...string) string {
	sum := sha1.Sum([]byte(strings.Join(parts, "|")))
	return kind + "-" + hex.EncodeToString(sum[:])[:12]
}

func formatParam(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
