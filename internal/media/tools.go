package media

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
)

// Toolset builds every external command the daemon supervises. Keeping
// command construction in one place lets tests assert argv without
// spawning anything.
type Toolset struct {
	Streamlink string
	FFmpeg     string
	// BaseURL is the channel URL prefix handed to streamlink.
	BaseURL string
}

// NewToolset returns a Toolset resolving bare binary names via PATH when
// no explicit paths are configured.
func NewToolset(streamlink, ffmpeg string) *Toolset {
	if streamlink == "" {
		streamlink = "streamlink"
	}
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	return &Toolset{Streamlink: streamlink, FFmpeg: ffmpeg, BaseURL: "https://twitch.tv/"}
}

// ChannelURL returns the platform URL for a channel name.
func (t *Toolset) ChannelURL(channel string) string {
	return t.BaseURL + channel
}

// ProbeCommand is the liveness check invocation. Exit code 0 with a
// "streams" key in the JSON output means the channel is live.
func (t *Toolset) ProbeCommand(ctx context.Context, channel string) *exec.Cmd {
	return exec.CommandContext(ctx, t.Streamlink, "--json", t.ChannelURL(channel))
}

// CaptureCommand records the live stream for channel into outputPath,
// riding out short interruptions with streamlink's own retry flags.
func (t *Toolset) CaptureCommand(channel, quality, outputPath string) *exec.Cmd {
	return exec.Command(t.Streamlink,
		t.ChannelURL(channel),
		quality,
		"-o", outputPath,
		"--twitch-disable-ads",
		"--twitch-low-latency",
		"--hls-live-restart",
		"--retry-streams", "30",
		"--retry-max", "10",
	)
}

// PipeCommand emits the live stream on stdout for piping into a segmenter.
func (t *Toolset) PipeCommand(channel, quality string) *exec.Cmd {
	return exec.Command(t.Streamlink,
		"--twitch-disable-ads",
		"--twitch-low-latency",
		"--stdout",
		t.ChannelURL(channel),
		quality,
	)
}

// SegmentCommand splits stdin into fixed-duration MPEG-TS files named
// segment_00000.ts, segment_00001.ts, ... under dir, copying codecs and
// resetting timestamps per segment.
func (t *Toolset) SegmentCommand(dir string, segmentSeconds int) *exec.Cmd {
	return exec.Command(t.FFmpeg,
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-c", "copy",
		"-f", "segment",
		"-segment_time", strconv.Itoa(segmentSeconds),
		"-reset_timestamps", "1",
		filepath.Join(dir, "segment_%05d.ts"),
	)
}

// ConcatCommand stream-copies the files listed in manifestPath into
// outputPath using the concat demuxer.
func (t *Toolset) ConcatCommand(ctx context.Context, manifestPath, outputPath string) *exec.Cmd {
	return exec.CommandContext(ctx, t.FFmpeg,
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "concat",
		"-safe", "0",
		"-i", manifestPath,
		"-c", "copy",
		outputPath,
	)
}

// FramesCommand extracts stills at the given rate into dir as
// frame_000001.png, frame_000002.png, ...
func (t *Toolset) FramesCommand(videoPath string, fps float64, dir string) *exec.Cmd {
	return exec.Command(t.FFmpeg,
		"-hide_banner", "-loglevel", "info",
		"-i", videoPath,
		"-vf", fmt.Sprintf("fps=%s", formatSeconds(fps)),
		filepath.Join(dir, "frame_%06d.png"),
	)
}

// SceneFramesCommand extracts a still at each scene change scoring above
// threshold into dir as scene_000001.png, scene_000002.png, ...
func (t *Toolset) SceneFramesCommand(videoPath string, threshold float64, dir string) *exec.Cmd {
	return exec.Command(t.FFmpeg,
		"-hide_banner", "-loglevel", "info",
		"-i", videoPath,
		"-vf", fmt.Sprintf("select='gt(scene,%s)'", formatSeconds(threshold)),
		"-vsync", "vfr",
		filepath.Join(dir, "scene_%06d.png"),
	)
}

// KeyframesCommand extracts every I-frame into dir as keyframe_000001.png,
// keyframe_000002.png, ...
func (t *Toolset) KeyframesCommand(videoPath, dir string) *exec.Cmd {
	return exec.Command(t.FFmpeg,
		"-hide_banner", "-loglevel", "info",
		"-i", videoPath,
		"-vf", "select='eq(pict_type,I)'",
		"-vsync", "vfr",
		filepath.Join(dir, "keyframe_%06d.png"),
	)
}

// TrimCommand cuts durationSeconds starting at startSeconds out of
// videoPath without re-encoding.
func (t *Toolset) TrimCommand(videoPath string, startSeconds, durationSeconds float64, outputPath string) *exec.Cmd {
	return exec.Command(t.FFmpeg,
		"-y", "-hide_banner", "-loglevel", "info",
		"-i", videoPath,
		"-ss", formatSeconds(startSeconds),
		"-t", formatSeconds(durationSeconds),
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		outputPath,
	)
}

// formatSeconds renders a float without a trailing ".0" for whole values,
// matching what ffmpeg expects on the command line.
func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}
