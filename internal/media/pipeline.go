package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Concatenator joins the segment files listed in a concat manifest into a
// single output file.
type Concatenator interface {
	Concat(ctx context.Context, manifestPath, outputPath string) error
}

// StartPipeline starts capture and segmenter with capture's stdout wired
// into segmenter's stdin through a kernel pipe, so the stream never flows
// through this process. The parent's pipe ends are closed once both
// children hold their own, letting the segmenter see EOF when the capture
// process dies.
func StartPipeline(capture, segmenter *exec.Cmd) (Process, Process, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("pipe: %w", err)
	}
	capture.Stdout = w
	segmenter.Stdin = r

	capProc, err := Start(capture)
	if err != nil {
		r.Close()
		w.Close()
		return nil, nil, err
	}
	w.Close()

	segProc, err := Start(segmenter)
	r.Close()
	if err != nil {
		_ = capProc.Terminate(time.Second)
		return nil, nil, err
	}
	return capProc, segProc, nil
}

// Concat implements Concatenator by running the ffmpeg concat demuxer
// over the manifest. It blocks until ffmpeg exits or ctx is cancelled.
func (t *Toolset) Concat(ctx context.Context, manifestPath, outputPath string) error {
	out, err := t.ConcatCommand(ctx, manifestPath, outputPath).CombinedOutput()
	if err != nil {
		return fmt.Errorf("concat %s: %w: %s", filepath.Base(outputPath), err, bytes.TrimSpace(out))
	}
	return nil
}

// WriteConcatManifest writes an ffmpeg concat-demuxer manifest listing
// files in the given order. Paths are made absolute and single quotes are
// escaped per the demuxer's quoting rules.
func WriteConcatManifest(path string, files []string) error {
	var b strings.Builder
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", f, err)
		}
		escaped := strings.ReplaceAll(filepath.ToSlash(abs), "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", escaped)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
