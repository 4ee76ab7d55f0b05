package media

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStart_spawn_failure(t *testing.T) {
	_, err := Start(exec.Command("/nonexistent/binary"))
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestStart_reports_exit(t *testing.T) {
	p, err := Start(exec.Command("true"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	if p.Err() != nil {
		t.Errorf("expected nil exit error, got %v", p.Err())
	}
}

func TestStart_reports_nonzero_exit(t *testing.T) {
	p, err := Start(exec.Command("false"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-p.Done()
	if p.Err() == nil {
		t.Error("expected exit error for nonzero status")
	}
}

func TestTerminate_kills_within_grace(t *testing.T) {
	p, err := Start(exec.Command("sleep", "60"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	start := time.Now()
	if err := p.Terminate(2 * time.Second); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Terminate took too long: %v", elapsed)
	}

	select {
	case <-p.Done():
	default:
		t.Error("Done should be closed after Terminate")
	}
}

func TestTerminate_after_exit_is_noop(t *testing.T) {
	p, err := Start(exec.Command("true"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-p.Done()
	if err := p.Terminate(time.Second); err != nil {
		t.Errorf("Terminate on exited process: %v", err)
	}
}

func TestStartPipeline_eof_propagates(t *testing.T) {
	capture := exec.Command("echo", "payload")
	segmenter := exec.Command("cat")

	capProc, segProc, err := StartPipeline(capture, segmenter)
	if err != nil {
		t.Fatalf("StartPipeline: %v", err)
	}

	for _, p := range []Process{capProc, segProc} {
		select {
		case <-p.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("pipeline process did not exit after EOF")
		}
	}
	if capProc.Err() != nil || segProc.Err() != nil {
		t.Errorf("unexpected exit errors: %v / %v", capProc.Err(), segProc.Err())
	}
}

func TestWriteConcatManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "concat_list.txt")

	files := []string{
		filepath.Join(dir, "segment_00000.ts"),
		filepath.Join(dir, "segment_00001.ts"),
	}
	if err := WriteConcatManifest(path, files); err != nil {
		t.Fatalf("WriteConcatManifest: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), string(data))
	}
	if !strings.HasPrefix(lines[0], "file '") || !strings.Contains(lines[0], "segment_00000.ts") {
		t.Errorf("first line malformed: %q", lines[0])
	}
	if !strings.Contains(lines[1], "segment_00001.ts") {
		t.Errorf("order not preserved: %q", lines[1])
	}
}

func TestWriteConcatManifest_escapes_quotes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "list.txt")
	if err := WriteConcatManifest(path, []string{"/media/it's live.ts"}); err != nil {
		t.Fatalf("WriteConcatManifest: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `it'\''s`) {
		t.Errorf("quote not escaped: %q", string(data))
	}
}
