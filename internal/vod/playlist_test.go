package vod

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// mediaPlaylist renders a minimal media playlist with one 10s entry per
// segment name.
func mediaPlaylist(names ...string) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString("#EXT-X-TARGETDURATION:10\n")
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	for _, name := range names {
		b.WriteString("#EXTINF:10.000,\n")
		b.WriteString(name + "\n")
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

func TestFetchPlaylist_resolves_relative_segment_urls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/vods/chunked/index-dvr.m3u8" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(mediaPlaylist("0.ts", "1.ts")))
	}))
	defer srv.Close()

	segments, err := FetchPlaylist(context.Background(), srv.Client(), srv.URL+"/vods/chunked/index-dvr.m3u8")
	if err != nil {
		t.Fatalf("FetchPlaylist: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("got %d segments, want 2", len(segments))
	}
	if want := srv.URL + "/vods/chunked/0.ts"; segments[0].URL != want {
		t.Errorf("segment URL = %q, want %q", segments[0].URL, want)
	}
	if segments[0].Duration != 10 {
		t.Errorf("segment duration = %v, want 10", segments[0].Duration)
	}
}

func TestFetchPlaylist_reads_local_manifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.m3u8")
	if err := os.WriteFile(path, []byte(mediaPlaylist("a.ts", "b.ts", "c.ts")), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	segments, err := FetchPlaylist(context.Background(), http.DefaultClient, path)
	if err != nil {
		t.Fatalf("FetchPlaylist: %v", err)
	}
	if len(segments) != 3 {
		t.Fatalf("got %d segments, want 3", len(segments))
	}
	if want := filepath.Join(dir, "b.ts"); segments[1].URL != want {
		t.Errorf("segment URL = %q, want %q", segments[1].URL, want)
	}
}

func TestFetchPlaylist_rejects_master_playlist(t *testing.T) {
	master := "#EXTM3U\n#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=1280000\nchunked/index-dvr.m3u8\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(master))
	}))
	defer srv.Close()

	_, err := FetchPlaylist(context.Background(), srv.Client(), srv.URL+"/master.m3u8")
	if !errors.Is(err, ErrNotMediaPlaylist) {
		t.Fatalf("err = %v, want ErrNotMediaPlaylist", err)
	}
}

func TestFetchPlaylist_rejects_error_status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := FetchPlaylist(context.Background(), srv.Client(), srv.URL+"/index.m3u8")
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("err = %v, want status error", err)
	}
}

func TestRewriteSegmentURL_renames_unmuted_segments(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://cdn.example/v1/3-unmuted.ts", "https://cdn.example/v1/3-muted.ts"},
		{"https://cdn.example/v1/3-muted.ts", "https://cdn.example/v1/3-muted.ts"},
		{"https://cdn.example/v1/3.ts", "https://cdn.example/v1/3.ts"},
		{"unmuted.ts", "unmuted.ts"},
	}
	for _, tc := range cases {
		if got := rewriteSegmentURL(tc.in); got != tc.want {
			t.Errorf("rewriteSegmentURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFetchPlaylist_applies_unmuted_rewrite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(mediaPlaylist("4-unmuted.ts", "5.ts")))
	}))
	defer srv.Close()

	segments, err := FetchPlaylist(context.Background(), srv.Client(), srv.URL+"/index.m3u8")
	if err != nil {
		t.Fatalf("FetchPlaylist: %v", err)
	}
	if want := srv.URL + "/4-muted.ts"; segments[0].URL != want {
		t.Errorf("segment URL = %q, want %q", segments[0].URL, want)
	}
	if want := srv.URL + "/5.ts"; segments[1].URL != want {
		t.Errorf("segment URL = %q, want %q", segments[1].URL, want)
	}
}

func TestTrimWindow_slices_on_cumulative_durations(t *testing.T) {
	segments := make([]Segment, 10)
	for i := range segments {
		segments[i] = Segment{URL: "seg.ts", Duration: 10}
	}

	got := TrimWindow(segments, 25, 65)
	if len(got) != 4 {
		t.Fatalf("got %d segments, want 4", len(got))
	}
	if &got[0] != &segments[2] {
		t.Errorf("window starts at the wrong segment")
	}
}

func TestTrimWindow_keeps_segment_ending_at_window_end(t *testing.T) {
	segments := make([]Segment, 10)
	for i := range segments {
		segments[i] = Segment{URL: "seg.ts", Duration: 10}
	}

	got := TrimWindow(segments, 25, 60)
	if len(got) != 4 {
		t.Fatalf("got %d segments, want 4 (20s through 60s)", len(got))
	}
}

func TestTrimWindow_start_past_playlist_is_empty(t *testing.T) {
	segments := []Segment{{Duration: 10}, {Duration: 10}}
	if got := TrimWindow(segments, 20, 30); got != nil {
		t.Fatalf("got %d segments, want none", len(got))
	}
}

func TestTrimWindow_uneven_durations(t *testing.T) {
	segments := []Segment{
		{URL: "0.ts", Duration: 4},
		{URL: "1.ts", Duration: 8},
		{URL: "2.ts", Duration: 2},
		{URL: "3.ts", Duration: 6},
	}

	// Cumulative ends: 4, 12, 14, 20. [5, 14) covers segments 1 and 2.
	got := TrimWindow(segments, 5, 14)
	if len(got) != 2 {
		t.Fatalf("got %d segments, want 2", len(got))
	}
	if got[0].URL != "1.ts" || got[1].URL != "2.ts" {
		t.Errorf("window = [%s, %s], want [1.ts, 2.ts]", got[0].URL, got[1].URL)
	}
}
