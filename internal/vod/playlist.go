package vod

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/grafov/m3u8"
)

// ErrNotMediaPlaylist is returned when the source decodes to a master
// playlist instead of a media playlist.
var ErrNotMediaPlaylist = errors.New("source is not a media playlist")

// Segment is one entry of a media playlist, with its URL fully resolved.
type Segment struct {
	URL      string
	Duration float64
}

// FetchPlaylist loads an HLS media playlist from an http(s) URL or a local
// file path and returns its segments in playlist order. Relative segment
// URIs are resolved against the manifest location, and the fixed
// unmuted-to-muted rename is applied to every segment URL.
func FetchPlaylist(ctx context.Context, client *http.Client, source string) ([]Segment, error) {
	if isHTTP(source) {
		return fetchRemote(ctx, client, source)
	}
	return fetchLocal(source)
}

func isHTTP(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

func fetchRemote(ctx context.Context, client *http.Client, source string) ([]Segment, error) {
	base, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parse manifest url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("build manifest request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch manifest: unexpected status %s", resp.Status)
	}

	return decodePlaylist(resp.Body, func(uri string) string {
		ref, err := url.Parse(uri)
		if err != nil {
			return uri
		}
		return base.ResolveReference(ref).String()
	})
}

func fetchLocal(source string) ([]Segment, error) {
	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	dir := filepath.Dir(source)
	return decodePlaylist(f, func(uri string) string {
		if isHTTP(uri) || filepath.IsAbs(uri) {
			return uri
		}
		return filepath.Join(dir, uri)
	})
}

// decodePlaylist parses a media playlist and maps each segment URI through
// resolve, then the unmuted rewrite.
func decodePlaylist(r io.Reader, resolve func(string) string) ([]Segment, error) {
	pl, kind, err := m3u8.DecodeFrom(r, false)
	if err != nil {
		return nil, fmt.Errorf("decode playlist: %w", err)
	}
	media, ok := pl.(*m3u8.MediaPlaylist)
	if kind != m3u8.MEDIA || !ok {
		return nil, ErrNotMediaPlaylist
	}

	segments := make([]Segment, 0, media.Count())
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		segments = append(segments, Segment{
			URL:      rewriteSegmentURL(resolve(seg.URI)),
			Duration: seg.Duration,
		})
	}
	return segments, nil
}

// rewriteSegmentURL renames "-unmuted.ts" segments to their "-muted.ts"
// form. CDNs store muted copies of segments flagged for audio claims; the
// unmuted name in the manifest would 403.
func rewriteSegmentURL(u string) string {
	if strings.HasSuffix(u, "-unmuted.ts") {
		return strings.TrimSuffix(u, "-unmuted.ts") + "-muted.ts"
	}
	return u
}

// TrimWindow slices segments down to the whole-segment range covering
// [start, end) seconds. Cumulative durations are walked from the front: the
// window starts at the first segment that extends past start, and ends
// before the first segment that extends past end. No partial-segment
// precision is attempted.
func TrimWindow(segments []Segment, start, end float64) []Segment {
	startIdx := len(segments)
	var cum float64
	for i, seg := range segments {
		if cum+seg.Duration > start {
			startIdx = i
			break
		}
		cum += seg.Duration
	}

	endIdx := len(segments)
	cum = 0
	for i, seg := range segments {
		cum += seg.Duration
		if cum > end {
			endIdx = i
			break
		}
	}

	if startIdx >= endIdx {
		return nil
	}
	return segments[startIdx:endIdx]
}
