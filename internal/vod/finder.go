package vod

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrNotFound is returned when no candidate playlist URL verifies.
var ErrNotFound = errors.New("no valid playlist url found")

// FindTimestampLayout is the stream start time format accepted by Find.
const FindTimestampLayout = "2006-01-02 15:04:05"

const (
	defaultFindWorkers = 16
	defaultFindRate    = 50
	probeAttempts      = 3
	probeTimeout       = 10 * time.Second
)

// vodDomains are the CDN hosts historical VOD playlists are served from.
var vodDomains = []string{
	"https://d2e2de1etea730.cloudfront.net/",
	"https://dqrpb9wgowsf5.cloudfront.net/",
	"https://ds0h3roq6wcgc.cloudfront.net/",
	"https://d2nvs31859zcd8.cloudfront.net/",
	"https://d2aba1wr3818hz.cloudfront.net/",
	"https://d3c27h4odz752x.cloudfront.net/",
	"https://dgeft87wbj63p.cloudfront.net/",
	"https://d1m7jfoe9zdc1j.cloudfront.net/",
	"https://d3vd9lfkzbru3h.cloudfront.net/",
	"https://d2vjef5jvl6bfs.cloudfront.net/",
	"https://d1ymi26ma8va5x.cloudfront.net/",
	"https://d1mhjrowxxagfy.cloudfront.net/",
	"https://ddacn6pr5v0tl.cloudfront.net/",
	"https://d3aqoihi2n8ty8.cloudfront.net/",
	"https://vod-secure.twitch.tv/",
	"https://vod-metro.twitch.tv/",
	"https://vod-pop-secure.twitch.tv/",
}

// Finder reconstructs the playlist URL of a historical VOD from the
// streamer name, the numeric video id and the stream start time. Playlist
// paths embed a hash of those three values and an epoch second, so the
// finder probes every candidate in a window around the supplied time.
type Finder struct {
	client  *http.Client
	domains []string
	workers int
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewFinder returns a Finder probing with the given pool size and a shared
// requests-per-second budget across workers.
func NewFinder(client *http.Client, workers int, perSecond float64, log *slog.Logger) *Finder {
	if client == nil {
		client = &http.Client{}
	}
	if workers <= 0 {
		workers = defaultFindWorkers
	}
	if perSecond <= 0 {
		perSecond = defaultFindRate
	}
	return &Finder{
		client:  client,
		domains: vodDomains,
		workers: workers,
		limiter: rate.NewLimiter(rate.Limit(perSecond), workers),
		log:     log.With("component", "finder"),
	}
}

// candidateURLs builds every playlist URL for epochs from one minute
// before to two minutes after the supplied start time, across all domains.
func (f *Finder) candidateURLs(streamer, vodID string, base time.Time) []string {
	urls := make([]string, 0, 180*len(f.domains))
	for offset := int64(-60); offset < 120; offset++ {
		epoch := base.Unix() + offset
		sum := sha1.Sum(fmt.Appendf(nil, "%s_%s_%d", streamer, vodID, epoch))
		hash := hex.EncodeToString(sum[:])[:20]
		for _, domain := range f.domains {
			urls = append(urls, fmt.Sprintf("%s%s_%s_%s_%d/chunked/index-dvr.m3u8", domain, hash, streamer, vodID, epoch))
		}
	}
	return urls
}

// Find probes candidate URLs until one serves a playlist. The first hit
// cancels the remaining probes. timestamp is the stream start in
// FindTimestampLayout, interpreted as UTC.
func (f *Finder) Find(ctx context.Context, streamer, vodID, timestamp string) (string, error) {
	streamer = strings.ToLower(strings.TrimSpace(streamer))
	base, err := time.ParseInLocation(FindTimestampLayout, timestamp, time.UTC)
	if err != nil {
		return "", fmt.Errorf("parse timestamp: %w", err)
	}

	urls := f.candidateURLs(streamer, vodID, base)
	f.log.Info("probing candidate playlists",
		"streamer", streamer, "vod_id", vodID, "candidates", len(urls))

	searchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, searchCtx := errgroup.WithContext(searchCtx)
	g.SetLimit(f.workers)

	var (
		mu    sync.Mutex
		found string
	)
	for _, u := range urls {
		if searchCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := f.limiter.Wait(searchCtx); err != nil {
				return nil
			}
			if f.probe(searchCtx, u) {
				mu.Lock()
				if found == "" {
					found = u
				}
				mu.Unlock()
				cancel()
			}
			return nil
		})
	}
	_ = g.Wait()

	mu.Lock()
	defer mu.Unlock()
	if found != "" {
		f.log.Info("playlist found", "url", found)
		return found, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", ErrNotFound
}

// probe reports whether url serves a media playlist. Transport errors are
// retried; any HTTP response other than 200 is a definitive miss.
func (f *Finder) probe(ctx context.Context, url string) bool {
	for attempt := 1; attempt <= probeAttempts; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		ok, retry := f.probeOnce(ctx, url)
		if ok {
			return true
		}
		if !retry {
			return false
		}
	}
	return false
}

func (f *Finder) probeOnce(ctx context.Context, url string) (ok, retry bool) {
	reqCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return false, false
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return false, true
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 512))
	if err != nil {
		return false, true
	}
	return strings.Contains(string(body), "#EXTM3U"), false
}
