package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"streamwatch/internal/media"
	"streamwatch/internal/monitor"
	"streamwatch/internal/platform/config"
	"streamwatch/internal/platform/logger"
	"streamwatch/internal/platform/metrics"
	"streamwatch/internal/tools"
	"streamwatch/internal/vod"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	pollInterval := config.GetEnvInt("POLL_INTERVAL_SECONDS", 5)
	probeLimit := config.GetEnvInt("PROBE_CONCURRENCY", 8)
	settingsPath := config.GetEnv("SETTINGS_PATH", "")
	streamlinkPath := config.GetEnv("STREAMLINK_PATH", "streamlink")
	ffmpegPath := config.GetEnv("FFMPEG_PATH", "ffmpeg")
	vodWorkers := config.GetEnvInt("VOD_WORKERS", 8)
	findWorkers := config.GetEnvInt("FIND_WORKERS", 16)
	findRate := config.GetEnvFloat("FIND_RATE_LIMIT", 50)
	watchSettings := config.GetEnvBool("SETTINGS_WATCH", true)

	log := logger.New(logLevel, logFormat)

	settings := config.NewSettingsStore(settingsPath)
	toolset := media.NewToolset(streamlinkPath, ffmpegPath)
	met := metrics.New()

	downloads := monitor.NewDownloadSupervisor(toolset, settings, log)
	clips := monitor.NewClipSupervisor(toolset, settings, log, met)
	tracker := monitor.NewTracker(monitor.NewInMemoryStore(), media.NewProber(toolset), log, met, downloads, clips)
	svc := monitor.NewService(tracker, downloads, clips, settings, probeLimit, log)
	channels := monitor.NewHandler(svc, settings, log)

	registry := vod.NewRegistry(nil, toolset, vodWorkers, log, met)
	finder := vod.NewFinder(nil, findWorkers, findRate, log)
	vods := vod.NewHandler(registry, finder, settings, log)

	runs := tools.NewManager(log)
	toolbox := tools.NewToolbox(toolset, settings, runs, log)
	toolsAPI := tools.NewHandler(toolbox, runs, log)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Use(httprate.LimitByIP(600, time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			met.SetChannelsLive(tracker.LiveCount())
			met.SetActiveDownloads(len(downloads.Active()))
			met.SetActiveClipBuffers(len(clips.Active()))
			met.SetActiveVODJobs(registry.ActiveCount())
		}).ServeHTTP(w, r)
	})

	r.Get("/channels", channels.ListChannels)
	r.Route("/channels/{channel}", func(r chi.Router) {
		r.Put("/", channels.UpsertChannel)
		r.Delete("/", channels.RemoveChannel)
		r.Post("/check", channels.CheckChannel)
		r.Post("/download/start", channels.StartDownload)
		r.Post("/download/stop", channels.StopDownload)
		r.Post("/clip/start", channels.StartClip)
		r.Post("/clip/stop", channels.StopClip)
		r.Post("/clip/save", channels.SaveClip)
	})

	r.Route("/vod", func(r chi.Router) {
		r.Post("/downloads", vods.CreateDownload)
		r.Get("/downloads", vods.ListDownloads)
		r.Route("/downloads/{id}", func(r chi.Router) {
			r.Get("/", vods.GetDownload)
			r.Post("/pause", vods.PauseDownload)
			r.Post("/resume", vods.ResumeDownload)
			r.Post("/stop", vods.StopDownload)
			r.Post("/abort", vods.AbortDownload)
		})
		// Playlist discovery fans out hundreds of probe requests per call.
		r.With(httprate.LimitByIP(10, time.Minute)).Post("/find", vods.FindPlaylist)
	})

	r.Route("/tools", func(r chi.Router) {
		r.Post("/frames", toolsAPI.ExtractFrames)
		r.Post("/trim", toolsAPI.TrimVideo)
		r.Get("/runs", toolsAPI.ListRuns)
		r.Delete("/runs/{id}", toolsAPI.CancelRun)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watchSettings {
		go func() {
			if err := settings.Watch(ctx, log); err != nil {
				log.Warn("settings watch unavailable", "error", err)
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(time.Duration(pollInterval) * time.Second)
		defer ticker.Stop()
		svc.CheckAll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				svc.CheckAll(ctx)
			}
		}
	}()

	srv := &http.Server{Addr: ":" + port, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"poll_interval_s", pollInterval,
		"probe_concurrency", probeLimit,
		"settings_path", settings.Path(),
		"log_level", logLevel,
	)

	<-ctx.Done()

	log.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	svc.Shutdown()
	registry.AbortAll(shutdownTimeout)
	runs.CancelAll(shutdownTimeout)

	log.Info("server stopped")
}
