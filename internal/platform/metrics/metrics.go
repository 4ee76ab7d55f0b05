package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the stream watcher.
type Metrics struct {
	registry                *prometheus.Registry
	requestsTotal           prometheus.Counter
	errorsTotal             prometheus.Counter
	probesTotal             prometheus.Counter
	probeErrorsTotal        prometheus.Counter
	transitionsLiveTotal    prometheus.Counter
	transitionsOfflineTotal prometheus.Counter
	segmentsDownloaded      prometheus.Counter
	segmentRetriesTotal     prometheus.Counter
	bytesDownloadedTotal    prometheus.Counter
	clipsSavedTotal         prometheus.Counter
	vodJobsFinishedTotal    prometheus.Counter
	vodJobsFailedTotal      prometheus.Counter
	channelsLive            prometheus.Gauge
	activeDownloads         prometheus.Gauge
	activeClipBuffers       prometheus.Gauge
	activeVODJobs           prometheus.Gauge
}

// New creates and registers Prometheus metrics for the daemon.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamwatch_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamwatch_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	probesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamwatch_probes_total",
		Help: "Total number of channel liveness probes run",
	})
	probeErrorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamwatch_probe_errors_total",
		Help: "Total number of liveness probes that failed to produce a result",
	})
	transitionsLiveTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamwatch_transitions_live_total",
		Help: "Total number of offline-to-live channel transitions",
	})
	transitionsOfflineTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamwatch_transitions_offline_total",
		Help: "Total number of live-to-offline channel transitions",
	})
	segmentsDownloaded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamwatch_segments_downloaded_total",
		Help: "Total number of playlist segments downloaded successfully",
	})
	segmentRetriesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamwatch_segment_retries_total",
		Help: "Total number of segment fetch retries",
	})
	bytesDownloadedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamwatch_bytes_downloaded_total",
		Help: "Total bytes downloaded across all playlist jobs",
	})
	clipsSavedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamwatch_clips_saved_total",
		Help: "Total number of clips saved from rolling buffers",
	})
	vodJobsFinishedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamwatch_vod_jobs_finished_total",
		Help: "Total number of playlist download jobs that produced output",
	})
	vodJobsFailedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamwatch_vod_jobs_failed_total",
		Help: "Total number of playlist download jobs that failed",
	})
	channelsLive := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "streamwatch_channels_live",
		Help: "Number of tracked channels currently reported live",
	})
	activeDownloads := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "streamwatch_active_downloads",
		Help: "Number of channels with an active capture session",
	})
	activeClipBuffers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "streamwatch_active_clip_buffers",
		Help: "Number of channels with an active rolling clip buffer",
	})
	activeVODJobs := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "streamwatch_active_vod_jobs",
		Help: "Number of playlist download jobs not yet in a terminal state",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		probesTotal,
		probeErrorsTotal,
		transitionsLiveTotal,
		transitionsOfflineTotal,
		segmentsDownloaded,
		segmentRetriesTotal,
		bytesDownloadedTotal,
		clipsSavedTotal,
		vodJobsFinishedTotal,
		vodJobsFailedTotal,
		channelsLive,
		activeDownloads,
		activeClipBuffers,
		activeVODJobs,
	)

	return &Metrics{
		registry:                registry,
		requestsTotal:           requestsTotal,
		errorsTotal:             errorsTotal,
		probesTotal:             probesTotal,
		probeErrorsTotal:        probeErrorsTotal,
		transitionsLiveTotal:    transitionsLiveTotal,
		transitionsOfflineTotal: transitionsOfflineTotal,
		segmentsDownloaded:      segmentsDownloaded,
		segmentRetriesTotal:     segmentRetriesTotal,
		bytesDownloadedTotal:    bytesDownloadedTotal,
		clipsSavedTotal:         clipsSavedTotal,
		vodJobsFinishedTotal:    vodJobsFinishedTotal,
		vodJobsFailedTotal:      vodJobsFailedTotal,
		channelsLive:            channelsLive,
		activeDownloads:         activeDownloads,
		activeClipBuffers:       activeClipBuffers,
		activeVODJobs:           activeVODJobs,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncProbes increments the liveness probe counter.
func (m *Metrics) IncProbes() {
	m.probesTotal.Inc()
}

// IncProbeErrors increments the failed probe counter.
func (m *Metrics) IncProbeErrors() {
	m.probeErrorsTotal.Inc()
}

// IncTransitionsLive increments the offline-to-live transition counter.
func (m *Metrics) IncTransitionsLive() {
	m.transitionsLiveTotal.Inc()
}

// IncTransitionsOffline increments the live-to-offline transition counter.
func (m *Metrics) IncTransitionsOffline() {
	m.transitionsOfflineTotal.Inc()
}

// IncSegmentsDownloaded increments the downloaded segment counter.
func (m *Metrics) IncSegmentsDownloaded() {
	m.segmentsDownloaded.Inc()
}

// IncSegmentRetries increments the segment retry counter.
func (m *Metrics) IncSegmentRetries() {
	m.segmentRetriesTotal.Inc()
}

// AddBytesDownloaded adds n to the downloaded byte counter.
func (m *Metrics) AddBytesDownloaded(n int64) {
	m.bytesDownloadedTotal.Add(float64(n))
}

// IncClipsSaved increments the saved clip counter.
func (m *Metrics) IncClipsSaved() {
	m.clipsSavedTotal.Inc()
}

// IncVODJobsFinished increments the finished playlist job counter.
func (m *Metrics) IncVODJobsFinished() {
	m.vodJobsFinishedTotal.Inc()
}

// IncVODJobsFailed increments the failed playlist job counter.
func (m *Metrics) IncVODJobsFailed() {
	m.vodJobsFailedTotal.Inc()
}

// SetChannelsLive sets the live channels gauge.
func (m *Metrics) SetChannelsLive(n int) {
	m.channelsLive.Set(float64(n))
}

// SetActiveDownloads sets the active capture sessions gauge.
func (m *Metrics) SetActiveDownloads(n int) {
	m.activeDownloads.Set(float64(n))
}

// SetActiveClipBuffers sets the active clip buffers gauge.
func (m *Metrics) SetActiveClipBuffers(n int) {
	m.activeClipBuffers.Set(float64(n))
}

// SetActiveVODJobs sets the active playlist jobs gauge.
func (m *Metrics) SetActiveVODJobs(n int) {
	m.activeVODJobs.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active downloads).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
