package vod

import (
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"streamwatch/internal/media"
	"streamwatch/internal/platform/metrics"
)

// Registry owns every download job. Finished jobs stay listed so their
// outcome can be queried; nothing is ever pruned.
type Registry struct {
	client  *http.Client
	concat  media.Concatenator
	workers int
	log     *slog.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	jobs map[string]*Job
}

// NewRegistry returns a registry creating jobs with the given defaults.
// workers bounds each job's fetch pool unless the job overrides it.
func NewRegistry(client *http.Client, concat media.Concatenator, workers int, log *slog.Logger, m *metrics.Metrics) *Registry {
	if client == nil {
		client = &http.Client{}
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Registry{
		client:  client,
		concat:  concat,
		workers: workers,
		log:     log,
		metrics: m,
		jobs:    map[string]*Job{},
	}
}

// Create registers a new job and starts it immediately.
func (r *Registry) Create(opts Options) *Job {
	if opts.Workers <= 0 {
		opts.Workers = r.workers
	}
	job := newJob(uuid.NewString(), opts, r.client, r.concat, r.log, r.metrics)

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()

	job.start()
	return job
}

// Get returns the job with the given id.
func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	return job, ok
}

// List returns every job, oldest first.
func (r *Registry) List() []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].ID < jobs[k].ID
		}
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})
	return jobs
}

// ActiveCount returns the number of jobs not yet in a terminal state.
func (r *Registry) ActiveCount() int {
	var n int
	for _, job := range r.List() {
		if !job.State().Terminal() {
			n++
		}
	}
	return n
}

// AbortAll aborts every running job and waits up to timeout for them to
// finish cleanup. Used on shutdown.
func (r *Registry) AbortAll(timeout time.Duration) {
	jobs := r.List()
	for _, job := range jobs {
		if !job.State().Terminal() {
			job.Abort()
		}
	}

	deadline := time.After(timeout)
	for _, job := range jobs {
		select {
		case <-job.Done():
		case <-deadline:
			return
		}
	}
}
