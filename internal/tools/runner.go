package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// WorkFunc is one tool invocation. It returns the outcome message shown to
// clients; the error decides between done, stopped and failed.
type WorkFunc func(ctx context.Context) (string, error)

// RunState is a run's position in its lifecycle.
type RunState string

const (
	RunRunning RunState = "running"
	RunDone    RunState = "done"
	RunStopped RunState = "stopped"
	RunFailed  RunState = "failed"
)

// RunSnapshot is a point-in-time view of a run, safe to serialize.
type RunSnapshot struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	Output    string     `json:"output"`
	State     RunState   `json:"state"`
	Message   string     `json:"message,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Run is a handle to one tool invocation. Its outcome fields settle before
// Done is closed and never change afterwards.
type Run struct {
	ID        string
	Kind      string
	Output    string
	StartedAt time.Time

	done   chan struct{}
	cancel context.CancelFunc

	mu      sync.Mutex
	message string
	err     error
	endedAt time.Time
}

// Done is closed once the run has finished, whatever the outcome.
func (r *Run) Done() <-chan struct{} { return r.done }

// Err returns the run error; meaningful only after Done is closed.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Message returns the outcome message recorded so far.
func (r *Run) Message() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.message
}

func (r *Run) record(message string, err error) {
	r.mu.Lock()
	r.message = message
	r.err = err
	r.endedAt = time.Now()
	r.mu.Unlock()
}

// Snapshot returns the current run status.
func (r *Run) Snapshot() RunSnapshot {
	snap := RunSnapshot{
		ID:        r.ID,
		Kind:      r.Kind,
		Output:    r.Output,
		State:     RunRunning,
		StartedAt: r.StartedAt,
	}

	select {
	case <-r.done:
	default:
		return snap
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	snap.Message = r.message
	ended := r.endedAt
	snap.EndedAt = &ended
	switch {
	case r.err == nil:
		snap.State = RunDone
	case errors.Is(r.err, context.Canceled):
		snap.State = RunStopped
	default:
		snap.State = RunFailed
	}
	return snap
}

// Manager owns tool runs keyed by deterministic IDs, giving duplicate
// requests exactly-once execution. Finished runs stay listed with their
// outcome until a new request under the same ID replaces them.
type Manager struct {
	log *slog.Logger

	mu   sync.Mutex
	runs map[string]*Run
}

// NewManager returns an empty run manager.
func NewManager(log *slog.Logger) *Manager {
	return &Manager{
		log:  log.With("component", "tools"),
		runs: map[string]*Run{},
	}
}

// Ensure returns the active run for id, starting one with work when none
// is running. isNew reports whether this call started it. A finished run
// under the same id is replaced. Returns nil when ctx is already done.
func (m *Manager) Ensure(ctx context.Context, id, kind, output string, work WorkFunc) (run *Run, isNew bool) {
	if ctx.Err() != nil {
		return nil, false
	}

	m.mu.Lock()
	if existing, ok := m.runs[id]; ok {
		select {
		case <-existing.done:
			delete(m.runs, id)
		default:
			m.mu.Unlock()
			return existing, false
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run = &Run{
		ID:        id,
		Kind:      kind,
		Output:    output,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
		cancel:    cancel,
	}
	m.runs[id] = run
	m.mu.Unlock()

	m.log.Info("run started", "run", id, "kind", kind, "output", output)
	go m.execute(runCtx, run, work)
	return run, true
}

func (m *Manager) execute(ctx context.Context, run *Run, work WorkFunc) {
	defer func() {
		if rec := recover(); rec != nil {
			run.record("", fmt.Errorf("panic: %v", rec))
		}
		run.cancel()
		close(run.done)

		snap := run.Snapshot()
		m.log.Info("run finished",
			"run", run.ID, "state", string(snap.State), "message", snap.Message)
	}()

	run.record(work(ctx))
}

// Get returns the run with the given id.
func (m *Manager) Get(id string) (*Run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	return run, ok
}

// List returns every run, oldest first.
func (m *Manager) List() []*Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, k int) bool {
		if runs[i].StartedAt.Equal(runs[k].StartedAt) {
			return runs[i].ID < runs[k].ID
		}
		return runs[i].StartedAt.Before(runs[k].StartedAt)
	})
	return runs
}

// Cancel asks the run with the given id to stop. The run settles its
// outcome asynchronously.
func (m *Manager) Cancel(id string) (*Run, bool) {
	m.mu.Lock()
	run, ok := m.runs[id]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	run.cancel()
	return run, true
}

// CancelAll stops every active run and waits up to timeout for them to
// settle. Used on shutdown.
func (m *Manager) CancelAll(timeout time.Duration) {
	runs := m.List()
	for _, run := range runs {
		run.cancel()
	}

	deadline := time.After(timeout)
	for _, run := range runs {
		select {
		case <-run.done:
		case <-deadline:
			return
		}
	}
}
