package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"streamwatch/internal/media"
	"streamwatch/internal/platform/metrics"
)

// offlineConfirmationsNeeded is how many consecutive offline probe results
// are required before a channel with an active capture session is reported
// offline. Probes flap near stream end, and tearing a capture down early
// loses footage.
const offlineConfirmationsNeeded = 3

// SessionChecker reports whether a channel currently has an active capture
// session. Offline results are debounced only while one exists.
type SessionChecker interface {
	HasSession(name ChannelName) bool
}

// Tracker answers "is this channel live?" with hysteresis on transitions
// to offline while a capture is active.
type Tracker struct {
	mu       sync.Mutex
	store    Store
	probe    media.Prober
	sessions []SessionChecker
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewTracker creates a Tracker over the given store and probe.
// Metrics may be nil to disable metric recording (e.g. in tests).
// sessions are consulted to decide whether offline debouncing applies.
func NewTracker(store Store, probe media.Prober, log *slog.Logger, m *metrics.Metrics, sessions ...SessionChecker) *Tracker {
	return &Tracker{
		store:    store,
		probe:    probe,
		sessions: sessions,
		log:      log.With("component", "tracker"),
		metrics:  m,
	}
}

// Check probes the channel once and folds the result into the debounced
// state. The probe runs outside the tracker lock; Check blocks for at most
// the probe's own timeout.
func (t *Tracker) Check(ctx context.Context, name ChannelName) Status {
	live, err := t.probe.IsLive(ctx, string(name))
	if t.metrics != nil {
		t.metrics.IncProbes()
		if err != nil {
			t.metrics.IncProbeErrors()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.getOrCreateChannelLocked(name)
	st.LastCheckedAt = time.Now()

	switch {
	case err != nil:
		// Inconclusive probe. Only safe to report offline when nothing
		// is being captured; otherwise keep the last reported state.
		if t.hasSessionLocked(name) {
			t.log.Warn("probe failed, keeping state", "channel", name, "error", err)
			return Status{Channel: name, Live: st.Live}
		}
		t.log.Warn("probe failed", "channel", name, "error", err)
		st.OfflineConfirms = 0
		st.LastKnownLive = false
		return t.reportLocked(st, false)

	case live:
		st.OfflineConfirms = 0
		st.LastKnownLive = true
		return t.reportLocked(st, true)

	default:
		if st.LastKnownLive && t.hasSessionLocked(name) {
			st.OfflineConfirms++
			if st.OfflineConfirms < offlineConfirmationsNeeded {
				t.log.Debug("offline unconfirmed",
					"channel", name,
					"confirms", st.OfflineConfirms,
					"needed", offlineConfirmationsNeeded)
				return Status{Channel: name, Live: st.Live}
			}
			st.OfflineConfirms = 0
			st.LastKnownLive = false
			return t.reportLocked(st, false)
		}
		st.OfflineConfirms = 0
		st.LastKnownLive = false
		return t.reportLocked(st, false)
	}
}

// State returns a copy of the tracked state for the channel.
func (t *Tracker) State(name ChannelName) (ChannelState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.store.GetChannel(name)
	if !ok {
		return ChannelState{}, false
	}
	return *st, true
}

// LiveCount returns how many tracked channels are currently reported live.
func (t *Tracker) LiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, name := range t.store.ListChannels() {
		if st, ok := t.store.GetChannel(name); ok && st.Live {
			n++
		}
	}
	return n
}

// Forget drops the tracked state for a channel, e.g. when it is removed
// from the watch list.
func (t *Tracker) Forget(name ChannelName) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.store.GetChannel(name); ok {
		st.Live = false
		st.LastKnownLive = false
		st.OfflineConfirms = 0
	}
}

// reportLocked records the debounced status and returns it, noting whether
// this check flipped it. Caller must hold t.mu.
func (t *Tracker) reportLocked(st *ChannelState, live bool) Status {
	transitioned := st.Live != live
	st.Live = live
	if transitioned {
		t.log.Info("channel status changed", "channel", st.Name, "live", live)
		if t.metrics != nil {
			if live {
				t.metrics.IncTransitionsLive()
			} else {
				t.metrics.IncTransitionsOffline()
			}
		}
	}
	return Status{Channel: st.Name, Live: live, Transitioned: transitioned}
}

func (t *Tracker) getOrCreateChannelLocked(name ChannelName) *ChannelState {
	st, ok := t.store.GetChannel(name)
	if !ok {
		st = &ChannelState{Name: name}
		t.store.SetChannel(st)
	}
	return st
}

func (t *Tracker) hasSessionLocked(name ChannelName) bool {
	for _, s := range t.sessions {
		if s.HasSession(name) {
			return true
		}
	}
	return false
}
