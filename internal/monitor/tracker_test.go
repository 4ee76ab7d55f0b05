package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// fakeProber returns a scripted probe result and records which channels
// were probed.
type fakeProber struct {
	mu     sync.Mutex
	live   bool
	err    error
	probed []string
}

func (p *fakeProber) set(live bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live = live
	p.err = err
}

func (p *fakeProber) IsLive(ctx context.Context, channel string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probed = append(p.probed, channel)
	return p.live, p.err
}

// fakeSessions is a settable SessionChecker.
type fakeSessions struct {
	mu     sync.Mutex
	active bool
}

func (s *fakeSessions) set(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = active
}

func (s *fakeSessions) HasSession(name ChannelName) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func newTestTracker(t *testing.T, probe *fakeProber, sessions ...SessionChecker) *Tracker {
	t.Helper()
	return NewTracker(NewInMemoryStore(), probe, testLogger(), nil, sessions...)
}

func TestTracker_first_live_check_transitions(t *testing.T) {
	probe := &fakeProber{live: true}
	tr := newTestTracker(t, probe)

	st := tr.Check(context.Background(), "somechannel")
	if !st.Live || !st.Transitioned {
		t.Errorf("expected live transition, got %+v", st)
	}

	st = tr.Check(context.Background(), "somechannel")
	if !st.Live || st.Transitioned {
		t.Errorf("expected steady live, got %+v", st)
	}
}

func TestTracker_offline_without_session_is_immediate(t *testing.T) {
	probe := &fakeProber{live: true}
	tr := newTestTracker(t, probe)

	if st := tr.Check(context.Background(), "somechannel"); !st.Live {
		t.Fatalf("setup: expected live, got %+v", st)
	}

	probe.set(false, nil)
	st := tr.Check(context.Background(), "somechannel")
	if st.Live || !st.Transitioned {
		t.Errorf("expected immediate offline transition, got %+v", st)
	}
}

func TestTracker_offline_with_session_needs_confirmations(t *testing.T) {
	probe := &fakeProber{live: true}
	sessions := &fakeSessions{active: true}
	tr := newTestTracker(t, probe, sessions)

	if st := tr.Check(context.Background(), "somechannel"); !st.Live {
		t.Fatalf("setup: expected live, got %+v", st)
	}

	probe.set(false, nil)
	for i := 1; i < offlineConfirmationsNeeded; i++ {
		st := tr.Check(context.Background(), "somechannel")
		if !st.Live || st.Transitioned {
			t.Fatalf("check %d: expected suppressed offline, got %+v", i, st)
		}
	}

	st := tr.Check(context.Background(), "somechannel")
	if st.Live || !st.Transitioned {
		t.Errorf("expected offline transition on confirmation %d, got %+v", offlineConfirmationsNeeded, st)
	}
}

func TestTracker_live_resets_confirmation_counter(t *testing.T) {
	probe := &fakeProber{live: true}
	sessions := &fakeSessions{active: true}
	tr := newTestTracker(t, probe, sessions)

	tr.Check(context.Background(), "somechannel")

	// Two offline results, then a live one; the counter must start over.
	probe.set(false, nil)
	tr.Check(context.Background(), "somechannel")
	tr.Check(context.Background(), "somechannel")
	probe.set(true, nil)
	tr.Check(context.Background(), "somechannel")

	probe.set(false, nil)
	for i := 1; i < offlineConfirmationsNeeded; i++ {
		if st := tr.Check(context.Background(), "somechannel"); !st.Live {
			t.Fatalf("check %d: counter was not reset, got %+v", i, st)
		}
	}
	if st := tr.Check(context.Background(), "somechannel"); st.Live {
		t.Errorf("expected offline after full confirmation run, got %+v", st)
	}
}

func TestTracker_probe_error_keeps_state_during_session(t *testing.T) {
	probe := &fakeProber{live: true}
	sessions := &fakeSessions{active: true}
	tr := newTestTracker(t, probe, sessions)

	if st := tr.Check(context.Background(), "somechannel"); !st.Live {
		t.Fatalf("setup: expected live, got %+v", st)
	}

	probe.set(false, errors.New("probe timed out"))
	for i := 0; i < 5; i++ {
		st := tr.Check(context.Background(), "somechannel")
		if !st.Live || st.Transitioned {
			t.Fatalf("check %d: expected state preserved, got %+v", i, st)
		}
	}
}

func TestTracker_probe_error_while_idle_reports_offline(t *testing.T) {
	probe := &fakeProber{live: true}
	tr := newTestTracker(t, probe)

	tr.Check(context.Background(), "somechannel")

	probe.set(false, errors.New("probe timed out"))
	st := tr.Check(context.Background(), "somechannel")
	if st.Live {
		t.Errorf("expected offline on probe error without session, got %+v", st)
	}
}

func TestTracker_state_and_live_count(t *testing.T) {
	probe := &fakeProber{live: true}
	tr := newTestTracker(t, probe)

	tr.Check(context.Background(), "one")
	tr.Check(context.Background(), "two")

	if n := tr.LiveCount(); n != 2 {
		t.Errorf("expected 2 live channels, got %d", n)
	}

	st, ok := tr.State("one")
	if !ok || !st.Live || st.LastCheckedAt.IsZero() {
		t.Errorf("unexpected state: %+v ok=%v", st, ok)
	}

	tr.Forget("one")
	if n := tr.LiveCount(); n != 1 {
		t.Errorf("expected 1 live channel after forget, got %d", n)
	}
}
