package media

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// TerminateGrace is how long a process gets to exit after SIGTERM before
// it is killed.
const TerminateGrace = 5 * time.Second

// ErrKillTimeout is returned when a process survives even SIGKILL within
// the bounded wait.
var ErrKillTimeout = errors.New("process did not exit after kill")

// Process is a handle to a supervised external process. The exec-backed
// implementation below is the only one outside of tests.
type Process interface {
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Err returns the exit error; meaningful only after Done is closed.
	Err() error
	// Terminate asks the process to exit, waits up to grace, then kills it.
	// Calling it on an already-exited process is a no-op.
	Terminate(grace time.Duration) error
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu  sync.Mutex
	err error
}

// Start launches cmd and takes ownership of its Wait. Exit status is
// reported through the returned Process.
func Start(cmd *exec.Cmd) (Process, error) {
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}
	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Terminate implements the graceful-then-forced shutdown policy: SIGTERM,
// wait up to grace, SIGKILL, bounded final wait.
func (p *execProcess) Terminate(grace time.Duration) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	_ = p.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}

	_ = p.cmd.Process.Kill()

	select {
	case <-p.done:
		return nil
	case <-time.After(TerminateGrace):
		return ErrKillTimeout
	}
}
