package media

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// Prober reports whether a channel is currently live.
type Prober interface {
	IsLive(ctx context.Context, channel string) (bool, error)
}

// StreamlinkProber checks channel status by running the streamlink CLI.
type StreamlinkProber struct {
	Tools   *Toolset
	Timeout time.Duration
}

// NewProber returns a prober with the default 10 second probe timeout.
func NewProber(tools *Toolset) *StreamlinkProber {
	return &StreamlinkProber{Tools: tools, Timeout: 10 * time.Second}
}

// IsLive runs the probe command. A zero exit code with a "streams" key in
// the JSON output means live. A nonzero exit is a definitive offline, not
// an error; timeouts and spawn failures are errors so the caller's
// hysteresis logic can treat them as inconclusive.
func (p *StreamlinkProber) IsLive(ctx context.Context, channel string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	out, err := p.Tools.ProbeCommand(ctx, channel).Output()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		return false, err
	}
	return strings.Contains(string(out), "streams"), nil
}
