package monitor

import (
	"strings"
	"time"
)

// ChannelName uniquely identifies a watched channel. Names are stored in
// canonical (lower-cased, trimmed) form.
type ChannelName string

// Canonical normalizes a raw channel name into its map key form.
func Canonical(name string) ChannelName {
	return ChannelName(strings.ToLower(strings.TrimSpace(name)))
}

// ChannelState holds the liveness tracking state for one channel.
type ChannelState struct {
	Name ChannelName
	// Live is the debounced status last reported for the channel.
	Live bool
	// LastKnownLive mirrors the most recent definitive probe outcome and
	// gates the offline confirmation counter.
	LastKnownLive bool
	// OfflineConfirms counts consecutive offline probe results observed
	// while a capture session was active.
	OfflineConfirms int
	LastCheckedAt   time.Time
}

// Status is the outcome of one liveness check after debouncing.
type Status struct {
	Channel ChannelName `json:"channel"`
	Live    bool        `json:"live"`
	// Transitioned reports whether this check flipped the channel's
	// debounced status.
	Transitioned bool `json:"transitioned"`
}

// Telemetry is one progress sample for an active capture session.
type Telemetry struct {
	SizeBytes int64  `json:"size_bytes"`
	Size      string `json:"size"`
	Speed     string `json:"speed,omitempty"`
	Filename  string `json:"filename"`
}
