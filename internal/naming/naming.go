package naming

import (
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"
)

// dateLayout renders dates like "June 05 2025".
const dateLayout = "January 02 2006"

// ClockLayout renders wall-clock times in the filename-safe "15-04-05" form.
const ClockLayout = "15-04-05"

const invalidChars = `<>:"/\|?*`

// Sanitize replaces characters that are not portable in filenames with
// underscores and trims surrounding whitespace.
func Sanitize(name string) string {
	for _, c := range invalidChars {
		name = strings.ReplaceAll(name, string(c), "_")
	}
	return strings.TrimSpace(name)
}

// randomTag returns a six-digit number used to keep generated names unique.
func randomTag() int {
	return 100000 + rand.IntN(900000)
}

// LiveVOD returns the filename for a continuous live capture, e.g.
// "[Live] somechannel - June 05 2025 - 483021.mp4".
func LiveVOD(channel string, now time.Time, ext string) string {
	return Sanitize(fmt.Sprintf("[Live] %s - %s - %d.%s", channel, now.Format(dateLayout), randomTag(), ext))
}

// Clip returns the filename for a clip saved from the rolling buffer.
// start and end are wall-clock labels in ClockLayout form.
func Clip(channel string, now time.Time, start, end string) string {
	return Sanitize(fmt.Sprintf("[Clip] %s - %s - %s - %s.mp4", channel, now.Format(dateLayout), start, end))
}

// VOD returns the filename for a playlist-based VOD download.
func VOD(channel string, now time.Time, ext string) string {
	return Sanitize(fmt.Sprintf("[VOD] %s - %s - %d.%s", channel, now.Format(dateLayout), randomTag(), ext))
}

// FramesDir returns the directory name for a frame-extraction run.
// method is one of "frames", "scene" or "keyframes"; param describes the
// fps or threshold and is omitted for keyframes.
func FramesDir(videoName, method, param string) string {
	base := strings.TrimSuffix(filepath.Base(videoName), filepath.Ext(videoName))
	var suffix string
	switch method {
	case "keyframes":
		suffix = "keyframes"
	default:
		suffix = fmt.Sprintf("%s - %s", method, param)
	}
	return Sanitize(fmt.Sprintf("[Frames] %s - %s", base, suffix))
}

// TrimName returns the filename for a trimmed copy of a video. start and
// end are HH-MM-SS labels; ext is the container extension without the dot.
func TrimName(videoName, start, end, ext string) string {
	base := strings.TrimSuffix(filepath.Base(videoName), filepath.Ext(videoName))
	return Sanitize(fmt.Sprintf("[Trim] %s - %s - %s.%s", base, start, end, ext))
}

// Timestamp converts a second offset into the HH-MM-SS form used in
// filenames.
func Timestamp(seconds float64) string {
	s := int(seconds)
	return fmt.Sprintf("%02d-%02d-%02d", s/3600, (s%3600)/60, s%60)
}
