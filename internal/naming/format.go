package naming

import "fmt"

const (
	kib = 1024
	mib = 1024 * kib
	gib = 1024 * mib
)

// FormatSize renders a byte count with the unit steps the capture monitor
// reports: whole bytes, one decimal up to gigabytes, two decimals beyond.
func FormatSize(n int64) string {
	switch {
	case n < kib:
		return fmt.Sprintf("%d B", n)
	case n < mib:
		return fmt.Sprintf("%.1f KB", float64(n)/kib)
	case n < gib:
		return fmt.Sprintf("%.1f MB", float64(n)/mib)
	default:
		return fmt.Sprintf("%.2f GB", float64(n)/gib)
	}
}

// FormatSpeed renders a bytes-per-second figure.
func FormatSpeed(bps float64) string {
	switch {
	case bps < kib:
		return fmt.Sprintf("%.0f B/s", bps)
	case bps < mib:
		return fmt.Sprintf("%.1f KB/s", bps/kib)
	default:
		return fmt.Sprintf("%.1f MB/s", bps/mib)
	}
}
