package u

import (
	"fmt"
	"strings"
	"time"
)

// FormatSize formats a number in a human-readable form e.g. 1.24 kB
func FormatSize(n int64) string {
	sizes := []int64{1024 * 1024 * 1024, 1024 * 1024, 1024}
	suffixes := []string{"GB", "MB", "kB"}
	for i, size := range sizes {
		if n >= size {
			s := fmt.Sprintf("%.2f", float64(n)/float64(size))
			return strings.TrimSuffix(s, ".00") + " " + suffixes[i]
		}
	}
	return fmt.Sprintf("%d bytes", n)
}

// FormatDuration is like time.Duration.String() but rounds
// to whole µs and 2 decimal places for ms
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%d µs", d.Microseconds())
	case d < time.Second:
		s := fmt.Sprintf("%.2f", float64(d)/float64(time.Millisecond))
		return strings.TrimSuffix(s, ".00") + " ms"
	}
	return d.Round(time.Millisecond).String()
}
