package speedlog

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// bits to bytes (/8), bytes to megabytes (/1,000,000)
const bitsPerMegabyte = 8 * 1000 * 1000

// Sample is the outcome of one successful measurement cycle.
type Sample struct {
	// Timestamp is taken right after the endpoint selection.
	Timestamp   time.Time
	DownloadBPS float64
	UploadBPS   float64
	// Duration spans both throughput measurements.
	Duration time.Duration
}

// FormatRate converts bits per second into MB/s with two fraction digits.
func FormatRate(bps float64) string {
	return strconv.FormatFloat(bps/bitsPerMegabyte, 'f', 2, 64)
}

// FormatTimestamp renders t as Unix seconds with microsecond resolution.
func FormatTimestamp(t time.Time) string {
	return formatFloat(float64(t.UnixMicro()) / 1e6)
}

func (s *Sample) DownloadRate() string {
	return FormatRate(s.DownloadBPS)
}

func (s *Sample) UploadRate() string {
	return FormatRate(s.UploadBPS)
}

// Row returns the CSV log fields: timestamp, download MB/s, upload MB/s.
func (s *Sample) Row() []string {
	return []string{FormatTimestamp(s.Timestamp), s.DownloadRate(), s.UploadRate()}
}

// formatFloat writes the shortest representation that parses back to v,
// always with a fraction or an exponent so it reads as a real number.
func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}

	abs := math.Abs(v)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}

	ret := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(ret, ".") {
		ret += ".0"
	}

	return ret
}
