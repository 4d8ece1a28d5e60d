package metrics

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
)

// ValueRepr renders a plain value with two decimal places.
func ValueRepr(value float64) string {
	return fmt.Sprintf("%.2f", value)
}

// BytesRepr renders a byte count with binary (IEC) suffixes, e.g. "2.5 KiB".
// Negative values are rendered as plain numbers.
func BytesRepr(value float64) string {
	if value < 0 {
		return ValueRepr(value)
	}
	return humanize.IBytes(uint64(math.Round(value)))
}

// durationParts are ordered largest to smallest. Once the leading part is
// emitted every following one is, zero-padded, so the rendering reads as one
// continuous quantity, e.g. "02m03s071ms".
var durationParts = []struct {
	suffix string
	scaler float64
	digits int
}{
	{"d", 86400e9, 2},
	{"h", 3600e9, 2},
	{"m", 60e9, 2},
	{"s", 1e9, 2},
	{"ms", 1e6, 3},
}

// DurationRepr renders a duration given in nanoseconds, decomposed into
// day/hour/minute/second/millisecond/microsecond components. Components
// smaller than the leading one are always included, e.g. "01s413ms0.000us"
// or "113.289us".
func DurationRepr(value float64) string {
	var b strings.Builder
	count := 0
	for _, part := range durationParts {
		ctime := value / part.scaler
		if ctime >= 1.0 || count > 0 {
			units := math.Floor(ctime)
			fmt.Fprintf(&b, "%0*d%s", part.digits, int64(units), part.suffix)
			value -= units * part.scaler
			count++
		}
	}
	// Whatever is left is below one millisecond: render as fractional
	// microseconds, covering the nanoseconds.
	fmt.Fprintf(&b, "%.3fus", value/1e3)
	return b.String()
}
