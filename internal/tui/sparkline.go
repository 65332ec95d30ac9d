package tui

// sparkBlocks renders a sample series as Unicode block characters, one per
// sample, scaled between the series' own min and max. Nothing in the
// example pack pulls in a charting library for this (see DESIGN.md), so
// it's a direct mapping.
var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// sparkline renders samples (nanoseconds, oldest first) as a bar string.
func sparkline(samples []int64) string {
	if len(samples) == 0 {
		return ""
	}
	lo, hi := samples[0], samples[0]
	for _, s := range samples {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	span := hi - lo
	out := make([]rune, len(samples))
	for i, s := range samples {
		idx := 0
		if span > 0 {
			idx = int(float64(s-lo) / float64(span) * float64(len(sparkBlocks)-1))
		}
		out[i] = sparkBlocks[idx]
	}
	return string(out)
}
