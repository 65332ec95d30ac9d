package mtrengine

import (
	"fmt"
	"time"
)

// clockEpoch anchors Now() so successive calls are guaranteed non-decreasing
// relative to each other, independent of wall-clock adjustments.
var clockEpoch = time.Now()

// Now returns a monotonic timestamp in nanoseconds since an arbitrary
// session-local epoch. It never decreases between calls.
func Now() int64 {
	return time.Since(clockEpoch).Nanoseconds()
}

// clampRTT enforces the invariant that a matched probe's RTT is never zero,
// even when the monotonic clock reads the same value for send and receive.
func clampRTT(ns int64) int64 {
	if ns < 1 {
		return 1
	}
	return ns
}

// FormatDuration renders a nanosecond RTT the way the consumer displays it:
// sub-millisecond values as "XXX.Xµs", millisecond-and-above as "XX.Xms".
func FormatDuration(ns int64) string {
	d := time.Duration(ns)
	if d < time.Millisecond {
		return fmt.Sprintf("%.1fµs", float64(d.Nanoseconds())/1000.0)
	}
	return fmt.Sprintf("%.1fms", float64(d.Nanoseconds())/1e6)
}
